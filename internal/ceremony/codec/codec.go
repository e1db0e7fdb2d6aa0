// Package codec converts between the provider's base64url-encoded challenge
// and credential fields and the binary buffers the authenticator works with.
// Both directions are pure; Decode(Encode(b)) == b for all buffers.
package codec

import (
	"encoding/base64"
	"strings"

	dErrors "stepup/pkg/domain-errors"
)

// DecodeChallenge decodes a base64url value (with or without padding) into
// raw bytes. The provider emits the URL alphabet; padding is restored before
// decoding so both padded and trimmed forms round-trip.
func DecodeChallenge(encoded string) ([]byte, error) {
	normalized := strings.ReplaceAll(encoded, "-", "+")
	normalized = strings.ReplaceAll(normalized, "_", "/")
	if rem := len(normalized) % 4; rem != 0 {
		normalized += strings.Repeat("=", 4-rem)
	}

	raw, err := base64.StdEncoding.DecodeString(normalized)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeValidationRejected, "malformed base64url value", err)
	}
	return raw, nil
}

// EncodeCredential encodes raw bytes into the unpadded base64url form the
// provider expects for credential fields.
func EncodeCredential(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
