// Package webauthn drives passkey registration ceremonies against the
// identity provider's settings flow. The authenticator itself is injected;
// this package owns the ceremony state, the exclusion list, and the
// confirmation poll.
package webauthn

import (
	"encoding/json"
	"errors"
	"time"

	"stepup/internal/ceremony/codec"
	dErrors "stepup/pkg/domain-errors"
)

// ErrNotAllowed is returned by an Authenticator when the user declines the
// ceremony or the platform refuses it. The orchestrator maps it to a
// cancellation, never to a failure.
var ErrNotAllowed = errors.New("webauthn: operation not allowed")

// CreationOptions is the decoded challenge bundle handed to an
// Authenticator. Byte fields are raw, not base64.
type CreationOptions struct {
	Challenge            []byte
	RPID                 string
	UserID               []byte
	UserName             string
	Timeout              time.Duration
	ExcludeCredentialIDs [][]byte
}

// Credential is the attestation produced by an Authenticator for a
// completed creation ceremony.
type Credential struct {
	ID                string
	RawID             []byte
	ClientDataJSON    []byte
	AttestationObject []byte
}

// Authenticator performs the user-facing credential creation. Implementations
// wrap a platform API, a roaming key, or a software authenticator.
//
//go:generate mockgen -source=models.go -destination=mocks/authenticator-mocks.go -package=mocks Authenticator
type Authenticator interface {
	Create(opts CreationOptions) (*Credential, error)
}

// RemoteAuthenticator stands in for deployments where credential creation
// happens in the caller's browser via the two-phase begin/complete API. The
// in-process Register path is unavailable with it.
type RemoteAuthenticator struct{}

func (RemoteAuthenticator) Create(CreationOptions) (*Credential, error) {
	return nil, dErrors.New(dErrors.CodeNotEligible, "no local authenticator; use the two-phase registration API")
}

// wireCreationOptions mirrors the provider's publicKeyCredentialCreationOptions
// encoding inside the trigger node.
type wireCreationOptions struct {
	PublicKey struct {
		Challenge string `json:"challenge"`
		RP        struct {
			ID string `json:"id"`
		} `json:"rp"`
		User struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"user"`
		Timeout            int64 `json:"timeout"`
		ExcludeCredentials []struct {
			ID string `json:"id"`
		} `json:"excludeCredentials"`
	} `json:"publicKey"`
}

// parseCreationOptions decodes the trigger node payload into CreationOptions.
func parseCreationOptions(raw string) (*CreationOptions, error) {
	var wire wireCreationOptions
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeFlowUnavailable, "malformed creation options", err)
	}
	challenge, err := codec.DecodeChallenge(wire.PublicKey.Challenge)
	if err != nil {
		return nil, err
	}
	userID, err := codec.DecodeChallenge(wire.PublicKey.User.ID)
	if err != nil {
		return nil, err
	}
	opts := &CreationOptions{
		Challenge: challenge,
		RPID:      wire.PublicKey.RP.ID,
		UserID:    userID,
		UserName:  wire.PublicKey.User.Name,
		Timeout:   time.Duration(wire.PublicKey.Timeout) * time.Millisecond,
	}
	for _, ec := range wire.PublicKey.ExcludeCredentials {
		id, err := codec.DecodeChallenge(ec.ID)
		if err != nil {
			// A single undecodable entry must not abort the ceremony.
			continue
		}
		opts.ExcludeCredentialIDs = append(opts.ExcludeCredentialIDs, id)
	}
	return opts, nil
}

// decodeCredentialID decodes a provider credential ID, which uses the same
// alphabet as challenges.
func decodeCredentialID(encoded string) ([]byte, error) {
	return codec.DecodeChallenge(encoded)
}

// attestationPayload is the provider's expected shape for the
// webauthn_register form field.
type attestationPayload struct {
	ID       string `json:"id"`
	RawID    string `json:"rawId"`
	Type     string `json:"type"`
	Response struct {
		AttestationObject string `json:"attestationObject"`
		ClientDataJSON    string `json:"clientDataJSON"`
	} `json:"response"`
}

// encodeAttestation serializes a credential for flow submission.
func encodeAttestation(cred *Credential) (string, error) {
	var p attestationPayload
	p.ID = cred.ID
	p.RawID = codec.EncodeCredential(cred.RawID)
	p.Type = "public-key"
	p.Response.AttestationObject = codec.EncodeCredential(cred.AttestationObject)
	p.Response.ClientDataJSON = codec.EncodeCredential(cred.ClientDataJSON)

	out, err := json.Marshal(p)
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeInternal, "encode attestation", err)
	}
	return string(out), nil
}
