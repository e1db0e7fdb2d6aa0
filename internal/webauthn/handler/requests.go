package handler

import (
	"stepup/internal/ceremony/codec"
	"stepup/internal/webauthn"
	dErrors "stepup/pkg/domain-errors"
)

// completeRequest carries the attestation for a begun ceremony. Byte fields
// arrive base64url encoded.
type completeRequest struct {
	ChallengeID string `json:"challenge_id"`
	DisplayName string `json:"display_name"`
	Credential  struct {
		ID                string `json:"id"`
		RawID             string `json:"raw_id"`
		ClientDataJSON    string `json:"client_data_json"`
		AttestationObject string `json:"attestation_object"`
	} `json:"credential"`
}

func (r *completeRequest) validate() error {
	switch {
	case r.ChallengeID == "":
		return dErrors.New(dErrors.CodeBadRequest, "challenge_id is required")
	case r.Credential.ID == "":
		return dErrors.New(dErrors.CodeBadRequest, "credential.id is required")
	case r.Credential.AttestationObject == "":
		return dErrors.New(dErrors.CodeBadRequest, "credential.attestation_object is required")
	case r.Credential.ClientDataJSON == "":
		return dErrors.New(dErrors.CodeBadRequest, "credential.client_data_json is required")
	}
	return nil
}

// credential decodes the wire attestation into the orchestrator's shape.
func (r *completeRequest) credential() (*webauthn.Credential, error) {
	rawID, err := codec.DecodeChallenge(r.Credential.RawID)
	if err != nil {
		return nil, err
	}
	clientData, err := codec.DecodeChallenge(r.Credential.ClientDataJSON)
	if err != nil {
		return nil, err
	}
	attestation, err := codec.DecodeChallenge(r.Credential.AttestationObject)
	if err != nil {
		return nil, err
	}
	return &webauthn.Credential{
		ID:                r.Credential.ID,
		RawID:             rawID,
		ClientDataJSON:    clientData,
		AttestationObject: attestation,
	}, nil
}
