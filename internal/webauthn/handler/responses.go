package handler

import (
	"time"

	"stepup/internal/ceremony/codec"
	"stepup/internal/session"
	"stepup/internal/webauthn"
)

// beginResponse returns the decoded creation options re-encoded for the
// wire, plus the handle for the complete call.
type beginResponse struct {
	ChallengeID string           `json:"challenge_id"`
	PublicKey   publicKeyOptions `json:"public_key"`
}

type publicKeyOptions struct {
	Challenge            string   `json:"challenge"`
	RPID                 string   `json:"rp_id"`
	UserID               string   `json:"user_id"`
	UserName             string   `json:"user_name"`
	TimeoutMilliseconds  int64    `json:"timeout_ms"`
	ExcludeCredentialIDs []string `json:"exclude_credential_ids"`
}

func newBeginResponse(bundle *webauthn.ChallengeBundle) beginResponse {
	opts := bundle.Options
	pk := publicKeyOptions{
		Challenge:           codec.EncodeCredential(opts.Challenge),
		RPID:                opts.RPID,
		UserID:              codec.EncodeCredential(opts.UserID),
		UserName:            opts.UserName,
		TimeoutMilliseconds: opts.Timeout.Milliseconds(),
	}
	for _, id := range opts.ExcludeCredentialIDs {
		pk.ExcludeCredentialIDs = append(pk.ExcludeCredentialIDs, codec.EncodeCredential(id))
	}
	return beginResponse{ChallengeID: bundle.ChallengeID, PublicKey: pk}
}

type passkeyResponse struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

type listResponse struct {
	Passkeys []passkeyResponse `json:"passkeys"`
}

func newListResponse(creds []session.Credential) listResponse {
	out := listResponse{Passkeys: make([]passkeyResponse, 0, len(creds))}
	for _, c := range creds {
		p := passkeyResponse{ID: c.ID, DisplayName: c.DisplayName, CreatedAt: c.CreatedAt}
		if !c.LastUsedAt.IsZero() {
			t := c.LastUsedAt
			p.LastUsedAt = &t
		}
		out.Passkeys = append(out.Passkeys, p)
	}
	return out
}

type statsResponse struct {
	Total       int        `json:"total"`
	LastAddedAt *time.Time `json:"last_added_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

func newStatsResponse(creds []session.Credential) statsResponse {
	out := statsResponse{Total: len(creds)}
	for _, c := range creds {
		if out.LastAddedAt == nil || c.CreatedAt.After(*out.LastAddedAt) {
			t := c.CreatedAt
			out.LastAddedAt = &t
		}
		if !c.LastUsedAt.IsZero() && (out.LastUsedAt == nil || c.LastUsedAt.After(*out.LastUsedAt)) {
			t := c.LastUsedAt
			out.LastUsedAt = &t
		}
	}
	return out
}
