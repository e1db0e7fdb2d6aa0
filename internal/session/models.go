// Package session tracks the authoritative provider session: assurance
// level, completed authentication methods, and the derived credential
// projection. Only Manager.Refresh replaces a session; every other component
// treats it as read-only.
package session

import (
	"time"
)

// AAL is the provider's authenticator assurance level.
type AAL string

const (
	AAL1 AAL = "aal1"
	AAL2 AAL = "aal2"
)

// CredentialKind classifies a credential in the local projection.
type CredentialKind string

const (
	KindPasskey  CredentialKind = "passkey"
	KindTOTP     CredentialKind = "totp"
	KindRecovery CredentialKind = "recovery"
)

// Credential is a read-only projection of provider identity data. It is
// never mutated locally; all mutation goes through the provider and is
// re-derived on refresh.
type Credential struct {
	ID          string         `json:"id"`
	Kind        CredentialKind `json:"kind"`
	DisplayName string         `json:"display_name"`
	CreatedAt   time.Time      `json:"created_at"`
	LastUsedAt  time.Time      `json:"last_used_at,omitzero"`
}

// AuthenticationMethod is one completed authentication step of the session.
type AuthenticationMethod struct {
	Method      string    `json:"method"`
	AAL         AAL       `json:"aal"`
	CompletedAt time.Time `json:"completed_at"`
}

// Session is the singleton per-user session document. Refreshed whole, never
// patched.
type Session struct {
	IdentityID            string                 `json:"identity_id"`
	AssuranceLevel        AAL                    `json:"assurance_level"`
	AuthenticationMethods []AuthenticationMethod `json:"authentication_methods"`
	Credentials           []Credential           `json:"credentials"`
}

// CredentialsOfKind filters the projection by kind.
func (s *Session) CredentialsOfKind(kind CredentialKind) []Credential {
	var out []Credential
	for _, c := range s.Credentials {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// HasCredential reports whether any credential of the given kind exists.
func (s *Session) HasCredential(kind CredentialKind) bool {
	for _, c := range s.Credentials {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// DistinctCompletedMethods counts distinct authentication methods completed
// on this session, ignoring session-bookkeeping pseudo-methods.
func (s *Session) DistinctCompletedMethods() int {
	seen := make(map[string]struct{})
	for _, m := range s.AuthenticationMethods {
		if m.Method == "" || m.Method == "link_recovery" {
			continue
		}
		seen[m.Method] = struct{}{}
	}
	return len(seen)
}
