package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	dErrors "stepup/pkg/domain-errors"
)

const (
	whoamiPath         = "/sessions/whoami"
	sessionTokenHeader = "X-Session-Token"
)

// Doer issues HTTP requests. Satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client fetches session documents from the identity provider.
type Client struct {
	baseURL string
	client  Doer
}

// NewClient builds a whoami client against the provider base URL.
func NewClient(baseURL string, client Doer) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{baseURL: baseURL, client: client}
}

// whoamiDocument mirrors the provider's session representation. Only the
// fields the projection needs are decoded.
type whoamiDocument struct {
	AssuranceLevel        string `json:"authenticator_assurance_level"`
	AuthenticationMethods []struct {
		Method      string    `json:"method"`
		AAL         string    `json:"aal"`
		CompletedAt time.Time `json:"completed_at"`
	} `json:"authentication_methods"`
	Identity struct {
		ID          string `json:"id"`
		Credentials map[string]struct {
			Config json.RawMessage `json:"config"`
		} `json:"credentials"`
	} `json:"identity"`
}

type webauthnConfig struct {
	Credentials []struct {
		ID          string    `json:"id"`
		DisplayName string    `json:"display_name"`
		AddedAt     time.Time `json:"added_at"`
		LastUsedAt  time.Time `json:"last_used_at"`
	} `json:"credentials"`
}

// Whoami fetches and projects the current provider session for the token.
func (c *Client) Whoami(ctx context.Context, sessionToken string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+whoamiPath, nil)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "build whoami request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(sessionTokenHeader, sessionToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeFlowUnavailable, "session check failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, dErrors.New(dErrors.CodeSessionStale, "session no longer valid")
	case resp.StatusCode != http.StatusOK:
		return nil, dErrors.New(dErrors.CodeFlowUnavailable, fmt.Sprintf("session check returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeFlowUnavailable, "read whoami response", err)
	}
	var doc whoamiDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeFlowUnavailable, "decode whoami response", err)
	}
	return project(&doc), nil
}

// project maps the provider document onto the local Session.
func project(doc *whoamiDocument) *Session {
	s := &Session{
		IdentityID:     doc.Identity.ID,
		AssuranceLevel: AAL(doc.AssuranceLevel),
	}
	for _, m := range doc.AuthenticationMethods {
		s.AuthenticationMethods = append(s.AuthenticationMethods, AuthenticationMethod{
			Method:      m.Method,
			AAL:         AAL(m.AAL),
			CompletedAt: m.CompletedAt,
		})
	}
	for kind, cred := range doc.Identity.Credentials {
		switch kind {
		case "webauthn", "passkey":
			var cfg webauthnConfig
			if err := json.Unmarshal(cred.Config, &cfg); err != nil {
				continue
			}
			for _, wc := range cfg.Credentials {
				s.Credentials = append(s.Credentials, Credential{
					ID:          wc.ID,
					Kind:        KindPasskey,
					DisplayName: wc.DisplayName,
					CreatedAt:   wc.AddedAt,
					LastUsedAt:  wc.LastUsedAt,
				})
			}
		case "totp":
			s.Credentials = append(s.Credentials, Credential{ID: "totp", Kind: KindTOTP})
		case "lookup_secret":
			s.Credentials = append(s.Credentials, Credential{ID: "lookup_secret", Kind: KindRecovery})
		}
	}
	return s
}
