package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "stepup/pkg/domain-errors"
)

const whoamiBody = `{
  "authenticator_assurance_level": "aal2",
  "authentication_methods": [
    {"method": "password", "aal": "aal1", "completed_at": "2026-08-26T10:00:00Z"},
    {"method": "webauthn", "aal": "aal2", "completed_at": "2026-08-26T10:05:00Z"}
  ],
  "identity": {
    "id": "user-1",
    "credentials": {
      "webauthn": {
        "config": {
          "credentials": [
            {"id": "cred-a", "display_name": "YubiKey", "added_at": "2026-01-02T00:00:00Z"},
            {"id": "cred-b", "display_name": "Phone", "added_at": "2026-03-04T00:00:00Z"}
          ]
        }
      },
      "totp": {"config": {}},
      "lookup_secret": {"config": {}}
    }
  }
}`

func TestClientWhoami(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/whoami", r.URL.Path)
		require.Equal(t, "tok", r.Header.Get("X-Session-Token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(whoamiBody))
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, srv.Client()).Whoami(context.Background(), "tok")
	require.NoError(t, err)

	assert.Equal(t, "user-1", s.IdentityID)
	assert.Equal(t, AAL2, s.AssuranceLevel)
	assert.Equal(t, 2, s.DistinctCompletedMethods())

	passkeys := s.CredentialsOfKind(KindPasskey)
	require.Len(t, passkeys, 2)
	names := []string{passkeys[0].DisplayName, passkeys[1].DisplayName}
	assert.ElementsMatch(t, []string{"YubiKey", "Phone"}, names)

	assert.True(t, s.HasCredential(KindTOTP))
	assert.True(t, s.HasCredential(KindRecovery))
}

func TestClientWhoamiUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client()).Whoami(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSessionStale))
}

func TestClientWhoamiProviderDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client()).Whoami(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeFlowUnavailable))
}
