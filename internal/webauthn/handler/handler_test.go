package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"stepup/internal/session"
	"stepup/internal/webauthn"
	"stepup/internal/webauthn/handler/mocks"
	dErrors "stepup/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/webauthn-mocks.go -package=mocks Service
type WebAuthnHandlerSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *WebAuthnHandlerSuite) SetupSuite() {
	s.ctx = context.Background()
}

func TestWebAuthnHandlerSuite(t *testing.T) {
	suite.Run(t, new(WebAuthnHandlerSuite))
}

func newTestHandler(t *testing.T) (*Handler, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockService := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := New(mockService, logger, nil, nil)
	return h, mockService
}

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func (s *WebAuthnHandlerSuite) TestHandleBegin() {
	h, mockService := newTestHandler(s.T())
	mockService.EXPECT().BeginRegistration(gomock.Any(), "tok").Return(&webauthn.ChallengeBundle{
		ChallengeID: "ch-1",
		Options: &webauthn.CreationOptions{
			Challenge:            []byte("challenge-bytes"),
			RPID:                 "provider.test",
			UserID:               []byte("user-1"),
			UserName:             "user@example.com",
			Timeout:              time.Minute,
			ExcludeCredentialIDs: [][]byte{[]byte("existing")},
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/webauthn/registration/begin", nil)
	req.Header.Set("X-Session-Token", "tok")
	w := httptest.NewRecorder()
	h.handleBegin(w, req)

	require.Equal(s.T(), http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(s.T(), "ch-1", resp["challenge_id"])

	pk := resp["public_key"].(map[string]any)
	assert.Equal(s.T(), b64("challenge-bytes"), pk["challenge"])
	assert.Equal(s.T(), "provider.test", pk["rp_id"])
	assert.Equal(s.T(), float64(60000), pk["timeout_ms"])
	exclude := pk["exclude_credential_ids"].([]any)
	require.Len(s.T(), exclude, 1)
	assert.Equal(s.T(), b64("existing"), exclude[0])
}

func (s *WebAuthnHandlerSuite) TestHandleBeginMissingToken() {
	h, _ := newTestHandler(s.T())

	req := httptest.NewRequest(http.MethodPost, "/webauthn/registration/begin", nil)
	w := httptest.NewRecorder()
	h.handleBegin(w, req)

	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
}

func (s *WebAuthnHandlerSuite) TestHandleBeginCeremonyInProgress() {
	h, mockService := newTestHandler(s.T())
	mockService.EXPECT().BeginRegistration(gomock.Any(), "tok").
		Return(nil, dErrors.New(dErrors.CodeCeremonyInProgress, "a passkey ceremony is already running"))

	req := httptest.NewRequest(http.MethodPost, "/webauthn/registration/begin", nil)
	req.Header.Set("X-Session-Token", "tok")
	w := httptest.NewRecorder()
	h.handleBegin(w, req)

	assert.Equal(s.T(), http.StatusConflict, w.Code)
	var resp map[string]any
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(s.T(), "ceremony_in_progress", resp["error"])
}

func (s *WebAuthnHandlerSuite) TestHandleComplete() {
	h, mockService := newTestHandler(s.T())

	var got *webauthn.Credential
	mockService.EXPECT().
		FinishRegistration(gomock.Any(), "tok", "ch-1", "YubiKey", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, _ string, cred *webauthn.Credential) error {
			got = cred
			return nil
		})

	body := map[string]any{
		"challenge_id": "ch-1",
		"display_name": "YubiKey",
		"credential": map[string]string{
			"id":                 b64("new-cred"),
			"raw_id":             b64("new-cred"),
			"client_data_json":   b64(`{"type":"webauthn.create"}`),
			"attestation_object": b64("attestation"),
		},
	}
	raw, err := json.Marshal(body)
	require.NoError(s.T(), err)

	req := httptest.NewRequest(http.MethodPost, "/webauthn/registration/complete", bytes.NewReader(raw))
	req.Header.Set("X-Session-Token", "tok")
	w := httptest.NewRecorder()
	h.handleComplete(w, req)

	require.Equal(s.T(), http.StatusNoContent, w.Code)
	require.NotNil(s.T(), got)
	assert.Equal(s.T(), []byte("new-cred"), got.RawID)
	assert.Equal(s.T(), []byte(`{"type":"webauthn.create"}`), got.ClientDataJSON)
	assert.Equal(s.T(), []byte("attestation"), got.AttestationObject)
}

func (s *WebAuthnHandlerSuite) TestHandleCompleteMissingFields() {
	h, _ := newTestHandler(s.T())

	raw, err := json.Marshal(map[string]any{"display_name": "YubiKey"})
	require.NoError(s.T(), err)

	req := httptest.NewRequest(http.MethodPost, "/webauthn/registration/complete", bytes.NewReader(raw))
	req.Header.Set("X-Session-Token", "tok")
	w := httptest.NewRecorder()
	h.handleComplete(w, req)

	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
}

func (s *WebAuthnHandlerSuite) TestHandleList() {
	h, mockService := newTestHandler(s.T())
	added := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	mockService.EXPECT().List(gomock.Any(), "tok").Return([]session.Credential{
		{ID: "cred-a", Kind: session.KindPasskey, DisplayName: "YubiKey", CreatedAt: added},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/webauthn/passkeys", nil)
	req.Header.Set("X-Session-Token", "tok")
	w := httptest.NewRecorder()
	h.handleList(w, req)

	require.Equal(s.T(), http.StatusOK, w.Code)
	var resp map[string][]map[string]any
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(s.T(), resp["passkeys"], 1)
	assert.Equal(s.T(), "YubiKey", resp["passkeys"][0]["display_name"])
}

func (s *WebAuthnHandlerSuite) TestHandleStats() {
	h, mockService := newTestHandler(s.T())
	older := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	mockService.EXPECT().List(gomock.Any(), "tok").Return([]session.Credential{
		{ID: "cred-a", Kind: session.KindPasskey, CreatedAt: older},
		{ID: "cred-b", Kind: session.KindPasskey, CreatedAt: newer},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/webauthn/passkeys/stats", nil)
	req.Header.Set("X-Session-Token", "tok")
	w := httptest.NewRecorder()
	h.handleStats(w, req)

	require.Equal(s.T(), http.StatusOK, w.Code)
	var resp struct {
		Total       int        `json:"total"`
		LastAddedAt *time.Time `json:"last_added_at"`
	}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(s.T(), 2, resp.Total)
	require.NotNil(s.T(), resp.LastAddedAt)
	assert.True(s.T(), resp.LastAddedAt.Equal(newer))
}

func (s *WebAuthnHandlerSuite) TestHandleRemove() {
	h, mockService := newTestHandler(s.T())
	mockService.EXPECT().Remove(gomock.Any(), "tok", "cred-a").Return(nil)

	req := httptest.NewRequest(http.MethodDelete, "/webauthn/passkeys/cred-a", nil)
	req.Header.Set("X-Session-Token", "tok")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "cred-a")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	h.handleRemove(w, req)

	assert.Equal(s.T(), http.StatusNoContent, w.Code)
}

func (s *WebAuthnHandlerSuite) TestHandleRemoveNotFound() {
	h, mockService := newTestHandler(s.T())
	mockService.EXPECT().Remove(gomock.Any(), "tok", "cred-z").
		Return(dErrors.New(dErrors.CodeNotFound, "no such passkey"))

	req := httptest.NewRequest(http.MethodDelete, "/webauthn/passkeys/cred-z", nil)
	req.Header.Set("X-Session-Token", "tok")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "cred-z")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	h.handleRemove(w, req)

	assert.Equal(s.T(), http.StatusNotFound, w.Code)
}
