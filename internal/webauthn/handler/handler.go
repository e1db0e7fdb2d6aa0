// Package handler exposes passkey ceremonies over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stepup/internal/platform/metrics"
	"stepup/internal/platform/middleware"
	"stepup/internal/session"
	"stepup/internal/transport/http/shared"
	"stepup/internal/webauthn"
	dErrors "stepup/pkg/domain-errors"
)

const sessionTokenHeader = "X-Session-Token"

// Service defines the ceremony operations the handler exposes.
type Service interface {
	BeginRegistration(ctx context.Context, sessionToken string) (*webauthn.ChallengeBundle, error)
	FinishRegistration(ctx context.Context, sessionToken, challengeID, displayName string, cred *webauthn.Credential) error
	Remove(ctx context.Context, sessionToken, credentialID string) error
	List(ctx context.Context, sessionToken string) ([]session.Credential, error)
}

// Handler handles passkey endpoints.
type Handler struct {
	logger       *slog.Logger
	ceremonies   Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new passkey Handler.
func New(ceremonies Service, logger *slog.Logger, metrics *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		ceremonies:   ceremonies,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the passkey routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(3 * time.Minute)) // ceremonies poll, not a typical request budget
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	router.Post("/registration/begin", h.handleBegin)
	router.Post("/registration/complete", h.handleComplete)
	router.Get("/passkeys", h.handleList)
	router.Get("/passkeys/stats", h.handleStats)
	router.Delete("/passkeys/{id}", h.handleRemove)

	r.Mount("/webauthn", router)
}

// sessionToken extracts the provider session token the caller acts under.
func sessionToken(r *http.Request) (string, error) {
	tok := r.Header.Get(sessionTokenHeader)
	if tok == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "missing session token")
	}
	return tok, nil
}

func (h *Handler) handleBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, err := sessionToken(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	bundle, err := h.ceremonies.BeginRegistration(ctx, tok)
	if err != nil {
		h.logger.WarnContext(ctx, "begin passkey registration failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, newBeginResponse(bundle))
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, err := sessionToken(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req completeRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		shared.WriteError(w, err)
		return
	}
	cred, err := req.credential()
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	if err := h.ceremonies.FinishRegistration(ctx, tok, req.ChallengeID, req.DisplayName, cred); err != nil {
		h.logger.WarnContext(ctx, "complete passkey registration failed",
			"request_id", middleware.GetRequestID(ctx),
			"challenge_id", req.ChallengeID,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tok, err := sessionToken(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	creds, err := h.ceremonies.List(r.Context(), tok)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, newListResponse(creds))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	tok, err := sessionToken(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	creds, err := h.ceremonies.List(r.Context(), tok)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, newStatsResponse(creds))
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, err := sessionToken(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "passkey id is required"))
		return
	}
	if err := h.ceremonies.Remove(ctx, tok, id); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
