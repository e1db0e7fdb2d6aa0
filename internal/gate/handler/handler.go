// Package handler exposes the step-up return endpoint: the one place a
// pending authorization marker is redeemed after the user comes back from
// elevating their session.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stepup/internal/platform/metrics"
	"stepup/internal/platform/middleware"
	"stepup/internal/transport/http/shared"
	dErrors "stepup/pkg/domain-errors"
)

const sessionTokenHeader = "X-Session-Token"

// Service redeems pending authorization markers.
type Service interface {
	ConsumeReturn(ctx context.Context, userID, operationName string) (bool, error)
}

// Completions records step-up completions so the next gate decision sees
// the elevated session instead of a stale cache.
type Completions interface {
	Mark(userID string)
}

// SessionRefresher re-reads the provider session after a step-up.
type SessionRefresher interface {
	Refresh(ctx context.Context, sessionToken string) error
}

// Handler handles the step-up return endpoint.
type Handler struct {
	logger       *slog.Logger
	gate         Service
	completions  Completions
	sessions     SessionRefresher
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new step-up return Handler.
func New(gate Service, completions Completions, sessions SessionRefresher, logger *slog.Logger, metrics *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		gate:         gate,
		completions:  completions,
		sessions:     sessions,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the step-up routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	router.Post("/stepup/return", h.handleReturn)

	r.Mount("/auth", router)
}

type returnRequest struct {
	Operation string `json:"operation"`
}

type returnResponse struct {
	Authorized bool `json:"authorized"`
}

// handleReturn redeems the marker for the named operation. Authorized is
// true at most once per marker; replays get false, not an error.
func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var req returnRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if req.Operation == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "operation is required"))
		return
	}

	// The session was just elevated; refresh before anything reads the
	// cached tier, and flag the completion for gate decisions that race
	// the refresh.
	if tok := r.Header.Get(sessionTokenHeader); tok != "" {
		if err := h.sessions.Refresh(ctx, tok); err != nil {
			h.logger.WarnContext(ctx, "session refresh on step-up return failed",
				"request_id", middleware.GetRequestID(ctx),
				"error", err.Error(),
			)
		}
	}
	h.completions.Mark(userID)

	authorized, err := h.gate.ConsumeReturn(ctx, userID, req.Operation)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, returnResponse{Authorized: authorized})
}
