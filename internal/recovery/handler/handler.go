// Package handler exposes recovery-code operations over HTTP. Denials from
// the tiered gate surface as 403 responses carrying the step-up URL.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stepup/internal/platform/metrics"
	"stepup/internal/platform/middleware"
	"stepup/internal/recovery"
	"stepup/internal/transport/http/shared"
	dErrors "stepup/pkg/domain-errors"
)

const sessionTokenHeader = "X-Session-Token"

// Service defines the recovery-code operations the handler exposes.
type Service interface {
	Status(ctx context.Context, sessionToken, userID, returnTo string) (*recovery.Status, error)
	Generate(ctx context.Context, sessionToken, userID, returnTo string, count int) ([]string, error)
	RevokeAll(ctx context.Context, sessionToken, userID, returnTo string) error
}

// Handler handles recovery-code endpoints.
type Handler struct {
	logger       *slog.Logger
	codes        Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new recovery-code Handler.
func New(codes Service, logger *slog.Logger, metrics *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		codes:        codes,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the recovery routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	router.Get("/codes/status", h.handleStatus)
	router.Post("/codes/generate", h.handleGenerate)
	router.Post("/codes/revoke", h.handleRevoke)

	r.Mount("/recovery", router)
}

// identity pulls the acting user and provider session token off the request.
func identity(r *http.Request) (userID, sessionToken string, err error) {
	userID = middleware.GetUserID(r.Context())
	if userID == "" {
		return "", "", dErrors.New(dErrors.CodeInternal, "authentication context error")
	}
	sessionToken = r.Header.Get(sessionTokenHeader)
	if sessionToken == "" {
		return "", "", dErrors.New(dErrors.CodeUnauthorized, "missing session token")
	}
	return userID, sessionToken, nil
}

// writeServiceError maps gate denials to 403 + step-up URL and everything
// else through the shared error writer.
func writeServiceError(w http.ResponseWriter, err error) {
	var stepUp *recovery.StepUpRequiredError
	if errors.As(err, &stepUp) {
		shared.WriteStepUpRequired(w, stepUp.URL)
		return
	}
	shared.WriteError(w, err)
}

type statusResponse struct {
	Enrolled bool `json:"enrolled"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, tok, err := identity(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	status, err := h.codes.Status(ctx, tok, userID, r.URL.Query().Get("return_to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, statusResponse{Enrolled: status.Enrolled})
}

type generateRequest struct {
	Count    int    `json:"count,omitempty"`
	ReturnTo string `json:"return_to,omitempty"`
}

type generateResponse struct {
	Codes []string `json:"codes"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, tok, err := identity(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req generateRequest
	if r.ContentLength > 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.WriteError(w, err)
			return
		}
	}
	if req.Count < 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "count must not be negative"))
		return
	}

	codes, err := h.codes.Generate(ctx, tok, userID, req.ReturnTo, req.Count)
	if err != nil {
		h.logger.WarnContext(ctx, "recovery code generation failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		writeServiceError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, generateResponse{Codes: codes})
}

type revokeRequest struct {
	ReturnTo string `json:"return_to,omitempty"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, tok, err := identity(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req revokeRequest
	if r.ContentLength > 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.WriteError(w, err)
			return
		}
	}

	if err := h.codes.RevokeAll(ctx, tok, userID, req.ReturnTo); err != nil {
		h.logger.WarnContext(ctx, "recovery code revocation failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
