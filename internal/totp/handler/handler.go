// Package handler exposes TOTP enrollment over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stepup/internal/platform/metrics"
	"stepup/internal/platform/middleware"
	"stepup/internal/totp"
	"stepup/internal/transport/http/shared"
	dErrors "stepup/pkg/domain-errors"
)

const sessionTokenHeader = "X-Session-Token"

// Service defines the enrollment operations the handler exposes.
type Service interface {
	Begin(ctx context.Context, sessionToken string) (*totp.Enrollment, error)
	Confirm(ctx context.Context, sessionToken, code string) (*totp.ConfirmResult, error)
	Disable(ctx context.Context, sessionToken string) error
}

// Handler handles TOTP enrollment endpoints.
type Handler struct {
	logger       *slog.Logger
	enrollments  Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new TOTP Handler.
func New(enrollments Service, logger *slog.Logger, metrics *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		enrollments:  enrollments,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the TOTP routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	router.Post("/enrollment/begin", h.handleBegin)
	router.Post("/enrollment/confirm", h.handleConfirm)
	router.Delete("/", h.handleDisable)

	r.Mount("/totp", router)
}

func sessionToken(r *http.Request) (string, error) {
	tok := r.Header.Get(sessionTokenHeader)
	if tok == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "missing session token")
	}
	return tok, nil
}

type beginResponse struct {
	FlowID        string `json:"flow_id"`
	QRCodeDataURL string `json:"qr_code_data_url"`
	SecretKey     string `json:"secret_key"`
}

func (h *Handler) handleBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, err := sessionToken(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	enrollment, err := h.enrollments.Begin(ctx, tok)
	if err != nil {
		h.logger.WarnContext(ctx, "begin totp enrollment failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, beginResponse{
		FlowID:        enrollment.FlowID,
		QRCodeDataURL: enrollment.QRCodeDataURL,
		SecretKey:     enrollment.SecretKey,
	})
}

type confirmRequest struct {
	Code string `json:"code"`
}

type confirmResponse struct {
	RecoveryCodes []string `json:"recovery_codes,omitempty"`
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, err := sessionToken(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req confirmRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}

	result, err := h.enrollments.Confirm(ctx, tok, req.Code)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, confirmResponse{RecoveryCodes: result.RecoveryCodes})
}

func (h *Handler) handleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, err := sessionToken(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.enrollments.Disable(ctx, tok); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
