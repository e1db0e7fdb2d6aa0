package testutil

import (
	"context"
	"net/http"

	"stepup/internal/platform/middleware"
)

// WithUserID adds a user ID to the request context, simulating what the
// auth middleware does for authenticated requests.
func WithUserID(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

// WithAuth adds both user ID and session ID to the request context.
// This is the typical state for an authenticated request.
func WithAuth(req *http.Request, userID, sessionID string) *http.Request {
	ctx := req.Context()
	if userID != "" {
		ctx = middleware.WithUserID(ctx, userID)
	}
	if sessionID != "" {
		ctx = context.WithValue(ctx, middleware.ContextKeySessionID, sessionID)
	}
	return req.WithContext(ctx)
}
