package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"stepup/internal/platform/middleware"
)

type fakeValidator struct {
	claims *middleware.JWTClaims
	err    error
}

func (v *fakeValidator) ValidateToken(string) (*middleware.JWTClaims, error) {
	return v.claims, v.err
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		validator  *fakeValidator
		wantStatus int
		wantUser   string
	}{
		{
			name:       "valid token populates identity",
			authHeader: "Bearer good-token",
			validator:  &fakeValidator{claims: &middleware.JWTClaims{UserID: "user-1", SessionID: "sess-1"}},
			wantStatus: http.StatusOK,
			wantUser:   "user-1",
		},
		{
			name:       "missing header",
			validator:  &fakeValidator{},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong scheme",
			authHeader: "Basic dXNlcjpwdw==",
			validator:  &fakeValidator{},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid token",
			authHeader: "Bearer bad-token",
			validator:  &fakeValidator{err: errors.New("signature mismatch")},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser, gotSession string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = middleware.GetUserID(r.Context())
				gotSession = middleware.GetSessionID(r.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/recovery/codes/status", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			middleware.RequireAuth(tt.validator, discardLogger())(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantUser, gotUser)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "sess-1", gotSession)
			}
		})
	}
}
