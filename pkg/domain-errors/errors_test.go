package dErrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CodeCSRFMismatch, "stale flow token")
	assert.Equal(t, "csrf_mismatch: stale flow token", err.Error())

	bare := &Error{Code: CodeTimedOut}
	assert.Equal(t, "timed_out", bare.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeFlowUnavailable, "provider unreachable", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeFlowUnavailable, CodeOf(err))
}

func TestHasCodeThroughWrapping(t *testing.T) {
	inner := New(CodeUserCancelled, "prompt dismissed")
	outer := fmt.Errorf("registration: %w", inner)

	assert.True(t, HasCode(outer, CodeUserCancelled))
	assert.False(t, HasCode(outer, CodeTimedOut))
}

func TestCodeOfNonDomainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidationRejected: http.StatusBadRequest,
		CodeUnauthorized:       http.StatusUnauthorized,
		CodeTierInsufficient:   http.StatusForbidden,
		CodeUnknownOperation:   http.StatusNotFound,
		CodeNotEligible:        http.StatusUnprocessableEntity,
		CodeCSRFMismatch:       http.StatusConflict,
		CodeTimedOut:           http.StatusGatewayTimeout,
		CodeFlowUnavailable:    http.StatusServiceUnavailable,
		CodeInternal:           http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), "code %s", code)
	}
}
