// Package dErrors defines the domain error taxonomy shared by all services.
// Transport and provider failures are converted into these codes at component
// boundaries; raw errors never cross into handlers.
package dErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error for callers and for HTTP translation.
type Code string

const (
	// Ceremony and flow-protocol codes.
	CodeFlowUnavailable    Code = "flow_unavailable"
	CodeCSRFMismatch       Code = "csrf_mismatch"
	CodeNotEligible        Code = "not_eligible"
	CodeUserCancelled      Code = "user_cancelled"
	CodeTimedOut           Code = "timed_out"
	CodeValidationRejected Code = "validation_rejected"
	CodeSessionStale       Code = "session_stale"
	CodeCeremonyInProgress Code = "ceremony_in_progress"

	// Gate codes.
	CodeUnknownOperation Code = "unknown_operation"
	CodeTierInsufficient Code = "tier_insufficient"

	// Ambient transport codes.
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal"
)

// Error is a domain error carrying a taxonomy code, a caller-safe message and
// an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	// Messages carries provider-issued UI messages verbatim when the provider
	// rejected a submission (e.g. a wrong TOTP code).
	Messages []string
	cause    error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is makes errors.Is match on code so callers can compare against sentinel
// instances without caring about message text.
func (e *Error) Is(target error) bool {
	var de *Error
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}

// New constructs a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs a domain error that retains its cause for logging while
// exposing only the code and message to callers.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithMessages attaches provider messages to the error and returns it.
func (e *Error) WithMessages(messages []string) *Error {
	e.Messages = messages
	return e
}

// CodeOf extracts the taxonomy code from err, or CodeInternal when err is not
// a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}

// ToHTTPStatus maps a taxonomy code onto an HTTP status for the REST surface.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidationRejected:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeTierInsufficient:
		return http.StatusForbidden
	case CodeNotFound, CodeUnknownOperation:
		return http.StatusNotFound
	case CodeNotEligible:
		return http.StatusUnprocessableEntity
	case CodeCeremonyInProgress, CodeCSRFMismatch:
		return http.StatusConflict
	case CodeTimedOut:
		return http.StatusGatewayTimeout
	case CodeFlowUnavailable, CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
