// Package shared holds the response helpers every HTTP handler uses, so the
// wire shape of errors is decided in exactly one place.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "stepup/pkg/domain-errors"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error       string   `json:"error"`
	Description string   `json:"error_description,omitempty"`
	Messages    []string `json:"messages,omitempty"`
	StepUpURL   string   `json:"step_up_url,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps a domain error onto an HTTP error response. Internal
// errors never leak their description to the client.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		body.Description = err.Error()
		var dErr *dErrors.Error
		if errors.As(err, &dErr) {
			if dErr.Message != "" {
				body.Description = dErr.Message
			}
			body.Messages = dErr.Messages
		}
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// WriteStepUpRequired reports a tier shortfall together with the URL the
// caller must visit to elevate.
func WriteStepUpRequired(w http.ResponseWriter, stepUpURL string) {
	WriteJSON(w, http.StatusForbidden, errorBody{
		Error:       string(dErrors.CodeTierInsufficient),
		Description: "operation requires a stronger authentication tier",
		StepUpURL:   stepUpURL,
	})
}

// DecodeJSON decodes a request body, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.Wrap(dErrors.CodeBadRequest, "invalid request body", err)
	}
	return nil
}
