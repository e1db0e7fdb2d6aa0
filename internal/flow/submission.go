package flow

import (
	"net/url"

	dErrors "stepup/pkg/domain-errors"
)

// Submission is a pure value describing one flow POST: the transport that
// carries it is an injected collaborator, so this stays testable in isolation.
type Submission struct {
	URL    string
	Method string
	Body   url.Values
}

// BuildSubmission assembles the form body for a flow submission. The flow's
// current CSRF token is always included; explicit fields override it only if
// a caller deliberately sets csrf_token (tests do, ceremonies never should).
func BuildSubmission(f *SettingsFlow, fields map[string]string) (Submission, error) {
	if f == nil || f.ActionURL() == "" {
		return Submission{}, dErrors.New(dErrors.CodeFlowUnavailable, "flow has no action URL")
	}

	body := url.Values{}
	body.Set("csrf_token", f.CSRFToken())
	for k, v := range fields {
		body.Set(k, v)
	}

	return Submission{
		URL:    f.ActionURL(),
		Method: f.HTTPMethod(),
		Body:   body,
	}, nil
}
