package flow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepup/internal/flow"
	dErrors "stepup/pkg/domain-errors"
)

func settingsFixture(t *testing.T) *flow.SettingsFlow {
	t.Helper()
	return mustFlow(t, `{
		"id": "flow-1",
		"ui": {
			"action": "https://idp.test/self-service/settings?flow=flow-1",
			"method": "POST",
			"nodes": [
				{"group": "default", "type": "input", "attributes": {"name": "csrf_token", "value": "tok-abc"}}
			]
		}
	}`)
}

func TestBuildSubmission(t *testing.T) {
	f := settingsFixture(t)

	sub, err := flow.BuildSubmission(f, map[string]string{
		"method":    "totp",
		"totp_code": "123456",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://idp.test/self-service/settings?flow=flow-1", sub.URL)
	assert.Equal(t, "POST", sub.Method)
	assert.Equal(t, "tok-abc", sub.Body.Get("csrf_token"))
	assert.Equal(t, "totp", sub.Body.Get("method"))
	assert.Equal(t, "123456", sub.Body.Get("totp_code"))
}

func TestBuildSubmissionFieldOverridesCSRF(t *testing.T) {
	f := settingsFixture(t)

	sub, err := flow.BuildSubmission(f, map[string]string{"csrf_token": "explicit"})
	require.NoError(t, err)
	assert.Equal(t, "explicit", sub.Body.Get("csrf_token"))
}

func TestBuildSubmissionNoActionURL(t *testing.T) {
	_, err := flow.BuildSubmission(nil, nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeFlowUnavailable))

	_, err = flow.BuildSubmission(&flow.SettingsFlow{ID: "flow-1"}, nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeFlowUnavailable))
}
