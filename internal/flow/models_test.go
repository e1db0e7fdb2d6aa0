package flow_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepup/internal/flow"
)

func mustFlow(t *testing.T, raw string) *flow.SettingsFlow {
	t.Helper()
	var f flow.SettingsFlow
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	return &f
}

func TestNodeValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "string value",
			raw:  `{"attributes": {"name": "csrf_token", "value": "tok-1"}}`,
			want: "tok-1",
		},
		{
			name: "absent value",
			raw:  `{"attributes": {"name": "csrf_token"}}`,
			want: "",
		},
		{
			name: "object value is re-marshalled",
			raw:  `{"attributes": {"name": "webauthn_register", "value": {"publicKey": {"challenge": "YWJj"}}}}`,
			want: `{"publicKey":{"challenge":"YWJj"}}`,
		},
		{
			name: "numeric value is re-marshalled",
			raw:  `{"attributes": {"name": "lifetime", "value": 30}}`,
			want: "30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n flow.Node
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &n))
			assert.Equal(t, tt.want, n.Value())
		})
	}
}

func TestCSRFToken(t *testing.T) {
	f := mustFlow(t, `{
		"id": "flow-1",
		"ui": {
			"action": "https://idp.test/self-service/settings?flow=flow-1",
			"method": "POST",
			"nodes": [
				{"group": "default", "type": "input", "attributes": {"name": "csrf_token", "value": "tok-abc"}},
				{"group": "totp", "type": "input", "attributes": {"name": "totp_code"}}
			]
		}
	}`)

	assert.Equal(t, "tok-abc", f.CSRFToken())

	empty := mustFlow(t, `{"id": "flow-2", "ui": {"nodes": []}}`)
	assert.Empty(t, empty.CSRFToken())
}

func TestHTTPMethod(t *testing.T) {
	f := mustFlow(t, `{"ui": {"method": "post"}}`)
	assert.Equal(t, "POST", f.HTTPMethod())

	f = mustFlow(t, `{"ui": {}}`)
	assert.Equal(t, "POST", f.HTTPMethod())
}

func TestFindNode(t *testing.T) {
	f := mustFlow(t, `{
		"ui": {
			"nodes": [
				{"group": "webauthn", "type": "input", "attributes": {"name": "webauthn_remove", "value": "cred-1"}},
				{"group": "webauthn", "type": "input", "attributes": {"name": "webauthn_remove", "value": "cred-2"}},
				{"group": "totp", "type": "input", "attributes": {"name": "totp_code"}}
			]
		}
	}`)

	n, ok := f.FindNode(flow.GroupWebAuthn, "webauthn_remove")
	require.True(t, ok)
	assert.Equal(t, "cred-1", n.Value())

	_, ok = f.FindNode(flow.GroupLookupSecret, "lookup_secret_reveal")
	assert.False(t, ok)

	assert.Len(t, f.NodesInGroup(flow.GroupWebAuthn), 2)
	assert.Empty(t, f.NodesInGroup(flow.GroupLookupSecret))
}

func TestErrorMessages(t *testing.T) {
	f := mustFlow(t, `{
		"ui": {
			"messages": [
				{"type": "error", "text": "the flow expired"},
				{"type": "info", "text": "please retry"}
			],
			"nodes": [
				{"group": "totp", "type": "input",
				 "attributes": {"name": "totp_code"},
				 "messages": [{"type": "error", "text": "the provided code is invalid"}]}
			]
		}
	}`)

	assert.Equal(t, []string{"the flow expired", "the provided code is invalid"}, f.ErrorMessages())
}

func TestResultContinued(t *testing.T) {
	assert.False(t, (&flow.Result{Success: true}).Continued())
	assert.False(t, (&flow.Result{Success: true, Continue: &flow.SettingsFlow{}}).Continued())
	assert.True(t, (&flow.Result{Continue: &flow.SettingsFlow{}}).Continued())

	r := &flow.Result{Messages: []flow.Message{
		{Type: "error", Text: "rejected"},
		{Type: "info", Text: "ignored"},
	}}
	assert.Equal(t, []string{"rejected"}, r.ErrorTexts())
}

func TestRevealedLookupCodes(t *testing.T) {
	f := mustFlow(t, `{
		"ui": {
			"nodes": [
				{"group": "lookup_secret", "type": "text",
				 "attributes": {"id": "lookup_secret_codes",
				                "text": {"text": "aaaa-1111, bbbb-2222, ****-****, cccc-3333"}}},
				{"group": "lookup_secret", "type": "input",
				 "attributes": {"name": "lookup_secret_confirm", "value": "true"}},
				{"group": "totp", "type": "text",
				 "attributes": {"text": {"text": "not-a-code"}}}
			]
		}
	}`)

	assert.Equal(t, []string{"aaaa-1111", "bbbb-2222", "cccc-3333"}, f.RevealedLookupCodes())
}

func TestRevealedLookupCodesNone(t *testing.T) {
	f := mustFlow(t, `{"ui": {"nodes": [{"group": "lookup_secret", "type": "text", "attributes": {"text": {"text": "****-****"}}}]}}`)
	assert.Empty(t, f.RevealedLookupCodes())
}
