// Package flow negotiates the identity provider's settings-flow protocol:
// fetching flow documents, extracting CSRF tokens and UI nodes, and submitting
// method-specific fields. A flow is exclusively owned by the ceremony that
// fetched it and becomes stale after any submission.
package flow

import (
	"encoding/json"
	"strings"
)

// NodeGroup classifies a UI node by authentication method.
type NodeGroup string

const (
	GroupWebAuthn     NodeGroup = "webauthn"
	GroupTOTP         NodeGroup = "totp"
	GroupLookupSecret NodeGroup = "lookup_secret"
	GroupDefault      NodeGroup = "default"
)

// NodeType is the provider's rendering hint for a node.
type NodeType string

const (
	TypeInput  NodeType = "input"
	TypeButton NodeType = "button"
	TypeScript NodeType = "script"
	TypeText   NodeType = "text"
)

// MessageTypeError marks provider messages that denote rejection.
const MessageTypeError = "error"

// Message is a provider-issued UI message.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Attributes is the provider-specific attribute bag of a node. Values are
// left loosely typed; accessors below narrow them.
type Attributes map[string]any

// String returns the attribute as a string, or "" when absent or non-string.
func (a Attributes) String(key string) string {
	v, ok := a[key].(string)
	if !ok {
		return ""
	}
	return v
}

// Node is one entry of the flow's ordered UI node list.
type Node struct {
	Group      NodeGroup  `json:"group"`
	Type       NodeType   `json:"type"`
	Attributes Attributes `json:"attributes"`
	Messages   []Message  `json:"messages,omitempty"`
}

// Name returns the node's input name from its attributes.
func (n Node) Name() string {
	return n.Attributes.String("name")
}

// Value returns the node's value attribute as a string. Non-string values
// (the provider embeds JSON objects for ceremony options) are re-marshalled.
func (n Node) Value() string {
	switch v := n.Attributes["value"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// UI is the provider's rendering container inside a settings flow.
type UI struct {
	Action   string    `json:"action"`
	Method   string    `json:"method"`
	Nodes    []Node    `json:"nodes"`
	Messages []Message `json:"messages,omitempty"`
}

// SettingsFlow is the provider's stateful, CSRF-protected settings document.
// It is created by a GET against the provider and owned by exactly one
// ceremony; it must be re-fetched after any POST unless the response chained
// a continuation flow.
type SettingsFlow struct {
	ID    string `json:"id"`
	State string `json:"state,omitempty"`
	UI    UI     `json:"ui"`
}

// ActionURL is the submission target for this flow.
func (f *SettingsFlow) ActionURL() string {
	return f.UI.Action
}

// HTTPMethod is the submission method, defaulting to POST.
func (f *SettingsFlow) HTTPMethod() string {
	if f.UI.Method == "" {
		return "POST"
	}
	return strings.ToUpper(f.UI.Method)
}

// CSRFToken extracts the anti-forgery token node. Empty when the provider
// issued none (should not happen for browser flows).
func (f *SettingsFlow) CSRFToken() string {
	for _, n := range f.UI.Nodes {
		if n.Name() == "csrf_token" {
			return n.Value()
		}
	}
	return ""
}

// NodesInGroup returns the flow's nodes for one method group, in order.
func (f *SettingsFlow) NodesInGroup(group NodeGroup) []Node {
	var nodes []Node
	for _, n := range f.UI.Nodes {
		if n.Group == group {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// FindNode locates a node by group and name; ok is false when absent.
func (f *SettingsFlow) FindNode(group NodeGroup, name string) (Node, bool) {
	for _, n := range f.UI.Nodes {
		if n.Group == group && n.Name() == name {
			return n, true
		}
	}
	return Node{}, false
}

// ErrorMessages collects all error-typed messages from the flow and its nodes.
func (f *SettingsFlow) ErrorMessages() []string {
	var out []string
	for _, m := range f.UI.Messages {
		if m.Type == MessageTypeError {
			out = append(out, m.Text)
		}
	}
	for _, n := range f.UI.Nodes {
		for _, m := range n.Messages {
			if m.Type == MessageTypeError {
				out = append(out, m.Text)
			}
		}
	}
	return out
}

// Result is the outcome of a flow submission: either a continuation flow
// (e.g. a freshly issued QR code), or a terminal success/rejection.
type Result struct {
	Success  bool
	Continue *SettingsFlow
	Messages []Message
}

// Continued reports whether the provider returned a further challenge.
func (r *Result) Continued() bool {
	return r.Continue != nil && !r.Success
}

// ErrorTexts returns the texts of error-typed result messages.
func (r *Result) ErrorTexts() []string {
	var out []string
	for _, m := range r.Messages {
		if m.Type == MessageTypeError {
			out = append(out, m.Text)
		}
	}
	return out
}
