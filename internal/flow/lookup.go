package flow

import "strings"

// RevealedLookupCodes extracts one-time recovery codes from a flow that has
// just revealed or regenerated them. The provider renders them as text nodes
// in the lookup-secret group; codes already used are masked and skipped.
func (f *SettingsFlow) RevealedLookupCodes() []string {
	var codes []string
	for _, node := range f.NodesInGroup(GroupLookupSecret) {
		if node.Type != TypeText {
			continue
		}
		text, ok := node.Attributes["text"].(map[string]any)
		if !ok {
			continue
		}
		raw, ok := text["text"].(string)
		if !ok {
			continue
		}
		for _, code := range strings.Fields(strings.ReplaceAll(raw, ",", " ")) {
			if strings.Contains(code, "*") {
				continue
			}
			codes = append(codes, code)
		}
	}
	return codes
}
