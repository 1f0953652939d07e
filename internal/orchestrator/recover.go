package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"ankicli/internal/chat"

	"github.com/google/uuid"
)

var (
	inlineCallPattern = regexp.MustCompile(`(?is)<tool_call>\s*(.*?)\s*</tool_call>`)
	inlineFuncPattern = regexp.MustCompile(`(?is)<function=([a-z0-9_]+)>\s*(.*?)\s*</function>`)
	inlineArgPattern  = regexp.MustCompile(`(?is)<parameter=([a-z0-9_]+)>\s*(.*?)\s*</parameter>`)
)

// recoverToolCalls turns tool calls a model wrote into its answer text back
// into structured calls. Both forms are accepted:
//
//	<tool_call>{"name":"list_decks","arguments":{}}</tool_call>
//	<tool_call><function=get_deck_cards><parameter=deck_name>Spanish</parameter></function></tool_call>
//
// Blocks naming an unavailable tool are left in the text.
func recoverToolCalls(content string, known func(string) bool) ([]chat.ToolCall, string) {
	if known == nil || !strings.Contains(content, "<tool_call>") {
		return nil, content
	}
	var (
		calls   []chat.ToolCall
		cleaned strings.Builder
		last    int
	)
	for _, m := range inlineCallPattern.FindAllStringSubmatchIndex(content, -1) {
		cleaned.WriteString(content[last:m[0]])
		last = m[1]
		name, args, ok := parseInlineCall(content[m[2]:m[3]])
		if !ok || !known(name) {
			cleaned.WriteString(content[m[0]:m[1]])
			continue
		}
		calls = append(calls, chat.ToolCall{
			ID:       "call_" + uuid.NewString(),
			Type:     "function",
			Function: chat.ToolCallFunction{Name: name, Arguments: args},
		})
	}
	cleaned.WriteString(content[last:])
	return calls, strings.TrimSpace(cleaned.String())
}

func parseInlineCall(inner string) (string, string, bool) {
	inner = strings.TrimSpace(inner)
	var payload struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(inner), &payload); err == nil {
		name := strings.ToLower(strings.TrimSpace(payload.Name))
		if name == "" {
			return "", "", false
		}
		if payload.Arguments == nil {
			payload.Arguments = map[string]any{}
		}
		return name, mustJSON(payload.Arguments), true
	}

	m := inlineFuncPattern.FindStringSubmatch(inner)
	if m == nil {
		return "", "", false
	}
	params := map[string]any{}
	for _, pm := range inlineArgPattern.FindAllStringSubmatch(m[2], -1) {
		raw := strings.TrimSpace(pm[2])
		// Arrays and numbers arrive as JSON text; anything else is a string.
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			params[pm[1]] = v
		} else {
			params[pm[1]] = raw
		}
	}
	return strings.ToLower(m[1]), mustJSON(params), true
}
