package contextmgr

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"ankicli/internal/chat"
)

// Assembler builds the system messages sent ahead of the conversation turns.
type Assembler struct {
	SystemPrompt string
	// RulesPath is an optional user instruction file appended to the prompt.
	RulesPath string
	// Progress returns the learning digest; nil disables it.
	Progress func() string
	// ToolNotes returns per-tool preference notes; nil disables them.
	ToolNotes func() map[string]string
}

func New(systemPrompt, rulesPath string) *Assembler {
	return &Assembler{
		SystemPrompt: strings.TrimSpace(systemPrompt),
		RulesPath:    strings.TrimSpace(rulesPath),
	}
}

// StaticMessages returns the system prompt, user rules, progress digest and tool notes.
func (a *Assembler) StaticMessages() []chat.Message {
	out := []chat.Message{}
	if a.SystemPrompt != "" {
		out = append(out, chat.Message{Role: chat.RoleSystem, Content: a.SystemPrompt})
	}
	if content, ok := readFile(a.RulesPath, 32768); ok {
		out = append(out, chat.Message{Role: chat.RoleSystem, Content: "[USER_RULES]\n" + content})
	}
	if a.Progress != nil {
		if digest := strings.TrimSpace(a.Progress()); digest != "" {
			out = append(out, chat.Message{Role: chat.RoleSystem, Content: "[LEARNING_PROGRESS]\n" + digest})
		}
	}
	if a.ToolNotes != nil {
		if notes := formatToolNotes(a.ToolNotes()); notes != "" {
			out = append(out, chat.Message{Role: chat.RoleSystem, Content: "[TOOL_PREFERENCES]\n" + notes})
		}
	}
	return out
}

// Build prepends StaticMessages to turns.
func (a *Assembler) Build(turns []chat.Message) []chat.Message {
	static := a.StaticMessages()
	out := make([]chat.Message, 0, len(static)+len(turns))
	out = append(out, static...)
	return append(out, turns...)
}

func formatToolNotes(notes map[string]string) string {
	if len(notes) == 0 {
		return ""
	}
	names := make([]string, 0, len(notes))
	for name := range notes {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		note := strings.TrimSpace(notes[name])
		if note == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, note)
	}
	return strings.TrimRight(b.String(), "\n")
}

func readFile(path string, maxRunes int) (string, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", false
	}
	runes := []rune(content)
	if len(runes) > maxRunes {
		content = string(runes[:maxRunes]) + "\n...[truncated]"
	}
	return content, true
}
