package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderToolLine colors one tool summary line by its marker.
func RenderToolLine(line string, theme Theme) string {
	trimmed := strings.TrimLeft(line, " \t")
	switch {
	case trimmed == "":
		return line
	case strings.HasPrefix(trimmed, "+ "):
		return theme.SuccessStyle.Render(line)
	case strings.HasPrefix(trimmed, "x "):
		return theme.ErrorStyle.Render(line)
	case strings.HasPrefix(trimmed, "= "), strings.HasPrefix(trimmed, "! "):
		return theme.WarnStyle.Render(line)
	case strings.HasPrefix(trimmed, "* "):
		return theme.ToolStyle.Render(line)
	default:
		return line
	}
}

func splitHeadAndDetail(s string) (string, string) {
	s = strings.TrimRight(s, "\n")
	head, detail, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(head), strings.TrimRight(detail, "\n")
}

func indentBlock(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, prefix+line)
	}
	return strings.Join(out, "\n")
}

func short(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
