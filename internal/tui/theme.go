package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme 定义 TUI 主题色彩和样式
// Theme holds the TUI palette and the styles built from it.
type Theme struct {
	Primary lipgloss.Color
	Tool    lipgloss.Color
	Learner lipgloss.Color
	Added   lipgloss.Color
	Skipped lipgloss.Color
	Failed  lipgloss.Color
	Muted   lipgloss.Color
	Text    lipgloss.Color
	Border  lipgloss.Color

	TitleStyle       lipgloss.Style
	ActiveTabStyle   lipgloss.Style
	InactiveTabStyle lipgloss.Style
	StatusBarStyle   lipgloss.Style
	SidebarStyle     lipgloss.Style
	InputStyle       lipgloss.Style
	ErrorStyle       lipgloss.Style
	SuccessStyle     lipgloss.Style
	WarnStyle        lipgloss.Style
	MutedStyle       lipgloss.Style
	ToolStyle        lipgloss.Style
	UserStyle        lipgloss.Style
}

// DarkTheme 暗色主题（默认）
// DarkTheme is the default theme. Added cards are green, skipped duplicates
// amber and failed items red, matching the tool summary markers.
func DarkTheme() Theme {
	t := Theme{
		Primary: lipgloss.Color("#3B82F6"),
		Tool:    lipgloss.Color("#22D3EE"),
		Learner: lipgloss.Color("#FBBF24"),
		Added:   lipgloss.Color("#34D399"),
		Skipped: lipgloss.Color("#F59E0B"),
		Failed:  lipgloss.Color("#F87171"),
		Muted:   lipgloss.Color("#6B7280"),
		Text:    lipgloss.Color("#E5E7EB"),
		Border:  lipgloss.Color("#374151"),
	}

	t.TitleStyle = lipgloss.NewStyle().Foreground(t.Primary).Bold(true)
	t.ActiveTabStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		Background(t.Primary).
		Padding(0, 2).
		Bold(true)
	t.InactiveTabStyle = lipgloss.NewStyle().Foreground(t.Muted).Padding(0, 2)
	t.StatusBarStyle = lipgloss.NewStyle().Foreground(t.Muted)
	t.SidebarStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderLeft(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)
	t.InputStyle = lipgloss.NewStyle().
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)

	t.ErrorStyle = lipgloss.NewStyle().Foreground(t.Failed).Bold(true)
	t.SuccessStyle = lipgloss.NewStyle().Foreground(t.Added)
	t.WarnStyle = lipgloss.NewStyle().Foreground(t.Skipped)
	t.MutedStyle = lipgloss.NewStyle().Foreground(t.Muted)
	t.ToolStyle = lipgloss.NewStyle().Foreground(t.Tool)
	t.UserStyle = lipgloss.NewStyle().Foreground(t.Learner).Bold(true)
	return t
}

// AnkiStatus colors the sidebar connection line.
func (t Theme) AnkiStatus(status string) string {
	switch {
	case strings.HasPrefix(status, "connected"):
		return t.SuccessStyle.Render(status)
	case status == "" || status == "unknown":
		return t.MutedStyle.Render("unknown")
	default:
		return t.ErrorStyle.Render(status)
	}
}
