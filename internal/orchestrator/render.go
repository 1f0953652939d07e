package orchestrator

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"ankicli/internal/progress"
	"ankicli/internal/storage"

	"github.com/charmbracelet/lipgloss"
)

// streamRenderer prints streamed model text under a "[LABEL] ───" header,
// collapsing runs of blank lines.
type streamRenderer struct {
	out             io.Writer
	label           string
	color           string
	dim             bool
	started         bool
	lineStart       bool
	pendingNewlines int
	hasVisibleText  bool
}

func newStreamRenderer(out io.Writer, label, color string, dim bool) *streamRenderer {
	return &streamRenderer{out: out, label: label, color: color, dim: dim, lineStart: true}
}

func (r *streamRenderer) start() {
	if r.started {
		return
	}
	r.started = true
	_, _ = fmt.Fprintln(r.out)
	_, _ = fmt.Fprintf(r.out, "%s %s\n", style("["+r.label+"]", r.color+";"+ansiBold), style(strings.Repeat("─", 40), r.color))
}

func (r *streamRenderer) Append(chunk string) {
	if r == nil || r.out == nil || chunk == "" {
		return
	}
	r.start()
	normalized := strings.ReplaceAll(strings.ReplaceAll(chunk, "\r\n", "\n"), "\r", "\n")
	for _, ch := range normalized {
		if ch == '\n' {
			r.pendingNewlines++
			continue
		}
		r.flushPendingNewlines()
		r.lineStart = false
		if r.dim {
			_, _ = fmt.Fprint(r.out, style(string(ch), ansiGray))
		} else {
			_, _ = fmt.Fprint(r.out, string(ch))
		}
		r.hasVisibleText = true
	}
}

func (r *streamRenderer) Finish() {
	if r == nil || r.out == nil || !r.started {
		return
	}
	r.pendingNewlines = 0
	if !r.lineStart {
		_, _ = fmt.Fprintln(r.out)
		r.lineStart = true
	}
	_, _ = fmt.Fprintln(r.out)
}

func (r *streamRenderer) flushPendingNewlines() {
	if r.pendingNewlines == 0 {
		return
	}
	if !r.hasVisibleText {
		r.pendingNewlines = 0
		return
	}
	n := min(r.pendingNewlines, 2)
	_, _ = fmt.Fprint(r.out, strings.Repeat("\n", n))
	r.pendingNewlines = 0
	r.lineStart = true
}

func renderBlock(out io.Writer, label, color, content string, dim bool) {
	if out == nil {
		return
	}
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintf(out, "%s %s\n", style("["+label+"]", color+";"+ansiBold), style(strings.Repeat("─", 40), color))
	for _, line := range compactAssistantLines(content) {
		if dim && line != "" {
			line = style(line, ansiGray)
		}
		_, _ = fmt.Fprintln(out, line)
	}
	_, _ = fmt.Fprintln(out)
}

func renderAssistantBlock(out io.Writer, content string, isFinal bool) {
	if isFinal {
		renderBlock(out, "ANSWER", ansiCyan, content, false)
		return
	}
	renderBlock(out, "PLAN", ansiGray, content, false)
}

func renderThinkingBlock(out io.Writer, content string) {
	renderBlock(out, "THINK", ansiGray, content, true)
}

func renderToolStart(out io.Writer, message string) {
	_, _ = fmt.Fprintf(out, "%s %s\n", style("[TOOL]", ansiYellow+";"+ansiBold), style(message, ansiYellow))
}

func renderToolResult(out io.Writer, message string) {
	lines := strings.Split(strings.ReplaceAll(message, "\r\n", "\n"), "\n")
	_, _ = fmt.Fprintf(out, "  %s %s\n", style("->", ansiGreen+";"+ansiBold), style(lines[0], ansiGray))
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		_, _ = fmt.Fprintf(out, "     %s\n", styleDetailLine(line))
	}
}

func renderToolError(out io.Writer, message string) {
	_, _ = fmt.Fprintf(out, "  %s %s\n", style("x", ansiRed+";"+ansiBold), style(message, ansiRed))
}

func styleDetailLine(line string) string {
	switch {
	case strings.HasPrefix(line, "+ "):
		return style(line, ansiGreen)
	case strings.HasPrefix(line, "= "):
		return style(line, ansiYellow)
	case strings.HasPrefix(line, "x "):
		return style(line, ansiRed)
	default:
		return style(line, ansiGray)
	}
}

func style(text, codes string) string {
	if text == "" || !enableColor() {
		return text
	}
	var b strings.Builder
	for _, code := range strings.Split(codes, ";") {
		b.WriteString(strings.TrimSpace(code))
	}
	if b.Len() == 0 {
		return text
	}
	return b.String() + text + ansiReset
}

func compactAssistantLines(content string) []string {
	normalized := strings.ReplaceAll(strings.ReplaceAll(content, "\r\n", "\n"), "\r", "\n")
	normalized = strings.Trim(normalized, "\n")
	if normalized == "" {
		return []string{""}
	}
	lines := []string{}
	blankSeen := false
	for _, line := range strings.Split(normalized, "\n") {
		if strings.TrimSpace(line) == "" {
			if !blankSeen {
				lines = append(lines, "")
			}
			blankSeen = true
			continue
		}
		lines = append(lines, line)
		blankSeen = false
	}
	return lines
}

func enableColor() bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" || strings.TrimSpace(os.Getenv("ANKICLI_NO_COLOR")) != "" {
		return false
	}
	return strings.ToLower(strings.TrimSpace(os.Getenv("TERM"))) != "dumb"
}

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("6")).
			Padding(0, 1)
	panelTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	mutedText  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func panel(title string, lines []string) string {
	if !enableColor() {
		return title + "\n" + strings.Join(lines, "\n")
	}
	body := panelTitle.Render(title) + "\n" + strings.Join(lines, "\n")
	return panelStyle.Render(body)
}

// contextBar draws a fixed-width usage bar such as [████░░░░] 42.0%.
func contextBar(percent float64, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := int(percent / 100 * float64(width))
	filled = max(0, min(filled, width))
	return fmt.Sprintf("[%s%s] %.1f%%", strings.Repeat("█", filled), strings.Repeat("░", width-filled), percent)
}

func formatStatus(model string, stats ContextStats) string {
	lines := []string{
		fmt.Sprintf("Model:    %s", quoteOrDash(model)),
		fmt.Sprintf("Context:  %s  %d / %d tokens", contextBar(stats.UsagePercent, 20), stats.EstimatedTokens, stats.ContextLimit),
		fmt.Sprintf("Messages: %d", stats.MessageCount),
		fmt.Sprintf("Session:  %d input / %d output tokens", stats.InputTokens, stats.OutputTokens),
	}
	return panel("Status", lines)
}

func formatProgress(records []progress.Record, summary progress.Summary, streak progress.Streak) string {
	lines := []string{}
	for _, r := range records {
		head := r.Topic
		if r.Description != "" {
			head += " " + mutedText.Render("("+r.Description+")")
		}
		lines = append(lines, fmt.Sprintf("%-28s %s", head, contextBar(float64(r.Coverage), 10)))
		if r.KnownSummary != "" {
			lines = append(lines, "  known:    "+short(r.KnownSummary, 70))
		}
		if len(r.ToLearn) > 0 {
			lines = append(lines, "  to learn: "+short(strings.Join(r.ToLearn, ", "), 70))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "No progress recorded yet.")
	}
	lines = append(lines, "",
		fmt.Sprintf("Cards added: %d", summary.TotalCardsAdded),
		fmt.Sprintf("Streak: %d day(s) current, %d longest, %d active in the last 7 days", streak.Current, streak.Longest, streak.LastSevenDays),
	)
	if n := len(summary.RecentAdditions); n > 0 {
		recent := summary.RecentAdditions[max(0, n-10):]
		lines = append(lines, "Recent: "+strings.Join(recent, ", "))
	}
	if summary.Notes != "" {
		lines = append(lines, "Notes: "+short(summary.Notes, 80))
	}
	return panel("Learning progress", lines)
}

// formatHistory renders the last n chat log exchanges, oldest first.
func formatHistory(log []storage.Exchange, n int) string {
	if len(log) == 0 {
		return "No chat history yet."
	}
	if n <= 0 {
		n = 10
	}
	if len(log) > n {
		log = log[len(log)-n:]
	}
	var b strings.Builder
	for i, ex := range log {
		ts := ex.Timestamp
		if t, err := time.Parse(time.RFC3339, ex.Timestamp); err == nil {
			ts = t.Local().Format("2006-01-02 15:04")
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n", style(ts, ansiGray))
		fmt.Fprintf(&b, "  You: %s\n", short(ex.User, 200))
		for _, t := range ex.Tools {
			fmt.Fprintf(&b, "    %s %s: %s\n", style("*", ansiYellow), t.Name, short(t.Summary, 120))
		}
		fmt.Fprintf(&b, "  Assistant: %s\n", short(ex.Assistant, 300))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatAge renders a restored conversation's age, e.g. "3 hours ago".
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	default:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
