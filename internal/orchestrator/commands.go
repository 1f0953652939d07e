package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"ankicli/internal/config"
)

// RunInput 处理一行输入：会话命令直接执行，其余交给模型
// RunInput handles one line of input: session commands run directly,
// anything else becomes a model turn. The quit command returns ErrQuit.
func (o *Orchestrator) RunInput(ctx context.Context, input string, out io.Writer) (string, error) {
	if cmd, args, ok := parseCommand(input); ok {
		result, err := o.runCommand(ctx, cmd, args)
		if out != nil && result != "" {
			_, _ = fmt.Fprintln(out, result)
		}
		return result, err
	}
	return o.RunTurn(ctx, input, out)
}

// parseCommand recognizes session commands. Commands without arguments must
// match the whole input; history, model and notes accept arguments only in
// their documented shapes so ordinary requests are never swallowed.
func parseCommand(input string) (string, string, bool) {
	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) == 0 {
		return "", "", false
	}
	cmd := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), fields[0]))
	switch cmd {
	case "help", "progress", "status", "compact", "reset", "new", "clear", "quit", "exit", "q":
		if len(fields) == 1 {
			return cmd, "", true
		}
	case "history":
		if len(fields) == 1 {
			return cmd, "", true
		}
		if len(fields) == 2 {
			if _, err := strconv.Atoi(fields[1]); err == nil {
				return cmd, fields[1], true
			}
		}
	case "model":
		if len(fields) <= 2 {
			return cmd, rest, true
		}
	case "notes":
		if len(fields) == 1 || (len(fields) == 2 && strings.EqualFold(fields[1], "clear")) ||
			(len(fields) == 3 && strings.EqualFold(fields[1], "remove")) {
			return cmd, rest, true
		}
	}
	return "", "", false
}

func (o *Orchestrator) runCommand(ctx context.Context, cmd, args string) (string, error) {
	switch cmd {
	case "help":
		return helpText, nil
	case "quit", "exit", "q":
		return "Goodbye!", ErrQuit
	case "history":
		if o.opts.Store == nil {
			return "Chat history is not available.", nil
		}
		n := 10
		if args != "" {
			n, _ = strconv.Atoi(args)
		}
		log, err := o.opts.Store.LoadChatLog()
		if err != nil {
			return "Failed to read chat history: " + err.Error(), nil
		}
		return formatHistory(log, n), nil
	case "progress":
		if o.opts.Progress == nil {
			return "Progress tracking is not available.", nil
		}
		p := o.opts.Progress
		return formatProgress(p.Summary(), p.Snapshot(), p.Streak(o.opts.Now())), nil
	case "status":
		return formatStatus(o.CurrentModel(), o.CurrentContextStats()), nil
	case "compact":
		report, err := o.CompactNow(ctx, "command")
		if err != nil {
			return "Compaction failed: " + err.Error(), nil
		}
		if !report.Changed {
			return "Nothing to compact.", nil
		}
		return fmt.Sprintf("Compacted %d messages. Context now %s.", report.Removed, contextBar(report.PercentUsed, 20)), nil
	case "reset", "new", "clear":
		if err := o.Reset(); err != nil {
			return "Failed to reset: " + err.Error(), nil
		}
		return "Conversation cleared. Starting fresh.\n(Chat log preserved - use 'history' to view)", nil
	case "model":
		return o.modelCommand(args), nil
	case "notes":
		return o.notesCommand(args), nil
	}
	return "", fmt.Errorf("unknown command %q", cmd)
}

// modelCommand lists the configured models or switches to one picked by
// menu number, exact id or unique substring.
func (o *Orchestrator) modelCommand(arg string) string {
	arg = strings.TrimSpace(arg)
	current := o.CurrentModel()
	if arg == "" {
		lines := []string{"Current model: " + current, "Available models:"}
		for i, m := range o.opts.Models {
			marker := " "
			if m == current {
				marker = "*"
			}
			lines = append(lines, fmt.Sprintf("  %s %d. %s", marker, i+1, m))
		}
		lines = append(lines, "Usage: model <number|id>")
		return strings.Join(lines, "\n")
	}
	target, err := pickModel(o.opts.Models, arg)
	if err != nil {
		return err.Error()
	}
	if err := o.SetModel(target); err != nil {
		return "Failed to set model: " + err.Error()
	}
	o.logger.Info("model switched", "from", current, "to", target)
	if o.opts.ConfigPath != "" {
		if err := config.WriteProviderModel(o.opts.ConfigPath, target); err != nil {
			return fmt.Sprintf("Switched to %s (not saved: %v)", target, err)
		}
	}
	return "Switched to " + target
}

func pickModel(models []string, arg string) (string, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(models) {
			return "", fmt.Errorf("no model numbered %d", n)
		}
		return models[n-1], nil
	}
	var matches []string
	for _, m := range models {
		if m == arg {
			return m, nil
		}
		if strings.Contains(strings.ToLower(m), strings.ToLower(arg)) {
			matches = append(matches, m)
		}
	}
	switch len(matches) {
	case 0:
		// Unlisted ids are allowed so any gateway model can be used.
		return arg, nil
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches several models: %s", arg, strings.Join(matches, ", "))
	}
}

func (o *Orchestrator) notesCommand(args string) string {
	if o.opts.Notes == nil {
		return "Tool notes are not available."
	}
	fields := strings.Fields(args)
	switch {
	case len(fields) == 0:
		notes := o.opts.Notes.ToolNotes()
		if len(notes) == 0 {
			return "No tool notes saved."
		}
		names := make([]string, 0, len(notes))
		for name := range notes {
			names = append(names, name)
		}
		sort.Strings(names)
		lines := []string{"Tool notes:"}
		for _, name := range names {
			lines = append(lines, fmt.Sprintf("  %s: %s", name, notes[name]))
		}
		return strings.Join(lines, "\n")
	case strings.EqualFold(fields[0], "clear"):
		n, err := o.opts.Notes.Clear()
		if err != nil {
			return "Failed to clear notes: " + err.Error()
		}
		return fmt.Sprintf("Cleared %d tool note(s).", n)
	default:
		removed, err := o.opts.Notes.RemoveToolNote(fields[1])
		if err != nil {
			return "Failed to remove note: " + err.Error()
		}
		if !removed {
			return "No note for " + fields[1] + "."
		}
		return "Removed note for " + fields[1] + "."
	}
}

const helpText = `Commands:
  help              show this help
  history [n]       show the last n exchanges (default 10)
  progress          show the learning summary
  status            model, context usage and session tokens
  compact           summarize older turns to free context
  reset | new | clear
                    start a fresh conversation (chat log is kept)
  model [n|id]      list models or switch
  notes             list tool notes; "notes remove <tool>", "notes clear"
  quit | exit | q   leave

Anything else is sent to the assistant.`
