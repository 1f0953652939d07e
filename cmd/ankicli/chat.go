package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"ankicli/internal/delegate"
	"ankicli/internal/orchestrator"
	"ankicli/internal/tools"
	"ankicli/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const historyFile = "repl.history"

func (c *cli) chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant to manage your cards (default)",
		Long: `Start an interactive session with the assistant.

The previous conversation is restored automatically. Type 'help' for the
session commands, 'new' to start fresh and 'exit' to quit. Ctrl-C cancels
the running request without saving it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runChat(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&c.useTUI, "tui", false, "use the full-screen interface")
	return cmd
}

func (c *cli) runChat(ctx context.Context) error {
	res, version, err := c.connect(ctx)
	if err != nil {
		return err
	}
	restored, age, err := res.Orch.Restore()
	if err != nil {
		c.logger.Warn("restore conversation failed, starting fresh", "error", err)
	}

	if c.useTUI {
		if !isTerminal(c.stdin) {
			return errors.New("--tui needs an interactive terminal")
		}
		return tui.Run(res.Orch, fmt.Sprintf("connected (v%d)", version), func(send func(tea.Msg)) {
			res.SetDelegateProgress(func(_ tools.Op, p delegate.Progress) {
				send(tui.DelegateProgressMsg{Completed: p.Completed, Total: p.Total, Current: p.Current, OK: p.OK})
			})
		})
	}

	printBanner(c.stdout, res.Orch.CurrentModel())
	if restored {
		fmt.Fprintf(c.stdout, "Restored previous conversation (from %s)\n", orchestrator.FormatAge(age))
		_, _ = res.Orch.RunInput(ctx, "status", c.stdout)
		fmt.Fprintln(c.stdout, "Type 'new' to start fresh")
		fmt.Fprintln(c.stdout)
	}
	res.SetDelegateProgress(delegateLine(c.stdout))

	input, inputErr := newLineInput(c.stdin, c.stdout, filepath.Join(c.cfg.Storage.BaseDir, historyFile))
	if inputErr != nil {
		c.logger.Debug("line editor unavailable, using basic input", "error", inputErr)
	}
	defer input.Close()
	return repl(ctx, res.Orch, input, c.stdout, c.stderr)
}

type turnRunner interface {
	RunInput(ctx context.Context, input string, out io.Writer) (string, error)
}

// repl reads lines until exit or EOF. Each turn gets its own interrupt
// context so Ctrl-C cancels the request in flight, not the session.
func repl(ctx context.Context, r turnRunner, in lineInput, out, errOut io.Writer) error {
	for {
		line, err := in.ReadLine("You: ")
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				fmt.Fprintln(out, "Use 'exit' to quit")
				continue
			case errors.Is(err, io.EOF):
				fmt.Fprintln(out, "Goodbye!")
				return nil
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		_, err = r.RunInput(turnCtx, text, out)
		stop()
		switch {
		case errors.Is(err, orchestrator.ErrQuit):
			return nil
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(out, "\nCancelled. The unfinished step was not saved.")
		case errors.Is(err, orchestrator.ErrRoundLimit):
			// The stop message has been rendered and kept.
		case errors.Is(err, orchestrator.ErrChatLog):
			fmt.Fprintf(errOut, "Warning: %v\n", err)
		case err != nil:
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
		fmt.Fprintln(out)
	}
}

func delegateLine(out io.Writer) func(tools.Op, delegate.Progress) {
	return func(op tools.Op, p delegate.Progress) {
		mark := "ok"
		if !p.OK {
			mark = "failed: " + p.Err
		}
		fmt.Fprintf(out, "  %s %d/%d %s %s\n", op, p.Completed, p.Total, p.Current, mark)
	}
}

func printBanner(out io.Writer, model string) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Anki Assistant")
	fmt.Fprintf(out, "Model: %s\n\n", model)
	fmt.Fprintln(out, "Commands:")
	for _, line := range []string{
		"history  - Show recent chat history",
		"progress - Show learning progress summary",
		"status   - Show context usage",
		"model    - Show or change the model",
		"notes    - Show saved preferences",
		"compact  - Summarize history to free context",
		"clear    - Reset conversation",
		"new      - Start fresh (discard history)",
		"exit     - Quit",
	} {
		fmt.Fprintf(out, "  %s\n", line)
	}
	fmt.Fprintln(out)
}
