package main

import (
	"fmt"
	"strconv"
	"strings"

	"ankicli/internal/config"

	"github.com/spf13/cobra"
)

// sessionCommand runs a chat session command (progress, history, model)
// without starting the interactive loop. None of them contacts Anki.
func (c *cli) sessionCommand(cmd *cobra.Command, line string) error {
	res, err := c.session()
	if err != nil {
		return err
	}
	_, err = res.Orch.RunInput(cmd.Context(), line, c.stdout)
	return err
}

func (c *cli) progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show the learning progress summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.sessionCommand(cmd, "progress")
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent exchanges from the chat log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				return fmt.Errorf("-n must be positive")
			}
			return c.sessionCommand(cmd, "history "+strconv.Itoa(n))
		},
	}
	cmd.Flags().IntVarP(&n, "number", "n", 10, "number of exchanges to show")
	return cmd
}

func (c *cli) modelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model [id]",
		Short: "Show or change the language model",
		Long: `Without arguments, shows the current model and the configured options.
With an argument (menu number, model id or a unique part of one), switches
to that model and saves it to the config file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.sessionCommand(cmd, strings.TrimSpace("model "+strings.Join(args, "")))
		},
	}
}

func (c *cli) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.cfg.FilePath()
			if strings.TrimSpace(c.configPath) != "" {
				path = c.configPath
			}
			created, err := config.InitConfigScaffold(path)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(c.stdout, "Wrote default config to %s\n", path)
			} else {
				fmt.Fprintf(c.stdout, "Config already exists at %s\n", path)
			}
			return nil
		},
	}
}
