package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"ankicli/internal/bootstrap"
	"ankicli/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version is set at build time.
var Version = "0.1.0"

// cli carries global flags and the lazily built session for one invocation.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	verbose    bool
	useTUI     bool

	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	res      *bootstrap.BuildResult
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer) *cli {
	return &cli{stdin: stdin, stdout: stdout, stderr: stderr}
}

func (c *cli) execute(args []string) error {
	root := c.rootCmd()
	root.SetArgs(args)
	defer c.close()
	return root.ExecuteContext(context.Background())
}

func (c *cli) rootCmd() *cobra.Command {
	chat := c.chatCmd()
	root := &cobra.Command{
		Use:   "ankicli",
		Short: "Manage your Anki decks from the terminal",
		Long: `ankicli manages Anki flashcards through AnkiConnect.

Run it without a subcommand to chat with the assistant: ask it to add,
find, edit or reorganize cards in plain language. The subcommands give
direct access to the same collection.

Requires Anki desktop running with the AnkiConnect add-on.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
		RunE: chat.RunE,
	}
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config JSON/JSONC")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "verbose logging on stderr")
	root.Flags().AddFlagSet(chat.Flags())

	root.AddCommand(
		chat,
		c.statusCmd(),
		c.decksCmd(),
		c.cardsCmd(),
		c.addCmd(),
		c.bulkAddCmd(),
		c.searchCmd(),
		c.noteTypesCmd(),
		c.createDeckCmd(),
		c.syncCmd(),
		c.progressCmd(),
		c.historyCmd(),
		c.modelCmd(),
		c.initCmd(),
	)
	return root
}

// load reads the config and sets up logging. The session is built on demand.
func (c *cli) load() error {
	if c.logger != nil {
		return nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	c.logger, c.closeLog = config.SetupLogger(cfg, c.verbose)
	slog.SetDefault(c.logger)
	return nil
}

func (c *cli) session() (*bootstrap.BuildResult, error) {
	if c.res != nil {
		return c.res, nil
	}
	res, err := bootstrap.Build(c.cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.res = res
	return res, nil
}

func (c *cli) close() {
	if c.res != nil {
		if err := c.res.Close(); err != nil && c.logger != nil {
			c.logger.Warn("close store failed", "error", err)
		}
	}
	if c.closeLog != nil {
		_ = c.closeLog()
	}
}

// errNotConnected is printed as the command's failure when Anki is down.
var errNotConnected = errors.New("cannot connect to Anki. Make sure Anki is running with AnkiConnect installed")

// connect builds the session and pings Anki.
func (c *cli) connect(ctx context.Context) (*bootstrap.BuildResult, int, error) {
	res, err := c.session()
	if err != nil {
		return nil, 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	version, err := res.Anki.Ping(ctx)
	if err != nil {
		c.logger.Debug("anki ping failed", "url", res.Anki.URL(), "error", err)
		return res, 0, errNotConnected
	}
	return res, version, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
