package bootstrap

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"ankicli/internal/anki"
	"ankicli/internal/config"
	"ankicli/internal/delegate"
	"ankicli/internal/orchestrator"
	"ankicli/internal/progress"
	"ankicli/internal/provider"
	"ankicli/internal/storage"
	"ankicli/internal/tools"
)

// BuildResult 与 UI 无关的构建结果，供 main 构造 REPL / TUI
// BuildResult is UI-agnostic; main uses it to construct the REPL or TUI.
type BuildResult struct {
	Orch      *orchestrator.Orchestrator
	Store     storage.Store
	Anki      *anki.Client
	Progress  *progress.Store
	Notes     *config.NoteStore
	Provider  provider.Provider
	Delegates *delegate.Processor
	Model     string
	ToolNames []string

	onDelegate func(tools.Op, delegate.Progress)
}

// SetDelegateProgress forwards per-item delegate progress to fn, e.g. a
// REPL status line. Must be called before the first turn.
func (r *BuildResult) SetDelegateProgress(fn func(tools.Op, delegate.Progress)) {
	r.onDelegate = fn
}

// Close releases the persistent store.
func (r *BuildResult) Close() error {
	if r == nil || r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

// Build 按依赖顺序初始化并返回 BuildResult；调用方负责 defer result.Close()
// Build wires every component from cfg. Nothing here talks to Anki or the
// model; callers ping Anki themselves. The caller must defer result.Close().
func Build(cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.BaseDir, cfg.Storage.ChatLogMax)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	ankiClient := anki.NewClient(anki.Options{
		URL:     cfg.Anki.URL,
		Timeout: time.Duration(cfg.Anki.TimeoutMS) * time.Millisecond,
		Logger:  logger.With("component", "anki"),
	})

	providerClient := provider.NewOpenAIProvider(provider.OpenAIConfig{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Model:      cfg.Provider.Model,
		TimeoutMS:  cfg.Provider.TimeoutMS,
		MaxRetries: cfg.Provider.MaxRetries,
	}, logger.With("component", "provider"))

	progressStore := progress.OpenDir(cfg.Storage.BaseDir, progress.WithLogger(logger))
	notes := config.NewNoteStore(cfg.FilePath(), cfg.ToolNotes)
	delegates := delegate.New(providerClient, delegate.Options{
		Model:      cfg.Delegate.Model,
		MaxWorkers: cfg.Delegate.MaxWorkers,
		RateLimit:  time.Duration(cfg.Delegate.RateLimitMS) * time.Millisecond,
		Logger:     logger.With("component", "delegate"),
	})

	result := &BuildResult{}
	logDelegate := delegateProgressLogger(logger)
	registry, err := tools.NewRegistry(tools.Deps{
		Anki:      ankiClient,
		Progress:  progressStore,
		Notes:     notes,
		Delegates: delegates,
		Logger:    logger.With("component", "tools"),
		OnDelegateProgress: func(op tools.Op, p delegate.Progress) {
			logDelegate(op, p)
			if result.onDelegate != nil {
				result.onDelegate(op, p)
			}
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init tools: %w", err)
	}

	orch := orchestrator.New(providerClient, registry, orchestrator.Options{
		MaxRounds:             cfg.Runtime.MaxRounds,
		ContextTokenLimit:     cfg.Runtime.ContextTokenLimit,
		RequireDuplicateCheck: cfg.Runtime.RequireDuplicateCheck,
		Compaction:            cfg.Compaction,
		Assembler:             buildAssembler(cfg, progressStore, notes),
		Estimator:             buildEstimator(cfg),
		Strategy:              buildStrategy(providerClient),
		Store:                 store,
		Progress:              progressStore,
		Notes:                 notes,
		ConfigPath:            cfg.FilePath(),
		Models:                cfg.Provider.Models,
		Logger:                logger.With("component", "orchestrator"),
	})

	result.Orch = orch
	result.Store = store
	result.Anki = ankiClient
	result.Progress = progressStore
	result.Notes = notes
	result.Provider = providerClient
	result.Delegates = delegates
	result.Model = cfg.Provider.Model
	result.ToolNames = registry.Names()
	return result, nil
}
