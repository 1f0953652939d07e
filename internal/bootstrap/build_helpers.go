package bootstrap

import (
	"context"
	"log/slog"

	"ankicli/internal/config"
	"ankicli/internal/contextmgr"
	"ankicli/internal/defaults"
	"ankicli/internal/delegate"
	"ankicli/internal/progress"
	"ankicli/internal/provider"
	"ankicli/internal/tools"
)

// digestItems bounds the words listed per topic in the prompt digest.
const digestItems = 12

// summaryMaxTokens is the budget given to the model for a compaction summary.
const summaryMaxTokens = 800

func buildAssembler(cfg config.Config, progressStore *progress.Store, notes *config.NoteStore) *contextmgr.Assembler {
	assembler := contextmgr.New(defaults.DefaultSystemPrompt, cfg.Instructions)
	assembler.Progress = func() string { return progressStore.Digest(digestItems) }
	assembler.ToolNotes = notes.ToolNotes
	return assembler
}

func buildEstimator(cfg config.Config) contextmgr.Estimator {
	return contextmgr.NewEstimator(cfg.Compaction.Estimator, cfg.Provider.Model)
}

// buildStrategy summarizes with the model and falls back to the offline
// digest when the model call fails.
func buildStrategy(p provider.Provider) contextmgr.CompactionStrategy {
	llm := contextmgr.NewLLMCompaction(func(ctx context.Context, system, user string) (string, error) {
		text, _, err := p.Complete(ctx, "", system, user)
		return text, err
	}, summaryMaxTokens)
	return contextmgr.NewFallbackCompaction(llm, &contextmgr.RegexCompaction{})
}

func delegateProgressLogger(logger *slog.Logger) func(tools.Op, delegate.Progress) {
	return func(op tools.Op, p delegate.Progress) {
		logger.Debug("delegate progress", "tool", op.String(), "completed", p.Completed, "total", p.Total, "item", p.Current, "ok", p.OK)
	}
}
