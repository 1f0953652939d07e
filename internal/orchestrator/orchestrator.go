package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"ankicli/internal/chat"
	"ankicli/internal/contextmgr"
	"ankicli/internal/provider"
	"ankicli/internal/storage"
	"ankicli/internal/tools"
)

// Orchestrator 驱动一个会话的工具调用循环
// Orchestrator runs the tool-call loop for one conversation session. It is
// not safe for concurrent use.
type Orchestrator struct {
	provider  provider.Provider
	registry  *tools.Registry
	opts      Options
	estimator contextmgr.Estimator
	logger    *slog.Logger

	// conv is the committed state; working is the in-flight copy of its
	// turns during RunTurn and nil otherwise.
	conv           storage.Conversation
	working        []chat.Message
	workingSummary string
	// checked holds the words covered by duplicate checks this session.
	checked map[string]struct{}

	onTextChunk     TextChunkFunc
	onToolEvent     ToolEventFunc
	onContextUpdate OnContextUpdate
}

func New(providerClient provider.Provider, registry *tools.Registry, opts Options) *Orchestrator {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.ContextTokenLimit <= 0 {
		opts.ContextTokenLimit = DefaultContextTokenLimit
	}
	if opts.Compaction.Threshold <= 0 || opts.Compaction.Threshold >= 1 {
		opts.Compaction.Threshold = 0.8
	}
	if opts.Compaction.RecentMessages <= 0 {
		opts.Compaction.RecentMessages = 12
	}
	if opts.Assembler == nil {
		opts.Assembler = contextmgr.New("", "")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	estimator := opts.Estimator
	if estimator == nil {
		estimator = contextmgr.HeuristicEstimator{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	o := &Orchestrator{
		provider:  providerClient,
		registry:  registry,
		opts:      opts,
		estimator: estimator,
		logger:    logger,
		checked:   map[string]struct{}{},
	}
	o.conv = storage.NewConversation(o.CurrentModel())
	if registry != nil {
		registry.SetCompactor(o)
	}
	return o
}

// Restore loads the saved conversation, if any. It reports whether one was
// found and how long ago it was saved.
func (o *Orchestrator) Restore() (bool, time.Duration, error) {
	if o.opts.Store == nil {
		return false, 0, nil
	}
	conv, err := o.opts.Store.LoadConversation()
	if errors.Is(err, storage.ErrNoConversation) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("load conversation: %w", err)
	}
	if len(conv.Messages) == 0 {
		return false, 0, nil
	}
	o.conv = conv
	return true, conv.Age(o.opts.Now()), nil
}

// Reset starts a fresh conversation and deletes the saved one. The chat log
// and the progress store are kept.
func (o *Orchestrator) Reset() error {
	if o.opts.Store != nil {
		if err := o.opts.Store.ClearConversation(); err != nil {
			return fmt.Errorf("clear conversation: %w", err)
		}
	}
	o.conv = storage.NewConversation(o.CurrentModel())
	o.working = nil
	o.workingSummary = ""
	o.checked = map[string]struct{}{}
	return nil
}

// Messages returns a copy of the committed turns.
func (o *Orchestrator) Messages() []chat.Message {
	return chat.CloneMessages(o.conv.Messages)
}

// Conversation returns a copy of the committed session state.
func (o *Orchestrator) Conversation() storage.Conversation {
	c := o.conv
	c.Messages = chat.CloneMessages(c.Messages)
	return c
}

func (o *Orchestrator) LastCompactionSummary() string {
	return o.conv.LastSummary
}

func (o *Orchestrator) CurrentModel() string {
	if o.provider == nil {
		return ""
	}
	return o.provider.CurrentModel()
}

func (o *Orchestrator) SetModel(model string) error {
	if o.provider == nil {
		return fmt.Errorf("provider unavailable")
	}
	return o.provider.SetModel(strings.TrimSpace(model))
}

func (o *Orchestrator) SetTextStreamCallback(fn TextChunkFunc) {
	o.onTextChunk = fn
}

func (o *Orchestrator) SetToolEventCallback(fn ToolEventFunc) {
	o.onToolEvent = fn
}

func (o *Orchestrator) SetContextUpdateCallback(fn OnContextUpdate) {
	o.onContextUpdate = fn
}

// turns returns the working copy during a turn, else the committed turns.
func (o *Orchestrator) turns() []chat.Message {
	if o.working != nil {
		return o.working
	}
	return o.conv.Messages
}

func (o *Orchestrator) buildProviderMessages() []chat.Message {
	return o.opts.Assembler.Build(o.turns())
}

func (o *Orchestrator) CurrentContextStats() ContextStats {
	messages := o.buildProviderMessages()
	estimated := o.estimator.Count(messages)
	limit := o.opts.ContextTokenLimit
	return ContextStats{
		EstimatedTokens: estimated,
		ContextLimit:    limit,
		UsagePercent:    float64(estimated) / float64(limit) * 100,
		MessageCount:    len(o.turns()),
		InputTokens:     o.conv.InputTokens,
		OutputTokens:    o.conv.OutputTokens,
	}
}

func (o *Orchestrator) emitContextUpdate() {
	if o.onContextUpdate == nil {
		return
	}
	stats := o.CurrentContextStats()
	o.onContextUpdate(stats.EstimatedTokens, stats.ContextLimit, stats.UsagePercent)
}

// CompactNow 立即压缩历史（compact 命令与 compact_conversation 工具）
// CompactNow compacts the history right away. Inside a turn it compacts the
// working copy, which is committed with the round; otherwise it compacts and
// persists the committed turns.
func (o *Orchestrator) CompactNow(ctx context.Context, reason string) (tools.CompactReport, error) {
	res := contextmgr.Compact(ctx, o.turns(), o.opts.Compaction.RecentMessages, o.opts.Compaction.Prune, o.opts.Strategy)
	if res.Changed {
		o.logger.Info("conversation compacted", "reason", reason, "removed", res.Removed, "kept", len(res.Messages)-1)
		if o.working != nil {
			o.working = res.Messages
			o.workingSummary = res.Summary
		} else {
			next := o.conv
			next.Messages = res.Messages
			next.LastSummary = res.Summary
			if err := o.save(next); err != nil {
				return tools.CompactReport{}, err
			}
		}
	}
	stats := o.CurrentContextStats()
	return tools.CompactReport{
		Changed:     res.Changed,
		Removed:     res.Removed,
		Tokens:      stats.EstimatedTokens,
		PercentUsed: stats.UsagePercent,
	}, nil
}

// maybeCompact compacts the working copy once the request estimate passes
// threshold × context limit.
func (o *Orchestrator) maybeCompact(ctx context.Context) {
	if !o.opts.Compaction.Auto {
		return
	}
	estimated := o.estimator.Count(o.buildProviderMessages())
	threshold := int(float64(o.opts.ContextTokenLimit) * o.opts.Compaction.Threshold)
	if estimated <= threshold {
		return
	}
	res := contextmgr.Compact(ctx, o.working, o.opts.Compaction.RecentMessages, o.opts.Compaction.Prune, o.opts.Strategy)
	if !res.Changed {
		return
	}
	o.logger.Info("auto compaction", "estimated", estimated, "threshold", threshold, "removed", res.Removed)
	o.working = res.Messages
	o.workingSummary = res.Summary
}

// save persists next and makes it the committed state. On failure the
// previous committed state is kept.
func (o *Orchestrator) save(next storage.Conversation) error {
	next.SavedAt = o.opts.Now().UTC().Format(time.RFC3339)
	next.Model = o.CurrentModel()
	next.TokenEstimate = o.estimator.Count(o.opts.Assembler.Build(next.Messages))
	if o.opts.Store != nil {
		if err := o.opts.Store.SaveConversation(next); err != nil {
			return fmt.Errorf("save conversation: %w", err)
		}
	}
	o.conv = next
	return nil
}
