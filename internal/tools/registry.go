package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"ankicli/internal/chat"
	"ankicli/internal/delegate"
)

// Deps are the collaborators tool handlers call. Nil optional deps hide
// the tools that need them.
type Deps struct {
	Anki      Flashcards
	Progress  Progress
	Notes     ToolNotes
	Delegates Delegator
	Logger    *slog.Logger
	// Now defaults to time.Now; used for streaks.
	Now func() time.Time
	// OnDelegateProgress receives per-item delegate progress.
	OnDelegateProgress func(op Op, p delegate.Progress)
}

// Registry validates and dispatches catalog operations.
type Registry struct {
	deps      Deps
	validator *validator
	compactor Compactor
	logger    *slog.Logger
}

func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Anki == nil {
		return nil, fmt.Errorf("tools: flashcard store is required")
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Registry{deps: deps, validator: v, logger: logger}, nil
}

// SetCompactor wires compact_conversation to the running session.
func (r *Registry) SetCompactor(c Compactor) {
	r.compactor = c
}

func (r *Registry) available(op Op) bool {
	switch op {
	case OpGetLearningSummary, OpUpdateLearningSummary:
		return r.deps.Progress != nil
	case OpSetToolNote, OpGetToolNotes, OpRemoveToolNote:
		return r.deps.Notes != nil
	case OpCompactConversation:
		return r.compactor != nil
	case OpCardSubsetDelegate, OpAllCardsDelegate, OpBatchDelegate:
		return r.deps.Delegates != nil
	}
	return true
}

// Definitions returns the definitions of every available op, in catalog order.
func (r *Registry) Definitions() []chat.ToolDef {
	out := make([]chat.ToolDef, 0, opCount)
	for _, op := range Ops() {
		if r.available(op) {
			out = append(out, op.Definition())
		}
	}
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, opCount)
	for _, op := range Ops() {
		if r.available(op) {
			names = append(names, op.String())
		}
	}
	return names
}

func (r *Registry) Has(name string) bool {
	op, ok := ParseOp(name)
	return ok && r.available(op)
}

// Execute validates args and runs the named op. The returned string is
// always a Tool Result envelope; err is non-nil when the envelope reports a
// failure.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	op, ok := ParseOp(name)
	if !ok || !r.available(op) {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, name)
		return errorResult(err), err
	}
	args = normalizeArgs(args)
	if err := r.validator.validate(op, args); err != nil {
		r.logger.Debug("tool arguments rejected", "tool", name, "error", err)
		return errorResult(err), err
	}
	start := time.Now()
	payload, err := r.dispatch(ctx, op, args)
	if err != nil {
		r.logger.Info("tool failed", "tool", name, "error", err, "elapsed", time.Since(start))
		return errorResult(err), err
	}
	r.logger.Debug("tool done", "tool", name, "elapsed", time.Since(start))
	return okResult(payload), nil
}

func (r *Registry) dispatch(ctx context.Context, op Op, args json.RawMessage) (map[string]any, error) {
	switch op {
	case OpListDecks:
		return r.listDecks(ctx)
	case OpCreateDeck:
		return r.createDeck(ctx, args)
	case OpGetDeckStats:
		return r.deckStats(ctx, args)
	case OpGetDeckSummary:
		return r.deckSummary(ctx, args)
	case OpGetDeckCards:
		return r.deckCards(ctx, args)
	case OpListDeckFronts:
		return r.deckFronts(ctx, args)
	case OpGetCollectionStats:
		return r.collectionStats(ctx)
	case OpListNoteTypes:
		return r.noteTypes(ctx)
	case OpAddCard:
		return r.addCard(ctx, args)
	case OpAddMultipleCards:
		return r.addMultipleCards(ctx, args)
	case OpGetNote:
		return r.getNote(ctx, args)
	case OpUpdateCard:
		return r.updateCard(ctx, args)
	case OpUpdateMultipleCards:
		return r.updateMultipleCards(ctx, args)
	case OpDeleteCards:
		return r.deleteCards(ctx, args)
	case OpSearchCards:
		return r.searchCards(ctx, args)
	case OpCheckWordExists:
		return r.checkWords(ctx, op, args)
	case OpCheckWordsExist:
		return r.checkWords(ctx, op, args)
	case OpFindCardByWord:
		return r.checkWords(ctx, op, args)
	case OpFindCardsByWords:
		return r.checkWords(ctx, op, args)
	case OpAddTagsToCards:
		return r.changeTags(ctx, op, args)
	case OpRemoveTagsFromCards:
		return r.changeTags(ctx, op, args)
	case OpMoveCardsToDeck:
		return r.moveCards(ctx, args)
	case OpSyncAnki:
		return r.sync(ctx)
	case OpGetLearningSummary:
		return r.learningSummary()
	case OpUpdateLearningSummary:
		return r.updateLearningSummary(args)
	case OpSetToolNote:
		return r.setToolNote(args)
	case OpGetToolNotes:
		return r.getToolNotes()
	case OpRemoveToolNote:
		return r.removeToolNote(args)
	case OpCompactConversation:
		return r.compact(ctx, args)
	case OpCardSubsetDelegate:
		return r.cardSubsetDelegate(ctx, args)
	case OpAllCardsDelegate:
		return r.allCardsDelegate(ctx, args)
	case OpBatchDelegate:
		return r.batchDelegate(ctx, args)
	case opCount:
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, op)
}

// decode unmarshals validated args into v.
func decode(op Op, args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return invalid(op, "decode arguments: %v", err)
	}
	return nil
}
