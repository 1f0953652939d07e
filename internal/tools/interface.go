package tools

import (
	"context"
	"time"

	"ankicli/internal/anki"
	"ankicli/internal/delegate"
	"ankicli/internal/progress"
)

// Flashcards is the flashcard store the catalog operates on.
type Flashcards interface {
	Decks(ctx context.Context) ([]anki.Deck, error)
	CreateDeck(ctx context.Context, name string) (int64, error)
	DeckStats(ctx context.Context, name string) (anki.Deck, error)
	DeckSummary(ctx context.Context, name string, limit int) (anki.DeckSummary, error)
	DeckCards(ctx context.Context, name string, limit int) ([]anki.Note, error)
	DeckFronts(ctx context.Context, name string, limit int) ([]string, error)
	CollectionStats(ctx context.Context) (anki.CollectionStats, error)
	NoteTypes(ctx context.Context) ([]anki.NoteType, error)

	AddNote(ctx context.Context, deck, noteType string, spec anki.CardSpec) (anki.ItemOutcome, error)
	AddNotes(ctx context.Context, deck, noteType string, specs []anki.CardSpec) (anki.BulkResult, error)
	GetNote(ctx context.Context, id int64) (anki.Note, error)
	UpdateNote(ctx context.Context, u anki.NoteUpdate) (anki.ItemOutcome, error)
	UpdateNotes(ctx context.Context, updates []anki.NoteUpdate) (anki.BulkResult, error)
	DeleteNotes(ctx context.Context, ids []int64) (int, error)
	AddTags(ctx context.Context, ids []int64, tags []string) error
	RemoveTags(ctx context.Context, ids []int64, tags []string) error
	MoveNotes(ctx context.Context, noteIDs []int64, deck string) (int, error)
	Sync(ctx context.Context) error

	Search(ctx context.Context, query string, limit int) ([]anki.Note, error)
	CheckExists(ctx context.Context, terms []string, deck string) ([]anki.TermMatch, error)
	FindByWordTag(ctx context.Context, terms []string, deck string) ([]anki.TermMatch, error)
}

// Progress is the learning summary store.
type Progress interface {
	// Apply merges delta, counts added words and replaces the overall notes
	// with one save.
	Apply(topic string, delta progress.Delta, added []string, notes string) (progress.Record, error)
	Get(topic string) progress.Record
	Summary() []progress.Record
	Snapshot() progress.Summary
	Streak(now time.Time) progress.Streak
}

// ToolNotes holds the user's per-tool preferences.
type ToolNotes interface {
	ToolNotes() map[string]string
	SetToolNote(tool, note string) error
	RemoveToolNote(tool string) (bool, error)
}

// CompactReport is what compact_conversation tells the model.
type CompactReport struct {
	Changed     bool    `json:"changed"`
	Removed     int     `json:"messages_summarized"`
	Tokens      int     `json:"tokens"`
	PercentUsed float64 `json:"percent_used"`
}

// Compactor compacts the conversation of the round in progress.
type Compactor interface {
	CompactNow(ctx context.Context, reason string) (CompactReport, error)
}

// Delegator runs sub-agents over cards or items.
type Delegator interface {
	ProcessCards(ctx context.Context, cards []anki.Note, prompt string, workers int, onProgress func(delegate.Progress)) []delegate.CardResult
	ProcessBatch(ctx context.Context, items []string, kind, override string, workers int, onProgress func(delegate.Progress)) ([]delegate.BatchResult, error)
}

var (
	_ Flashcards = (*anki.Client)(nil)
	_ Progress   = (*progress.Store)(nil)
	_ Delegator  = (*delegate.Processor)(nil)
)
