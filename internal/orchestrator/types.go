package orchestrator

import (
	"errors"
	"log/slog"
	"time"

	"ankicli/internal/config"
	"ankicli/internal/contextmgr"
	"ankicli/internal/progress"
	"ankicli/internal/storage"
)

// TextChunkFunc 文本流式回调
// TextChunkFunc receives streamed answer text.
type TextChunkFunc = func(chunk string)

// ToolEventFunc 工具执行事件回调（用于前端 REPL/TUI）
// ToolEventFunc is the tool execution event callback (for REPL/TUI frontends).
// done=false marks the start of a call, done=true its result.
type ToolEventFunc = func(name, summary string, done bool)

// OnContextUpdate 上下文 token 使用更新回调
// OnContextUpdate is called before every model request with the current estimate.
type OnContextUpdate = func(tokens, limit int, percent float64)

// ErrRoundLimit is returned when a turn needs more model rounds than allowed.
var ErrRoundLimit = errors.New("tool round limit reached")

// ErrChatLog is returned when a turn was saved but its chat log entry was not.
var ErrChatLog = errors.New("chat log not updated")

// ErrQuit is returned by RunInput for the quit command.
var ErrQuit = errors.New("quit")

const (
	DefaultMaxRounds         = 25
	DefaultContextTokenLimit = 200000
)

const (
	ansiReset  = "\x1b[0m"
	ansiCyan   = "\x1b[36m"
	ansiYellow = "\x1b[33m"
	ansiGreen  = "\x1b[32m"
	ansiRed    = "\x1b[31m"
	ansiGray   = "\x1b[90m"
	ansiBold   = "\x1b[1m"
)

// ProgressView is the read side of the progress store used by session commands.
type ProgressView interface {
	Summary() []progress.Record
	Snapshot() progress.Summary
	Streak(now time.Time) progress.Streak
}

// NoteEditor edits tool preference notes from the notes command.
type NoteEditor interface {
	ToolNotes() map[string]string
	RemoveToolNote(tool string) (bool, error)
	Clear() (int, error)
}

type Options struct {
	// MaxRounds bounds model requests per turn (default 25).
	MaxRounds             int
	ContextTokenLimit     int
	RequireDuplicateCheck bool
	Compaction            config.CompactionConfig
	Assembler             *contextmgr.Assembler
	Estimator             contextmgr.Estimator
	Strategy              contextmgr.CompactionStrategy
	Store                 storage.Store
	Progress              ProgressView
	Notes                 NoteEditor
	// ConfigPath receives model switches; empty disables persisting them.
	ConfigPath string
	Models     []string
	Logger     *slog.Logger
	Now        func() time.Time
}

type ContextStats struct {
	EstimatedTokens int
	ContextLimit    int
	UsagePercent    float64
	MessageCount    int
	InputTokens     int
	OutputTokens    int
}
