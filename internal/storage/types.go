package storage

import (
	"strings"
	"time"

	"ankicli/internal/chat"

	"github.com/google/uuid"
)

// Conversation 持久化的对话状态
// Conversation is the persisted session state.
type Conversation struct {
	ID            string         `json:"id"`
	CreatedAt     string         `json:"created_at"`
	SavedAt       string         `json:"saved_at"`
	Model         string         `json:"model,omitempty"`
	Messages      []chat.Message `json:"messages"`
	TokenEstimate int            `json:"token_estimate"`
	InputTokens   int            `json:"input_tokens"`
	OutputTokens  int            `json:"output_tokens"`
	LastSummary   string         `json:"last_summary,omitempty"`
}

// NewConversation returns an empty conversation with a fresh id.
func NewConversation(model string) Conversation {
	now := nowUTC()
	return Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		SavedAt:   now,
		Model:     strings.TrimSpace(model),
	}
}

// Age returns how long ago the conversation was last saved.
func (c Conversation) Age(now time.Time) time.Duration {
	t, err := time.Parse(time.RFC3339, c.SavedAt)
	if err != nil {
		return 0
	}
	return now.Sub(t)
}

// ToolUse is one tool invocation summarized for the chat log.
type ToolUse struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// Exchange 聊天日志中的一问一答
// Exchange is one user/assistant exchange in the readable chat log.
type Exchange struct {
	Timestamp string    `json:"timestamp"`
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Tools     []ToolUse `json:"tools,omitempty"`
}

// DefaultChatLogMax bounds the chat log length.
const DefaultChatLogMax = 100

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func trimExchanges(log []Exchange, limit int) []Exchange {
	if limit <= 0 {
		limit = DefaultChatLogMax
	}
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	return log
}
