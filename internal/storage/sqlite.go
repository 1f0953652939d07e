package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ankicli/internal/chat"

	_ "modernc.org/sqlite"
)

// SQLiteFile is the database name under the storage base dir.
const SQLiteFile = "ankicli.db"

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode.
type SQLiteStore struct {
	db         *sql.DB
	path       string
	chatLogMax int
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database.
func NewSQLiteStore(dbPath string, chatLogMax int) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// journal_mode is stored in the database file; the rest are set per
	// connection through the DSN.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("exec journal_mode: %w", err)
	}

	store := &SQLiteStore{db: db, path: dbPath, chatLogMax: chatLogMax}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

// connPragmas run on every connection the pool opens. ClearConversation
// depends on foreign_keys for the messages cascade.
var connPragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"synchronous(NORMAL)",
}

func sqliteDSN(path string) string {
	q := make([]string, 0, len(connPragmas))
	for _, p := range connPragmas {
		q = append(q, "_pragma="+p)
	}
	return path + "?" + strings.Join(q, "&")
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id             TEXT PRIMARY KEY,
		model          TEXT NOT NULL DEFAULT '',
		token_estimate INTEGER NOT NULL DEFAULT 0,
		input_tokens   INTEGER NOT NULL DEFAULT 0,
		output_tokens  INTEGER NOT NULL DEFAULT 0,
		last_summary   TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL,
		saved_at       TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL DEFAULT '',
		name            TEXT NOT NULL DEFAULT '',
		tool_call_id    TEXT NOT NULL DEFAULT '',
		tool_calls      TEXT NOT NULL DEFAULT '[]',
		reasoning       TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL DEFAULT '',
		UNIQUE(conversation_id, seq)
	);

	CREATE TABLE IF NOT EXISTS chat_log (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		user      TEXT NOT NULL DEFAULT '',
		assistant TEXT NOT NULL DEFAULT '',
		tools     TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Conversation Operations ---

// LoadConversation returns the most recently saved conversation.
func (s *SQLiteStore) LoadConversation() (Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, model, token_estimate, input_tokens, output_tokens, last_summary, created_at, saved_at
		FROM conversations ORDER BY saved_at DESC LIMIT 1`)
	var conv Conversation
	err := row.Scan(&conv.ID, &conv.Model, &conv.TokenEstimate, &conv.InputTokens,
		&conv.OutputTokens, &conv.LastSummary, &conv.CreatedAt, &conv.SavedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNoConversation
		}
		return Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	msgs, err := s.loadMessages(conv.ID)
	if err != nil {
		return Conversation{}, err
	}
	conv.Messages = msgs
	return conv, nil
}

// SaveConversation replaces the stored conversation and its messages in one transaction.
func (s *SQLiteStore) SaveConversation(conv Conversation) error {
	if strings.TrimSpace(conv.ID) == "" {
		return fmt.Errorf("conversation id is empty")
	}
	if strings.TrimSpace(conv.SavedAt) == "" {
		conv.SavedAt = nowUTC()
	}
	if strings.TrimSpace(conv.CreatedAt) == "" {
		conv.CreatedAt = conv.SavedAt
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// 仅保留当前对话 / Only the active conversation is kept
	if _, err := tx.Exec("DELETE FROM conversations WHERE id<>?", conv.ID); err != nil {
		return fmt.Errorf("delete stale conversations: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO conversations (id, model, token_estimate, input_tokens, output_tokens, last_summary, created_at, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET model=excluded.model, token_estimate=excluded.token_estimate,
			input_tokens=excluded.input_tokens, output_tokens=excluded.output_tokens,
			last_summary=excluded.last_summary, saved_at=excluded.saved_at`,
		conv.ID, conv.Model, conv.TokenEstimate, conv.InputTokens, conv.OutputTokens,
		conv.LastSummary, conv.CreatedAt, conv.SavedAt); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id=?", conv.ID); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (conversation_id, seq, role, content, name, tool_call_id, tool_calls, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range conv.Messages {
		toolCallsJSON := "[]"
		if len(msg.ToolCalls) > 0 {
			data, marshalErr := json.Marshal(msg.ToolCalls)
			if marshalErr != nil {
				return fmt.Errorf("marshal tool calls %d: %w", i, marshalErr)
			}
			toolCallsJSON = string(data)
		}
		if _, err := stmt.Exec(conv.ID, i, msg.Role, msg.Content, msg.Name,
			msg.ToolCallID, toolCallsJSON, msg.Reasoning, msg.CreatedAt); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) loadMessages(conversationID string) ([]chat.Message, error) {
	rows, err := s.db.Query(`
		SELECT role, content, name, tool_call_id, tool_calls, reasoning, created_at
		FROM messages WHERE conversation_id=? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		var toolCallsJSON string
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Name,
			&msg.ToolCallID, &toolCallsJSON, &msg.Reasoning, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCallsJSON != "" && toolCallsJSON != "[]" {
			var calls []chat.ToolCall
			if err := json.Unmarshal([]byte(toolCallsJSON), &calls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
			msg.ToolCalls = calls
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) ClearConversation() error {
	if _, err := s.db.Exec("DELETE FROM conversations"); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

// --- Chat Log ---

func (s *SQLiteStore) AppendExchange(ex Exchange) error {
	if strings.TrimSpace(ex.Timestamp) == "" {
		ex.Timestamp = nowUTC()
	}
	tools := "[]"
	if len(ex.Tools) > 0 {
		data, err := json.Marshal(ex.Tools)
		if err != nil {
			return fmt.Errorf("marshal tools: %w", err)
		}
		tools = string(data)
	}
	limit := s.chatLogMax
	if limit <= 0 {
		limit = DefaultChatLogMax
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT INTO chat_log (timestamp, user, assistant, tools) VALUES (?, ?, ?, ?)`,
		ex.Timestamp, ex.User, ex.Assistant, tools); err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chat_log WHERE id NOT IN (SELECT id FROM chat_log ORDER BY id DESC LIMIT ?)`, limit); err != nil {
		return fmt.Errorf("trim chat log: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadChatLog() ([]Exchange, error) {
	rows, err := s.db.Query(`SELECT timestamp, user, assistant, tools FROM chat_log ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query chat log: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		var tools string
		if err := rows.Scan(&ex.Timestamp, &ex.User, &ex.Assistant, &tools); err != nil {
			continue
		}
		if tools != "" && tools != "[]" {
			_ = json.Unmarshal([]byte(tools), &ex.Tools)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}
