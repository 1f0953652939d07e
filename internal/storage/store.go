package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNoConversation is returned by LoadConversation when nothing has been saved.
var ErrNoConversation = errors.New("no saved conversation")

// Store 持久化接口，支持多后端 (JSON 文件 / SQLite)
// Store is the persistence interface supporting multiple backends.
type Store interface {
	// Conversation 操作 / Conversation operations
	LoadConversation() (Conversation, error)
	SaveConversation(conv Conversation) error
	ClearConversation() error

	// 聊天日志 / Chat log
	AppendExchange(ex Exchange) error
	LoadChatLog() ([]Exchange, error)

	// 生命周期 / Lifecycle
	Close() error
}

// Open returns the Store for backend ("json" or "sqlite") rooted at dir.
// Switching to sqlite imports any existing JSON files once.
func Open(backend, dir string, chatLogMax int) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "json":
		return NewJSONStore(dir, chatLogMax)
	case "sqlite":
		s, err := NewSQLiteStore(filepath.Join(dir, SQLiteFile), chatLogMax)
		if err != nil {
			return nil, err
		}
		if _, err := MigrateFromJSON(dir, s); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate json state: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
