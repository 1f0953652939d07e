package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MigrateFromJSON 将 JSON 文件中的对话与聊天日志导入 SQLite
// MigrateFromJSON imports conversation.json and chat_log.json into an empty SQLite store.
// It returns the number of records imported and does nothing when the store already holds a conversation.
func MigrateFromJSON(jsonDir string, store *SQLiteStore) (int, error) {
	jsonDir = strings.TrimSpace(jsonDir)
	if jsonDir == "" {
		return 0, nil
	}
	if _, err := store.LoadConversation(); err == nil {
		return 0, nil
	} else if !errors.Is(err, ErrNoConversation) {
		return 0, err
	}

	migrated := 0
	var conv Conversation
	convPath := filepath.Join(jsonDir, ConversationFile)
	if err := ReadJSONFile(convPath, &conv); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("migrate conversation: %w", err)
		}
	} else if strings.TrimSpace(conv.ID) != "" {
		if err := store.SaveConversation(conv); err != nil {
			return 0, fmt.Errorf("migrate conversation %s: %w", conv.ID, err)
		}
		migrated++
	}

	var log []Exchange
	if err := ReadJSONFile(filepath.Join(jsonDir, ChatLogFile), &log); err == nil {
		existing, _ := store.LoadChatLog()
		if len(existing) == 0 {
			for _, ex := range log {
				if err := store.AppendExchange(ex); err != nil {
					return migrated, fmt.Errorf("migrate chat log: %w", err)
				}
				migrated++
			}
		}
	}
	return migrated, nil
}
