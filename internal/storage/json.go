package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	ConversationFile = "conversation.json"
	ChatLogFile      = "chat_log.json"
)

// JSONStore keeps the conversation and chat log as JSON files under one directory.
type JSONStore struct {
	mu         sync.Mutex
	dir        string
	chatLogMax int
}

func NewJSONStore(dir string, chatLogMax int) (*JSONStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("storage base dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	return &JSONStore{dir: dir, chatLogMax: chatLogMax}, nil
}

func (s *JSONStore) Dir() string { return s.dir }

func (s *JSONStore) conversationPath() string { return filepath.Join(s.dir, ConversationFile) }
func (s *JSONStore) chatLogPath() string      { return filepath.Join(s.dir, ChatLogFile) }

func (s *JSONStore) LoadConversation() (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var conv Conversation
	if err := ReadJSONFile(s.conversationPath(), &conv); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Conversation{}, ErrNoConversation
		}
		return Conversation{}, err
	}
	return conv, nil
}

func (s *JSONStore) SaveConversation(conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(conv.ID) == "" {
		return fmt.Errorf("conversation id is empty")
	}
	if strings.TrimSpace(conv.SavedAt) == "" {
		conv.SavedAt = nowUTC()
	}
	if strings.TrimSpace(conv.CreatedAt) == "" {
		conv.CreatedAt = conv.SavedAt
	}
	return WriteJSONFile(s.conversationPath(), conv)
}

func (s *JSONStore) ClearConversation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.conversationPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove conversation: %w", err)
	}
	return nil
}

func (s *JSONStore) AppendExchange(ex Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, err := s.readChatLog()
	if err != nil {
		return err
	}
	if strings.TrimSpace(ex.Timestamp) == "" {
		ex.Timestamp = nowUTC()
	}
	log = trimExchanges(append(log, ex), s.chatLogMax)
	return WriteJSONFile(s.chatLogPath(), log)
}

func (s *JSONStore) LoadChatLog() ([]Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readChatLog()
}

// readChatLog treats a missing or corrupt log as empty; the log is advisory.
func (s *JSONStore) readChatLog() ([]Exchange, error) {
	var log []Exchange
	if err := ReadJSONFile(s.chatLogPath(), &log); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if _, statErr := os.Stat(s.chatLogPath()); statErr == nil {
			return nil, nil
		}
		return nil, err
	}
	return log, nil
}

func (s *JSONStore) Close() error { return nil }
