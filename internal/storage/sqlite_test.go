package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"ankicli/internal/chat"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath, 3)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleConversation() Conversation {
	conv := NewConversation("gpt-4o-mini")
	conv.TokenEstimate = 321
	conv.InputTokens = 1200
	conv.OutputTokens = 80
	conv.LastSummary = chat.SummaryPrefix + " earlier work"
	conv.Messages = []chat.Message{
		{Role: chat.RoleUser, Content: "add gato to Spanish", CreatedAt: "2026-01-02T10:00:00Z"},
		{Role: chat.RoleAssistant, Reasoning: "check first", CreatedAt: "2026-01-02T10:00:01Z", ToolCalls: []chat.ToolCall{
			{ID: "call_1", Type: "function", Function: chat.ToolCallFunction{Name: "check_word_exists", Arguments: `{"word":"gato"}`}},
		}},
		{Role: chat.RoleTool, Name: "check_word_exists", ToolCallID: "call_1", Content: `{"ok":true,"exists":false}`, CreatedAt: "2026-01-02T10:00:02Z"},
		{Role: chat.RoleAssistant, Content: "Added **el gato**.", CreatedAt: "2026-01-02T10:00:03Z"},
	}
	return conv
}

var ignoreSavedAt = cmpopts.IgnoreFields(Conversation{}, "SavedAt")

func TestStoresRoundTripConversation(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"json": func(t *testing.T) Store {
			s, err := NewJSONStore(t.TempDir(), 0)
			if err != nil {
				t.Fatalf("NewJSONStore: %v", err)
			}
			return s
		},
		"sqlite": func(t *testing.T) Store { return newTestStore(t) },
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			if _, err := store.LoadConversation(); !errors.Is(err, ErrNoConversation) {
				t.Fatalf("empty store: err=%v, want ErrNoConversation", err)
			}
			want := sampleConversation()
			if err := store.SaveConversation(want); err != nil {
				t.Fatalf("SaveConversation: %v", err)
			}
			got, err := store.LoadConversation()
			if err != nil {
				t.Fatalf("LoadConversation: %v", err)
			}
			if diff := cmp.Diff(want, got, ignoreSavedAt); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
			if got.SavedAt == "" {
				t.Fatalf("SavedAt not stamped")
			}

			// 覆盖保存 / Overwrite save
			want.Messages = want.Messages[:1]
			if err := store.SaveConversation(want); err != nil {
				t.Fatalf("SaveConversation overwrite: %v", err)
			}
			got, _ = store.LoadConversation()
			if len(got.Messages) != 1 {
				t.Fatalf("overwrite count=%d, want 1", len(got.Messages))
			}

			if err := store.ClearConversation(); err != nil {
				t.Fatalf("ClearConversation: %v", err)
			}
			if _, err := store.LoadConversation(); !errors.Is(err, ErrNoConversation) {
				t.Fatalf("after clear: err=%v", err)
			}
		})
	}
}

func TestSQLiteStore_ChatLogTrimmed(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		ex := Exchange{User: fmt.Sprintf("q%d", i), Assistant: "a", Tools: []ToolUse{{Name: "list_decks", Summary: "2 decks"}}}
		if err := store.AppendExchange(ex); err != nil {
			t.Fatalf("AppendExchange: %v", err)
		}
	}
	log, err := store.LoadChatLog()
	if err != nil {
		t.Fatalf("LoadChatLog: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("chat log len=%d, want 3", len(log))
	}
	if log[0].User != "q2" || log[2].User != "q4" {
		t.Fatalf("unexpected order: %+v", log)
	}
	if len(log[0].Tools) != 1 || log[0].Tools[0].Name != "list_decks" {
		t.Fatalf("tools lost: %+v", log[0])
	}
}

func TestJSONStore_ChatLogTrimmed(t *testing.T) {
	store, err := NewJSONStore(t.TempDir(), 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range []string{"one", "two", "three"} {
		if err := store.AppendExchange(Exchange{User: q, Assistant: "ok"}); err != nil {
			t.Fatal(err)
		}
	}
	log, err := store.LoadChatLog()
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 2 || log[0].User != "two" || log[0].Timestamp == "" {
		t.Fatalf("unexpected log: %+v", log)
	}
}

func TestMigrateFromJSON(t *testing.T) {
	dir := t.TempDir()
	js, err := NewJSONStore(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	conv := sampleConversation()
	if err := js.SaveConversation(conv); err != nil {
		t.Fatal(err)
	}
	if err := js.AppendExchange(Exchange{User: "hi", Assistant: "hello"}); err != nil {
		t.Fatal(err)
	}

	store := newTestStore(t)
	n, err := MigrateFromJSON(dir, store)
	if err != nil {
		t.Fatalf("MigrateFromJSON: %v", err)
	}
	if n != 2 {
		t.Fatalf("migrated=%d, want 2", n)
	}
	got, err := store.LoadConversation()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(conv, got, ignoreSavedAt); diff != "" {
		t.Fatalf("migrated conversation mismatch (-want +got):\n%s", diff)
	}

	// 已迁移则跳过 / Second run is a no-op
	n, err = MigrateFromJSON(dir, store)
	if err != nil || n != 0 {
		t.Fatalf("second migrate n=%d err=%v", n, err)
	}
}

func TestWriteFileAtomicLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")
	if err := WriteFileAtomic(path, []byte("{}"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	if err := WriteFileAtomic(path, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic overwrite: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, got %d entries", len(entries))
	}
	data, _ := os.ReadFile(path)
	if string(data) != `{"a":1}` {
		t.Fatalf("content=%q", data)
	}
}

func TestSQLiteStore_ForeignKeysOnEveryConnection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	// Hold several connections at once so the pool has to open new ones.
	conns := make([]*sql.Conn, 3)
	for i := range conns {
		conn, err := store.db.Conn(ctx)
		if err != nil {
			t.Fatalf("Conn: %v", err)
		}
		conns[i] = conn
	}
	for i, conn := range conns {
		var on int
		if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&on); err != nil {
			t.Fatalf("conn %d: %v", i, err)
		}
		if on != 1 {
			t.Fatalf("conn %d: foreign_keys=%d", i, on)
		}
	}
	for _, conn := range conns {
		_ = conn.Close()
	}

	if err := store.SaveConversation(sampleConversation()); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	if err := store.ClearConversation(); err != nil {
		t.Fatalf("ClearConversation: %v", err)
	}
	var orphans int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&orphans); err != nil {
		t.Fatal(err)
	}
	if orphans != 0 {
		t.Fatalf("%d messages left after clearing the conversation", orphans)
	}
}
