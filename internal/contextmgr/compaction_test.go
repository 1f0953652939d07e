package contextmgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ankicli/internal/chat"

	"github.com/google/go-cmp/cmp"
)

func longHistory(n int) []chat.Message {
	msgs := make([]chat.Message, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			msgs = append(msgs, chat.Message{Role: chat.RoleUser, Content: fmt.Sprintf("request %d", i)})
		} else {
			msgs = append(msgs, chat.Message{Role: chat.RoleAssistant, Content: fmt.Sprintf("response %d", i)})
		}
	}
	return msgs
}

func TestRegexCompaction_Summarize(t *testing.T) {
	c := &RegexCompaction{}
	messages := []chat.Message{
		{Role: chat.RoleUser, Content: "Add el gato to my Spanish deck"},
		{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{
			{ID: "c1", Function: chat.ToolCallFunction{Name: "add_card", Arguments: `{"deck":"Spanish","front":"<b>el gato</b>","back":"the cat"}`}},
		}},
		{Role: chat.RoleTool, Name: "add_card", ToolCallID: "c1", Content: `{"ok":true,"note_id":7}`},
	}
	summary, err := c.Summarize(context.Background(), messages)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	for _, want := range []string{"Spanish", "el gato", "Add el gato"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary should contain %q: %q", want, summary)
		}
	}
}

func TestLLMCompaction_Summarize(t *testing.T) {
	mockSummarizer := func(_ context.Context, sys, user string) (string, error) {
		if !strings.Contains(sys, "flashcards") {
			return "", fmt.Errorf("expected system prompt")
		}
		if !strings.Contains(user, "User: add words") {
			return "", fmt.Errorf("expected conversation in prompt")
		}
		return "  learner added three words  ", nil
	}
	c := NewLLMCompaction(mockSummarizer, 500)
	summary, err := c.Summarize(context.Background(), []chat.Message{{Role: chat.RoleUser, Content: "add words"}})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != "learner added three words" {
		t.Fatalf("summary=%q", summary)
	}
}

func TestLLMCompaction_NoSummarizer(t *testing.T) {
	if _, err := NewLLMCompaction(nil, 0).Summarize(context.Background(), nil); err == nil {
		t.Fatal("expected error with nil summarizer")
	}
}

func TestFallbackCompaction(t *testing.T) {
	failingLLM := NewLLMCompaction(func(_ context.Context, _, _ string) (string, error) {
		return "", fmt.Errorf("network error")
	}, 0)
	fallback := NewFallbackCompaction(failingLLM, &RegexCompaction{})
	summary, err := fallback.Summarize(context.Background(), []chat.Message{{Role: chat.RoleUser, Content: "list decks"}})
	if err != nil {
		t.Fatalf("Fallback should not error: %v", err)
	}
	if strings.TrimSpace(summary) == "" {
		t.Fatal("Fallback should produce non-empty summary")
	}
}

func TestCompact_TooFewMessages(t *testing.T) {
	messages := longHistory(4)
	res := Compact(context.Background(), messages, 4, false, nil)
	if res.Changed {
		t.Fatal("should not compact with too few messages")
	}
	if len(res.Messages) != 4 {
		t.Fatalf("result len=%d, want 4", len(res.Messages))
	}
}

func TestCompact_Idempotent(t *testing.T) {
	ctx := context.Background()
	first := Compact(ctx, longHistory(20), 6, true, &RegexCompaction{})
	if !first.Changed {
		t.Fatal("should have compacted")
	}
	if !first.Messages[0].IsSummary() {
		t.Fatalf("first message should be summary: %q", first.Messages[0].Content)
	}
	if len(first.Messages) != 7 {
		t.Fatalf("len=%d, want summary + 6", len(first.Messages))
	}

	second := Compact(ctx, first.Messages, 6, true, &RegexCompaction{})
	if second.Changed {
		t.Fatal("compacting a minimal history must be a no-op")
	}
	if diff := cmp.Diff(first.Messages, second.Messages); diff != "" {
		t.Fatalf("second compaction changed history (-first +second):\n%s", diff)
	}
}

func TestCompact_TailNeverStartsWithToolTurn(t *testing.T) {
	msgs := longHistory(8)
	msgs = append(msgs,
		chat.Message{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{
			{ID: "a", Function: chat.ToolCallFunction{Name: "check_word_exists", Arguments: `{"word":"uno"}`}},
			{ID: "b", Function: chat.ToolCallFunction{Name: "check_word_exists", Arguments: `{"word":"dos"}`}},
		}},
		chat.Message{Role: chat.RoleTool, Name: "check_word_exists", ToolCallID: "a", Content: `{"ok":true}`},
		chat.Message{Role: chat.RoleTool, Name: "check_word_exists", ToolCallID: "b", Content: `{"ok":true}`},
		chat.Message{Role: chat.RoleAssistant, Content: "neither exists"},
		chat.Message{Role: chat.RoleUser, Content: "add them"},
		chat.Message{Role: chat.RoleAssistant, Content: "done"},
	)
	// A tail of 5 would start on the first tool turn.
	res := Compact(context.Background(), msgs, 5, false, &RegexCompaction{})
	if !res.Changed {
		t.Fatal("expected compaction")
	}
	if res.Messages[1].Role == chat.RoleTool {
		t.Fatalf("tail starts with orphaned tool turn: %+v", res.Messages[1])
	}
	if len(res.Messages[1].ToolCalls) != 2 {
		t.Fatalf("tail should start at the requesting assistant turn: %+v", res.Messages[1])
	}
}

func TestCompact_PreservesProgressFacts(t *testing.T) {
	fact := `{"ok":true,"level":"A1","known":["hola","adiós"]}`
	msgs := []chat.Message{
		{Role: chat.RoleUser, Content: "I added hola and adiós"},
		{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{{ID: "p", Function: chat.ToolCallFunction{Name: "update_learning_summary", Arguments: `{"level":"A1"}`}}}},
		{Role: chat.RoleTool, Name: "update_learning_summary", ToolCallID: "p", Content: fact},
	}
	msgs = append(msgs, longHistory(10)...)

	llm := NewLLMCompaction(func(context.Context, string, string) (string, error) {
		return "a vague summary that forgets the details", nil
	}, 0)
	res := Compact(context.Background(), msgs, 4, true, llm)
	if !res.Changed {
		t.Fatal("expected compaction")
	}
	if !strings.Contains(res.Summary, progressFactsHeader) || !strings.Contains(res.Summary, fact) {
		t.Fatalf("progress facts lost: %q", res.Summary)
	}

	// A later compaction carries the facts forward again.
	more := append(chat.CloneMessages(res.Messages), longHistory(10)...)
	again := Compact(context.Background(), more, 4, true, llm)
	if !again.Changed || !strings.Contains(again.Summary, fact) {
		t.Fatalf("facts not carried through second compaction: %q", again.Summary)
	}
	if strings.Count(again.Summary, fact) != 1 {
		t.Fatalf("facts duplicated: %q", again.Summary)
	}
}

func TestBuildSummaryInput(t *testing.T) {
	messages := []chat.Message{
		{Role: chat.RoleUser, Content: "add sorting words"},
		{Role: chat.RoleAssistant, Content: "I'll add them", ToolCalls: []chat.ToolCall{
			{Function: chat.ToolCallFunction{Name: "add_multiple_cards", Arguments: `{"deck":"Spanish","cards":[]}`}},
		}},
		{Role: chat.RoleTool, Name: "add_multiple_cards", Content: `{"ok":true}`},
	}
	input := buildSummaryInput(messages)
	if !strings.Contains(input, "User: add sorting words") {
		t.Fatalf("should contain user message: %q", input)
	}
	if !strings.Contains(input, "Tool call: add_multiple_cards") {
		t.Fatalf("should contain tool call: %q", input)
	}
}

func TestAssemblerStaticMessages(t *testing.T) {
	rules := filepath.Join(t.TempDir(), "instructions.md")
	if err := os.WriteFile(rules, []byte("Always tag cards with the lesson number."), 0o644); err != nil {
		t.Fatal(err)
	}
	a := New("You manage Anki.", rules)
	a.Progress = func() string { return "A1: 10% coverage" }
	a.ToolNotes = func() map[string]string { return map[string]string{"add_card": "use HTML bold for the word", "sync_anki": ""} }

	msgs := a.Build([]chat.Message{{Role: chat.RoleUser, Content: "hi"}})
	if len(msgs) != 5 {
		t.Fatalf("len=%d, want 4 system + 1 user", len(msgs))
	}
	joined := ""
	for _, m := range msgs[:4] {
		if m.Role != chat.RoleSystem {
			t.Fatalf("static message role=%s", m.Role)
		}
		joined += m.Content + "\n"
	}
	for _, want := range []string{"You manage Anki.", "lesson number", "10% coverage", "add_card: use HTML bold"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in %q", want, joined)
		}
	}
	if strings.Contains(joined, "sync_anki") {
		t.Fatalf("empty notes should be skipped")
	}
}
