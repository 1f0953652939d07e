package contextmgr

import (
	"strings"
	"testing"

	"ankicli/internal/chat"
)

func TestTokenizer_Heuristic(t *testing.T) {
	// 即使 tiktoken 不可用，启发式也应该可用
	tok := &Tokenizer{fallback: true, encodingName: "cl100k_base"}
	if count := tok.CountText("el perro come"); count <= 0 {
		t.Fatalf("heuristic CountText should return > 0, got %d", count)
	}
	if count := tok.CountText("你好世界"); count <= 0 {
		t.Fatalf("heuristic CountText for CJK should return > 0, got %d", count)
	}
	if tok.CountText("") != 0 {
		t.Fatal("empty text should return 0")
	}
	if tok.IsPrecise() {
		t.Fatal("fallback tokenizer should not be precise")
	}
}

func TestHeuristicEstimatorMonotonic(t *testing.T) {
	var est HeuristicEstimator
	prev := 0
	content := ""
	for i := 0; i < 50; i++ {
		content += "palabra "
		got := est.Count([]chat.Message{{Role: chat.RoleUser, Content: content}})
		if got < prev {
			t.Fatalf("estimate decreased from %d to %d at step %d", prev, got, i)
		}
		prev = got
	}
	withTool := est.Count([]chat.Message{{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{
		{Function: chat.ToolCallFunction{Name: "add_card", Arguments: strings.Repeat("x", 400)}},
	}}})
	if withTool <= 8 {
		t.Fatalf("tool call arguments should be counted, got %d", withTool)
	}
}

func TestNewEstimatorSelectsKind(t *testing.T) {
	if _, ok := NewEstimator("", "gpt-4o").(HeuristicEstimator); !ok {
		t.Fatal("default estimator should be heuristic")
	}
	if _, ok := NewEstimator("TikToken", "gpt-4o").(*Tokenizer); !ok {
		t.Fatal("tiktoken estimator should be a *Tokenizer")
	}
}

func TestModelToEncoding(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"gpt-4", "cl100k_base"},
		{"gpt-3.5-turbo", "cl100k_base"},
		{"gpt-4o-mini", "o200k_base"},
		{"gpt-4.1", "o200k_base"},
		{"o1-preview", "o200k_base"},
		{"o3-mini", "o200k_base"},
		{"claude-sonnet-4", "cl100k_base"},
		{"", "cl100k_base"},
	}
	for _, tt := range tests {
		if got := modelToEncoding(tt.model); got != tt.expected {
			t.Errorf("modelToEncoding(%q) = %q, want %q", tt.model, got, tt.expected)
		}
	}
}
