package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ankicli/internal/chat"
)

const toolCallStream = `data: {"choices":[{"delta":{"content":"Adding "}}]}

data: {"choices":[{"delta":{"content":"the card."}}]}

data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"add_card","arguments":"{\"deck\":"}}]}}]}

data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Spanish\"}"}}]},"finish_reason":"tool_calls"}]}

data: {"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}

data: [DONE]

`

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "test", Model: "gpt-4o-mini"}, nil)
	p.backoff = func(int) time.Duration { return 0 }
	return p
}

func writeSSE(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/event-stream")
	_, _ = fmt.Fprint(w, body)
}

func TestChatAssemblesStreamedToolCall(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path=%s", r.URL.Path)
		}
		writeSSE(w, toolCallStream)
	})
	var chunks []string
	var usage Usage
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "add gato"}},
	}, &StreamCallbacks{
		OnTextChunk: func(c string) { chunks = append(chunks, c) },
		OnUsage:     func(u Usage) { usage = u },
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Adding the card." || len(chunks) != 2 {
		t.Fatalf("content=%q chunks=%v", resp.Content, chunks)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls=%+v", resp.ToolCalls)
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.Function.Name != "add_card" || call.Function.Arguments != `{"deck":"Spanish"}` {
		t.Fatalf("call=%+v", call)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("finish=%q", resp.FinishReason)
	}
	if usage.TotalTokens != 15 || resp.Usage.PromptTokens != 10 {
		t.Fatalf("usage=%+v resp.usage=%+v", usage, resp.Usage)
	}
}

func TestChatRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		// Each failed attempt tries the compat and sdk streams.
		if hits.Add(1) <= 2 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		writeSSE(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	})
	resp, err := p.Chat(context.Background(), ChatRequest{}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("content=%q", resp.Content)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits=%d, want 3", hits.Load())
	}
}

func TestChatSendsOnlyWireFields(t *testing.T) {
	var hits atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		// Strict servers reject fields they do not know.
		for _, field := range []string{`"reasoning"`, `"created_at"`} {
			if strings.Contains(string(body), field) {
				http.Error(w, "unknown field "+field, http.StatusBadRequest)
				return
			}
		}
		if !strings.Contains(string(body), `"tool_call_id":"call_1"`) {
			http.Error(w, "missing tool_call_id", http.StatusBadRequest)
			return
		}
		writeSSE(w, "data: {\"choices\":[{\"delta\":{\"content\":\"done\"}}]}\n\ndata: [DONE]\n\n")
	})
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []chat.Message{
		{Role: chat.RoleUser, Content: "add gato", CreatedAt: "2026-01-02T03:04:05Z"},
		{Role: chat.RoleAssistant, Reasoning: "one card", CreatedAt: "2026-01-02T03:04:06Z", ToolCalls: []chat.ToolCall{
			{ID: "call_1", Type: "function", Function: chat.ToolCallFunction{Name: "add_card", Arguments: `{}`}},
		}},
		{Role: chat.RoleTool, Name: "add_card", ToolCallID: "call_1", Content: `{"ok":true}`, CreatedAt: "2026-01-02T03:04:07Z"},
	}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "done" {
		t.Fatalf("content=%q", resp.Content)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d, want a single accepted request", hits.Load())
	}
}

func TestChatDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	})
	_, err := p.Chat(context.Background(), ChatRequest{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("err=%v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits=%d, want one attempt on each stream path", hits.Load())
	}
}

func TestChatGivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	})
	_, err := p.Chat(context.Background(), ChatRequest{}, nil)
	if err == nil || !strings.Contains(err.Error(), "after 3 retries") {
		t.Fatalf("err=%v", err)
	}
	if hits.Load() != int32(2*(DefaultMaxRetries+1)) {
		t.Fatalf("hits=%d", hits.Load())
	}
}

func TestChatCancelledContext(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, toolCallStream)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Chat(ctx, ChatRequest{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func TestComplete(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"score\":3}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`)
	})
	text, usage, err := p.Complete(context.Background(), "", "rate difficulty", "el gato")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != `{"score":3}` || usage.TotalTokens != 6 {
		t.Fatalf("text=%q usage=%+v", text, usage)
	}
}

func TestConvertMessages(t *testing.T) {
	messages := []chat.Message{
		{Role: "system", Content: "You manage Anki"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi", ToolCalls: []chat.ToolCall{
			{ID: "call_1", Type: "function", Function: chat.ToolCallFunction{Name: "list_decks", Arguments: `{}`}},
		}},
		{Role: "tool", Name: "list_decks", ToolCallID: "call_1", Content: `{"ok":true}`},
	}

	converted := convertMessages(messages)
	if len(converted) != 4 {
		t.Fatalf("convertMessages len=%d, want 4", len(converted))
	}
	if len(converted[2].ToolCalls) != 1 || converted[2].ToolCalls[0].Function.Name != "list_decks" {
		t.Fatalf("msg[2] tool calls unexpected: %+v", converted[2])
	}
	if converted[3].ToolCallID != "call_1" {
		t.Fatalf("msg[3] ToolCallID=%q, want call_1", converted[3].ToolCallID)
	}
}

func TestConvertTools(t *testing.T) {
	converted := convertTools([]chat.ToolDef{{
		Type: "function",
		Function: chat.ToolFunction{
			Name:       "get_deck_stats",
			Parameters: map[string]any{"type": "object"},
		},
	}})
	if len(converted) != 1 || converted[0].Function.Name != "get_deck_stats" {
		t.Fatalf("converted=%+v", converted)
	}
}

func TestAssembleToolCalls(t *testing.T) {
	byIdx := map[int]*toolCallAccumulator{
		1: {id: "call_def", typ: "function", name: "add_card"},
		0: {id: "call_abc", typ: "function", name: "check_word_exists"},
	}
	byIdx[0].args.WriteString(`{"word":"gato"}`)

	calls := assembleToolCalls(byIdx)
	if len(calls) != 2 {
		t.Fatalf("assembleToolCalls len=%d, want 2", len(calls))
	}
	if calls[0].ID != "call_abc" || calls[1].Function.Name != "add_card" {
		t.Fatalf("calls out of order: %+v", calls)
	}
	if calls[1].Function.Arguments != "{}" {
		t.Fatalf("empty arguments should become {}: %q", calls[1].Function.Arguments)
	}
	if assembleToolCalls(map[int]*toolCallAccumulator{}) != nil {
		t.Fatal("empty should return nil")
	}
}

func TestAssembleToolCalls_MissingID(t *testing.T) {
	calls := assembleToolCalls(map[int]*toolCallAccumulator{0: {name: "sync_anki"}})
	if len(calls) != 1 || !strings.HasPrefix(calls[0].ID, "call_") || calls[0].Type != "function" {
		t.Fatalf("calls=%+v", calls)
	}
}

func TestOpenAIProviderSetModel(t *testing.T) {
	p := &OpenAIProvider{model: "gpt-4o"}
	if err := p.SetModel("gpt-4.1-mini"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	if p.CurrentModel() != "gpt-4.1-mini" {
		t.Fatalf("CurrentModel()=%q", p.CurrentModel())
	}
	if err := p.SetModel(" "); err == nil {
		t.Fatal("SetModel empty should error")
	}
}
