package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ankicli/internal/anki"
	"ankicli/internal/chat"
	"ankicli/internal/config"
	"ankicli/internal/contextmgr"
	"ankicli/internal/progress"
	"ankicli/internal/provider"
	"ankicli/internal/storage"
	"ankicli/internal/tools"

	"github.com/google/go-cmp/cmp"
)

type scriptedProvider struct {
	model     string
	responses []provider.ChatResponse
	callCount int
	requests  []provider.ChatRequest
	// hook runs before each reply; a non-nil error is returned instead.
	hook func(ctx context.Context, call int) error
}

func (p *scriptedProvider) Chat(ctx context.Context, req provider.ChatRequest, cb *provider.StreamCallbacks) (provider.ChatResponse, error) {
	p.requests = append(p.requests, req)
	call := p.callCount
	p.callCount++
	if p.hook != nil {
		if err := p.hook(ctx, call); err != nil {
			return provider.ChatResponse{}, err
		}
	}
	if call >= len(p.responses) {
		return provider.ChatResponse{}, errors.New("no scripted response")
	}
	resp := p.responses[call]
	if cb != nil && cb.OnTextChunk != nil && resp.Content != "" {
		cb.OnTextChunk(resp.Content)
	}
	return resp, nil
}

func (p *scriptedProvider) Complete(context.Context, string, string, string) (string, provider.Usage, error) {
	return "", provider.Usage{}, errors.New("not scripted")
}
func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) CurrentModel() string { return p.model }
func (p *scriptedProvider) SetModel(model string) error {
	p.model = model
	return nil
}

func toolCall(id, name, args string) chat.ToolCall {
	return chat.ToolCall{ID: id, Type: "function", Function: chat.ToolCallFunction{Name: name, Arguments: args}}
}

func callsResponse(calls ...chat.ToolCall) provider.ChatResponse {
	return provider.ChatResponse{ToolCalls: calls, FinishReason: "tool_calls", Usage: provider.Usage{PromptTokens: 100, CompletionTokens: 10}}
}

func answer(text string) provider.ChatResponse {
	return provider.ChatResponse{Content: text, FinishReason: "stop", Usage: provider.Usage{PromptTokens: 120, CompletionTokens: 20}}
}

// fakeConnect answers the AnkiConnect actions the loop tests reach.
type fakeConnect struct {
	mu      sync.Mutex
	actions []string
	nextID  int64
}

func (f *fakeConnect) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string          `json:"action"`
		Params json.RawMessage `json:"params"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, req.Action)

	var result any
	switch req.Action {
	case "version":
		result = 6
	case "deckNames":
		result = []string{}
	case "findNotes":
		result = []int64{}
	case "notesInfo":
		result = []any{}
	case "canAddNotesWithErrorDetail":
		var p struct{ Notes []json.RawMessage }
		_ = json.Unmarshal(req.Params, &p)
		out := make([]map[string]any, len(p.Notes))
		for i := range out {
			out[i] = map[string]any{"canAdd": true}
		}
		result = out
	case "addNotes":
		var p struct{ Notes []json.RawMessage }
		_ = json.Unmarshal(req.Params, &p)
		ids := make([]int64, len(p.Notes))
		for i := range ids {
			f.nextID++
			ids[i] = f.nextID
		}
		result = ids
	default:
		_ = json.NewEncoder(w).Encode(map[string]any{"result": nil, "error": "unsupported action " + req.Action})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "error": nil})
}

type harness struct {
	o        *Orchestrator
	provider *scriptedProvider
	store    *storage.JSONStore
	connect  *fakeConnect
	dir      string
}

func newHarness(t *testing.T, ankiURL string, opts Options, responses ...provider.ChatResponse) *harness {
	t.Helper()
	connect := &fakeConnect{nextID: 1000}
	if ankiURL == "" {
		srv := httptest.NewServer(connect)
		t.Cleanup(srv.Close)
		ankiURL = srv.URL
	}
	dir := t.TempDir()
	store, err := storage.NewJSONStore(dir, 100)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	now := func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	registry, err := tools.NewRegistry(tools.Deps{
		Anki:     anki.NewClient(anki.Options{URL: ankiURL, Timeout: 2 * time.Second}),
		Progress: progress.Open(filepath.Join(dir, progress.FileName), progress.WithClock(now)),
		Now:      now,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	p := &scriptedProvider{model: "claude-sonnet-4-20250514", responses: responses}
	opts.Store = store
	opts.Now = now
	if opts.Assembler == nil {
		opts.Assembler = contextmgr.New("You manage Anki flashcards.", "")
	}
	return &harness{o: New(p, registry, opts), provider: p, store: store, connect: connect, dir: dir}
}

func roles(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestAddThreeCardsTurnOrdering(t *testing.T) {
	h := newHarness(t, "", Options{RequireDuplicateCheck: true},
		callsResponse(toolCall("c1", "check_words_exist", `{"words":["uno","dos","tres"],"deck_name":"Spanish"}`)),
		callsResponse(toolCall("c2", "add_multiple_cards", `{"deck_name":"Spanish","cards":[
			{"front":"uno","back":"one","tags":["word::uno"]},
			{"front":"dos","back":"two","tags":["word::dos"]},
			{"front":"tres","back":"three","tags":["word::tres"]}]}`)),
		answer("Added uno, dos and tres to Spanish."),
	)
	var out bytes.Buffer
	text, err := h.o.RunTurn(context.Background(), "add uno, dos, tres to Spanish", &out)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if text != "Added uno, dos and tres to Spanish." {
		t.Fatalf("text=%q", text)
	}

	msgs := h.o.Messages()
	want := []string{"user", "assistant", "tool", "assistant", "tool", "assistant"}
	if diff := cmp.Diff(want, roles(msgs)); diff != "" {
		t.Fatalf("turn roles (-want +got):\n%s", diff)
	}
	if msgs[2].ToolCallID != "c1" || msgs[4].ToolCallID != "c2" {
		t.Fatalf("tool turns out of order: %+v", msgs)
	}
	add := parseJSONObject(msgs[4].Content)
	if getString(add, "summary", "") != "3 of 3 created" {
		t.Fatalf("add result=%s", msgs[4].Content)
	}
	if _, ok := add["unchecked"]; ok {
		t.Fatalf("checked words reported unchecked: %s", msgs[4].Content)
	}
	items := getArray(add, "items")
	for i, front := range []string{"uno", "dos", "tres"} {
		item, _ := items[i].(map[string]any)
		if getString(item, "front", "") != front || getString(item, "status", "") != "created" {
			t.Fatalf("item %d = %v", i, item)
		}
	}

	saved, err := h.store.LoadConversation()
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if diff := cmp.Diff(h.o.Conversation(), saved); diff != "" {
		t.Fatalf("saved conversation differs (-memory +disk):\n%s", diff)
	}
	if saved.InputTokens != 320 || saved.OutputTokens != 40 {
		t.Fatalf("usage=%d/%d", saved.InputTokens, saved.OutputTokens)
	}

	log, err := h.store.LoadChatLog()
	if err != nil || len(log) != 1 {
		t.Fatalf("chat log=%v err=%v", log, err)
	}
	if len(log[0].Tools) != 2 || log[0].Tools[1].Name != "add_multiple_cards" {
		t.Fatalf("logged tools=%+v", log[0].Tools)
	}
	if !strings.Contains(out.String(), "[TOOL]") || !strings.Contains(out.String(), "+ uno") {
		t.Fatalf("rendered output missing tool lines:\n%s", out.String())
	}
}

func TestRoundLimitStopsRunawayLoop(t *testing.T) {
	h := newHarness(t, "", Options{MaxRounds: 3})
	for i := 0; i < 10; i++ {
		h.provider.responses = append(h.provider.responses, callsResponse(toolCall(fmt.Sprintf("c%d", i), "list_decks", `{}`)))
	}

	text, err := h.o.RunTurn(context.Background(), "loop forever", nil)
	if !errors.Is(err, ErrRoundLimit) {
		t.Fatalf("err=%v, want ErrRoundLimit", err)
	}
	if !strings.Contains(text, "I stopped after 3 tool rounds") {
		t.Fatalf("degraded text=%q", text)
	}
	if h.provider.callCount != 3 {
		t.Fatalf("model called %d times, want 3", h.provider.callCount)
	}
	// user + 3 × (assistant + tool) + degraded answer, all committed.
	if got := len(h.o.Messages()); got != 8 {
		t.Fatalf("committed %d turns, want 8", got)
	}
	saved, err := h.store.LoadConversation()
	if err != nil || len(saved.Messages) != 8 {
		t.Fatalf("saved=%d err=%v", len(saved.Messages), err)
	}
}

func TestStoreUnreachableDuringAdd(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	h := newHarness(t, deadURL, Options{},
		callsResponse(toolCall("c1", "add_card", `{"deck_name":"Spanish","front":"hola","back":"hello"}`)),
		answer("Anki is not reachable. Is it running with AnkiConnect?"),
	)
	text, err := h.o.RunTurn(context.Background(), "add hola", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !strings.Contains(text, "not reachable") {
		t.Fatalf("text=%q", text)
	}
	msgs := h.o.Messages()
	res, err := tools.ParseResult(msgs[2].Content)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Kind != tools.KindStoreUnreachable || res.Retryable {
		t.Fatalf("tool result=%+v", res)
	}
	// The model saw the failure on its second request.
	last := h.provider.requests[1].Messages
	if last[len(last)-1].Role != chat.RoleTool {
		t.Fatalf("second request should end with the tool turn")
	}
}

func TestCancellationLeavesCommittedStateUntouched(t *testing.T) {
	h := newHarness(t, "", Options{},
		answer("Hi! How can I help with your decks?"),
		callsResponse(toolCall("c1", "list_decks", `{}`)),
	)
	if _, err := h.o.RunTurn(context.Background(), "hello", nil); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	before := h.o.Conversation()
	diskBefore, err := os.ReadFile(filepath.Join(h.dir, storage.ConversationFile))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.provider.hook = func(ctx context.Context, call int) error {
		if call == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	_, err = h.o.RunTurn(ctx, "list my decks", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if diff := cmp.Diff(before, h.o.Conversation()); diff != "" {
		t.Fatalf("committed state changed (-before +after):\n%s", diff)
	}
	diskAfter, err := os.ReadFile(filepath.Join(h.dir, storage.ConversationFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(diskBefore, diskAfter) {
		t.Fatal("conversation file changed after a cancelled round")
	}
	if log, _ := h.store.LoadChatLog(); len(log) != 1 {
		t.Fatalf("chat log has %d exchanges, want 1", len(log))
	}
}

func TestModelFailureDiscardsRound(t *testing.T) {
	h := newHarness(t, "", Options{})
	h.provider.hook = func(context.Context, int) error { return errors.New("overloaded") }
	_, err := h.o.RunTurn(context.Background(), "hello", nil)
	if err == nil || !strings.Contains(err.Error(), "provider chat: overloaded") {
		t.Fatalf("err=%v", err)
	}
	// The only round failed, so not even the user turn is kept.
	if len(h.o.Messages()) != 0 {
		t.Fatalf("failed round leaked turns: %+v", h.o.Messages())
	}
	if _, err := h.store.LoadConversation(); !errors.Is(err, storage.ErrNoConversation) {
		t.Fatalf("nothing should be saved, got err=%v", err)
	}
}

func TestLaterRoundFailureKeepsFinishedRounds(t *testing.T) {
	h := newHarness(t, "", Options{},
		callsResponse(toolCall("c1", "add_multiple_cards", `{"deck_name":"Spanish","cards":[
			{"front":"uno","back":"one"},{"front":"dos","back":"two"},{"front":"tres","back":"three"}]}`)),
	)
	h.provider.hook = func(_ context.Context, call int) error {
		if call == 1 {
			return errors.New("overloaded")
		}
		return nil
	}
	_, err := h.o.RunTurn(context.Background(), "add uno, dos, tres", nil)
	if err == nil || !strings.Contains(err.Error(), "provider chat: overloaded") {
		t.Fatalf("err=%v", err)
	}
	if diff := cmp.Diff([]string{"user", "assistant", "tool"}, roles(h.o.Messages())); diff != "" {
		t.Fatalf("committed roles (-want +got):\n%s", diff)
	}
	saved, err := h.store.LoadConversation()
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if diff := cmp.Diff(h.o.Conversation(), saved); diff != "" {
		t.Fatalf("saved conversation differs (-memory +disk):\n%s", diff)
	}
	if saved.InputTokens != 100 {
		t.Fatalf("usage of the finished round not kept: %d", saved.InputTokens)
	}
	log, err := h.store.LoadChatLog()
	if err != nil || len(log) != 1 {
		t.Fatalf("chat log=%v err=%v", log, err)
	}
	if len(log[0].Tools) != 1 || log[0].Tools[0].Name != "add_multiple_cards" || !strings.Contains(log[0].Assistant, "interrupted") {
		t.Fatalf("exchange=%+v", log[0])
	}
}

type brokenChatLog struct {
	storage.Store
}

func (brokenChatLog) AppendExchange(storage.Exchange) error {
	return errors.New("disk full")
}

func TestChatLogFailureIsReported(t *testing.T) {
	h := newHarness(t, "", Options{}, answer("Hello!"))
	h.o.opts.Store = brokenChatLog{Store: h.store}
	text, err := h.o.RunTurn(context.Background(), "hi", nil)
	if !errors.Is(err, ErrChatLog) {
		t.Fatalf("err=%v, want ErrChatLog", err)
	}
	if text != "Hello!" {
		t.Fatalf("answer should still be returned, got %q", text)
	}
	if _, err := h.store.LoadConversation(); err != nil {
		t.Fatalf("conversation should be saved: %v", err)
	}
}

func TestBulkAddReportsUncheckedFronts(t *testing.T) {
	h := newHarness(t, "", Options{RequireDuplicateCheck: true},
		callsResponse(toolCall("c1", "find_card_by_word", `{"word":"el gato"}`)),
		callsResponse(toolCall("c2", "add_multiple_cards", `{"deck_name":"Spanish","cards":[
			{"front":"the cat","back":"<b>el gato</b>","tags":["word::el_gato"]},
			{"front":"<b>el perro</b>","back":"the dog"}]}`)),
		answer("done"),
	)
	if _, err := h.o.RunTurn(context.Background(), "add cat and dog", nil); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	add := parseJSONObject(h.o.Messages()[4].Content)
	if diff := cmp.Diff([]any{"el perro"}, getArray(add, "unchecked")); diff != "" {
		t.Fatalf("unchecked (-want +got):\n%s", diff)
	}
}

func TestDuplicateGuardOff(t *testing.T) {
	h := newHarness(t, "", Options{RequireDuplicateCheck: false},
		callsResponse(toolCall("c1", "add_multiple_cards", `{"deck_name":"Spanish","cards":[{"front":"uno","back":"one"}]}`)),
		answer("done"),
	)
	if _, err := h.o.RunTurn(context.Background(), "add uno", nil); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if strings.Contains(h.o.Messages()[2].Content, "unchecked") {
		t.Fatalf("guard disabled but result annotated: %s", h.o.Messages()[2].Content)
	}
}

func TestInlineToolCallsAreRecovered(t *testing.T) {
	h := newHarness(t, "", Options{},
		provider.ChatResponse{Content: `Let me look. <tool_call>{"name":"list_decks","arguments":{}}</tool_call>`},
		answer("You have no decks yet."),
	)
	text, err := h.o.RunTurn(context.Background(), "what decks do I have", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if text != "You have no decks yet." {
		t.Fatalf("text=%q", text)
	}
	msgs := h.o.Messages()
	if len(msgs[1].ToolCalls) != 1 || msgs[1].Content != "Let me look." {
		t.Fatalf("assistant turn=%+v", msgs[1])
	}
	if msgs[2].Role != chat.RoleTool || msgs[2].ToolCallID != msgs[1].ToolCalls[0].ID {
		t.Fatalf("tool turn=%+v", msgs[2])
	}
}

func TestRecoverToolCalls(t *testing.T) {
	known := func(name string) bool { return name == "delete_cards" || name == "get_deck_cards" }
	tests := []struct {
		name      string
		content   string
		wantNames []string
		wantArgs  []string
		cleaned   string
	}{
		{
			name:      "json form",
			content:   `<tool_call>{"name":"delete_cards","arguments":{"note_ids":[1,2]}}</tool_call>`,
			wantNames: []string{"delete_cards"},
			wantArgs:  []string{`{"note_ids":[1,2]}`},
		},
		{
			name:      "tagged form",
			content:   "ok\n<tool_call><function=get_deck_cards><parameter=deck_name>Spanish</parameter><parameter=limit>5</parameter></function></tool_call>",
			wantNames: []string{"get_deck_cards"},
			wantArgs:  []string{`{"deck_name":"Spanish","limit":5}`},
			cleaned:   "ok",
		},
		{
			name:    "unknown tool stays in text",
			content: `<tool_call>{"name":"rm_rf","arguments":{}}</tool_call>`,
			cleaned: `<tool_call>{"name":"rm_rf","arguments":{}}</tool_call>`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls, cleaned := recoverToolCalls(tc.content, known)
			var names, args []string
			for _, c := range calls {
				names = append(names, c.Function.Name)
				args = append(args, c.Function.Arguments)
				if !strings.HasPrefix(c.ID, "call_") {
					t.Fatalf("id=%q", c.ID)
				}
			}
			if diff := cmp.Diff(tc.wantNames, names); diff != "" {
				t.Fatalf("names (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantArgs, args); diff != "" {
				t.Fatalf("args (-want +got):\n%s", diff)
			}
			if cleaned != tc.cleaned {
				t.Fatalf("cleaned=%q want %q", cleaned, tc.cleaned)
			}
		})
	}
}

func TestCompactNowPersistsOutsideTurn(t *testing.T) {
	h := newHarness(t, "", Options{Compaction: config.CompactionConfig{RecentMessages: 4}, Strategy: &contextmgr.RegexCompaction{}})
	for i := 0; i < 10; i++ {
		h.o.conv.Messages = append(h.o.conv.Messages,
			chat.Message{Role: chat.RoleUser, Content: fmt.Sprintf("add word %d", i)},
			chat.Message{Role: chat.RoleAssistant, Content: fmt.Sprintf("added word %d", i)},
		)
	}
	report, err := h.o.CompactNow(context.Background(), "test")
	if err != nil {
		t.Fatalf("CompactNow: %v", err)
	}
	if !report.Changed || report.Removed != 16 {
		t.Fatalf("report=%+v", report)
	}
	saved, err := h.store.LoadConversation()
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Messages) != 5 || !saved.Messages[0].IsSummary() || saved.LastSummary == "" {
		t.Fatalf("saved=%+v", saved)
	}
}

func TestAutoCompactionBeforeRequest(t *testing.T) {
	h := newHarness(t, "", Options{
		ContextTokenLimit: 400,
		Compaction:        config.CompactionConfig{Auto: true, Threshold: 0.5, RecentMessages: 4},
		Strategy:          &contextmgr.RegexCompaction{},
	}, answer("ok"))
	for i := 0; i < 30; i++ {
		h.o.conv.Messages = append(h.o.conv.Messages,
			chat.Message{Role: chat.RoleUser, Content: strings.Repeat("palabra ", 10)},
			chat.Message{Role: chat.RoleAssistant, Content: strings.Repeat("respuesta ", 10)},
		)
	}
	if _, err := h.o.RunTurn(context.Background(), "continue", nil); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	sent := h.provider.requests[0].Messages
	foundSummary := false
	for _, m := range sent {
		if m.IsSummary() {
			foundSummary = true
		}
	}
	if !foundSummary {
		t.Fatal("request was not compacted")
	}
	if !h.o.Messages()[0].IsSummary() {
		t.Fatal("compacted working copy was not committed")
	}
}

func TestRestoreReportsAge(t *testing.T) {
	h := newHarness(t, "", Options{}, answer("hi"))
	if _, err := h.o.RunTurn(context.Background(), "hello", nil); err != nil {
		t.Fatal(err)
	}
	fresh := New(h.provider, nil, Options{Store: h.store, Now: func() time.Time {
		return time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	}})
	ok, age, err := fresh.Restore()
	if err != nil || !ok {
		t.Fatalf("Restore ok=%v err=%v", ok, err)
	}
	if FormatAge(age) != "3 hours ago" {
		t.Fatalf("age=%s", FormatAge(age))
	}
	if diff := cmp.Diff(h.o.Messages(), fresh.Messages()); diff != "" {
		t.Fatalf("restored turns differ:\n%s", diff)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		cmd   string
		args  string
		ok    bool
	}{
		{"help", "help", "", true},
		{"  QUIT ", "quit", "", true},
		{"q", "q", "", true},
		{"history", "history", "", true},
		{"history 5", "history", "5", true},
		{"history of spanish food", "", "", false},
		{"model", "model", "", true},
		{"model 2", "model", "2", true},
		{"notes remove add_card", "notes", "remove add_card", true},
		{"notes about verbs please", "", "", false},
		{"reset my deck stats", "", "", false},
		{"add hola to Spanish", "", "", false},
	}
	for _, tc := range tests {
		cmd, args, ok := parseCommand(tc.input)
		if cmd != tc.cmd || args != tc.args || ok != tc.ok {
			t.Fatalf("parseCommand(%q)=(%q,%q,%v) want (%q,%q,%v)", tc.input, cmd, args, ok, tc.cmd, tc.args, tc.ok)
		}
	}
}

type memNotes struct {
	notes map[string]string
}

func (m *memNotes) ToolNotes() map[string]string { return m.notes }
func (m *memNotes) RemoveToolNote(tool string) (bool, error) {
	_, ok := m.notes[tool]
	delete(m.notes, tool)
	return ok, nil
}
func (m *memNotes) Clear() (int, error) {
	n := len(m.notes)
	m.notes = map[string]string{}
	return n, nil
}

func TestSessionCommands(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	notes := &memNotes{notes: map[string]string{"add_card": "bold the word"}}
	h := newHarness(t, "", Options{
		ConfigPath: cfgPath,
		Models:     []string{"claude-sonnet-4-20250514", "claude-opus-4-20250514"},
		Notes:      notes,
	}, answer("hi"))
	ctx := context.Background()
	if _, err := h.o.RunTurn(ctx, "hello", nil); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if _, err := h.o.RunInput(ctx, "model 2", &out); err != nil {
		t.Fatal(err)
	}
	if h.provider.model != "claude-opus-4-20250514" {
		t.Fatalf("model=%s", h.provider.model)
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil || !strings.Contains(string(data), "claude-opus-4-20250514") {
		t.Fatalf("model not persisted: %s err=%v", data, err)
	}

	got, _ := h.o.RunInput(ctx, "history", nil)
	if !strings.Contains(got, "You: hello") || !strings.Contains(got, "Assistant: hi") {
		t.Fatalf("history=%q", got)
	}

	got, _ = h.o.RunInput(ctx, "notes remove add_card", nil)
	if got != "Removed note for add_card." || len(notes.notes) != 0 {
		t.Fatalf("notes=%q %v", got, notes.notes)
	}

	got, _ = h.o.RunInput(ctx, "status", nil)
	if !strings.Contains(got, "claude-opus-4-20250514") || !strings.Contains(got, "Messages: 2") {
		t.Fatalf("status=%q", got)
	}

	got, _ = h.o.RunInput(ctx, "reset", nil)
	if !strings.Contains(got, "Conversation cleared. Starting fresh.") {
		t.Fatalf("reset=%q", got)
	}
	if len(h.o.Messages()) != 0 {
		t.Fatal("reset kept turns")
	}
	if _, err := h.store.LoadConversation(); !errors.Is(err, storage.ErrNoConversation) {
		t.Fatalf("saved conversation survived reset: %v", err)
	}
	if log, _ := h.store.LoadChatLog(); len(log) != 1 {
		t.Fatal("reset must keep the chat log")
	}

	got, err = h.o.RunInput(ctx, "exit", nil)
	if !errors.Is(err, ErrQuit) || got != "Goodbye!" {
		t.Fatalf("exit=(%q,%v)", got, err)
	}
}

func TestPickModel(t *testing.T) {
	models := []string{"claude-sonnet-4-20250514", "claude-opus-4-20250514", "claude-3-5-haiku-20241022"}
	tests := []struct {
		arg     string
		want    string
		wantErr bool
	}{
		{"1", models[0], false},
		{"4", "", true},
		{"haiku", models[2], false},
		{"claude", "", true},
		{"gpt-4o", "gpt-4o", false},
	}
	for _, tc := range tests {
		got, err := pickModel(models, tc.arg)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("pickModel(%q)=(%q,%v)", tc.arg, got, err)
		}
	}
}

func TestFormatToolStart(t *testing.T) {
	tests := []struct {
		tool string
		args string
		want string
	}{
		{"add_card", `{"deck_name":"Spanish","front":"<b>hola</b>","back":"hello"}`, `* Add card "hola" to "Spanish"`},
		{"add_multiple_cards", `{"deck_name":"Spanish","cards":[{},{}]}`, `* Add 2 cards to "Spanish"`},
		{"check_words_exist", `{"words":["a","b","c"]}`, "* Check 3 words"},
		{"move_cards_to_deck", `{"note_ids":[1],"deck_name":"Done"}`, `* Move 1 notes to "Done"`},
		{"list_decks", `{}`, "* List decks"},
	}
	for _, tc := range tests {
		if got := formatToolStart(tc.tool, tc.args); got != tc.want {
			t.Fatalf("%s: got=%q want=%q", tc.tool, got, tc.want)
		}
	}
}

func TestSummarizeToolResult(t *testing.T) {
	bulk := `{"ok":true,"summary":"1 of 2 created","items":[{"front":"uno","status":"created"},{"front":"dos","status":"skipped_duplicate"}],"unchecked":["uno"]}`
	want := "1 of 2 created\n+ uno\n= dos (skipped_duplicate)\n! not duplicate-checked: uno"
	if got := summarizeToolResult("add_multiple_cards", bulk); got != want {
		t.Fatalf("got=%q", got)
	}
	failed := `{"ok":false,"error":"anki unreachable","kind":"store_unreachable"}`
	if got := summarizeToolResult("add_card", failed); got != "anki unreachable" {
		t.Fatalf("got=%q", got)
	}
}

func TestContextBar(t *testing.T) {
	if got := contextBar(50, 10); got != "[█████░░░░░] 50.0%" {
		t.Fatalf("got=%q", got)
	}
	if got := contextBar(180, 4); got != "[████] 180.0%" {
		t.Fatalf("overflow got=%q", got)
	}
}

func TestFieldText(t *testing.T) {
	text, bold := fieldText(`<div>el <b>gato</b> &amp; <strong title="a > b">la perra</strong></div>inicio`)
	if text != "el gato & la perrainicio" {
		t.Fatalf("text=%q", text)
	}
	if diff := cmp.Diff([]string{"gato", "la perra"}, bold); diff != "" {
		t.Fatalf("bold (-want +got):\n%s", diff)
	}
	if got := stripHTML("  plain  "); got != "plain" {
		t.Fatalf("stripHTML=%q", got)
	}
}
