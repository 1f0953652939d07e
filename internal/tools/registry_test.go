package tools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ankicli/internal/anki"
	"ankicli/internal/delegate"
	"ankicli/internal/progress"
)

// fakeStore implements the calls these tests make; anything else panics
// through the nil embedded interface.
type fakeStore struct {
	Flashcards
	calls   []string
	err     error
	notes   map[int64]anki.Note
	updates []anki.NoteUpdate
}

func (f *fakeStore) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeStore) AddNote(_ context.Context, deck, _ string, spec anki.CardSpec) (anki.ItemOutcome, error) {
	if err := f.record("AddNote"); err != nil {
		return anki.ItemOutcome{}, err
	}
	return anki.ItemOutcome{Front: spec.Front, NoteID: 42, Status: anki.StatusCreated}, nil
}

func (f *fakeStore) AddNotes(_ context.Context, _, _ string, specs []anki.CardSpec) (anki.BulkResult, error) {
	if err := f.record("AddNotes"); err != nil {
		return anki.BulkResult{}, err
	}
	res := anki.BulkResult{}
	for i, s := range specs {
		out := anki.ItemOutcome{Index: i, Front: s.Front, Status: anki.StatusCreated, NoteID: int64(100 + i)}
		if s.Front == "dog" {
			out = anki.ItemOutcome{Index: i, Front: s.Front, Status: anki.StatusDuplicate}
			res.Skipped++
		} else {
			res.Succeeded++
		}
		res.Items = append(res.Items, out)
	}
	return res, nil
}

func (f *fakeStore) CheckExists(_ context.Context, terms []string, _ string) ([]anki.TermMatch, error) {
	if err := f.record("CheckExists"); err != nil {
		return nil, err
	}
	out := make([]anki.TermMatch, len(terms))
	for i, t := range terms {
		out[i] = anki.TermMatch{Term: t}
		if t == "perro" {
			out[i].Exists, out[i].Matches = true, 1
		}
	}
	return out, nil
}

func (f *fakeStore) FindByWordTag(_ context.Context, terms []string, _ string) ([]anki.TermMatch, error) {
	if err := f.record("FindByWordTag"); err != nil {
		return nil, err
	}
	out := make([]anki.TermMatch, len(terms))
	for i, t := range terms {
		out[i] = anki.TermMatch{Term: t}
	}
	return out, nil
}

func (f *fakeStore) DeckCards(_ context.Context, _ string, limit int) ([]anki.Note, error) {
	if err := f.record("DeckCards"); err != nil {
		return nil, err
	}
	out := []anki.Note{}
	for id := int64(1); id <= int64(len(f.notes)) && len(out) < limit; id++ {
		out = append(out, f.notes[id])
	}
	return out, nil
}

func (f *fakeStore) UpdateNote(_ context.Context, u anki.NoteUpdate) (anki.ItemOutcome, error) {
	if err := f.record("UpdateNote"); err != nil {
		return anki.ItemOutcome{}, err
	}
	f.updates = append(f.updates, u)
	return anki.ItemOutcome{NoteID: u.ID, Status: anki.StatusUpdated}, nil
}

type fakeNotes map[string]string

func (n fakeNotes) ToolNotes() map[string]string { return n }
func (n fakeNotes) SetToolNote(tool, note string) error {
	n[tool] = note
	return nil
}
func (n fakeNotes) RemoveToolNote(tool string) (bool, error) {
	_, ok := n[tool]
	delete(n, tool)
	return ok, nil
}

type fakeDelegator struct{}

func (fakeDelegator) ProcessCards(_ context.Context, cards []anki.Note, _ string, _ int, onProgress func(delegate.Progress)) []delegate.CardResult {
	out := make([]delegate.CardResult, len(cards))
	for i, c := range cards {
		back := "<b>" + c.Back + "</b>"
		out[i] = delegate.CardResult{NoteID: c.ID, Back: &back, Changed: c.ID != 2}
		if onProgress != nil {
			onProgress(delegate.Progress{Completed: i + 1, Total: len(cards), OK: true})
		}
	}
	return out
}

func (fakeDelegator) ProcessBatch(_ context.Context, items []string, _, _ string, _ int, _ func(delegate.Progress)) ([]delegate.BatchResult, error) {
	out := make([]delegate.BatchResult, len(items))
	for i, it := range items {
		out[i] = delegate.BatchResult{Item: it, Result: map[string]any{"word": it}}
	}
	return out, nil
}

func newTestRegistry(t *testing.T, store *fakeStore) *Registry {
	t.Helper()
	r, err := NewRegistry(Deps{
		Anki:      store,
		Progress:  progress.Open(filepath.Join(t.TempDir(), progress.FileName)),
		Notes:     fakeNotes{},
		Delegates: fakeDelegator{},
		Now:       func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func decodePayload(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, s)
	}
	return m
}

func TestCatalogIsClosedAndComplete(t *testing.T) {
	if len(Ops()) != 32 {
		t.Fatalf("catalog has %d ops", len(Ops()))
	}
	seen := map[string]bool{}
	for _, op := range Ops() {
		name := op.String()
		if name == "" || name == "unknown" || seen[name] {
			t.Fatalf("bad or duplicate name for op %d: %q", op, name)
		}
		seen[name] = true
		back, ok := ParseOp(name)
		if !ok || back != op {
			t.Fatalf("ParseOp(%q) = %v, %v", name, back, ok)
		}
		if _, ok := specs[op]; !ok {
			t.Fatalf("op %s has no schema", name)
		}
	}
	if _, ok := ParseOp("bash"); ok {
		t.Fatal("unknown names must not parse")
	}
	if Op(99).String() != "unknown" {
		t.Fatal("out-of-range op should stringify as unknown")
	}
}

func TestDefinitionsHideUnwiredTools(t *testing.T) {
	r := newTestRegistry(t, &fakeStore{})
	if r.Has("compact_conversation") {
		t.Fatal("compaction tool should be hidden until a compactor is set")
	}
	if got := len(r.Definitions()); got != 31 {
		t.Fatalf("definitions=%d, want 31", got)
	}
	r.SetCompactor(compactorFunc(func(context.Context, string) (CompactReport, error) { return CompactReport{}, nil }))
	if got := len(r.Definitions()); got != 32 {
		t.Fatalf("definitions=%d, want 32", got)
	}
}

type compactorFunc func(context.Context, string) (CompactReport, error)

func (f compactorFunc) CompactNow(ctx context.Context, reason string) (CompactReport, error) {
	return f(ctx, reason)
}

func TestExecuteUnknownTool(t *testing.T) {
	r := newTestRegistry(t, &fakeStore{})
	out, err := r.Execute(context.Background(), "rm_rf", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("err=%v", err)
	}
	res, _ := ParseResult(out)
	if res.OK || res.Kind != KindValidation {
		t.Fatalf("result=%+v", res)
	}
}

func TestValidationFailureNeverReachesStore(t *testing.T) {
	store := &fakeStore{}
	r := newTestRegistry(t, store)
	cases := []string{
		`{"deck_name":"Spanish","front":"cat"}`,
		`{"deck_name":"","front":"cat","back":"gato"}`,
		`{"deck_name":"Spanish","front":"cat","back":"gato","tags":"not-a-list"}`,
		`not json`,
	}
	for _, args := range cases {
		out, err := r.Execute(context.Background(), "add_card", json.RawMessage(args))
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("args %s: err=%v", args, err)
		}
		res, _ := ParseResult(out)
		if res.OK || res.Kind != KindValidation {
			t.Fatalf("args %s: result=%+v", args, res)
		}
	}
	if len(store.calls) != 0 {
		t.Fatalf("store was called: %v", store.calls)
	}
}

func TestAddMultipleCardsReportsEveryItem(t *testing.T) {
	r := newTestRegistry(t, &fakeStore{})
	args := `{"deck_name":"Spanish","cards":[{"front":"cat","back":"gato"},{"front":"dog","back":"perro"},{"front":"house","back":"casa"}]}`
	out, err := r.Execute(context.Background(), "add_multiple_cards", json.RawMessage(args))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m := decodePayload(t, out)
	items := m["items"].([]any)
	if len(items) != 3 {
		t.Fatalf("items=%d, want 3", len(items))
	}
	for i, want := range []string{"created", "skipped_duplicate", "created"} {
		item := items[i].(map[string]any)
		if item["status"] != want || int(item["index"].(float64)) != i {
			t.Fatalf("item %d = %v, want %s", i, item, want)
		}
	}
	if m["summary"] != "2 of 3 created" {
		t.Fatalf("summary=%v", m["summary"])
	}
}

func TestStoreUnreachableEnvelope(t *testing.T) {
	store := &fakeStore{err: &anki.Error{Kind: anki.KindUnreachable, Action: "addNote", Msg: "Cannot connect to Anki. Make sure Anki is running with AnkiConnect installed."}}
	r := newTestRegistry(t, store)
	out, err := r.Execute(context.Background(), "add_card", json.RawMessage(`{"deck_name":"D","front":"a","back":"b"}`))
	if !errors.Is(err, anki.ErrUnreachable) {
		t.Fatalf("err=%v", err)
	}
	res, _ := ParseResult(out)
	if res.OK || res.Kind != KindStoreUnreachable || res.Retryable {
		t.Fatalf("result=%+v", res)
	}
	if !strings.Contains(res.Error, "Cannot connect to Anki") {
		t.Fatalf("error should name the cause: %q", res.Error)
	}
}

func TestCheckWordsSplitsFoundAndMissing(t *testing.T) {
	r := newTestRegistry(t, &fakeStore{})
	out, err := r.Execute(context.Background(), "check_words_exist", json.RawMessage(`{"words":["perro","gato"],"deck_name":"Spanish"}`))
	if err != nil {
		t.Fatal(err)
	}
	m := decodePayload(t, out)
	if found := m["found"].([]any); len(found) != 1 || found[0] != "perro" {
		t.Fatalf("found=%v", m["found"])
	}
	if missing := m["not_found"].([]any); len(missing) != 1 || missing[0] != "gato" {
		t.Fatalf("not_found=%v", m["not_found"])
	}

	out, err = r.Execute(context.Background(), "find_card_by_word", json.RawMessage(`{"word":" Hablar "}`))
	if err != nil {
		t.Fatal(err)
	}
	if m := decodePayload(t, out); m["word"] != "hablar" || m["exists"] != false {
		t.Fatalf("find_card_by_word=%v", m)
	}
}

func TestCheckedTerms(t *testing.T) {
	if got := CheckedTerms(OpCheckWordExists, json.RawMessage(`{"word":"gato"}`)); len(got) != 1 || got[0] != "gato" {
		t.Fatalf("got=%v", got)
	}
	if got := CheckedTerms(OpFindCardsByWords, json.RawMessage(`{"words":["a","b"]}`)); len(got) != 2 {
		t.Fatalf("got=%v", got)
	}
	if got := CheckedTerms(OpAddCard, json.RawMessage(`{"word":"x"}`)); got != nil {
		t.Fatalf("non-check op returned %v", got)
	}
}

func TestUpdateLearningSummary(t *testing.T) {
	r := newTestRegistry(t, &fakeStore{})
	args := `{"level":"A1","words_added":["hola","adiós"],"grammar_concepts_learned":["Present tense"],"vocabulary_gaps":["weather"],"estimated_coverage":140,"notes":"steady"}`
	out, err := r.Execute(context.Background(), "update_learning_summary", json.RawMessage(args))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m := decodePayload(t, out)
	if m["estimated_coverage"].(float64) != 100 {
		t.Fatalf("coverage should clamp: %v", m["estimated_coverage"])
	}
	if !strings.Contains(m["message"].(string), "+2 words at A1") {
		t.Fatalf("message=%v", m["message"])
	}

	out, err = r.Execute(context.Background(), "get_learning_summary", nil)
	if err != nil {
		t.Fatal(err)
	}
	s := decodePayload(t, out)
	if s["total_cards_added"].(float64) != 2 || s["notes"] != "steady" {
		t.Fatalf("summary=%v", s)
	}
	if rec := r.deps.Progress.Get("A1"); rec.Notes != "steady" || len(rec.Known) != 3 {
		t.Fatalf("A1 record=%+v", rec)
	}

	if _, err := r.Execute(context.Background(), "update_learning_summary", json.RawMessage(`{"level":"C2","words_added":[]}`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown level should fail validation: %v", err)
	}
}

func TestToolNotes(t *testing.T) {
	r := newTestRegistry(t, &fakeStore{})
	ctx := context.Background()
	if _, err := r.Execute(ctx, "set_tool_note", json.RawMessage(`{"tool_name":"add_card","note":"tag with lesson"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Execute(ctx, "set_tool_note", json.RawMessage(`{"tool_name":"nope","note":"x"}`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown tool note target: %v", err)
	}
	out, _ := r.Execute(ctx, "get_tool_notes", nil)
	if m := decodePayload(t, out); m["count"].(float64) != 1 {
		t.Fatalf("notes=%v", m)
	}
	out, _ = r.Execute(ctx, "remove_tool_note", json.RawMessage(`{"tool_name":"add_card"}`))
	if m := decodePayload(t, out); m["removed"] != true {
		t.Fatalf("remove=%v", m)
	}
}

func TestAllCardsDelegateDryRunAppliesNothing(t *testing.T) {
	store := &fakeStore{notes: map[int64]anki.Note{
		1: {ID: 1, Front: "cat", Back: "gato"},
		2: {ID: 2, Front: "dog", Back: "perro"},
		3: {ID: 3, Front: "house", Back: "casa"},
	}}
	r := newTestRegistry(t, store)
	ctx := context.Background()

	out, err := r.Execute(ctx, "all_cards_delegate", json.RawMessage(`{"deck_name":"Spanish","prompt":"bold it","dry_run":true}`))
	if err != nil {
		t.Fatal(err)
	}
	m := decodePayload(t, out)
	if m["processed"].(float64) != 3 || m["changed"].(float64) != 2 || len(store.updates) != 0 {
		t.Fatalf("dry run payload=%v updates=%v", m, store.updates)
	}

	out, err = r.Execute(ctx, "all_cards_delegate", json.RawMessage(`{"deck_name":"Spanish","prompt":"bold it"}`))
	if err != nil {
		t.Fatal(err)
	}
	m = decodePayload(t, out)
	if m["applied"].(float64) != 2 || len(store.updates) != 2 {
		t.Fatalf("apply payload=%v updates=%v", m, store.updates)
	}
	if *store.updates[0].Back != "<b>gato</b>" {
		t.Fatalf("update=%+v", store.updates[0])
	}
}

func TestBatchDelegateNeedsTypeOrPrompt(t *testing.T) {
	r := newTestRegistry(t, &fakeStore{})
	if _, err := r.Execute(context.Background(), "batch_delegate", json.RawMessage(`{"items":["gato"]}`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("err=%v", err)
	}
	out, err := r.Execute(context.Background(), "batch_delegate", json.RawMessage(`{"items":["gato","perro"],"delegate_type":"cognate_scan"}`))
	if err != nil {
		t.Fatal(err)
	}
	if m := decodePayload(t, out); m["succeeded"].(float64) != 2 {
		t.Fatalf("payload=%v", m)
	}
}
