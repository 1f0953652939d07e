package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"ankicli/internal/anki"
)

const (
	defaultSummaryLimit = 100
	defaultCardsLimit   = 50
	defaultFrontsLimit  = 200
	defaultSearchLimit  = 20
)

type deckArgs struct {
	DeckName string `json:"deck_name"`
	Limit    int    `json:"limit"`
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (r *Registry) listDecks(ctx context.Context) (map[string]any, error) {
	decks, err := r.deps.Anki.Decks(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"decks": decks, "count": len(decks)}, nil
}

func (r *Registry) createDeck(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decode(OpCreateDeck, args, &in); err != nil {
		return nil, err
	}
	id, err := r.deps.Anki.CreateDeck(ctx, in.Name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deck_id": id, "name": in.Name}, nil
}

func (r *Registry) deckStats(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in deckArgs
	if err := decode(OpGetDeckStats, args, &in); err != nil {
		return nil, err
	}
	d, err := r.deps.Anki.DeckStats(ctx, in.DeckName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deck": d, "due_today": d.Due()}, nil
}

func (r *Registry) deckSummary(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in deckArgs
	if err := decode(OpGetDeckSummary, args, &in); err != nil {
		return nil, err
	}
	s, err := r.deps.Anki.DeckSummary(ctx, in.DeckName, orDefault(in.Limit, defaultSummaryLimit))
	if err != nil {
		return nil, err
	}
	return map[string]any{"summary": s}, nil
}

func (r *Registry) deckCards(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in deckArgs
	if err := decode(OpGetDeckCards, args, &in); err != nil {
		return nil, err
	}
	cards, err := r.deps.Anki.DeckCards(ctx, in.DeckName, orDefault(in.Limit, defaultCardsLimit))
	if err != nil {
		return nil, err
	}
	return map[string]any{"deck": in.DeckName, "cards": cards, "count": len(cards)}, nil
}

func (r *Registry) deckFronts(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in deckArgs
	if err := decode(OpListDeckFronts, args, &in); err != nil {
		return nil, err
	}
	fronts, err := r.deps.Anki.DeckFronts(ctx, in.DeckName, orDefault(in.Limit, defaultFrontsLimit))
	if err != nil {
		return nil, err
	}
	return map[string]any{"deck": in.DeckName, "fronts": fronts, "count": len(fronts)}, nil
}

func (r *Registry) collectionStats(ctx context.Context) (map[string]any, error) {
	s, err := r.deps.Anki.CollectionStats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"stats": s, "due_today": s.TotalDue()}, nil
}

func (r *Registry) noteTypes(ctx context.Context) (map[string]any, error) {
	types, err := r.deps.Anki.NoteTypes(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"note_types": types}, nil
}

// outcomeErr turns a rejected single-item outcome into a typed error.
func outcomeErr(action string, out anki.ItemOutcome) error {
	if out.Status != anki.StatusFailed {
		return nil
	}
	return &anki.Error{Kind: anki.KindRemote, Action: action, Msg: out.Reason}
}

func (r *Registry) addCard(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		DeckName string   `json:"deck_name"`
		Front    string   `json:"front"`
		Back     string   `json:"back"`
		Tags     []string `json:"tags"`
		NoteType string   `json:"note_type"`
	}
	if err := decode(OpAddCard, args, &in); err != nil {
		return nil, err
	}
	out, err := r.deps.Anki.AddNote(ctx, in.DeckName, in.NoteType, anki.CardSpec{Front: in.Front, Back: in.Back, Tags: in.Tags})
	if err != nil {
		return nil, err
	}
	if err := outcomeErr("addNote", out); err != nil {
		return nil, err
	}
	payload := map[string]any{"status": out.Status, "front": out.Front, "deck": in.DeckName}
	if out.NoteID != 0 {
		payload["note_id"] = out.NoteID
	}
	if out.Status == anki.StatusDuplicate {
		payload["message"] = "a card with this front already exists; nothing was added"
	}
	return payload, nil
}

func (r *Registry) addMultipleCards(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		DeckName string          `json:"deck_name"`
		Cards    []anki.CardSpec `json:"cards"`
		NoteType string          `json:"note_type"`
	}
	if err := decode(OpAddMultipleCards, args, &in); err != nil {
		return nil, err
	}
	res, err := r.deps.Anki.AddNotes(ctx, in.DeckName, in.NoteType, in.Cards)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"deck":      in.DeckName,
		"items":     res.Items,
		"succeeded": res.Succeeded,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
		"summary":   fmt.Sprintf("%d of %d created", res.Succeeded, len(in.Cards)),
	}, nil
}

func (r *Registry) getNote(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		NoteID int64 `json:"note_id"`
	}
	if err := decode(OpGetNote, args, &in); err != nil {
		return nil, err
	}
	n, err := r.deps.Anki.GetNote(ctx, in.NoteID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"note": n}, nil
}

// updateArgs keeps absent and empty tags apart: absent leaves tags alone.
type updateArgs struct {
	NoteID int64     `json:"note_id"`
	Front  *string   `json:"front"`
	Back   *string   `json:"back"`
	Tags   *[]string `json:"tags"`
}

func (a updateArgs) update() anki.NoteUpdate {
	u := anki.NoteUpdate{ID: a.NoteID, Front: a.Front, Back: a.Back}
	if a.Tags != nil {
		u.Tags = append([]string{}, (*a.Tags)...)
	}
	return u
}

func (r *Registry) updateCard(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in updateArgs
	if err := decode(OpUpdateCard, args, &in); err != nil {
		return nil, err
	}
	out, err := r.deps.Anki.UpdateNote(ctx, in.update())
	if err != nil {
		return nil, err
	}
	if err := outcomeErr("updateNote", out); err != nil {
		return nil, err
	}
	changed := 0
	if out.Status == anki.StatusUpdated {
		changed = 1
	}
	payload := map[string]any{"note_id": out.NoteID, "status": out.Status, "changed": changed}
	if out.Status == anki.StatusNotFound {
		payload["message"] = out.Reason + "; nothing was changed"
	}
	return payload, nil
}

func (r *Registry) updateMultipleCards(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		Updates []updateArgs `json:"updates"`
	}
	if err := decode(OpUpdateMultipleCards, args, &in); err != nil {
		return nil, err
	}
	updates := make([]anki.NoteUpdate, len(in.Updates))
	for i, u := range in.Updates {
		updates[i] = u.update()
	}
	res, err := r.deps.Anki.UpdateNotes(ctx, updates)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"items":     res.Items,
		"succeeded": res.Succeeded,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
		"changed":   res.Succeeded,
		"summary":   fmt.Sprintf("%d of %d updated", res.Succeeded, len(updates)),
	}, nil
}

type noteIDsArgs struct {
	NoteIDs  []int64  `json:"note_ids"`
	Tags     []string `json:"tags"`
	DeckName string   `json:"deck_name"`
}

func (r *Registry) deleteCards(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in noteIDsArgs
	if err := decode(OpDeleteCards, args, &in); err != nil {
		return nil, err
	}
	n, err := r.deps.Anki.DeleteNotes(ctx, in.NoteIDs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": n, "requested": len(in.NoteIDs)}, nil
}

func (r *Registry) changeTags(ctx context.Context, op Op, args json.RawMessage) (map[string]any, error) {
	var in noteIDsArgs
	if err := decode(op, args, &in); err != nil {
		return nil, err
	}
	var err error
	if op == OpAddTagsToCards {
		err = r.deps.Anki.AddTags(ctx, in.NoteIDs, in.Tags)
	} else {
		err = r.deps.Anki.RemoveTags(ctx, in.NoteIDs, in.Tags)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"notes": len(in.NoteIDs), "tags": in.Tags}, nil
}

func (r *Registry) moveCards(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in noteIDsArgs
	if err := decode(OpMoveCardsToDeck, args, &in); err != nil {
		return nil, err
	}
	n, err := r.deps.Anki.MoveNotes(ctx, in.NoteIDs, in.DeckName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"cards_moved": n, "deck": in.DeckName}, nil
}

func (r *Registry) sync(ctx context.Context) (map[string]any, error) {
	if err := r.deps.Anki.Sync(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"message": "sync completed"}, nil
}
