package tools

import (
	"context"
	"encoding/json"
	"errors"

	"ankicli/internal/anki"
	"ankicli/internal/delegate"
)

const (
	allCardsFetchLimit = 1000
	previewLimit       = 5
	errorListLimit     = 3
)

type delegateArgs struct {
	NoteIDs  []int64 `json:"note_ids"`
	DeckName string  `json:"deck_name"`
	Prompt   string  `json:"prompt"`
	Workers  int     `json:"workers"`
	DryRun   bool    `json:"dry_run"`
	Limit    int     `json:"limit"`
}

type delegateError struct {
	NoteID int64  `json:"note_id"`
	Error  string `json:"error"`
}

func (r *Registry) progressFn(op Op) func(delegate.Progress) {
	if r.deps.OnDelegateProgress == nil {
		return nil
	}
	return func(p delegate.Progress) { r.deps.OnDelegateProgress(op, p) }
}

func (r *Registry) cardSubsetDelegate(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in delegateArgs
	if err := decode(OpCardSubsetDelegate, args, &in); err != nil {
		return nil, err
	}
	cards := make([]anki.Note, 0, len(in.NoteIDs))
	for _, id := range in.NoteIDs {
		n, err := r.deps.Anki.GetNote(ctx, id)
		if err != nil {
			if anki.KindOf(err) == anki.KindNotFound {
				continue
			}
			return nil, err
		}
		cards = append(cards, n)
	}
	if len(cards) == 0 {
		return nil, &anki.Error{Kind: anki.KindNotFound, Action: "notesInfo", Msg: "no cards found for the given note IDs"}
	}
	return r.runCardDelegate(ctx, OpCardSubsetDelegate, cards, in)
}

func (r *Registry) allCardsDelegate(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in delegateArgs
	if err := decode(OpAllCardsDelegate, args, &in); err != nil {
		return nil, err
	}
	cards, err := r.deps.Anki.DeckCards(ctx, in.DeckName, orDefault(in.Limit, allCardsFetchLimit))
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, &anki.Error{Kind: anki.KindNotFound, Action: "findNotes", Msg: "no cards found in deck " + in.DeckName}
	}
	if in.Limit > 0 && len(cards) > in.Limit {
		cards = cards[:in.Limit]
	}
	payload, err := r.runCardDelegate(ctx, OpAllCardsDelegate, cards, in)
	if payload != nil {
		payload["deck"] = in.DeckName
	}
	return payload, err
}

// runCardDelegate processes cards and, unless dry run, applies every change.
func (r *Registry) runCardDelegate(ctx context.Context, op Op, cards []anki.Note, in delegateArgs) (map[string]any, error) {
	results := r.deps.Delegates.ProcessCards(ctx, cards, in.Prompt, in.Workers, r.progressFn(op))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		changed []delegate.CardResult
		errs    []delegateError
	)
	for _, res := range results {
		switch {
		case res.Err != "":
			errs = append(errs, delegateError{NoteID: res.NoteID, Error: res.Err})
		case res.Changed:
			changed = append(changed, res)
		}
	}

	payload := map[string]any{
		"processed": len(results),
		"changed":   len(changed),
		"dry_run":   in.DryRun,
	}
	if in.DryRun {
		preview := changed
		if len(preview) > previewLimit {
			preview = preview[:previewLimit]
		}
		payload["preview"] = preview
		payload["message"] = "dry run: no changes applied"
	} else {
		applied := 0
		for _, res := range changed {
			out, err := r.deps.Anki.UpdateNote(ctx, res.Update())
			if err == nil {
				err = outcomeErr("updateNote", out)
			}
			if err != nil {
				if errors.Is(err, anki.ErrUnreachable) {
					return nil, err
				}
				errs = append(errs, delegateError{NoteID: res.NoteID, Error: err.Error()})
				continue
			}
			applied++
		}
		payload["applied"] = applied
	}
	payload["errors_total"] = len(errs)
	if len(errs) > errorListLimit {
		errs = errs[:errorListLimit]
	}
	payload["errors"] = errs
	return payload, nil
}

func (r *Registry) batchDelegate(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		Items        []string `json:"items"`
		DelegateType string   `json:"delegate_type"`
		Prompt       string   `json:"prompt"`
		Workers      int      `json:"workers"`
	}
	if err := decode(OpBatchDelegate, args, &in); err != nil {
		return nil, err
	}
	if in.DelegateType == "" && in.Prompt == "" {
		return nil, invalid(OpBatchDelegate, "either delegate_type or prompt is required")
	}
	results, err := r.deps.Delegates.ProcessBatch(ctx, in.Items, in.DelegateType, in.Prompt, in.Workers, r.progressFn(OpBatchDelegate))
	if err != nil {
		return nil, invalid(OpBatchDelegate, "%v", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	failed := 0
	for _, res := range results {
		if res.Err != "" {
			failed++
		}
	}
	return map[string]any{
		"delegate_type": in.DelegateType,
		"results":       results,
		"succeeded":     len(results) - failed,
		"failed":        failed,
	}, nil
}
