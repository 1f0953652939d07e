package tools

import (
	"context"
	"encoding/json"
	"strings"

	"ankicli/internal/anki"
)

func (r *Registry) searchCards(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := decode(OpSearchCards, args, &in); err != nil {
		return nil, err
	}
	notes, err := r.deps.Anki.Search(ctx, in.Query, orDefault(in.Limit, defaultSearchLimit))
	if err != nil {
		return nil, err
	}
	return map[string]any{"query": in.Query, "cards": notes, "count": len(notes)}, nil
}

type wordArgs struct {
	Word     string   `json:"word"`
	Words    []string `json:"words"`
	DeckName string   `json:"deck_name"`
}

func (a wordArgs) terms() []string {
	if a.Word != "" {
		return []string{a.Word}
	}
	return a.Words
}

// CheckedTerms returns the words a duplicate-check call looked up, or nil
// when op is not a duplicate check.
func CheckedTerms(op Op, args json.RawMessage) []string {
	if !op.ChecksDuplicates() {
		return nil
	}
	var in wordArgs
	if err := json.Unmarshal(normalizeArgs(args), &in); err != nil {
		return nil
	}
	return in.terms()
}

// checkWords serves the four read-only duplicate lookups. Substring checks
// match any field; tag lookups match word:: tags exactly.
func (r *Registry) checkWords(ctx context.Context, op Op, args json.RawMessage) (map[string]any, error) {
	var in wordArgs
	if err := decode(op, args, &in); err != nil {
		return nil, err
	}
	terms := in.terms()
	var (
		matches []anki.TermMatch
		err     error
	)
	switch op {
	case OpFindCardByWord, OpFindCardsByWords:
		for i, t := range terms {
			terms[i] = strings.ToLower(strings.TrimSpace(t))
		}
		matches, err = r.deps.Anki.FindByWordTag(ctx, terms, in.DeckName)
	default:
		matches, err = r.deps.Anki.CheckExists(ctx, terms, in.DeckName)
	}
	if err != nil {
		return nil, err
	}

	found := make([]string, 0, len(matches))
	missing := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Exists {
			found = append(found, m.Term)
		} else {
			missing = append(missing, m.Term)
		}
	}
	payload := map[string]any{"found": found, "not_found": missing}
	if in.DeckName != "" {
		payload["deck"] = in.DeckName
	}
	if in.Word != "" && len(matches) == 1 {
		m := matches[0]
		payload["word"] = m.Term
		payload["exists"] = m.Exists
		payload["matches"] = m.Matches
		payload["cards"] = m.Notes
		return payload, nil
	}
	payload["results"] = matches
	return payload, nil
}
