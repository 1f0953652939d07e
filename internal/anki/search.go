package anki

import (
	"context"
	"strings"
)

// existsShowLimit caps the sample notes returned per matched term.
const existsShowLimit = 5

func quoteQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// literalTerm escapes a term for use inside a quoted search so that Anki
// reads it as plain text: `*` and `_` are wildcards and `:` starts a field search.
var literalTerm = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`*`, `\*`,
	`_`, `\_`,
	`:`, `\:`,
)

func deckQuery(name string) string {
	return `deck:"` + quoteQuery(name) + `"`
}

// WordTag returns the tag that marks a card as teaching word.
func WordTag(word string) string {
	w := strings.ToLower(strings.TrimSpace(word))
	return "word::" + strings.Join(strings.Fields(w), "_")
}

// Search runs an Anki search query and returns up to limit notes (limit <= 0 means all).
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Note, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationErr("findNotes", "query is empty")
	}
	ids, err := c.findNotes(ctx, query)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	infos, err := c.notesInfo(ctx, ids)
	if err != nil {
		return nil, err
	}
	notes := make([]Note, 0, len(infos))
	for _, info := range infos {
		if info.NoteID == 0 {
			continue
		}
		notes = append(notes, info.note())
	}
	return notes, nil
}

func (c *Client) findNotes(ctx context.Context, query string) ([]int64, error) {
	var ids []int64
	if err := c.call(ctx, "findNotes", map[string]any{"query": query}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// CheckExists searches each term as a substring of any field, optionally within one deck.
// It never writes. Results are in input order.
func (c *Client) CheckExists(ctx context.Context, terms []string, deck string) ([]TermMatch, error) {
	if len(terms) == 0 {
		return nil, validationErr("findNotes", "no words given")
	}
	prefix := ""
	if d := strings.TrimSpace(deck); d != "" {
		prefix = deckQuery(d) + " "
	}
	out := make([]TermMatch, 0, len(terms))
	for _, term := range terms {
		t := strings.TrimSpace(term)
		if t == "" {
			out = append(out, TermMatch{Term: term})
			continue
		}
		m, err := c.matchQuery(ctx, term, prefix+`"*`+literalTerm.Replace(t)+`*"`)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// FindByWordTag looks terms up by their word:: tag, optionally within one deck.
func (c *Client) FindByWordTag(ctx context.Context, terms []string, deck string) ([]TermMatch, error) {
	if len(terms) == 0 {
		return nil, validationErr("findNotes", "no words given")
	}
	prefix := ""
	if d := strings.TrimSpace(deck); d != "" {
		prefix = deckQuery(d) + " "
	}
	out := make([]TermMatch, 0, len(terms))
	for _, term := range terms {
		if strings.TrimSpace(term) == "" {
			out = append(out, TermMatch{Term: term})
			continue
		}
		m, err := c.matchQuery(ctx, term, prefix+`tag:"`+quoteQuery(WordTag(term))+`"`)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Client) matchQuery(ctx context.Context, term, query string) (TermMatch, error) {
	ids, err := c.findNotes(ctx, query)
	if err != nil {
		return TermMatch{}, err
	}
	m := TermMatch{Term: term, Matches: len(ids), Exists: len(ids) > 0}
	if len(ids) > existsShowLimit {
		ids = ids[:existsShowLimit]
	}
	infos, err := c.notesInfo(ctx, ids)
	if err != nil {
		return TermMatch{}, err
	}
	for _, info := range infos {
		if info.NoteID != 0 {
			m.Notes = append(m.Notes, info.note())
		}
	}
	return m, nil
}
