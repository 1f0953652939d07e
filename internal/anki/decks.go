package anki

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

type deckStat struct {
	DeckID      int64  `json:"deck_id"`
	Name        string `json:"name"`
	NewCount    int    `json:"new_count"`
	LearnCount  int    `json:"learn_count"`
	ReviewCount int    `json:"review_count"`
	TotalInDeck int    `json:"total_in_deck"`
}

func (s deckStat) deck() Deck {
	return Deck{
		ID:          s.DeckID,
		Name:        s.Name,
		NewCount:    s.NewCount,
		LearnCount:  s.LearnCount,
		ReviewCount: s.ReviewCount,
		TotalCards:  s.TotalInDeck,
	}
}

// Decks lists every deck with its due counts, sorted by name.
func (c *Client) Decks(ctx context.Context) ([]Deck, error) {
	var names []string
	if err := c.call(ctx, "deckNames", nil, &names); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	var stats map[string]deckStat
	if err := c.call(ctx, "getDeckStats", map[string]any{"decks": names}, &stats); err != nil {
		return nil, err
	}
	byName := make(map[string]deckStat, len(stats))
	for _, s := range stats {
		byName[s.Name] = s
	}
	decks := make([]Deck, 0, len(names))
	for _, name := range names {
		s, ok := byName[name]
		if !ok {
			decks = append(decks, Deck{Name: name})
			continue
		}
		decks = append(decks, s.deck())
	}
	sort.Slice(decks, func(i, j int) bool { return decks[i].Name < decks[j].Name })
	return decks, nil
}

func (c *Client) CreateDeck(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, validationErr("createDeck", "deck name is empty")
	}
	var id int64
	if err := c.call(ctx, "createDeck", map[string]any{"deck": name}, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// DeckStats returns counts for one deck, or a KindNotFound error.
func (c *Client) DeckStats(ctx context.Context, name string) (Deck, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Deck{}, validationErr("getDeckStats", "deck name is empty")
	}
	var stats map[string]deckStat
	if err := c.call(ctx, "getDeckStats", map[string]any{"decks": []string{name}}, &stats); err != nil {
		return Deck{}, err
	}
	for _, s := range stats {
		if s.Name == "" {
			s.Name = name
		}
		return s.deck(), nil
	}
	return Deck{}, &Error{Kind: KindNotFound, Action: "getDeckStats", Msg: fmt.Sprintf("deck %q not found", name)}
}

func (c *Client) NoteTypes(ctx context.Context) ([]NoteType, error) {
	var names []string
	if err := c.call(ctx, "modelNames", nil, &names); err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]NoteType, 0, len(names))
	for _, name := range names {
		var fields []string
		if err := c.call(ctx, "modelFieldNames", map[string]any{"modelName": name}, &fields); err != nil {
			if KindOf(err) == KindUnreachable {
				return nil, err
			}
			fields = nil
		}
		out = append(out, NoteType{Name: name, Fields: fields})
	}
	return out, nil
}

// DeckSummary returns deck counts, up to limit sample notes and the sorted tag union of the sample.
func (c *Client) DeckSummary(ctx context.Context, name string, limit int) (DeckSummary, error) {
	deck, err := c.DeckStats(ctx, name)
	if err != nil {
		return DeckSummary{}, err
	}
	notes, err := c.DeckCards(ctx, name, limit)
	if err != nil {
		return DeckSummary{}, err
	}
	seen := map[string]struct{}{}
	tags := make([]string, 0)
	for _, n := range notes {
		for _, t := range n.Tags {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)
	return DeckSummary{Deck: deck, SampleCards: notes, Tags: tags}, nil
}

// DeckCards returns up to limit notes from the deck.
func (c *Client) DeckCards(ctx context.Context, name string, limit int) ([]Note, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationErr("findNotes", "deck name is empty")
	}
	return c.Search(ctx, deckQuery(name), limit)
}

// DeckFronts returns the front field of up to limit notes in the deck.
func (c *Client) DeckFronts(ctx context.Context, name string, limit int) ([]string, error) {
	notes, err := c.DeckCards(ctx, name, limit)
	if err != nil {
		return nil, err
	}
	fronts := make([]string, 0, len(notes))
	for _, n := range notes {
		fronts = append(fronts, n.Front)
	}
	return fronts, nil
}

const statsCardCap = 2000

type cardInfo struct {
	CardID   int64  `json:"cardId"`
	Type     int    `json:"type"`
	Interval int    `json:"interval"`
	Reps     int    `json:"reps"`
	Lapses   int    `json:"lapses"`
	DeckName string `json:"deckName"`
}

// CollectionStats aggregates deck counts and card-level review history.
// Card details are read for at most the first 2000 cards.
func (c *Client) CollectionStats(ctx context.Context) (CollectionStats, error) {
	decks, err := c.Decks(ctx)
	if err != nil {
		return CollectionStats{}, err
	}
	var st CollectionStats
	st.TotalDecks = len(decks)
	for _, d := range decks {
		st.TotalNew += d.NewCount
		st.TotalLearning += d.LearnCount
		st.TotalReview += d.ReviewCount
		st.Decks = append(st.Decks, DeckDue{Name: d.Name, Due: d.Due()})
	}

	var noteIDs, cardIDs []int64
	if err := c.call(ctx, "findNotes", map[string]any{"query": "deck:*"}, &noteIDs); err != nil {
		return CollectionStats{}, err
	}
	if err := c.call(ctx, "findCards", map[string]any{"query": "deck:*"}, &cardIDs); err != nil {
		return CollectionStats{}, err
	}
	st.TotalNotes = len(noteIDs)
	st.TotalCards = len(cardIDs)
	if len(cardIDs) == 0 {
		return st, nil
	}

	sample := cardIDs
	if len(sample) > statsCardCap {
		sample = sample[:statsCardCap]
		st.Note = fmt.Sprintf("Stats based on first %d of %d cards; retention and maturity may be incomplete.", statsCardCap, len(cardIDs))
	}
	var infos []cardInfo
	if err := c.call(ctx, "cardsInfo", map[string]any{"cards": sample}, &infos); err != nil {
		if KindOf(err) == KindUnreachable {
			return CollectionStats{}, err
		}
		st.UnseenCount = st.TotalNew
		st.YoungCount = st.TotalLearning
		st.Note = "Could not fetch card details; retention unavailable and counts are deck-level estimates."
		return st, nil
	}
	for _, info := range infos {
		st.TotalReps += info.Reps
		st.TotalLapses += info.Lapses
		switch {
		case info.Type == 0:
			st.UnseenCount++
		case info.Interval >= 21:
			st.MatureCount++
		default:
			st.YoungCount++
		}
	}
	if st.TotalReps > 0 {
		rate := float64(st.TotalReps-st.TotalLapses) / float64(st.TotalReps) * 100
		st.RetentionRate = math.Round(rate*10) / 10
	}
	return st, nil
}
