package delegate

import (
	"context"
	"fmt"
	"strings"

	"ankicli/internal/anki"
)

const cardSystemPrompt = `You are a flashcard transformation assistant. You receive a flashcard and instructions for how to transform it.

IMPORTANT: Respond ONLY with valid JSON in this exact format:
{
    "front": "new front content or null if unchanged",
    "back": "new back content or null if unchanged",
    "tags": ["list", "of", "tags"] or null if unchanged,
    "reasoning": "brief explanation of what you changed"
}

Guidelines:
- Use HTML formatting: <b>bold</b>, <i>italic</i>, <br> for line breaks
- Set a field to null if you are NOT changing it
- Only make changes that are directly requested
- Be conservative - don't change things unless needed`

// CardResult is the sub-agent's proposal for one card. Nil fields are unchanged.
type CardResult struct {
	NoteID    int64     `json:"note_id"`
	Original  anki.Note `json:"-"`
	Front     *string   `json:"front,omitempty"`
	Back      *string   `json:"back,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	Changed   bool      `json:"changed"`
	Err       string    `json:"error,omitempty"`
}

// Update converts a changed result into a note update.
func (r CardResult) Update() anki.NoteUpdate {
	return anki.NoteUpdate{ID: r.NoteID, Front: r.Front, Back: r.Back, Tags: r.Tags}
}

type cardReply struct {
	Front     *string   `json:"front"`
	Back      *string   `json:"back"`
	Tags      *[]string `json:"tags"`
	Reasoning string    `json:"reasoning"`
}

// ProcessCards asks a sub-agent to transform each card per prompt.
// len(result) == len(cards), in the same order.
func (p *Processor) ProcessCards(ctx context.Context, cards []anki.Note, prompt string, workers int, onProgress func(Progress)) []CardResult {
	results := make([]CardResult, len(cards))
	p.run(ctx, len(cards), p.workers(workers), func(ctx context.Context, i int) (string, string) {
		res := p.processCard(ctx, cards[i], prompt)
		results[i] = res
		return label(cards[i].Front), res.Err
	}, onProgress)
	p.logger.Info("card delegate finished", "cards", len(cards))
	return results
}

func (p *Processor) processCard(ctx context.Context, card anki.Note, prompt string) CardResult {
	res := CardResult{NoteID: card.ID, Original: card}
	tags := "none"
	if len(card.Tags) > 0 {
		tags = strings.Join(card.Tags, ", ")
	}
	user := fmt.Sprintf(`Transform this flashcard according to the instructions.

CARD:
- Note ID: %d
- Front: %s
- Back: %s
- Tags: %s

INSTRUCTIONS:
%s

Respond with JSON only.`, card.ID, card.Front, card.Back, tags, prompt)

	text, err := p.complete(ctx, cardSystemPrompt, user)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	var reply cardReply
	if err := decodeObject(text, &reply); err != nil {
		res.Err = err.Error()
		return res
	}
	res.Front = reply.Front
	res.Back = reply.Back
	if reply.Tags != nil {
		res.Tags = append([]string{}, (*reply.Tags)...)
	}
	res.Reasoning = reply.Reasoning
	res.Changed = reply.Front != nil || reply.Back != nil || reply.Tags != nil
	return res
}
