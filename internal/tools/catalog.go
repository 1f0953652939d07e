package tools

import (
	"ankicli/internal/chat"
	"ankicli/internal/delegate"
	"ankicli/internal/progress"
)

// Op 工具目录中的一个操作（封闭枚举）
// Op is one operation of the closed tool catalog.
type Op int

const (
	OpListDecks Op = iota
	OpCreateDeck
	OpGetDeckStats
	OpGetDeckSummary
	OpGetDeckCards
	OpListDeckFronts
	OpGetCollectionStats
	OpListNoteTypes
	OpAddCard
	OpAddMultipleCards
	OpGetNote
	OpUpdateCard
	OpUpdateMultipleCards
	OpDeleteCards
	OpSearchCards
	OpCheckWordExists
	OpCheckWordsExist
	OpFindCardByWord
	OpFindCardsByWords
	OpAddTagsToCards
	OpRemoveTagsFromCards
	OpMoveCardsToDeck
	OpSyncAnki
	OpGetLearningSummary
	OpUpdateLearningSummary
	OpSetToolNote
	OpGetToolNotes
	OpRemoveToolNote
	OpCompactConversation
	OpCardSubsetDelegate
	OpAllCardsDelegate
	OpBatchDelegate

	opCount
)

var opNames = [opCount]string{
	OpListDecks:             "list_decks",
	OpCreateDeck:            "create_deck",
	OpGetDeckStats:          "get_deck_stats",
	OpGetDeckSummary:        "get_deck_summary",
	OpGetDeckCards:          "get_deck_cards",
	OpListDeckFronts:        "list_deck_fronts",
	OpGetCollectionStats:    "get_collection_stats",
	OpListNoteTypes:         "list_note_types",
	OpAddCard:               "add_card",
	OpAddMultipleCards:      "add_multiple_cards",
	OpGetNote:               "get_note",
	OpUpdateCard:            "update_card",
	OpUpdateMultipleCards:   "update_multiple_cards",
	OpDeleteCards:           "delete_cards",
	OpSearchCards:           "search_cards",
	OpCheckWordExists:       "check_word_exists",
	OpCheckWordsExist:       "check_words_exist",
	OpFindCardByWord:        "find_card_by_word",
	OpFindCardsByWords:      "find_cards_by_words",
	OpAddTagsToCards:        "add_tags_to_cards",
	OpRemoveTagsFromCards:   "remove_tags_from_cards",
	OpMoveCardsToDeck:       "move_cards_to_deck",
	OpSyncAnki:              "sync_anki",
	OpGetLearningSummary:    "get_learning_summary",
	OpUpdateLearningSummary: "update_learning_summary",
	OpSetToolNote:           "set_tool_note",
	OpGetToolNotes:          "get_tool_notes",
	OpRemoveToolNote:        "remove_tool_note",
	OpCompactConversation:   "compact_conversation",
	OpCardSubsetDelegate:    "card_subset_delegate",
	OpAllCardsDelegate:      "all_cards_delegate",
	OpBatchDelegate:         "batch_delegate",
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, opCount)
	for i, name := range opNames {
		m[name] = Op(i)
	}
	return m
}()

func (o Op) String() string {
	if o < 0 || o >= opCount {
		return "unknown"
	}
	return opNames[o]
}

// ParseOp resolves a tool name. Unknown names report false.
func ParseOp(name string) (Op, bool) {
	op, ok := opByName[name]
	return op, ok
}

// Ops returns every catalog operation in declaration order.
func Ops() []Op {
	out := make([]Op, 0, opCount)
	for o := Op(0); o < opCount; o++ {
		out = append(out, o)
	}
	return out
}

// ChecksDuplicates reports whether o is a read-only duplicate lookup.
func (o Op) ChecksDuplicates() bool {
	switch o {
	case OpCheckWordExists, OpCheckWordsExist, OpFindCardByWord, OpFindCardsByWords:
		return true
	}
	return false
}

// Mutates reports whether o changes the flashcard collection.
func (o Op) Mutates() bool {
	switch o {
	case OpCreateDeck, OpAddCard, OpAddMultipleCards, OpUpdateCard, OpUpdateMultipleCards,
		OpDeleteCards, OpAddTagsToCards, OpRemoveTagsFromCards, OpMoveCardsToDeck,
		OpSyncAnki, OpCardSubsetDelegate, OpAllCardsDelegate:
		return true
	}
	return false
}

type opSpec struct {
	description string
	params      map[string]any
}

// Definition returns the function tool definition exposed to the model.
func (o Op) Definition() chat.ToolDef {
	s := specs[o]
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        o.String(),
			Description: s.description,
			Parameters:  s.params,
		},
	}
}

func object(props map[string]any, required ...string) map[string]any {
	out := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func nonEmpty(desc string) map[string]any {
	return map[string]any{"type": "string", "minLength": 1, "description": desc}
}

func integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func limitParam(desc string) map[string]any {
	return map[string]any{"type": "integer", "minimum": 1, "description": desc}
}

func boolean(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func strList(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

func wordList(desc string) map[string]any {
	return map[string]any{"type": "array", "minItems": 1, "items": map[string]any{"type": "string", "minLength": 1}, "description": desc}
}

func idList(desc string) map[string]any {
	return map[string]any{"type": "array", "minItems": 1, "items": map[string]any{"type": "integer"}, "description": desc}
}

func workersParam() map[string]any {
	return map[string]any{"type": "integer", "minimum": 1, "description": "Parallel workers (default: 5, max: 10)"}
}

const wordTagHint = "MUST include a 'word::spanish_word' tag (infinitive for verbs, no article for nouns, lowercase). Also include type tags: 'verb', 'noun', 'adjective', 'irregular', etc."

var cardItem = object(map[string]any{
	"front": nonEmpty("English definition/meaning (plain text)"),
	"back":  nonEmpty("HTML-formatted: <b>Spanish word</b>, conjugations, 5 examples. Use <br> for breaks."),
	"tags":  strList(wordTagHint),
}, "front", "back")

var updateItem = object(map[string]any{
	"note_id": integer("The note ID to update"),
	"front":   str("New front content (HTML formatted)"),
	"back":    str("New back content (HTML formatted)"),
	"tags":    strList("New tags (replaces all existing). Always preserve the 'word::' tag."),
}, "note_id")

var specs = map[Op]opSpec{
	OpListDecks: {
		description: "List all Anki decks with their card counts (new, learning, review)",
		params:      object(map[string]any{}),
	},
	OpCreateDeck: {
		description: "Create a new deck",
		params: object(map[string]any{
			"name": nonEmpty("Name of the new deck (use :: for subdecks, e.g., 'Parent::Child')"),
		}, "name"),
	},
	OpGetDeckStats: {
		description: "Get statistics for a specific deck: total cards, new, learning, and review counts",
		params:      object(map[string]any{"deck_name": nonEmpty("Name of the deck")}, "deck_name"),
	},
	OpGetDeckSummary: {
		description: "Get a comprehensive summary of a deck including stats, tags used, and sample cards",
		params: object(map[string]any{
			"deck_name": nonEmpty("Name of the deck"),
			"limit":     limitParam("Maximum cards to analyze (default: 100)"),
		}, "deck_name"),
	},
	OpGetDeckCards: {
		description: "Get all cards in a specific deck",
		params: object(map[string]any{
			"deck_name": nonEmpty("Name of the deck"),
			"limit":     limitParam("Maximum number of cards to return (default: 50)"),
		}, "deck_name"),
	},
	OpListDeckFronts: {
		description: "List just the front side of all cards in a deck - useful for seeing what words/concepts are already covered",
		params: object(map[string]any{
			"deck_name": nonEmpty("Name of the deck"),
			"limit":     limitParam("Maximum cards to return (default: 200)"),
		}, "deck_name"),
	},
	OpGetCollectionStats: {
		description: "Get overall statistics for the entire Anki collection: decks, cards, cards due, maturity and retention",
		params:      object(map[string]any{}),
	},
	OpListNoteTypes: {
		description: "List available note types (card templates) in Anki",
		params:      object(map[string]any{}),
	},
	OpAddCard: {
		description: "Add a new flashcard to a deck. Use HTML formatting (<b>bold</b>, <i>italic</i>, <br> for line breaks). For Spanish vocab: front=English definition, back=Spanish word (bold) + conjugations (for verbs) + 5 example sentences. Always include a 'word::spanish_word' tag for quick lookup.",
		params: object(map[string]any{
			"deck_name": nonEmpty("Name of the deck to add the card to"),
			"front":     nonEmpty("Front side - English definition/meaning"),
			"back":      nonEmpty("Back side with HTML formatting"),
			"tags":      strList(wordTagHint),
			"note_type": str("Note type to use (default: 'Basic')"),
		}, "deck_name", "front", "back"),
	},
	OpAddMultipleCards: {
		description: "Add multiple flashcards to a deck at once (10, 20, 50+ cards). Check for duplicates first with find_cards_by_words or check_words_exist. Every card gets its own outcome: created, skipped_duplicate or failed.",
		params: object(map[string]any{
			"deck_name": nonEmpty("Name of the deck to add cards to"),
			"cards":     map[string]any{"type": "array", "minItems": 1, "items": cardItem, "description": "List of cards to add"},
			"note_type": str("Note type to use for all cards (default: 'Basic')"),
		}, "deck_name", "cards"),
	},
	OpGetNote: {
		description: "Get a single note/card by its ID",
		params:      object(map[string]any{"note_id": integer("The note ID")}, "note_id"),
	},
	OpUpdateCard: {
		description: "Update an existing card's front, back, or tags. When updating tags, always preserve the 'word::spanish_word' tag.",
		params:      updateItem,
	},
	OpUpdateMultipleCards: {
		description: "Update multiple cards at once. When updating tags, always preserve the 'word::spanish_word' tag.",
		params: object(map[string]any{
			"updates": map[string]any{"type": "array", "minItems": 1, "items": updateItem, "description": "List of updates to apply"},
		}, "updates"),
	},
	OpDeleteCards: {
		description: "Delete one or more cards by their note IDs",
		params:      object(map[string]any{"note_ids": idList("List of note IDs to delete")}, "note_ids"),
	},
	OpSearchCards: {
		description: "Search for existing cards in Anki using search syntax. Returns note IDs that can be used for editing/deleting.",
		params: object(map[string]any{
			"query": nonEmpty("Search query using Anki syntax (e.g., 'deck:MyDeck', 'tag:vocab', 'front:*word*')"),
			"limit": limitParam("Maximum number of results (default: 20)"),
		}, "query"),
	},
	OpCheckWordExists: {
		description: "Check if a word or phrase already exists in a deck. Use this BEFORE adding new cards to avoid duplicates.",
		params: object(map[string]any{
			"word":      nonEmpty("The word or phrase to search for"),
			"deck_name": str("Optional: limit search to a specific deck"),
		}, "word"),
	},
	OpCheckWordsExist: {
		description: "Check if multiple words already exist in a deck. Use this before bulk adding to filter out duplicates.",
		params: object(map[string]any{
			"words":     wordList("List of words to check"),
			"deck_name": str("Optional: limit search to a specific deck"),
		}, "words"),
	},
	OpFindCardByWord: {
		description: "Find a card by its 'word::spanish_word' tag. Fast and exact - the preferred duplicate check before adding.",
		params: object(map[string]any{
			"word":      nonEmpty("Spanish word to find (infinitive for verbs, no article for nouns, lowercase)"),
			"deck_name": str("Optional: limit search to a specific deck"),
		}, "word"),
	},
	OpFindCardsByWords: {
		description: "Find multiple cards by their 'word::' tags. Returns which words exist and which don't. Use before bulk adding.",
		params: object(map[string]any{
			"words":     wordList("List of Spanish words to check"),
			"deck_name": str("Optional: limit search to a specific deck"),
		}, "words"),
	},
	OpAddTagsToCards: {
		description: "Add tags to multiple cards",
		params: object(map[string]any{
			"note_ids": idList("List of note IDs to add tags to"),
			"tags":     wordList("Tags to add"),
		}, "note_ids", "tags"),
	},
	OpRemoveTagsFromCards: {
		description: "Remove tags from multiple cards",
		params: object(map[string]any{
			"note_ids": idList("List of note IDs to remove tags from"),
			"tags":     wordList("Tags to remove"),
		}, "note_ids", "tags"),
	},
	OpMoveCardsToDeck: {
		description: "Move cards to a different deck",
		params: object(map[string]any{
			"note_ids":  idList("List of note IDs to move"),
			"deck_name": nonEmpty("Target deck name"),
		}, "note_ids", "deck_name"),
	},
	OpSyncAnki: {
		description: "Sync Anki with AnkiWeb to upload/download changes",
		params:      object(map[string]any{}),
	},
	OpGetLearningSummary: {
		description: "Get the persistent learning progress summary: for each CEFR level (A1-B2) what is known, what is still to learn, estimated coverage, plus study streaks.",
		params:      object(map[string]any{}),
	},
	OpUpdateLearningSummary: {
		description: "IMPORTANT: Call this AFTER adding cards to update the persistent learning summary. Updates what is known and what is still to learn for a level. Persists across sessions.",
		params: object(map[string]any{
			"level":                    map[string]any{"type": "string", "enum": progress.LevelKeys(), "description": "CEFR level being updated"},
			"words_added":              strList("Spanish words/phrases just added at this level"),
			"what_i_know_summary":      str("Text summary of what the learner has mastered at this level"),
			"grammar_concepts_learned": strList("Grammar concepts learned (e.g., 'Present tense')"),
			"topics_covered":           strList("Topic areas covered (e.g., 'Restaurant', 'Travel')"),
			"what_to_learn_summary":    str("Text summary of what is still needed to complete this level"),
			"vocabulary_gaps":          strList("Vocabulary categories still needed"),
			"grammar_gaps":             strList("Grammar concepts still needed"),
			"priority_topics":          strList("Suggested priority topics to focus on next"),
			"estimated_coverage":       integer("Estimated % coverage of this level (0-100)"),
			"notes":                    str("Optional notes about overall progress"),
		}, "level", "words_added"),
	},
	OpSetToolNote: {
		description: "Save a persistent preference for how a tool should be used (e.g., always tag add_card with the lesson number).",
		params: object(map[string]any{
			"tool_name": nonEmpty("Tool the preference applies to"),
			"note":      nonEmpty("The preference"),
		}, "tool_name", "note"),
	},
	OpGetToolNotes: {
		description: "List saved tool preferences",
		params:      object(map[string]any{}),
	},
	OpRemoveToolNote: {
		description: "Remove a saved tool preference",
		params:      object(map[string]any{"tool_name": nonEmpty("Tool whose preference to remove")}, "tool_name"),
	},
	OpCompactConversation: {
		description: "Compact the conversation history by summarizing older messages. Use when context is getting full (>50%) to free space while preserving important information.",
		params:      object(map[string]any{"reason": str("Brief reason for compacting")}),
	},
	OpCardSubsetDelegate: {
		description: "Process specific cards (by note IDs) using parallel sub-agents. Use after search_cards to process matching results.",
		params: object(map[string]any{
			"note_ids": idList("Note IDs to process (from search_cards)"),
			"prompt":   nonEmpty("Instructions for transforming each card"),
			"workers":  workersParam(),
			"dry_run":  boolean("Preview changes without applying (default: false)"),
		}, "note_ids", "prompt"),
	},
	OpAllCardsDelegate: {
		description: "Process ALL cards in a deck using parallel sub-agents. Each card is sent to a sub-agent with your prompt. Use for bulk formatting, adding examples, fixing content.",
		params: object(map[string]any{
			"deck_name": nonEmpty("Name of the deck to process"),
			"prompt":    nonEmpty("Instructions for transforming each card. Sub-agent sees front, back, and tags."),
			"workers":   workersParam(),
			"dry_run":   boolean("Preview changes without applying (default: false)"),
			"limit":     limitParam("Max cards to process (default: all)"),
		}, "deck_name", "prompt"),
	},
	OpBatchDelegate: {
		description: "Run a sub-agent over each item of a list in parallel (cognate scan, word networks, difficulty scores, example sentences). Returns one parsed JSON result per item, in order.",
		params: object(map[string]any{
			"items":         wordList("Items (usually Spanish words) to process"),
			"delegate_type": map[string]any{"type": "string", "enum": delegate.TemplateNames(), "description": "Built-in prompt template"},
			"prompt":        str("Custom prompt template with an {item} placeholder; overrides delegate_type"),
			"workers":       workersParam(),
		}, "items"),
	},
}
