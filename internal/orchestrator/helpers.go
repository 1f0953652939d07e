package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

func isContextCancellationErr(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx != nil && ctx.Err() != nil
}

func contextErrOr(ctx context.Context, fallback error) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return fallback
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"ok":false,"error":"marshal tool result failed","kind":"internal"}`
	}
	return string(data)
}

func summarizeForLog(s string) string {
	normalized := strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
	if normalized == "" {
		return "-"
	}
	const maxRunes = 220
	runes := []rune(normalized)
	if len(runes) <= maxRunes {
		return normalized
	}
	return string(runes[:maxRunes]) + "...(truncated)"
}

// formatToolStart describes a call before it runs, e.g. `* Add card "hola" to "Spanish"`.
func formatToolStart(name string, rawArgs string) string {
	args := parseJSONObject(rawArgs)
	deck := getString(args, "deck_name", "")
	switch name {
	case "list_decks":
		return "* List decks"
	case "create_deck":
		return fmt.Sprintf("* Create deck %s", quoteOrDash(getString(args, "name", "")))
	case "get_deck_stats", "get_deck_summary":
		return fmt.Sprintf("* Inspect deck %s", quoteOrDash(deck))
	case "get_deck_cards", "list_deck_fronts":
		return fmt.Sprintf("* Read cards of %s", quoteOrDash(deck))
	case "get_collection_stats":
		return "* Collection stats"
	case "list_note_types":
		return "* List note types"
	case "add_card":
		return fmt.Sprintf("* Add card %s to %s", quoteOrDash(stripHTML(getString(args, "front", ""))), quoteOrDash(deck))
	case "add_multiple_cards":
		return fmt.Sprintf("* Add %d cards to %s", len(getArray(args, "cards")), quoteOrDash(deck))
	case "get_note":
		return fmt.Sprintf("* Get note %d", getInt(args, "note_id", 0))
	case "update_card":
		return fmt.Sprintf("* Update note %d", getInt(args, "note_id", 0))
	case "update_multiple_cards":
		return fmt.Sprintf("* Update %d notes", len(getArray(args, "updates")))
	case "delete_cards":
		return fmt.Sprintf("* Delete %d notes", len(getArray(args, "note_ids")))
	case "add_tags_to_cards", "remove_tags_from_cards":
		verb := "Tag"
		if name == "remove_tags_from_cards" {
			verb = "Untag"
		}
		return fmt.Sprintf("* %s %d notes: %s", verb, len(getArray(args, "note_ids")), joinStrings(getArray(args, "tags")))
	case "move_cards_to_deck":
		return fmt.Sprintf("* Move %d notes to %s", len(getArray(args, "note_ids")), quoteOrDash(deck))
	case "search_cards":
		return fmt.Sprintf("* Search %s", quoteOrDash(getString(args, "query", "")))
	case "check_word_exists", "find_card_by_word":
		return fmt.Sprintf("* Check %s", quoteOrDash(getString(args, "word", "")))
	case "check_words_exist", "find_cards_by_words":
		return fmt.Sprintf("* Check %d words", len(getArray(args, "words")))
	case "sync_anki":
		return "* Sync with AnkiWeb"
	case "get_learning_summary":
		return "* Read learning summary"
	case "update_learning_summary":
		return fmt.Sprintf("* Update learning summary (%s)", getString(args, "level", "-"))
	case "set_tool_note", "remove_tool_note":
		return fmt.Sprintf("* Tool note for %s", quoteOrDash(getString(args, "tool_name", "")))
	case "get_tool_notes":
		return "* Read tool notes"
	case "compact_conversation":
		return "* Compact conversation"
	case "card_subset_delegate", "all_cards_delegate":
		return fmt.Sprintf("* Delegate over %s: %s", quoteOrDash(deck), quoteOrDash(short(getString(args, "prompt", ""), 60)))
	case "batch_delegate":
		return fmt.Sprintf("* Delegate %d items (%s)", len(getArray(args, "items")), getString(args, "delegate_type", "custom"))
	default:
		return fmt.Sprintf("* %s args=%s", name, summarizeForLog(rawArgs))
	}
}

// summarizeToolResult reduces a Tool Result to one display line, plus one
// detail line per item for bulk writes.
func summarizeToolResult(name string, rawResult string) string {
	result := parseJSONObject(rawResult)
	if len(result) == 0 {
		return summarizeForLog(rawResult)
	}
	if ok, _ := result["ok"].(bool); !ok {
		return summarizeForLog(getString(result, "error", "failed"))
	}
	switch name {
	case "list_decks":
		return fmt.Sprintf("%d decks", getInt(result, "count", 0))
	case "get_deck_cards", "list_deck_fronts", "search_cards":
		return fmt.Sprintf("%d cards", getInt(result, "count", 0))
	case "add_card":
		status := getString(result, "status", "")
		if status == "created" {
			return fmt.Sprintf("created note %d", getInt(result, "note_id", 0))
		}
		return status
	case "add_multiple_cards", "update_multiple_cards":
		lines := []string{getString(result, "summary", "done")}
		for _, raw := range getArray(result, "items") {
			item, _ := raw.(map[string]any)
			lines = append(lines, itemLine(item))
		}
		if unchecked := getArray(result, "unchecked"); len(unchecked) > 0 {
			lines = append(lines, "! not duplicate-checked: "+joinStrings(unchecked))
		}
		return strings.Join(lines, "\n")
	case "delete_cards":
		return fmt.Sprintf("deleted %d of %d", getInt(result, "deleted", 0), getInt(result, "requested", 0))
	case "move_cards_to_deck":
		return fmt.Sprintf("moved %d", getInt(result, "cards_moved", 0))
	case "check_word_exists", "check_words_exist", "find_card_by_word", "find_cards_by_words":
		return fmt.Sprintf("found %d, missing %d", len(getArray(result, "found")), len(getArray(result, "not_found")))
	case "update_learning_summary", "sync_anki":
		return summarizeForLog(getString(result, "message", "done"))
	case "compact_conversation":
		report, _ := result["report"].(map[string]any)
		return fmt.Sprintf("%d messages summarized", getInt(report, "messages_summarized", 0))
	case "card_subset_delegate", "all_cards_delegate":
		return fmt.Sprintf("processed %d, changed %d", getInt(result, "processed", 0), getInt(result, "changed", 0))
	case "batch_delegate":
		return fmt.Sprintf("%d succeeded, %d failed", getInt(result, "succeeded", 0), getInt(result, "failed", 0))
	default:
		return "ok"
	}
}

func itemLine(item map[string]any) string {
	front := stripHTML(getString(item, "front", fmt.Sprintf("#%d", getInt(item, "index", 0))))
	switch getString(item, "status", "") {
	case "created", "updated":
		return "+ " + front
	case "skipped_duplicate", "unchanged", "not_found":
		return "= " + front + " (" + getString(item, "status", "") + ")"
	default:
		return "x " + front + ": " + getString(item, "reason", "failed")
	}
}

func joinStrings(items []any) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func parseJSONObject(s string) map[string]any {
	var out map[string]any
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func getString(m map[string]any, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if val, ok := m[key].(string); ok && val != "" {
		return val
	}
	return fallback
}

func getArray(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	out, _ := m[key].([]any)
	return out
}

func getInt(m map[string]any, key string, fallback int) int {
	if m == nil {
		return fallback
	}
	switch val := m[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	case int64:
		return int(val)
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return fallback
		}
		return n
	default:
		return fallback
	}
}

func quoteOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return strconv.Quote(summarizeForLog(s))
}

func short(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}
