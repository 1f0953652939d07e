package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"ankicli/internal/progress"
)

func (r *Registry) learningSummary() (map[string]any, error) {
	snap := r.deps.Progress.Snapshot()
	return map[string]any{
		"levels":            r.deps.Progress.Summary(),
		"total_cards_added": snap.TotalCardsAdded,
		"recent_additions":  snap.RecentAdditions,
		"notes":             snap.Notes,
		"last_updated":      snap.LastUpdated,
		"streak":            r.deps.Progress.Streak(r.deps.Now()),
	}, nil
}

type learningArgs struct {
	Level             string   `json:"level"`
	WordsAdded        []string `json:"words_added"`
	KnowSummary       string   `json:"what_i_know_summary"`
	GrammarLearned    []string `json:"grammar_concepts_learned"`
	TopicsCovered     []string `json:"topics_covered"`
	ToLearnSummary    string   `json:"what_to_learn_summary"`
	VocabularyGaps    []string `json:"vocabulary_gaps"`
	GrammarGaps       []string `json:"grammar_gaps"`
	PriorityTopics    []string `json:"priority_topics"`
	EstimatedCoverage *int     `json:"estimated_coverage"`
	Notes             string   `json:"notes"`
}

func (a learningArgs) delta() progress.Delta {
	known := make([]string, 0, len(a.WordsAdded)+len(a.GrammarLearned)+len(a.TopicsCovered))
	known = append(known, a.WordsAdded...)
	known = append(known, a.GrammarLearned...)
	known = append(known, a.TopicsCovered...)
	toLearn := make([]string, 0, len(a.VocabularyGaps)+len(a.GrammarGaps)+len(a.PriorityTopics))
	toLearn = append(toLearn, a.VocabularyGaps...)
	toLearn = append(toLearn, a.GrammarGaps...)
	toLearn = append(toLearn, a.PriorityTopics...)
	return progress.Delta{
		Known:          known,
		ToLearn:        toLearn,
		Notes:          a.Notes,
		KnownSummary:   a.KnowSummary,
		ToLearnSummary: a.ToLearnSummary,
		Coverage:       a.EstimatedCoverage,
	}
}

func (r *Registry) updateLearningSummary(args json.RawMessage) (map[string]any, error) {
	var in learningArgs
	if err := decode(OpUpdateLearningSummary, args, &in); err != nil {
		return nil, err
	}
	rec, err := r.deps.Progress.Apply(in.Level, in.delta(), in.WordsAdded, in.Notes)
	if err != nil {
		return nil, err
	}
	topics := "general"
	if len(in.TopicsCovered) > 0 {
		topics = strings.Join(in.TopicsCovered, ", ")
	}
	return map[string]any{
		"level":              rec.Topic,
		"known":              rec.Known,
		"to_learn":           rec.ToLearn,
		"estimated_coverage": rec.Coverage,
		"message": fmt.Sprintf("Learning summary updated: +%d words at %s level (%d%% coverage). Topics: %s",
			len(in.WordsAdded), rec.Topic, rec.Coverage, topics),
	}, nil
}

type toolNoteArgs struct {
	ToolName string `json:"tool_name"`
	Note     string `json:"note"`
}

func (r *Registry) setToolNote(args json.RawMessage) (map[string]any, error) {
	var in toolNoteArgs
	if err := decode(OpSetToolNote, args, &in); err != nil {
		return nil, err
	}
	if _, ok := ParseOp(in.ToolName); !ok {
		return nil, invalid(OpSetToolNote, "unknown tool %q", in.ToolName)
	}
	if err := r.deps.Notes.SetToolNote(in.ToolName, in.Note); err != nil {
		return nil, err
	}
	return map[string]any{"tool_name": in.ToolName, "note": in.Note}, nil
}

func (r *Registry) getToolNotes() (map[string]any, error) {
	notes := r.deps.Notes.ToolNotes()
	names := make([]string, 0, len(notes))
	for k := range notes {
		names = append(names, k)
	}
	sort.Strings(names)
	list := make([]toolNoteArgs, 0, len(names))
	for _, name := range names {
		list = append(list, toolNoteArgs{ToolName: name, Note: notes[name]})
	}
	return map[string]any{"notes": list, "count": len(list)}, nil
}

func (r *Registry) removeToolNote(args json.RawMessage) (map[string]any, error) {
	var in toolNoteArgs
	if err := decode(OpRemoveToolNote, args, &in); err != nil {
		return nil, err
	}
	removed, err := r.deps.Notes.RemoveToolNote(in.ToolName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tool_name": in.ToolName, "removed": removed}, nil
}

func (r *Registry) compact(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		Reason string `json:"reason"`
	}
	if err := decode(OpCompactConversation, args, &in); err != nil {
		return nil, err
	}
	report, err := r.compactor.CompactNow(ctx, in.Reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{"report": report}, nil
}
