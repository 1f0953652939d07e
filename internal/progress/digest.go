package progress

import (
	"fmt"
	"strings"
)

// Digest renders an abbreviated summary for the system prompt. Each list is
// cut to maxItems entries (maxItems <= 0 means 8).
func (s *Store) Digest(maxItems int) string {
	if maxItems <= 0 {
		maxItems = 8
	}
	snap := s.Snapshot()
	records := s.Summary()

	var b strings.Builder
	b.WriteString("Learning progress")
	if snap.TotalCardsAdded > 0 {
		fmt.Fprintf(&b, " (%d cards added so far)", snap.TotalCardsAdded)
	}
	b.WriteString(":\n")
	for _, rec := range records {
		if len(rec.Known) == 0 && len(rec.ToLearn) == 0 && rec.Coverage == 0 && rec.Notes == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s", rec.Topic)
		if rec.Description != "" {
			fmt.Fprintf(&b, " (%s)", rec.Description)
		}
		fmt.Fprintf(&b, ": %d%% coverage", rec.Coverage)
		if len(rec.Known) > 0 {
			fmt.Fprintf(&b, "; knows %s", abbreviate(rec.Known, maxItems))
		}
		if len(rec.ToLearn) > 0 {
			fmt.Fprintf(&b, "; to learn %s", abbreviate(rec.ToLearn, maxItems))
		}
		if rec.Notes != "" {
			fmt.Fprintf(&b, "; notes: %s", rec.Notes)
		}
		b.WriteByte('\n')
	}
	if n := len(snap.RecentAdditions); n > 0 {
		start := 0
		if n > maxItems {
			start = n - maxItems
		}
		fmt.Fprintf(&b, "Recently added: %s\n", strings.Join(snap.RecentAdditions[start:], ", "))
	}
	if snap.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", snap.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

func abbreviate(items []string, limit int) string {
	if len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(items[:limit], ", "), len(items)-limit)
}
