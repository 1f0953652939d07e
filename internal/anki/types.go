package anki

// Deck is a named collection with today's due counts.
type Deck struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	NewCount    int    `json:"new_count"`
	LearnCount  int    `json:"learn_count"`
	ReviewCount int    `json:"review_count"`
	TotalCards  int    `json:"total_cards,omitempty"`
}

// Due returns the number of cards due today.
func (d Deck) Due() int {
	return d.NewCount + d.LearnCount + d.ReviewCount
}

// Note is a flashcard note. Front and Back are the note type's first two fields.
type Note struct {
	ID        int64    `json:"id"`
	ModelName string   `json:"model_name,omitempty"`
	Front     string   `json:"front"`
	Back      string   `json:"back"`
	Tags      []string `json:"tags,omitempty"`
	CardIDs   []int64  `json:"card_ids,omitempty"`
}

type NoteType struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// CardSpec describes one card to create.
type CardSpec struct {
	Front string   `json:"front"`
	Back  string   `json:"back"`
	Tags  []string `json:"tags,omitempty"`
}

// NoteUpdate changes a note. Nil pointers and a nil Tags slice leave the field unchanged.
type NoteUpdate struct {
	ID    int64    `json:"note_id"`
	Front *string  `json:"front,omitempty"`
	Back  *string  `json:"back,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// Status is the per-item outcome of a write.
type Status string

const (
	StatusCreated   Status = "created"
	StatusDuplicate Status = "skipped_duplicate"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
	// StatusNotFound marks an update whose note does not exist; nothing changed.
	StatusNotFound Status = "not_found"
	StatusFailed   Status = "failed"
)

// ItemOutcome reports what happened to one input item of a write.
type ItemOutcome struct {
	Index  int    `json:"index"`
	Front  string `json:"front,omitempty"`
	NoteID int64  `json:"note_id,omitempty"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// BulkResult is the container outcome of a batch write. len(Items) equals the input length.
type BulkResult struct {
	Items     []ItemOutcome `json:"items"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
}

func newBulkResult(n int) BulkResult {
	items := make([]ItemOutcome, n)
	for i := range items {
		items[i].Index = i
	}
	return BulkResult{Items: items}
}

func (r *BulkResult) tally(success Status) {
	r.Succeeded, r.Skipped, r.Failed = 0, 0, 0
	for _, it := range r.Items {
		switch it.Status {
		case success:
			r.Succeeded++
		case StatusDuplicate, StatusUnchanged, StatusNotFound:
			r.Skipped++
		default:
			r.Failed++
		}
	}
}

// TermMatch is the duplicate-check result for one input term.
type TermMatch struct {
	Term    string `json:"term"`
	Exists  bool   `json:"exists"`
	Matches int    `json:"matches"`
	Notes   []Note `json:"notes,omitempty"`
}

type DeckSummary struct {
	Deck        Deck     `json:"deck"`
	SampleCards []Note   `json:"sample_cards"`
	Tags        []string `json:"tags"`
}

type DeckDue struct {
	Name string `json:"name"`
	Due  int    `json:"due"`
}

type CollectionStats struct {
	TotalDecks    int       `json:"total_decks"`
	TotalNotes    int       `json:"total_notes"`
	TotalCards    int       `json:"total_cards"`
	TotalNew      int       `json:"total_new"`
	TotalLearning int       `json:"total_learning"`
	TotalReview   int       `json:"total_review"`
	MatureCount   int       `json:"mature_count"`
	YoungCount    int       `json:"young_count"`
	UnseenCount   int       `json:"unseen_count"`
	TotalReps     int       `json:"total_reps"`
	TotalLapses   int       `json:"total_lapses"`
	RetentionRate float64   `json:"retention_rate"`
	Decks         []DeckDue `json:"decks"`
	Note          string    `json:"note,omitempty"`
}

func (s CollectionStats) TotalDue() int {
	return s.TotalNew + s.TotalLearning + s.TotalReview
}
