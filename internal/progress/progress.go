package progress

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ankicli/internal/storage"
)

// FileName is the learning summary file under the storage base dir.
const FileName = "learning_summary.json"

// recentLimit bounds RecentAdditions.
const recentLimit = 50

// Record 某个主题的学习进度
// Record is the learner's progress on one topic.
type Record struct {
	Topic          string   `json:"topic"`
	Description    string   `json:"description,omitempty"`
	Known          []string `json:"known"`
	ToLearn        []string `json:"to_learn"`
	KnownSummary   string   `json:"known_summary,omitempty"`
	ToLearnSummary string   `json:"to_learn_summary,omitempty"`
	Coverage       int      `json:"estimated_coverage"`
	Notes          string   `json:"notes,omitempty"`
	UpdatedAt      string   `json:"updated_at,omitempty"`
}

// Delta is a change to one topic. Empty strings and a nil Coverage leave fields unchanged.
type Delta struct {
	Known          []string
	ToLearn        []string
	Notes          string
	KnownSummary   string
	ToLearnSummary string
	Coverage       *int
}

// Summary is the whole persisted learning summary.
type Summary struct {
	Topics          map[string]Record `json:"topics"`
	TotalCardsAdded int               `json:"total_cards_added"`
	RecentAdditions []string          `json:"recent_additions"`
	DailyActivity   map[string]int    `json:"daily_activity"`
	Notes           string            `json:"notes,omitempty"`
	LastUpdated     string            `json:"last_updated,omitempty"`
}

// Store 学习进度持久化，独立于对话重置
// Store persists learning progress independently of conversation resets.
type Store struct {
	mu     sync.Mutex
	path   string
	data   Summary
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open loads the summary at path. A missing or unreadable file yields the
// default summary seeded with the CEFR levels; Open does not fail on it.
func Open(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(s)
	}
	var data Summary
	if err := storage.ReadJSONFile(path, &data); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("learning summary unreadable, starting fresh", "path", path, "error", err)
		}
		data = Summary{}
	}
	s.data = normalize(data)
	return s
}

// OpenDir opens FileName inside dir.
func OpenDir(dir string, opts ...Option) *Store {
	return Open(filepath.Join(dir, FileName), opts...)
}

func normalize(d Summary) Summary {
	if d.Topics == nil {
		d.Topics = map[string]Record{}
	}
	if d.DailyActivity == nil {
		d.DailyActivity = map[string]int{}
	}
	for _, lvl := range Levels {
		rec, ok := d.Topics[lvl.Key]
		if !ok {
			rec = Record{Topic: lvl.Key, ToLearn: setOf(lvl.ToLearn), ToLearnSummary: lvl.Summary}
		}
		if rec.Description == "" {
			rec.Description = lvl.Description
		}
		d.Topics[lvl.Key] = rec
	}
	for k, rec := range d.Topics {
		rec.Topic = k
		rec.Known = setOf(rec.Known)
		rec.ToLearn = minus(setOf(rec.ToLearn), rec.Known)
		d.Topics[k] = rec
	}
	return d
}

// Get returns the record for topic, or an empty record when absent.
func (s *Store) Get(topic string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeTopic(topic)
	rec, ok := s.data.Topics[key]
	if !ok {
		return Record{Topic: key, Known: []string{}, ToLearn: []string{}}
	}
	return cloneRecord(rec)
}

// Update merges delta into topic and persists the summary atomically.
// Known and ToLearn are set unions (sorted, de-duplicated); items known are
// never listed as to-learn, so disjoint deltas commute.
func (s *Store) Update(topic string, delta Delta) (Record, error) {
	return s.Apply(topic, delta, nil, "")
}

// Apply merges delta into topic, counts the added words and replaces the
// overall notes in one mutation with a single save. Either all of it is
// persisted or none of it is.
func (s *Store) Apply(topic string, delta Delta, added []string, notes string) (Record, error) {
	key := normalizeTopic(topic)
	if key == "" {
		return Record{}, fmt.Errorf("progress topic is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := cloneSummary(s.data)
	now := s.now()
	rec := s.mergeLocked(key, delta, now)
	s.recordLocked(setOf(added), now)
	s.notesLocked(notes)

	if err := s.saveLocked(); err != nil {
		s.data = prev
		return Record{}, err
	}
	s.logger.Debug("progress updated", "topic", key, "known", len(rec.Known), "to_learn", len(rec.ToLearn), "added", len(added))
	return cloneRecord(rec), nil
}

// RecordAdditions counts words added to the collection today.
func (s *Store) RecordAdditions(words []string) error {
	words = setOf(words)
	if len(words) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := cloneSummary(s.data)
	s.recordLocked(words, s.now())
	if err := s.saveLocked(); err != nil {
		s.data = prev
		return err
	}
	return nil
}

// SetNotes replaces the overall notes. Empty notes are ignored.
func (s *Store) SetNotes(notes string) error {
	if strings.TrimSpace(notes) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := cloneSummary(s.data)
	s.notesLocked(notes)
	if err := s.saveLocked(); err != nil {
		s.data = prev
		return err
	}
	return nil
}

func (s *Store) mergeLocked(key string, delta Delta, now time.Time) Record {
	rec := s.data.Topics[key]
	rec.Topic = key
	rec.Known = setOf(append(append([]string(nil), rec.Known...), delta.Known...))
	rec.ToLearn = minus(setOf(append(append([]string(nil), rec.ToLearn...), delta.ToLearn...)), rec.Known)
	if n := strings.TrimSpace(delta.Notes); n != "" {
		rec.Notes = n
	}
	if v := strings.TrimSpace(delta.KnownSummary); v != "" {
		rec.KnownSummary = v
	}
	if v := strings.TrimSpace(delta.ToLearnSummary); v != "" {
		rec.ToLearnSummary = v
	}
	if delta.Coverage != nil {
		rec.Coverage = clamp(*delta.Coverage, 0, 100)
	}
	rec.UpdatedAt = now.UTC().Format(time.RFC3339)
	s.data.Topics[key] = rec
	s.data.LastUpdated = rec.UpdatedAt
	return rec
}

// recordLocked expects words already passed through setOf.
func (s *Store) recordLocked(words []string, now time.Time) {
	if len(words) == 0 {
		return
	}
	s.data.TotalCardsAdded += len(words)
	recent := make([]string, 0, len(s.data.RecentAdditions)+len(words))
	fresh := make(map[string]struct{}, len(words))
	for _, w := range words {
		fresh[w] = struct{}{}
	}
	for _, w := range s.data.RecentAdditions {
		if _, ok := fresh[w]; !ok {
			recent = append(recent, w)
		}
	}
	recent = append(recent, words...)
	if len(recent) > recentLimit {
		recent = recent[len(recent)-recentLimit:]
	}
	s.data.RecentAdditions = recent
	s.data.DailyActivity[now.Format(dateLayout)] += len(words)
	s.data.LastUpdated = now.UTC().Format(time.RFC3339)
}

func (s *Store) notesLocked(notes string) {
	if n := strings.TrimSpace(notes); n != "" {
		s.data.Notes = n
	}
}

// Summary returns every record sorted by topic.
func (s *Store) Summary() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data.Topics))
	for k := range s.data.Topics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, cloneRecord(s.data.Topics[k]))
	}
	return out
}

// Snapshot returns a copy of the full summary.
func (s *Store) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSummary(s.data)
}

func (s *Store) Path() string { return s.path }

func (s *Store) saveLocked() error {
	if err := storage.WriteJSONFile(s.path, s.data); err != nil {
		return fmt.Errorf("save learning summary: %w", err)
	}
	return nil
}

func normalizeTopic(topic string) string {
	t := strings.TrimSpace(topic)
	if lvl, ok := LevelByKey(t); ok {
		return lvl.Key
	}
	return t
}

// setOf trims, de-duplicates and sorts items. The result is never nil.
func setOf(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

func minus(items, remove []string) []string {
	if len(remove) == 0 {
		return items
	}
	drop := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		drop[r] = struct{}{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := drop[it]; !ok {
			out = append(out, it)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func cloneRecord(r Record) Record {
	r.Known = append([]string{}, r.Known...)
	r.ToLearn = append([]string{}, r.ToLearn...)
	return r
}

func cloneSummary(d Summary) Summary {
	out := d
	out.Topics = make(map[string]Record, len(d.Topics))
	for k, v := range d.Topics {
		out.Topics[k] = cloneRecord(v)
	}
	out.RecentAdditions = append([]string(nil), d.RecentAdditions...)
	out.DailyActivity = make(map[string]int, len(d.DailyActivity))
	for k, v := range d.DailyActivity {
		out.DailyActivity[k] = v
	}
	return out
}
