package config

import (
	"strings"
	"sync"
)

// NoteStore holds tool preference notes and writes every change back to the
// config file.
type NoteStore struct {
	mu    sync.Mutex
	path  string
	notes map[string]string
}

func NewNoteStore(path string, initial map[string]string) *NoteStore {
	notes := make(map[string]string, len(initial))
	for k, v := range initial {
		if k = strings.TrimSpace(k); k != "" {
			notes[k] = v
		}
	}
	return &NoteStore{path: path, notes: notes}
}

// ToolNotes returns a copy of the current notes.
func (s *NoteStore) ToolNotes() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.notes))
	for k, v := range s.notes {
		out[k] = v
	}
	return out
}

func (s *NoteStore) SetToolNote(tool, note string) error {
	tool = strings.TrimSpace(tool)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.notes[tool]
	s.notes[tool] = strings.TrimSpace(note)
	if err := s.saveLocked(); err != nil {
		if had {
			s.notes[tool] = prev
		} else {
			delete(s.notes, tool)
		}
		return err
	}
	return nil
}

// RemoveToolNote reports whether a note existed.
func (s *NoteStore) RemoveToolNote(tool string) (bool, error) {
	tool = strings.TrimSpace(tool)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.notes[tool]
	if !ok {
		return false, nil
	}
	delete(s.notes, tool)
	if err := s.saveLocked(); err != nil {
		s.notes[tool] = prev
		return false, err
	}
	return true, nil
}

// Clear removes every note and returns how many there were.
func (s *NoteStore) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.notes)
	if n == 0 {
		return 0, nil
	}
	prev := s.notes
	s.notes = map[string]string{}
	if err := s.saveLocked(); err != nil {
		s.notes = prev
		return 0, err
	}
	return n, nil
}

func (s *NoteStore) saveLocked() error {
	if s.path == "" {
		return nil
	}
	return WriteToolNotes(s.path, s.notes)
}
