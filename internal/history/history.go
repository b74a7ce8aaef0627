// Package history persists committed transcripts as a single JSON document
// next to their audio files. The store does no locking; callers serialize
// writers.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dictate/internal/audio/container"
	"dictate/internal/fsutil"
)

// DocumentName is the history file inside the store directory.
const DocumentName = "history.json"

// ErrDuplicateID is returned by Add when the id is already in history.
var ErrDuplicateID = errors.New("history entry already exists")

// Entry is one committed recording. CreatedAt and Duration are milliseconds.
type Entry struct {
	ID         string `json:"id"`
	CreatedAt  int64  `json:"createdAt"`
	Duration   int64  `json:"duration"`
	Transcript string `json:"transcript"`
}

// Store reads and writes the history document.
type Store struct {
	dir string
}

// Open creates dir if needed and returns a Store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir is the store directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) docPath() string { return filepath.Join(s.dir, DocumentName) }

func (s *Store) load() ([]Entry, error) {
	b, err := os.ReadFile(s.docPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return entries, nil
}

func (s *Store) save(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.docPath(), b, 0644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// List returns all entries, newest first. A missing document is an empty
// history; a corrupt one is an error and is left untouched.
func (s *Store) List() ([]Entry, error) {
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt > entries[j].CreatedAt })
	return entries, nil
}

// Get returns the entry with id.
func (s *Store) Get(id string) (Entry, bool, error) {
	entries, err := s.load()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Add appends e and rewrites the document. Ids are unique.
func (s *Store) Add(e Entry) error {
	if err := fsutil.CheckName(e.ID); err != nil {
		return err
	}
	entries, err := s.load()
	if err != nil {
		return err
	}
	for _, x := range entries {
		if x.ID == e.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
		}
	}
	return s.save(append(entries, e))
}

// Delete removes the entry and its audio. Unknown ids are a no-op.
func (s *Store) Delete(id string) error {
	if err := fsutil.CheckName(id); err != nil {
		return err
	}
	entries, err := s.load()
	if err != nil {
		return err
	}
	kept := entries[:0]
	removed := false
	for _, e := range entries {
		if e.ID == id {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if removed {
		if err := s.save(kept); err != nil {
			return err
		}
	}
	return s.removeAudio(id)
}

// Clear removes every entry and audio file.
func (s *Store) Clear() error {
	entries, err := s.load()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.removeAudio(e.ID); err != nil {
			return err
		}
	}
	return s.save(nil)
}

// SaveAudio persists payload as <id>.<ext>, the extension sniffed from the bytes.
func (s *Store) SaveAudio(id string, payload []byte) (string, error) {
	if err := fsutil.CheckName(id); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, id+"."+container.Sniff(payload))
	if err := fsutil.WriteFileAtomic(path, payload, 0644); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	return path, nil
}

// AudioPath returns the audio file of id, if present.
func (s *Store) AudioPath(id string) (string, bool) {
	if fsutil.CheckName(id) != nil {
		return "", false
	}
	matches, _ := filepath.Glob(filepath.Join(s.dir, id+".*"))
	for _, m := range matches {
		base := filepath.Base(m)
		if base != DocumentName && !fsutil.IsTemp(base) && strings.TrimSuffix(base, filepath.Ext(base)) == id {
			return m, true
		}
	}
	return "", false
}

func (s *Store) removeAudio(id string) error {
	for {
		path, ok := s.AudioPath(id)
		if !ok {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove audio: %w", err)
		}
	}
}

