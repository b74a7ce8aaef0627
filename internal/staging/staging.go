// Package staging keeps captured audio on disk from the moment encoding
// finishes until it is committed to history or explicitly discarded.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"dictate/internal/audio/container"
	"dictate/internal/fsutil"
	"dictate/internal/history"
)

// MaxPending caps how many staged recordings List reports.
const MaxPending = 3

// PlaceholderTranscript marks entries promoted without a transcription.
const PlaceholderTranscript = "[Recovered - Transcription pending]"

// ErrNotFound is returned when no staged file exists for an id.
var ErrNotFound = errors.New("pending recording not found")

// Recording describes one staged file. CreatedAt is the modification time;
// Duration is read from WAV headers and zero for other containers.
type Recording struct {
	ID        string
	Path      string
	Ext       string
	Size      int64
	CreatedAt time.Time
	Duration  time.Duration
}

// Committer receives promoted recordings. *history.Store satisfies it.
type Committer interface {
	Get(id string) (history.Entry, bool, error)
	SaveAudio(id string, payload []byte) (string, error)
	Add(e history.Entry) error
}

// Store manages the staging directory.
type Store struct {
	dir       string
	committer Committer
	now       func() time.Time
}

// Open creates dir if needed.
func Open(dir string, committer Committer) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Store{dir: dir, committer: committer, now: time.Now}, nil
}

// Dir is the staging directory.
func (s *Store) Dir() string { return s.dir }

// NewID returns a time-ordered unique id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Stage durably writes payload as <id>.<ext>. It returns only after the
// bytes and the directory entry have been synced.
func (s *Store) Stage(id string, payload []byte) (Recording, error) {
	if err := fsutil.CheckName(id); err != nil {
		return Recording{}, err
	}
	ext := container.Sniff(payload)
	path := filepath.Join(s.dir, id+"."+ext)
	if err := fsutil.WriteFileAtomic(path, payload, 0600); err != nil {
		return Recording{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Recording{}, err
	}
	return s.describe(id, path, info), nil
}

// Path returns the staged file for id.
func (s *Store) Path(id string) (string, bool) {
	if fsutil.CheckName(id) != nil {
		return "", false
	}
	matches, _ := filepath.Glob(filepath.Join(s.dir, id+".*"))
	for _, m := range matches {
		base := filepath.Base(m)
		if isStaged(base) && stem(base) == id {
			return m, true
		}
	}
	return "", false
}

// Read returns the staged bytes of id.
func (s *Store) Read(id string) ([]byte, error) {
	path, ok := s.Path(id)
	if !ok {
		return nil, ErrNotFound
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

// List returns the most recently modified staged recordings, newest first.
// limit is clamped to MaxPending.
func (s *Store) List(limit int) ([]Recording, error) {
	if limit <= 0 || limit > MaxPending {
		limit = MaxPending
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read staging dir: %w", err)
	}
	var out []Recording
	for _, e := range entries {
		if e.IsDir() || !isStaged(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, s.describe(stem(e.Name()), filepath.Join(s.dir, e.Name()), info))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Promote commits the staged audio to history under a placeholder
// transcript and removes the staged copy. An id already in history was
// committed before its staged copy could be removed; the existing entry is
// kept and only the staged copy is dropped.
func (s *Store) Promote(id string) (history.Entry, error) {
	path, ok := s.Path(id)
	if !ok {
		return history.Entry{}, ErrNotFound
	}
	existing, committed, err := s.committer.Get(id)
	if err != nil {
		return history.Entry{}, err
	}
	if committed {
		return existing, s.Discard(id)
	}
	payload, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return history.Entry{}, ErrNotFound
	}
	if err != nil {
		return history.Entry{}, fmt.Errorf("read staged recording: %w", err)
	}
	entry := history.Entry{
		ID:         id,
		CreatedAt:  s.now().UnixMilli(),
		Duration:   probeDuration(path).Milliseconds(),
		Transcript: PlaceholderTranscript,
	}
	if _, err := s.committer.SaveAudio(entry.ID, payload); err != nil {
		return history.Entry{}, err
	}
	if err := s.committer.Add(entry); err != nil {
		return history.Entry{}, err
	}
	if err := s.Discard(id); err != nil {
		return entry, err
	}
	return entry, nil
}

// Discard deletes the staged file. A missing file is not an error.
func (s *Store) Discard(id string) error {
	if err := fsutil.CheckName(id); err != nil {
		return err
	}
	for {
		path, ok := s.Path(id)
		if !ok {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("discard %s: %w", id, err)
		}
	}
}

func (s *Store) describe(id, path string, info os.FileInfo) Recording {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	r := Recording{ID: id, Path: path, Ext: ext, Size: info.Size(), CreatedAt: info.ModTime()}
	if ext == "wav" {
		r.Duration = probeDuration(path)
	}
	return r
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func isStaged(name string) bool {
	if fsutil.IsTemp(name) {
		return false
	}
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return container.Known[ext] || ext == "bin"
}

// probeDuration reads the WAV header; other formats report zero.
func probeDuration(path string) time.Duration {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0
	}
	dur, err := d.Duration()
	if err != nil {
		return 0
	}
	return dur
}
