package staging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dictate/internal/history"
)

func setup(t *testing.T) (*Store, *history.Store) {
	t.Helper()
	root := t.TempDir()
	h, err := history.Open(filepath.Join(root, "recordings"))
	require.NoError(t, err)
	s, err := Open(filepath.Join(root, "pending"), h)
	require.NoError(t, err)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return s, h
}

// oneSecondWAV encodes 16000 mono frames of silence.
func oneSecondWAV(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: 16000}, Data: make([]int, 16000), SourceBitDepth: 16}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func TestStageWritesFileNamedByID(t *testing.T) {
	s, _ := setup(t)
	payload := oneSecondWAV(t)
	rec, err := s.Stage("abc", payload)
	require.NoError(t, err)
	assert.Equal(t, "abc", rec.ID)
	assert.Equal(t, "wav", rec.Ext)
	assert.Equal(t, filepath.Join(s.Dir(), "abc.wav"), rec.Path)
	assert.Equal(t, int64(len(payload)), rec.Size)
	assert.Equal(t, time.Second, rec.Duration)

	got, err := s.Read("abc")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestStageRejectsBadID(t *testing.T) {
	s, _ := setup(t)
	_, err := s.Stage("../escape", []byte("x"))
	assert.Error(t, err)
}

func TestListNewestFirstCappedAtThree(t *testing.T) {
	s, _ := setup(t)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		rec, err := s.Stage(id, []byte("OggS-payload"))
		require.NoError(t, err)
		mt := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(rec.Path, mt, mt))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0644))

	recs, err := s.List(10)
	require.NoError(t, err)
	require.Len(t, recs, MaxPending)
	assert.Equal(t, "e", recs[0].ID)
	assert.Equal(t, "d", recs[1].ID)
	assert.Equal(t, "c", recs[2].ID)
	assert.Equal(t, "ogg", recs[0].Ext)
}

func TestListMissingDirIsEmpty(t *testing.T) {
	s, _ := setup(t)
	require.NoError(t, os.RemoveAll(s.Dir()))
	recs, err := s.List(0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPromoteMovesIntoHistory(t *testing.T) {
	s, h := setup(t)
	payload := oneSecondWAV(t)
	_, err := s.Stage("rec1", payload)
	require.NoError(t, err)

	entry, err := s.Promote("rec1")
	require.NoError(t, err)
	assert.Equal(t, history.Entry{
		ID:         "rec1",
		CreatedAt:  1700000000000,
		Duration:   1000,
		Transcript: PlaceholderTranscript,
	}, entry)

	entries, err := h.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry, entries[0])

	path, ok := h.AudioPath("rec1")
	require.True(t, ok)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, b)

	_, ok = s.Path("rec1")
	assert.False(t, ok)
	recs, err := s.List(0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPromoteMissing(t *testing.T) {
	s, h := setup(t)
	_, err := s.Promote("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	entries, err := h.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPromoteAlreadyCommittedKeepsExistingEntry(t *testing.T) {
	s, h := setup(t)
	payload := oneSecondWAV(t)
	_, err := s.Stage("rec1", payload)
	require.NoError(t, err)
	// Committed, but the process died before the staged copy was removed.
	_, err = h.SaveAudio("rec1", payload)
	require.NoError(t, err)
	committed := history.Entry{ID: "rec1", CreatedAt: 1600000000000, Duration: 1000, Transcript: "real transcript"}
	require.NoError(t, h.Add(committed))

	entry, err := s.Promote("rec1")
	require.NoError(t, err)
	assert.Equal(t, committed, entry)

	entries, err := h.List()
	require.NoError(t, err)
	assert.Equal(t, []history.Entry{committed}, entries)
	_, ok := s.Path("rec1")
	assert.False(t, ok)

	_, err = s.Promote("rec1")
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingCommitter struct{}

func (failingCommitter) Get(string) (history.Entry, bool, error)  { return history.Entry{}, false, nil }
func (failingCommitter) SaveAudio(string, []byte) (string, error) { return "", errors.New("disk full") }
func (failingCommitter) Add(history.Entry) error                  { return nil }

func TestPromoteFailureKeepsStagedCopy(t *testing.T) {
	s, err := Open(t.TempDir(), failingCommitter{})
	require.NoError(t, err)
	_, err = s.Stage("keep", []byte("fLaC-data"))
	require.NoError(t, err)

	_, err = s.Promote("keep")
	assert.Error(t, err)
	_, ok := s.Path("keep")
	assert.True(t, ok)
}

func TestDiscard(t *testing.T) {
	s, _ := setup(t)
	_, err := s.Stage("gone", []byte("RIFF....WAVE"))
	require.NoError(t, err)
	require.NoError(t, s.Discard("gone"))
	_, ok := s.Path("gone")
	assert.False(t, ok)
	assert.NoError(t, s.Discard("gone"))
	assert.NoError(t, s.Discard("never-existed"))
}

func TestTempFilesAreIgnored(t *testing.T) {
	s, _ := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ".x.wav.123.tmp"), []byte("x"), 0644))
	recs, err := s.List(0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDiscardMatchesExactID(t *testing.T) {
	s, _ := setup(t)
	_, err := s.Stage("a", []byte("OggS-first"))
	require.NoError(t, err)
	_, err = s.Stage("a.b", []byte("OggS-second"))
	require.NoError(t, err)

	require.NoError(t, s.Discard("a"))
	_, ok := s.Path("a")
	assert.False(t, ok)
	path, ok := s.Path("a.b")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(s.Dir(), "a.b.ogg"), path)

	recs, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a.b", recs[0].ID)
}
