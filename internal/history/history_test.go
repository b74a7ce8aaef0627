package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "recordings"))
	require.NoError(t, err)
	return s
}

func wavBytes() []byte {
	return append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 2048)...)
}

func TestListEmptyStore(t *testing.T) {
	s := openStore(t)
	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListSortedNewestFirstRegardlessOfInsertOrder(t *testing.T) {
	s := openStore(t)
	for _, ts := range []int64{200, 500, 100, 400, 300} {
		require.NoError(t, s.Add(Entry{ID: "e" + string(rune('0'+ts/100)), CreatedAt: ts, Transcript: "t"}))
	}
	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i-1].CreatedAt, entries[i].CreatedAt)
	}
}

func TestDocumentShape(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Add(Entry{ID: "abc", CreatedAt: 1700000000000, Duration: 5000, Transcript: "hello"}))
	b, err := os.ReadFile(filepath.Join(s.Dir(), DocumentName))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"abc","createdAt":1700000000000,"duration":5000,"transcript":"hello"}]`, string(b))
}

func TestDeleteRemovesEntryAndAudio(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Add(Entry{ID: "a", CreatedAt: 1}))
	require.NoError(t, s.Add(Entry{ID: "b", CreatedAt: 2}))
	path, err := s.SaveAudio("a", wavBytes())
	require.NoError(t, err)
	assert.Equal(t, "a.wav", filepath.Base(path))

	require.NoError(t, s.Delete("a"))
	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].ID)
	_, ok := s.AudioPath("a")
	assert.False(t, ok)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Add(Entry{ID: "a", CreatedAt: 1}))
	require.NoError(t, s.Delete("zzz"))
	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a"))
	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteRejectsTraversal(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Delete("../history"))
}

func TestCorruptDocumentIsNotOverwritten(t *testing.T) {
	s := openStore(t)
	doc := filepath.Join(s.Dir(), DocumentName)
	require.NoError(t, os.WriteFile(doc, []byte("{not json"), 0644))

	_, err := s.List()
	assert.Error(t, err)
	assert.Error(t, s.Add(Entry{ID: "x", CreatedAt: 1}))

	b, err := os.ReadFile(doc)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(b))
}

func TestClear(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Add(Entry{ID: "a", CreatedAt: 1}))
	_, err := s.SaveAudio("a", wavBytes())
	require.NoError(t, err)
	require.NoError(t, s.Clear())

	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, ok := s.AudioPath("a")
	assert.False(t, ok)
}

func TestGet(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Add(Entry{ID: "a", CreatedAt: 1, Transcript: "x"}))
	e, ok, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", e.Transcript)
	_, ok, err = s.Get("b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAudioPathMatchesExactID(t *testing.T) {
	s := openStore(t)
	_, err := s.SaveAudio("a.b", wavBytes())
	require.NoError(t, err)
	_, ok := s.AudioPath("a")
	assert.False(t, ok)
	require.NoError(t, s.Delete("a"))
	_, ok = s.AudioPath("a.b")
	assert.True(t, ok)
}

func TestAddRejectsDuplicateID(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Add(Entry{ID: "a", CreatedAt: 1, Transcript: "first"}))
	assert.ErrorIs(t, s.Add(Entry{ID: "a", CreatedAt: 2, Transcript: "second"}), ErrDuplicateID)

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "first", entries[0].Transcript)
}
