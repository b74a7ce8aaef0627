package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dictate/internal/config"
	"dictate/internal/record"
)

func testConfig(t *testing.T, providerURL string) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.CacheDir = t.TempDir()
	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIBaseURL = providerURL
	cfg.Notification = false
	cfg.RequestTimeout = 5
	return cfg
}

func provider(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wavFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memo.wav")
	data := append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 4096)...)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestRunFileModeWritesTranscript(t *testing.T) {
	ts := provider(t, http.StatusOK, `{"text":"file transcript"}`)
	a, err := New(testConfig(t, ts.URL), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	out := filepath.Join(t.TempDir(), "out.txt")
	got, err := a.RunFileMode(context.Background(), wavFile(t), out)
	require.NoError(t, err)
	assert.Equal(t, out, got)
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "file transcript", string(b))

	entries, err := a.Pipeline().ListHistory()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunFileModeFailureKeepsPending(t *testing.T) {
	ts := provider(t, http.StatusUnauthorized, `{"error":"invalid key"}`)
	a, err := New(testConfig(t, ts.URL), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.RunFileMode(context.Background(), wavFile(t), filepath.Join(t.TempDir(), "out.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")

	var buf bytes.Buffer
	require.NoError(t, a.ListPending(&buf))
	assert.Contains(t, buf.String(), "ID")

	pending, err := a.Pipeline().ListPendingRecoveries()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	entry, err := a.Recover(pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, pending[0].ID, entry.ID)
	require.NoError(t, a.Discard(pending[0].ID))
}

func TestListPendingEmpty(t *testing.T) {
	a, err := New(testConfig(t, "http://unused"), zap.NewNop())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, a.ListPending(&buf))
	assert.Equal(t, "no pending recordings\n", buf.String())
}

func capturePayload() []byte {
	return append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 2048)...)
}

func TestAcceptRoutesByOutcome(t *testing.T) {
	ts := provider(t, http.StatusOK, `{"text":"ok"}`)
	a, err := New(testConfig(t, ts.URL), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	jobs := make(chan job, queueSize)

	a.accept(context.Background(), &record.Recording{Payload: capturePayload(), Duration: time.Second}, jobs)
	a.accept(context.Background(), &record.Recording{Payload: capturePayload(), Salvaged: true}, jobs)
	a.accept(context.Background(), &record.Recording{Payload: capturePayload(), Confirmed: true, Duration: time.Second}, jobs)
	require.Len(t, jobs, 1)

	pending, err := a.Pipeline().ListPendingRecoveries()
	require.NoError(t, err)
	assert.Len(t, pending, 2, "confirmed and salvaged captures are both on disk")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); a.work(ctx, jobs) }()
	require.Eventually(t, func() bool {
		entries, err := a.Pipeline().ListHistory()
		return err == nil && len(entries) == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	entries, err := a.Pipeline().ListHistory()
	require.NoError(t, err)
	assert.Equal(t, "ok", entries[0].Transcript)
	assert.Equal(t, int64(1000), entries[0].Duration)
	pending, err = a.Pipeline().ListPendingRecoveries()
	require.NoError(t, err)
	assert.Len(t, pending, 1, "salvaged capture is kept for recovery")
}

func TestCaptureIsStagedWhileEarlierUploadIsInFlight(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"text":"done"}`))
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	a, err := New(testConfig(t, ts.URL), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	jobs := make(chan job, queueSize)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); a.work(ctx, jobs) }()
	defer func() { cancel(); <-done }()

	confirmed := func() *record.Recording {
		return &record.Recording{Payload: capturePayload(), Confirmed: true, Duration: time.Second}
	}
	a.accept(ctx, confirmed(), jobs)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first upload never started")
	}

	a.accept(ctx, confirmed(), jobs)
	pending, err := a.Pipeline().ListPendingRecoveries()
	require.NoError(t, err)
	assert.Len(t, pending, 2, "second capture is on disk while the first upload is blocked")

	close(release)
	require.Eventually(t, func() bool {
		entries, err := a.Pipeline().ListHistory()
		return err == nil && len(entries) == 2
	}, 5*time.Second, 10*time.Millisecond)
	pending, err = a.Pipeline().ListPendingRecoveries()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAcceptDoesNotBlockOnFullQueue(t *testing.T) {
	a, err := New(testConfig(t, "http://unused"), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	jobs := make(chan job)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		a.accept(context.Background(), &record.Recording{Payload: capturePayload(), Confirmed: true}, jobs)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("accept blocked on a full queue")
	}
	pending, err := a.Pipeline().ListPendingRecoveries()
	require.NoError(t, err)
	assert.Len(t, pending, 1, "unqueued recording stays pending")
}

func TestAcceptPreservesDuringShutdown(t *testing.T) {
	a, err := New(testConfig(t, "http://unused"), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	jobs := make(chan job, 1)

	a.accept(ctx, &record.Recording{Payload: capturePayload()}, jobs)
	assert.Empty(t, jobs)
	pending, err := a.Pipeline().ListPendingRecoveries()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCleanupOldTempFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, record.TempName("wav"))
	keep := filepath.Join(dir, "notes.wav")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0644))

	cleanupOldTempFiles(dir, zap.NewNop())
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(keep)
	assert.NoError(t, err)

	cleanupOldTempFiles(filepath.Join(dir, "missing"), zap.NewNop())
}

func TestNewHTTPClient(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RequestTimeout = 7
	cfg.VerifySSL = false
	c := newHTTPClient(cfg)
	assert.Equal(t, 7*time.Second, c.Timeout)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
}
