// Package pipeline turns a finished recording into a history entry:
// validate, stage, transcribe, post-process, commit, deliver.
//
// A recording is written to staging before any network call and removed
// from it only after its history entry and audio are on disk, so a crash
// or provider failure at any point leaves it recoverable.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dictate/internal/asr"
	"dictate/internal/config"
	"dictate/internal/history"
	"dictate/internal/metrics"
	"dictate/internal/postprocess"
	"dictate/internal/staging"
)

// MinPayloadBytes is the smallest payload accepted for transcription.
const MinPayloadBytes = 1024

const (
	msgEmpty    = "Recording is empty. Please try speaking louder or check your microphone."
	msgTooShort = "Recording is too short. Please speak for at least 1 second."
)

// ErrRecoveryNotFound is returned when a pending recording no longer exists.
var ErrRecoveryNotFound = staging.ErrNotFound

// ValidationError rejects a payload before anything is written.
type ValidationError struct {
	Size   int
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// StagingIOError means the payload could not be made durable; nothing was
// uploaded and history is unchanged.
type StagingIOError struct {
	ID  string
	Err error
}

func (e *StagingIOError) Error() string {
	return fmt.Sprintf("stage recording %s: %v", e.ID, e.Err)
}

func (e *StagingIOError) Unwrap() error { return e.Err }

// Transcriber uploads audio. *asr.Client satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, t asr.Target, payload []byte) (asr.Result, error)
}

// PostProcessor rewrites transcripts. *postprocess.Processor satisfies it.
type PostProcessor interface {
	Process(ctx context.Context, cfg config.Config, transcript string) (string, error)
}

// Deliverer hands a transcript to the user.
type Deliverer interface {
	Deliver(text string) error
}

// Notifier surfaces outcomes to the user.
type Notifier interface {
	Notify(title, message string)
}

// Options wire a Pipeline.
type Options struct {
	Config        func() config.Config
	History       *history.Store
	Staging       *staging.Store
	Transcriber   Transcriber
	PostProcessor PostProcessor
	Deliverer     Deliverer
	Notifier      Notifier
	Metrics       *metrics.Metrics
	// HistoryChanged is called after every history mutation.
	HistoryChanged func()
	Now            func() time.Time
	Logger         *zap.Logger
}

// Pipeline owns the stores. All store writes go through mu.
type Pipeline struct {
	opts   Options
	logger *zap.Logger
	mu     sync.Mutex
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{opts: opts, logger: opts.Logger}
}

// Validate checks a payload without side effects.
func Validate(payload []byte) error {
	switch {
	case len(payload) == 0:
		return &ValidationError{Size: 0, Reason: msgEmpty}
	case len(payload) < MinPayloadBytes:
		return &ValidationError{Size: len(payload), Reason: msgTooShort}
	}
	return nil
}

// CreateRecording runs the full pipeline for one payload. On an upload
// error the recording stays staged and can be recovered later.
func (p *Pipeline) CreateRecording(ctx context.Context, payload []byte, duration time.Duration) (history.Entry, error) {
	rec, err := p.Stage(payload)
	if err != nil {
		return history.Entry{}, err
	}
	return p.Transcribe(ctx, rec.ID, duration)
}

// Stage validates payload and makes it durable under a new id. It does no
// network I/O, so it is safe to call the moment a capture ends.
func (p *Pipeline) Stage(payload []byte) (staging.Recording, error) {
	if err := Validate(payload); err != nil {
		p.opts.Metrics.Transcribed(metrics.ResultInvalid)
		p.logger.Info("recording rejected", zap.Int("bytes", len(payload)), zap.Error(err))
		return staging.Recording{}, err
	}

	id := staging.NewID()
	p.mu.Lock()
	rec, err := p.opts.Staging.Stage(id, payload)
	p.mu.Unlock()
	if err != nil {
		p.opts.Metrics.Transcribed(metrics.ResultStaging)
		p.logger.Error("staging failed", zap.String("id", id), zap.Error(err))
		return staging.Recording{}, &StagingIOError{ID: id, Err: err}
	}
	p.opts.Metrics.Staged()
	p.logger.Info("recording staged", zap.String("id", id), zap.String("path", rec.Path), zap.Int("bytes", len(payload)))
	return rec, nil
}

// Transcribe uploads the staged recording id and commits the result. A
// recording discarded or recovered in the meantime yields
// ErrRecoveryNotFound.
func (p *Pipeline) Transcribe(ctx context.Context, id string, duration time.Duration) (history.Entry, error) {
	p.mu.Lock()
	payload, err := p.opts.Staging.Read(id)
	p.mu.Unlock()
	if err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			p.logger.Info("staged recording gone before upload", zap.String("id", id))
			return history.Entry{}, fmt.Errorf("transcribe %s: %w", id, ErrRecoveryNotFound)
		}
		return history.Entry{}, &StagingIOError{ID: id, Err: err}
	}

	cfg := p.opts.Config()
	target, err := asr.Resolve(cfg)
	if err != nil {
		return history.Entry{}, p.rejected(id, &asr.UploadError{Provider: target.Provider, Err: err})
	}
	res, err := p.opts.Transcriber.Transcribe(ctx, target, payload)
	if err != nil {
		return history.Entry{}, p.rejected(id, err)
	}
	p.opts.Metrics.Uploaded(res.Elapsed.Seconds())

	transcript := p.postProcess(ctx, cfg, res.Text)

	entry := history.Entry{
		ID:         id,
		CreatedAt:  p.opts.Now().UnixMilli(),
		Duration:   duration.Milliseconds(),
		Transcript: transcript,
	}
	if err := p.commit(entry, payload); err != nil {
		p.logger.Error("commit failed", zap.String("id", id), zap.Error(err))
		return history.Entry{}, err
	}
	p.opts.Metrics.Transcribed(metrics.ResultSuccess)
	p.logger.Info("recording transcribed",
		zap.String("id", id),
		zap.String("provider", target.Provider),
		zap.Int("chars", len(transcript)),
		zap.Duration("upload", res.Elapsed))
	p.historyChanged()

	if p.opts.Deliverer != nil {
		if err := p.opts.Deliverer.Deliver(transcript); err != nil {
			p.logger.Warn("deliver transcript failed", zap.Error(err))
		}
	}
	p.notify("Transcription complete", preview(transcript))
	return entry, nil
}

func (p *Pipeline) rejected(id string, err error) error {
	p.opts.Metrics.Transcribed(metrics.ResultRejected)
	p.logger.Warn("transcription failed, recording kept for recovery", zap.String("id", id), zap.Error(err))
	p.notify("Transcription failed", err.Error())
	return err
}

// postProcess returns the rewritten transcript, or the raw one when
// post-processing is off or fails.
func (p *Pipeline) postProcess(ctx context.Context, cfg config.Config, raw string) string {
	if p.opts.PostProcessor == nil || !postprocess.Enabled(cfg) || raw == "" {
		return raw
	}
	out, err := p.opts.PostProcessor.Process(ctx, cfg, raw)
	if err != nil {
		p.opts.Metrics.FellBack()
		p.logger.Warn("post-processing failed, using raw transcript", zap.Error(err))
		return raw
	}
	return out
}

// commit persists audio, then the entry, then drops the staged copy. A
// recording recovered while its upload was in flight is already in history
// and is left as recovered.
func (p *Pipeline) commit(entry history.Entry, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, committed, err := p.opts.History.Get(entry.ID)
	if err != nil {
		return err
	}
	if committed {
		return fmt.Errorf("commit %s: %w", entry.ID, history.ErrDuplicateID)
	}
	if _, err := p.opts.History.SaveAudio(entry.ID, payload); err != nil {
		return err
	}
	if err := p.opts.History.Add(entry); err != nil {
		return err
	}
	if err := p.opts.Staging.Discard(entry.ID); err != nil {
		p.logger.Warn("remove staged copy failed", zap.String("id", entry.ID), zap.Error(err))
	}
	return nil
}

// Preserve stages a payload without transcribing it, so it is offered as a
// pending recovery. Used for captures salvaged after an input or encoder
// failure.
func (p *Pipeline) Preserve(payload []byte) (staging.Recording, error) {
	if len(payload) == 0 {
		return staging.Recording{}, &ValidationError{Reason: msgEmpty}
	}
	id := staging.NewID()
	p.mu.Lock()
	rec, err := p.opts.Staging.Stage(id, payload)
	p.mu.Unlock()
	if err != nil {
		return staging.Recording{}, &StagingIOError{ID: id, Err: err}
	}
	p.opts.Metrics.Staged()
	p.logger.Info("recording preserved for recovery", zap.String("id", id), zap.Int("bytes", len(payload)))
	return rec, nil
}

// ListHistory returns committed entries, newest first.
func (p *Pipeline) ListHistory() ([]history.Entry, error) {
	return p.opts.History.List()
}

// DeleteHistoryItem removes an entry and its audio. Unknown ids are a no-op.
func (p *Pipeline) DeleteHistoryItem(id string) error {
	p.mu.Lock()
	err := p.opts.History.Delete(id)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.historyChanged()
	return nil
}

// ClearHistory removes every entry.
func (p *Pipeline) ClearHistory() error {
	p.mu.Lock()
	err := p.opts.History.Clear()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.historyChanged()
	return nil
}

// ListPendingRecoveries returns the newest staged recordings.
func (p *Pipeline) ListPendingRecoveries() ([]staging.Recording, error) {
	return p.opts.Staging.List(staging.MaxPending)
}

// RecoverPending moves a staged recording into history with a placeholder
// transcript.
func (p *Pipeline) RecoverPending(id string) (history.Entry, error) {
	p.mu.Lock()
	entry, err := p.opts.Staging.Promote(id)
	p.mu.Unlock()
	if err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			return history.Entry{}, fmt.Errorf("recover %s: %w", id, ErrRecoveryNotFound)
		}
		return history.Entry{}, err
	}
	p.opts.Metrics.Recovered()
	p.logger.Info("pending recording recovered", zap.String("id", id))
	p.historyChanged()
	return entry, nil
}

// DiscardPending deletes a staged recording. Missing ids are a no-op.
func (p *Pipeline) DiscardPending(id string) error {
	p.mu.Lock()
	err := p.opts.Staging.Discard(id)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.opts.Metrics.Discarded()
	p.logger.Info("pending recording discarded", zap.String("id", id))
	return nil
}

func (p *Pipeline) historyChanged() {
	if p.opts.HistoryChanged != nil {
		p.opts.HistoryChanged()
	}
}

func (p *Pipeline) notify(title, message string) {
	if p.opts.Notifier != nil {
		p.opts.Notifier.Notify(title, message)
	}
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 80 {
		return string(r[:80]) + "…"
	}
	return s
}
