// Package app wires configuration, stores, capture and the pipeline into the
// program's run modes.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"dictate/internal/asr"
	"dictate/internal/audio/container"
	"dictate/internal/audio/ffmpeg"
	"dictate/internal/audio/mic"
	"dictate/internal/clipboard"
	"dictate/internal/config"
	"dictate/internal/history"
	"dictate/internal/metrics"
	"dictate/internal/notify"
	"dictate/internal/pipeline"
	"dictate/internal/postprocess"
	"dictate/internal/record"
	"dictate/internal/server"
	"dictate/internal/staging"
)

// queueSize bounds recordings waiting for the pipeline in serve mode.
const queueSize = 8

// App holds everything shared by the run modes.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	client   *http.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	history  *history.Store
	staging  *staging.Store
	pipeline *pipeline.Pipeline
	frames   *record.FrameLoop
	hub      *server.Hub
}

// New opens the stores and builds the pipeline.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	hist, err := history.Open(config.HistoryDir(&cfg))
	if err != nil {
		return nil, err
	}
	stage, err := staging.Open(config.StagingDir(&cfg), hist)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		cfg:      cfg,
		logger:   logger,
		client:   newHTTPClient(cfg),
		registry: reg,
		metrics:  metrics.New(reg),
		history:  hist,
		staging:  stage,
		frames:   record.NewFrameLoop(),
	}
	a.hub = server.NewHub(a.frames, logger.Named("ws"))
	a.pipeline = pipeline.New(pipeline.Options{
		Config:         func() config.Config { return a.cfg },
		History:        hist,
		Staging:        stage,
		Transcriber:    asr.New(a.client, logger.Named("upload")),
		PostProcessor:  postprocess.New(a.client, logger.Named("postprocess")),
		Deliverer:      clipboard.New(cfg.ClipboardPaste, logger.Named("clipboard")),
		Notifier:       notify.New(cfg.Notification, logger.Named("notify")),
		Metrics:        a.metrics,
		HistoryChanged: a.hub.HistoryChanged,
		Logger:         logger.Named("pipeline"),
	})
	return a, nil
}

// Pipeline exposes the pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Close releases idle connections.
func (a *App) Close() {
	a.client.CloseIdleConnections()
}

// RunServe captures from the microphone and serves the control API until
// ctx is done.
func (a *App) RunServe(ctx context.Context) error {
	tempDir := config.TempDir(&a.cfg)
	cleanupOldTempFiles(tempDir, a.logger.Named("cleanup"))

	if ffmpeg.NeedsTranscode(a.cfg.Codec) && !ffmpeg.Available() {
		a.logger.Warn("ffmpeg not found, recordings will be sent as wav", zap.String("codec", a.cfg.Codec))
	}

	bus := record.NewBus(a.logger.Named("bus"))
	meter := record.NewLevelMeter()
	offMeter := meter.Attach(bus)
	defer offMeter()
	offMetrics := a.metrics.Attach(bus)
	defer offMetrics()
	offHub := a.hub.Attach(bus)
	defer offHub()

	session := record.New(record.Options{
		Input:   mic.Factory(a.logger.Named("mic")),
		Encoder: record.WAVEncoderFactory(a.encoderOptions(tempDir)),
		Frames:  a.frames,
		Audio: func() (config.AudioProcessing, error) {
			return config.ResolveAudio(a.cfg), nil
		},
		InputOptions: record.DefaultInputOptions(a.cfg.SampleRate, a.cfg.Channels),
		Logger:       a.logger.Named("record"),
	}, bus)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	jobs := make(chan job, queueSize)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		a.work(runCtx, jobs)
	}()
	offJobs := bus.Subscribe(record.EventCaptureEnded, func(e *record.Event) {
		if e.Recording != nil {
			a.accept(runCtx, e.Recording, jobs)
		}
	})
	defer offJobs()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	srv := server.New(server.Options{
		Capture:    session,
		Recordings: a.pipeline,
		Meter:      meter,
		Hub:        a.hub,
		Gatherer:   a.registry,
		Logger:     a.logger.Named("api"),
	})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(a.cfg.ListenAddr) }()

	if pending, err := a.pipeline.ListPendingRecoveries(); err == nil && len(pending) > 0 {
		a.logger.Info("recordings awaiting recovery", zap.Int("count", len(pending)))
	}
	a.logger.Info("ready", zap.String("addr", a.cfg.ListenAddr))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	cancelRun()
	if session.State() == record.StateCapturing {
		_ = session.Stop(false)
	}
	<-workerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("api shutdown failed", zap.Error(err))
	}
	return runErr
}

func (a *App) encoderOptions(tempDir string) record.WAVOptions {
	opts := record.WAVOptions{Dir: tempDir, Logger: a.logger.Named("encoder")}
	if ffmpeg.NeedsTranscode(a.cfg.Codec) {
		opts.Transcode = &ffmpeg.Options{
			Codec:       a.cfg.Codec,
			BitRateKbps: a.cfg.BitRate,
			SampleRate:  a.cfg.SampleRate,
			Channels:    a.cfg.Channels,
		}
		opts.Ext = container.Ext(a.cfg.Container)
	}
	return opts
}

// job is a staged recording waiting for transcription.
type job struct {
	id       string
	duration time.Duration
}

// accept runs on the capture-ended listener. Confirmed captures are staged
// before it returns and only their ids are queued; salvaged ones and those
// ending during shutdown are kept for recovery, unconfirmed ones dropped.
// It never blocks on the queue.
func (a *App) accept(ctx context.Context, rec *record.Recording, jobs chan<- job) {
	switch {
	case rec.Salvaged || ctx.Err() != nil:
		a.preserve(rec)
		return
	case !rec.Confirmed:
		a.logger.Info("unconfirmed capture dropped", zap.Int("bytes", len(rec.Payload)))
		return
	}
	staged, err := a.pipeline.Stage(rec.Payload)
	if err != nil {
		a.logger.Warn("recording not staged", zap.Error(err))
		return
	}
	select {
	case jobs <- job{id: staged.ID, duration: rec.Duration}:
	default:
		a.logger.Warn("transcription queue full, recording left pending", zap.String("id", staged.ID))
	}
}

// work transcribes queued recordings until ctx is done. Ids still queued
// then stay staged for the next run.
func (a *App) work(ctx context.Context, jobs <-chan job) {
	for {
		select {
		case j := <-jobs:
			if _, err := a.pipeline.Transcribe(ctx, j.id, j.duration); err != nil {
				a.logger.Warn("recording not transcribed", zap.String("id", j.id), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) preserve(rec *record.Recording) {
	if _, err := a.pipeline.Preserve(rec.Payload); err != nil {
		a.logger.Error("could not preserve recording", zap.Int("bytes", len(rec.Payload)), zap.Error(err))
	}
}

// RunFileMode sends an existing audio file through the pipeline and writes
// the transcript next to it as .txt, or to outputPath.
func (a *App) RunFileMode(ctx context.Context, inputPath, outputPath string) (string, error) {
	tempDir := config.TempDir(&a.cfg)
	cleanupOldTempFiles(tempDir, a.logger.Named("cleanup"))

	if _, err := os.Stat(inputPath); err != nil {
		return "", fmt.Errorf("file '%s' stat failed: %w", inputPath, err)
	}
	payload, err := a.readInput(ctx, tempDir, inputPath)
	if err != nil {
		return "", err
	}

	entry, err := a.pipeline.CreateRecording(ctx, payload, 0)
	if err != nil {
		return "", err
	}

	outPath := outputPath
	if outPath == "" {
		base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		outPath = filepath.Join(".", base+".txt")
	}
	if err := os.WriteFile(outPath, []byte(entry.Transcript), 0644); err != nil {
		return "", err
	}
	return outPath, nil
}

// readInput returns the file bytes, transcoded when the configured codec
// asks for it. A failed transcode falls back to the original bytes.
func (a *App) readInput(ctx context.Context, tempDir, inputPath string) ([]byte, error) {
	if !ffmpeg.NeedsTranscode(a.cfg.Codec) {
		return os.ReadFile(inputPath)
	}
	out := filepath.Join(tempDir, record.TempName(container.Ext(a.cfg.Container)))
	defer os.Remove(out)
	opts := ffmpeg.Options{Codec: a.cfg.Codec, BitRateKbps: a.cfg.BitRate, SampleRate: a.cfg.SampleRate, Channels: a.cfg.Channels}
	if err := ffmpeg.Convert(ctx, opts, inputPath, out, a.logger.Named("ffmpeg")); err != nil {
		a.logger.Warn("transcode failed, sending original file", zap.Error(err))
		return os.ReadFile(inputPath)
	}
	return os.ReadFile(out)
}

// ListPending prints the recordings awaiting recovery.
func (a *App) ListPending(w io.Writer) error {
	recs, err := a.pipeline.ListPendingRecoveries()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "no pending recordings")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECORDED\tSIZE\tDURATION")
	for _, r := range recs {
		dur := "-"
		if r.Duration > 0 {
			dur = r.Duration.Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Size, dur)
	}
	return tw.Flush()
}

// Recover promotes a pending recording into history.
func (a *App) Recover(id string) (history.Entry, error) {
	return a.pipeline.RecoverPending(id)
}

// Discard deletes a pending recording.
func (a *App) Discard(id string) error {
	return a.pipeline.DiscardPending(id)
}

func newHTTPClient(cfg config.Config) *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if !cfg.VerifySSL {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if cfg.EnableHTTP2 {
		_ = http2.ConfigureTransport(tr)
	}
	return &http.Client{
		Transport: tr,
		Timeout:   time.Duration(cfg.RequestTimeout) * time.Second,
	}
}

// cleanupOldTempFiles removes encoder scratch files left by a previous run.
func cleanupOldTempFiles(dir string, logger *zap.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("read dir failed", zap.String("dir", dir), zap.Error(err))
		}
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, record.TempPrefix) {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			logger.Warn("remove failed", zap.String("path", path), zap.Error(err))
		} else {
			logger.Debug("removed", zap.String("path", path))
		}
	}
}
