// Package metrics defines the Prometheus collectors for capture and
// transcription.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dictate/internal/record"
)

// Transcription results.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultInvalid  = "invalid"
	ResultStaging  = "staging_error"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Capture
	CapturesStarted  prometheus.Counter
	CapturesEnded    *prometheus.CounterVec
	CapturesSalvaged prometheus.Counter
	CaptureDuration  prometheus.Histogram

	// Pipeline
	RecordingsStaged    prometheus.Counter
	Transcriptions      *prometheus.CounterVec
	UploadDuration      prometheus.Histogram
	PostProcessFallback prometheus.Counter
	Recoveries          prometheus.Counter
	Discards            prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CapturesStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_captures_started_total",
			Help: "Total number of captures started",
		}),
		CapturesEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dictate_captures_ended_total",
			Help: "Captures that produced a payload, by confirmation",
		}, []string{"confirmed"}),
		CapturesSalvaged: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_captures_salvaged_total",
			Help: "Captures whose payload was salvaged after an error",
		}),
		CaptureDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dictate_capture_duration_seconds",
			Help:    "Duration of captures that produced a payload",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34 minutes
		}),
		RecordingsStaged: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_recordings_staged_total",
			Help: "Recordings durably written to staging",
		}),
		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dictate_transcriptions_total",
			Help: "Recordings submitted to the pipeline, by result",
		}, []string{"result"}),
		UploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dictate_upload_duration_seconds",
			Help:    "Time spent waiting on the transcription provider",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),
		PostProcessFallback: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_postprocess_fallbacks_total",
			Help: "Post-processing failures that fell back to the raw transcript",
		}),
		Recoveries: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_pending_recovered_total",
			Help: "Staged recordings promoted to history",
		}),
		Discards: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_pending_discarded_total",
			Help: "Staged recordings discarded",
		}),
	}
}

// Attach counts capture events published on bus.
func (m *Metrics) Attach(bus *record.Bus) func() {
	offStart := bus.Subscribe(record.EventCaptureStarted, func(*record.Event) {
		m.CapturesStarted.Inc()
	})
	offEnd := bus.Subscribe(record.EventCaptureEnded, func(e *record.Event) {
		if e.Recording == nil {
			return
		}
		confirmed := "false"
		if e.Recording.Confirmed {
			confirmed = "true"
		}
		m.CapturesEnded.WithLabelValues(confirmed).Inc()
		if e.Recording.Salvaged {
			m.CapturesSalvaged.Inc()
		}
		m.CaptureDuration.Observe(e.Recording.Duration.Seconds())
	})
	return func() {
		offStart()
		offEnd()
	}
}

// Transcribed counts one pipeline outcome.
func (m *Metrics) Transcribed(result string) {
	if m == nil {
		return
	}
	m.Transcriptions.WithLabelValues(result).Inc()
}

// Staged counts a durable staging write.
func (m *Metrics) Staged() {
	if m == nil {
		return
	}
	m.RecordingsStaged.Inc()
}

// Uploaded observes provider latency in seconds.
func (m *Metrics) Uploaded(seconds float64) {
	if m == nil {
		return
	}
	m.UploadDuration.Observe(seconds)
}

// FellBack counts a post-processing fallback.
func (m *Metrics) FellBack() {
	if m == nil {
		return
	}
	m.PostProcessFallback.Inc()
}

// Recovered counts a promoted staged recording.
func (m *Metrics) Recovered() {
	if m == nil {
		return
	}
	m.Recoveries.Inc()
}

// Discarded counts a discarded staged recording.
func (m *Metrics) Discarded() {
	if m == nil {
		return
	}
	m.Discards.Inc()
}
