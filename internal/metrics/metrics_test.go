package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dictate/internal/record"
)

func TestAttachCountsCaptureEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	bus := record.NewBus(zap.NewNop())
	off := m.Attach(bus)

	bus.Publish(&record.Event{Type: record.EventCaptureStarted})
	bus.Publish(&record.Event{Type: record.EventCaptureEnded, Recording: &record.Recording{Payload: []byte{1}, Duration: 3 * time.Second, Confirmed: true}})
	bus.Publish(&record.Event{Type: record.EventCaptureEnded, Recording: &record.Recording{Payload: []byte{1}, Salvaged: true}})
	off()
	bus.Publish(&record.Event{Type: record.EventCaptureStarted})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapturesStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapturesEnded.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapturesEnded.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapturesSalvaged))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var observed uint64
	for _, mf := range mfs {
		if mf.GetName() == "dictate_capture_duration_seconds" {
			observed = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), observed)
}

func TestPipelineCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Staged()
	m.Transcribed(ResultSuccess)
	m.Transcribed(ResultRejected)
	m.Transcribed(ResultRejected)
	m.FellBack()
	m.Recovered()
	m.Discarded()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsStaged))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transcriptions.WithLabelValues(ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PostProcessFallback))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Recoveries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Discards))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Staged()
	m.Transcribed(ResultSuccess)
	m.Uploaded(1)
	m.FellBack()
	m.Recovered()
	m.Discarded()
}
