package record

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dictate/internal/config"
)

type fakeInput struct {
	level   float32
	failAt  int32
	reads   atomic.Int32
	closed  atomic.Bool
	silence bool
}

func (f *fakeInput) Format() audio.Format { return audio.Format{NumChannels: 1, SampleRate: 16000} }

func (f *fakeInput) Read(buf []float32) (int, error) {
	time.Sleep(time.Millisecond)
	n := f.reads.Add(1)
	if f.failAt > 0 && n >= f.failAt {
		return 0, errors.New("device unplugged")
	}
	if f.silence {
		return 0, nil
	}
	for i := range buf {
		buf[i] = f.level
	}
	return len(buf), nil
}

func (f *fakeInput) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeEncoder struct {
	mu        sync.Mutex
	samples   int
	failAfter int
	writes    int
	empty     bool
	aborted   bool
	salvaged  bool
}

func (e *fakeEncoder) Write(buf *audio.FloatBuffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writes++
	if e.failAfter > 0 && e.writes > e.failAfter {
		return errors.New("disk full")
	}
	e.samples += len(buf.Data)
	return nil
}

func (e *fakeEncoder) Finalize() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.empty {
		return nil, nil
	}
	return make([]byte, e.samples), nil
}

func (e *fakeEncoder) Salvage() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.salvaged = true
	if e.samples == 0 {
		return nil
	}
	return make([]byte, e.samples)
}

func (e *fakeEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

type harness struct {
	session  *Session
	frames   *FrameLoop
	inputs   []*fakeInput
	encoders []*fakeEncoder
	timers   []*fakeTimer

	mu     sync.Mutex
	events []Event

	newInput   func() *fakeInput
	newEncoder func() *fakeEncoder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		frames:     NewFrameLoop(),
		newInput:   func() *fakeInput { return &fakeInput{level: 0.2} },
		newEncoder: func() *fakeEncoder { return &fakeEncoder{} },
	}
	opts := Options{
		Input: func(InputOptions) (Input, error) {
			in := h.newInput()
			h.inputs = append(h.inputs, in)
			return in, nil
		},
		Encoder: func(audio.Format) (Encoder, error) {
			enc := h.newEncoder()
			h.encoders = append(h.encoders, enc)
			return enc, nil
		},
		Frames: h.frames,
		Audio:  func() (config.AudioProcessing, error) { return config.DefaultAudio(), nil },
		AfterFunc: func(d time.Duration, f func()) Timer {
			tm := &fakeTimer{d: d, f: f}
			h.timers = append(h.timers, tm)
			return tm
		},
		InputOptions: InputOptions{SampleRate: 16000, Channels: 1, FramesPerBuffer: 160},
		Logger:       zap.NewNop(),
	}
	h.session = New(opts, nil)
	h.session.Bus().SubscribeAll(func(e *Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, *e)
	})
	return h
}

func (h *harness) types() []EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []EventType
	for _, e := range h.events {
		if e.Type != EventLoudnessSample {
			out = append(out, e.Type)
		}
	}
	return out
}

func (h *harness) ended() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, e := range h.events {
		if e.Type == EventCaptureEnded {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) waitForWrites(t *testing.T, enc *fakeEncoder) {
	t.Helper()
	require.Eventually(t, func() bool {
		enc.mu.Lock()
		defer enc.mu.Unlock()
		return enc.samples > 0
	}, time.Second, time.Millisecond)
}

func TestStartStopPublishesLifecycle(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, StateCapturing, h.session.State())
	assert.Equal(t, []EventType{EventCaptureStarted}, h.types(), "capture-started is published before Start returns")

	h.waitForWrites(t, h.encoders[0])
	require.NoError(t, h.session.Stop(true))

	assert.Equal(t, StateIdle, h.session.State())
	assert.Equal(t, []EventType{EventCaptureStarted, EventCaptureEnded, EventTeardown}, h.types())
	ended := h.ended()
	require.Len(t, ended, 1)
	assert.NotEmpty(t, ended[0].Recording.Payload)
	assert.True(t, ended[0].Recording.Confirmed)
	assert.False(t, ended[0].Recording.Salvaged)
	assert.True(t, h.inputs[0].closed.Load())
	assert.True(t, h.timers[0].stopped.Load())
	assert.Equal(t, MaxDuration, h.timers[0].d)
}

func TestStopUnconfirmedStillReportsPayload(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Start(context.Background()))
	h.waitForWrites(t, h.encoders[0])
	require.NoError(t, h.session.Stop(false))

	ended := h.ended()
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Recording.Confirmed)
}

func TestStopWhenIdle(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.session.Stop(true), ErrNotCapturing)
}

func TestRestartAbandonsPreviousCapture(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Start(context.Background()))
	h.waitForWrites(t, h.encoders[0])
	require.NoError(t, h.session.Start(context.Background()))
	h.waitForWrites(t, h.encoders[1])
	require.NoError(t, h.session.Stop(true))

	assert.Equal(t, []EventType{
		EventCaptureStarted, EventTeardown,
		EventCaptureStarted, EventCaptureEnded, EventTeardown,
	}, h.types())
	ended := h.ended()
	require.Len(t, ended, 1)
	assert.Equal(t, uint64(2), ended[0].CaptureID)
	assert.True(t, h.encoders[0].aborted)
	assert.True(t, h.inputs[0].closed.Load())
	assert.True(t, h.timers[0].stopped.Load())
}

func TestFailsafeStopsRunawayCapture(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Start(context.Background()))
	h.waitForWrites(t, h.encoders[0])

	h.timers[0].f()

	ended := h.ended()
	require.Len(t, ended, 1)
	assert.True(t, ended[0].Recording.Confirmed)
	assert.Equal(t, StateIdle, h.session.State())
	assert.ErrorIs(t, h.session.Stop(true), ErrNotCapturing)
}

func TestStaleFailsafeDoesNotStopNewerCapture(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.Start(context.Background()))

	h.timers[0].f()
	assert.Equal(t, StateCapturing, h.session.State())
	require.NoError(t, h.session.Stop(true))
}

func TestEmptyPayloadIsDiscardedSilently(t *testing.T) {
	h := newHarness(t)
	h.newEncoder = func() *fakeEncoder { return &fakeEncoder{empty: true} }
	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.Stop(true))

	assert.Empty(t, h.ended())
	assert.Equal(t, []EventType{EventCaptureStarted, EventTeardown}, h.types())
}

func TestEncoderErrorSalvagesBufferedAudio(t *testing.T) {
	h := newHarness(t)
	h.newEncoder = func() *fakeEncoder { return &fakeEncoder{failAfter: 3} }
	require.NoError(t, h.session.Start(context.Background()))

	require.Eventually(t, func() bool { return h.session.State() == StateIdle }, time.Second, time.Millisecond)
	ended := h.ended()
	require.Len(t, ended, 1)
	assert.True(t, ended[0].Recording.Salvaged)
	assert.Len(t, ended[0].Recording.Payload, 3*160)
	assert.Equal(t, []EventType{EventCaptureStarted, EventCaptureEnded, EventTeardown}, h.types())
	assert.True(t, h.inputs[0].closed.Load())
}

func TestInputErrorWithNothingBufferedIsAbandoned(t *testing.T) {
	h := newHarness(t)
	h.newInput = func() *fakeInput { return &fakeInput{failAt: 1} }
	require.NoError(t, h.session.Start(context.Background()))

	require.Eventually(t, func() bool { return h.session.State() == StateIdle }, time.Second, time.Millisecond)
	assert.Empty(t, h.ended())
	assert.Equal(t, []EventType{EventCaptureStarted, EventTeardown}, h.types())
	assert.True(t, h.encoders[0].salvaged)
}

func TestLoudnessSamplingFollowsFrames(t *testing.T) {
	h := newHarness(t)
	h.newInput = func() *fakeInput { return &fakeInput{level: 0.05} }
	require.NoError(t, h.session.Start(context.Background()))
	h.waitForWrites(t, h.encoders[0])
	require.Equal(t, 1, h.frames.Pending())

	var levels []float64
	off := h.session.Bus().Subscribe(EventLoudnessSample, func(e *Event) { levels = append(levels, e.Level) })
	defer off()
	for i := 0; i < 3; i++ {
		require.Equal(t, 1, h.frames.Tick(time.Now()))
	}
	require.Len(t, levels, 3)
	for _, v := range levels {
		assert.InDelta(t, Scale(0.05), v, 1e-6)
	}

	require.NoError(t, h.session.Stop(true))
	assert.Zero(t, h.frames.Pending(), "sampling is cancelled on teardown")
	assert.Zero(t, h.frames.Tick(time.Now()))
	assert.Len(t, levels, 3)
}

func TestStartFailsWhenInputUnavailable(t *testing.T) {
	s := New(Options{
		Input:   func(InputOptions) (Input, error) { return nil, errors.New("no device") },
		Encoder: func(audio.Format) (Encoder, error) { return &fakeEncoder{}, nil },
	}, nil)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device")
	assert.Equal(t, StateIdle, s.State())
}

func TestStartUsesDefaultsWhenConfigUnavailable(t *testing.T) {
	h := newHarness(t)
	h.session.opts.Audio = func() (config.AudioProcessing, error) { return config.AudioProcessing{}, errors.New("config locked") }
	require.NoError(t, h.session.Start(context.Background()))
	assert.False(t, h.session.cur.chain.Bypassed())
	assert.Equal(t, config.DefaultAudio(), h.session.cur.chain.Params())
	require.NoError(t, h.session.Stop(false))
}
