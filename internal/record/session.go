// Package record runs microphone capture sessions: input, conditioning,
// encoding, loudness sampling and the events that report them.
package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"go.uber.org/zap"

	"dictate/internal/audio/chain"
	"dictate/internal/config"
)

// MaxDuration bounds a single capture.
const MaxDuration = 30 * time.Minute

const analysisWindow = 2048

// ErrNotCapturing is returned by Stop when no capture is running.
var ErrNotCapturing = errors.New("no capture in progress")

// State represents session state.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Timer is the failsafe handle. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// Options wire a Session to its collaborators.
type Options struct {
	Input   InputFactory
	Encoder EncoderFactory
	Frames  FrameScheduler
	// Audio returns the conditioning parameters for the next capture.
	Audio        func() (config.AudioProcessing, error)
	InputOptions InputOptions
	MaxDuration  time.Duration
	AfterFunc    func(d time.Duration, f func()) Timer
	Now          func() time.Time
	Logger       *zap.Logger
}

// Session owns at most one capture at a time.
type Session struct {
	opts   Options
	bus    *Bus
	logger *zap.Logger

	// lifecycle serializes Start, Stop and the internal stop paths.
	lifecycle sync.Mutex

	mu     sync.Mutex
	state  State
	cur    *capture
	nextID uint64
}

type capture struct {
	id       uint64
	input    Input
	chain    *chain.Chain
	enc      Encoder
	started  time.Time
	failsafe Timer
	sampler  *sampler
	window   *window

	quit     chan struct{}
	loopDone chan struct{}
	loopErr  error
}

// New creates an idle session publishing on bus.
func New(opts Options, bus *Bus) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = MaxDuration
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Frames == nil {
		opts.Frames = NewFrameLoop()
	}
	if opts.InputOptions.SampleRate == 0 {
		opts.InputOptions = DefaultInputOptions(16000, 1)
	}
	if bus == nil {
		bus = NewBus(opts.Logger)
	}
	return &Session{opts: opts, bus: bus, logger: opts.Logger}
}

// Bus returns the event bus.
func (s *Session) Bus() *Bus { return s.bus }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed is the running capture's age, or zero when idle.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return 0
	}
	return s.opts.Now().Sub(s.cur.started)
}

// Start begins a new capture. A capture already running is torn down first
// and its audio abandoned.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if prev := s.claim(nil); prev != nil {
		s.logger.Info("restarting, abandoning previous capture", zap.Uint64("capture", prev.id))
		s.shutdown(prev)
		prev.enc.Abort()
		s.publish(&Event{Type: EventTeardown, CaptureID: prev.id})
		s.setIdle()
	}

	in, err := s.opts.Input(s.opts.InputOptions)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	format := in.Format()

	ap := config.DefaultAudio()
	if s.opts.Audio != nil {
		if v, err := s.opts.Audio(); err != nil {
			s.logger.Warn("audio config unavailable, using defaults", zap.Error(err))
		} else {
			ap = v
		}
	}
	ch := chain.New(ap, &format, s.logger.Named("chain"))

	enc, err := s.opts.Encoder(format)
	if err != nil {
		_ = in.Close()
		return fmt.Errorf("start encoder: %w", err)
	}

	s.mu.Lock()
	s.nextID++
	c := &capture{
		id:       s.nextID,
		input:    in,
		chain:    ch,
		enc:      enc,
		started:  s.opts.Now(),
		window:   newWindow(analysisWindow),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	s.cur = c
	s.state = StateCapturing
	s.mu.Unlock()

	c.failsafe = s.opts.AfterFunc(s.opts.MaxDuration, func() { s.expire(c) })

	s.logger.Info("capture started",
		zap.Uint64("capture", c.id),
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("channels", format.NumChannels),
		zap.Bool("conditioned", !ch.Bypassed()))
	s.publish(&Event{Type: EventCaptureStarted, CaptureID: c.id})

	go s.loop(c, format)
	go s.watch(c)

	c.sampler = &sampler{
		frames: s.opts.Frames,
		emit: func(now time.Time) {
			s.bus.Publish(&Event{Type: EventLoudnessSample, Time: now, CaptureID: c.id, Level: c.window.level()})
		},
	}
	c.sampler.start()
	return nil
}

// Stop ends the running capture and publishes capture-ended with the
// payload unless it is empty, then teardown. confirmed is reported as-is.
func (s *Session) Stop(confirmed bool) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	c := s.claim(nil)
	if c == nil {
		return ErrNotCapturing
	}
	s.finish(c, confirmed)
	return nil
}

// claim detaches the running capture. With want set, it only claims that
// capture, so stale timers and watchers cannot stop a newer one.
func (s *Session) claim(want *capture) *capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cur
	if c == nil || (want != nil && c != want) {
		return nil
	}
	s.cur = nil
	s.state = StateStopping
	return c
}

func (s *Session) setIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		s.state = StateIdle
	}
}

// shutdown stops sampling, the failsafe, the loop and the input.
func (s *Session) shutdown(c *capture) {
	if c.failsafe != nil {
		c.failsafe.Stop()
	}
	if c.sampler != nil {
		c.sampler.stop()
	}
	close(c.quit)
	<-c.loopDone
	if err := c.input.Close(); err != nil {
		s.logger.Warn("close input failed", zap.Uint64("capture", c.id), zap.Error(err))
	}
}

func (s *Session) finish(c *capture, confirmed bool) {
	s.shutdown(c)
	defer s.setIdle()

	var (
		payload  []byte
		salvaged bool
	)
	if c.loopErr != nil {
		s.logger.Error("capture failed, salvaging buffered audio", zap.Uint64("capture", c.id), zap.Error(c.loopErr))
		payload, salvaged = c.enc.Salvage(), true
	} else {
		var err error
		payload, err = c.enc.Finalize()
		if err != nil {
			s.logger.Error("finalize failed, salvaging buffered audio", zap.Uint64("capture", c.id), zap.Error(err))
			payload, salvaged = c.enc.Salvage(), true
		}
	}
	duration := s.opts.Now().Sub(c.started)

	if len(payload) == 0 {
		s.logger.Info("empty capture discarded", zap.Uint64("capture", c.id), zap.Duration("duration", duration))
	} else {
		s.logger.Info("capture ended",
			zap.Uint64("capture", c.id),
			zap.Int("bytes", len(payload)),
			zap.Duration("duration", duration),
			zap.Bool("confirmed", confirmed),
			zap.Bool("salvaged", salvaged))
		s.publish(&Event{Type: EventCaptureEnded, CaptureID: c.id, Recording: &Recording{
			Payload:   payload,
			Duration:  duration,
			Confirmed: confirmed,
			Salvaged:  salvaged,
		}})
	}
	s.publish(&Event{Type: EventTeardown, CaptureID: c.id})
}

// expire is the failsafe: a capture that outlives MaxDuration is stopped
// as if the user had confirmed it.
func (s *Session) expire(c *capture) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.claim(c) == nil {
		return
	}
	s.logger.Warn("max capture duration reached, stopping", zap.Uint64("capture", c.id), zap.Duration("max", s.opts.MaxDuration))
	s.finish(c, true)
}

// watch ends a capture whose loop failed on its own.
func (s *Session) watch(c *capture) {
	<-c.loopDone
	if c.loopErr == nil {
		return
	}
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.claim(c) == nil {
		return
	}
	s.finish(c, false)
}

func (s *Session) loop(c *capture, format audio.Format) {
	defer close(c.loopDone)

	frames := s.opts.InputOptions.FramesPerBuffer
	if frames <= 0 {
		frames = 1024
	}
	raw := make([]float32, frames*format.NumChannels)
	data := make([]float64, len(raw))
	buf := &audio.FloatBuffer{Format: &format}

	for {
		select {
		case <-c.quit:
			return
		default:
		}
		n, err := c.input.Read(raw)
		if err != nil {
			c.loopErr = fmt.Errorf("read input: %w", err)
			return
		}
		if n == 0 {
			continue
		}
		c.window.push(raw[:n])
		for i := 0; i < n; i++ {
			data[i] = float64(raw[i])
		}
		buf.Data = data[:n]
		c.chain.Process(buf)
		if err := c.enc.Write(buf); err != nil {
			c.loopErr = fmt.Errorf("encode: %w", err)
			return
		}
	}
}

func (s *Session) publish(e *Event) {
	if e.Time.IsZero() {
		e.Time = s.opts.Now()
	}
	s.bus.Publish(e)
}
