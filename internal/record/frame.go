package record

import (
	"sync"
	"time"
)

// FrameScheduler runs a callback on the next display frame. The returned
// function cancels a callback that has not run yet.
type FrameScheduler interface {
	RequestFrame(fn func(time.Time)) (cancel func())
}

// FrameLoop is a FrameScheduler driven by its host: every Tick is one
// display frame. Callbacks requested during a tick run on the next one.
type FrameLoop struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]func(time.Time)
}

// NewFrameLoop returns an idle loop.
func NewFrameLoop() *FrameLoop {
	return &FrameLoop{pending: make(map[uint64]func(time.Time))}
}

// RequestFrame implements FrameScheduler.
func (l *FrameLoop) RequestFrame(fn func(time.Time)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.pending[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.pending, id)
	}
}

// Tick runs the callbacks queued before this frame and returns how many ran.
func (l *FrameLoop) Tick(now time.Time) int {
	l.mu.Lock()
	due := l.pending
	l.pending = make(map[uint64]func(time.Time))
	l.mu.Unlock()

	for _, fn := range due {
		fn(now)
	}
	return len(due)
}

// Pending reports how many callbacks wait for the next frame.
func (l *FrameLoop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// sampler emits one loudness sample per frame until stopped.
type sampler struct {
	frames  FrameScheduler
	emit    func(now time.Time)
	mu      sync.Mutex
	stopped bool
	cancel  func()
}

func (s *sampler) start() {
	s.arm()
}

func (s *sampler) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.cancel = s.frames.RequestFrame(s.frame)
}

func (s *sampler) frame(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.emit(now)
	s.cancel = s.frames.RequestFrame(s.frame)
}

func (s *sampler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
