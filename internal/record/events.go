package record

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType names a session event channel.
type EventType string

const (
	EventCaptureStarted EventType = "capture-started"
	EventLoudnessSample EventType = "loudness-sample"
	EventCaptureEnded   EventType = "capture-ended"
	EventTeardown       EventType = "teardown"
)

// Recording is the payload of a capture-ended event.
type Recording struct {
	Payload  []byte
	Duration time.Duration
	// Confirmed is the caller's intent passed to Stop. Failsafe stops are confirmed.
	Confirmed bool
	// Salvaged is set when the payload was recovered after an encoder or input error.
	Salvaged bool
}

// Event is published on the Bus. Level is set for loudness-sample and
// Recording for capture-ended.
type Event struct {
	Type      EventType
	Time      time.Time
	CaptureID uint64
	Level     float64
	Recording *Recording
}

// Listener handles one event. Listeners run on the publishing goroutine and
// must not call back into the Session.
type Listener func(*Event)

// Bus delivers session events to subscribers in publish order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	typed  map[EventType]map[int]Listener
	all    map[int]Listener
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		typed:  make(map[EventType]map[int]Listener),
		all:    make(map[int]Listener),
		logger: logger,
	}
}

// Subscribe registers l for one event type and returns a function that removes it.
func (b *Bus) Subscribe(t EventType, l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.typed[t] == nil {
		b.typed[t] = make(map[int]Listener)
	}
	b.typed[t][id] = l
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.typed[t], id)
	}
}

// SubscribeAll registers l for every event type.
func (b *Bus) SubscribeAll(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all[id] = l
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish delivers e synchronously, typed listeners first.
func (b *Bus) Publish(e *Event) {
	b.mu.RLock()
	ls := make([]Listener, 0, len(b.typed[e.Type])+len(b.all))
	for _, l := range b.typed[e.Type] {
		ls = append(ls, l)
	}
	for _, l := range b.all {
		ls = append(ls, l)
	}
	b.mu.RUnlock()

	for _, l := range ls {
		b.safeInvoke(l, e)
	}
}

func (b *Bus) safeInvoke(l Listener, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", zap.String("event", string(e.Type)), zap.Any("panic", r))
		}
	}()
	l(e)
}
