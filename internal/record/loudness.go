package record

import (
	"math"
	"sync"
)

const (
	// NoSignal fills the meter when no capture is running.
	NoSignal = -1000.0
	// MinLevel is the floor of a scaled loudness sample.
	MinLevel = 0.01
	// MeterLength is the number of samples a LevelMeter keeps.
	MeterLength = 70
)

// RMS returns the root mean square of samples clamped to [-1, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		if math.IsNaN(v) {
			continue
		}
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Scale maps an RMS value onto the meter range [0.01, 1].
func Scale(rms float64) float64 {
	if math.IsNaN(rms) || rms <= 0 {
		return MinLevel
	}
	return math.Min(1, math.Max(MinLevel, math.Pow(rms*10, 1.5)))
}

// LevelMeter keeps the most recent loudness samples for display.
type LevelMeter struct {
	mu   sync.Mutex
	ring [MeterLength]float64
	next int
}

// NewLevelMeter returns a meter filled with NoSignal.
func NewLevelMeter() *LevelMeter {
	m := &LevelMeter{}
	m.Reset()
	return m
}

// Push appends v, evicting the oldest sample.
func (m *LevelMeter) Push(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring[m.next] = v
	m.next = (m.next + 1) % MeterLength
}

// Reset refills the meter with NoSignal.
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.ring {
		m.ring[i] = NoSignal
	}
	m.next = 0
}

// Snapshot returns the samples oldest first.
func (m *LevelMeter) Snapshot() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, 0, MeterLength)
	out = append(out, m.ring[m.next:]...)
	return append(out, m.ring[:m.next]...)
}

// Attach feeds the meter from bus and clears it on teardown.
func (m *LevelMeter) Attach(bus *Bus) func() {
	offLevel := bus.Subscribe(EventLoudnessSample, func(e *Event) { m.Push(e.Level) })
	offTeardown := bus.Subscribe(EventTeardown, func(*Event) { m.Reset() })
	return func() {
		offLevel()
		offTeardown()
	}
}

// window holds the most recent raw samples for loudness analysis.
type window struct {
	mu   sync.Mutex
	buf  []float32
	next int
	full bool
}

func newWindow(size int) *window {
	return &window{buf: make([]float32, size)}
}

func (w *window) push(samples []float32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range samples {
		w.buf[w.next] = s
		w.next++
		if w.next == len(w.buf) {
			w.next = 0
			w.full = true
		}
	}
}

func (w *window) level() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return Scale(RMS(w.buf))
	}
	return Scale(RMS(w.buf[:w.next]))
}
