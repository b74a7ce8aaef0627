package chain

import "math"

// FilterQ is the resonance used by both pass filters.
const FilterQ = 0.7

// Biquad is a second-order IIR section in transposed direct form II.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

// NewHighPass returns a high-pass section with cutoff hz at sampleRate.
func NewHighPass(hz, q, sampleRate float64) *Biquad {
	w0 := 2 * math.Pi * hz / sampleRate
	cos := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)
	return normalize((1+cos)/2, -(1 + cos), (1+cos)/2, 1+alpha, -2*cos, 1-alpha)
}

// NewLowPass returns a low-pass section with cutoff hz at sampleRate.
func NewLowPass(hz, q, sampleRate float64) *Biquad {
	w0 := 2 * math.Pi * hz / sampleRate
	cos := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)
	return normalize((1-cos)/2, 1-cos, (1-cos)/2, 1+alpha, -2*cos, 1-alpha)
}

func normalize(b0, b1, b2, a0, a1, a2 float64) *Biquad {
	return &Biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// Process filters one sample.
func (f *Biquad) Process(x float64) float64 {
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

// Reset clears the filter memory.
func (f *Biquad) Reset() { f.z1, f.z2 = 0, 0 }
