// Package chain implements the fixed conditioning graph applied to captured
// audio before encoding: high-pass, low-pass, compressor, gain, limiter.
package chain

import (
	"fmt"
	"math"

	"github.com/go-audio/audio"
	"go.uber.org/zap"

	"dictate/internal/config"
)

const maxCutoff = 0.95

// Stage processes one sample of one channel.
type Stage interface {
	Process(x float64) float64
	Reset()
}

// Chain runs the stages for every channel of an interleaved buffer.
type Chain struct {
	params   config.AudioProcessing
	format   audio.Format
	channels [][]Stage
	bypass   bool
}

// Build constructs the chain or reports why the parameters cannot be used
// at this sample rate.
func Build(ap config.AudioProcessing, format *audio.Format) (*Chain, error) {
	if format == nil || format.SampleRate <= 0 || format.NumChannels <= 0 {
		return nil, fmt.Errorf("invalid audio format: %+v", format)
	}
	for name, v := range map[string]float64{
		"highPassHz":          ap.HighPassHz,
		"lowPassHz":           ap.LowPassHz,
		"compressorThreshold": ap.CompressorThresholdDB,
		"compressorRatio":     ap.CompressorRatio,
		"gain":                ap.Gain,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%s is not finite", name)
		}
	}
	rate := float64(format.SampleRate)
	nyquist := rate / 2
	if ap.HighPassHz <= 0 || ap.LowPassHz <= 0 {
		return nil, fmt.Errorf("cutoffs must be > 0 (highPassHz %v, lowPassHz %v)", ap.HighPassHz, ap.LowPassHz)
	}
	// Cutoffs at or above Nyquist are clamped just below it.
	highPass := math.Min(ap.HighPassHz, maxCutoff*nyquist)
	lowPass := math.Min(ap.LowPassHz, maxCutoff*nyquist)
	if highPass >= lowPass {
		return nil, fmt.Errorf("highPassHz %v must be below lowPassHz %v at %d Hz", ap.HighPassHz, ap.LowPassHz, format.SampleRate)
	}
	if ap.CompressorThresholdDB > 0 {
		return nil, fmt.Errorf("compressorThreshold %v must be <= 0 dB", ap.CompressorThresholdDB)
	}
	if ap.CompressorRatio < 1 {
		return nil, fmt.Errorf("compressorRatio %v must be >= 1", ap.CompressorRatio)
	}
	if ap.Gain <= 0 {
		return nil, fmt.Errorf("gain %v must be > 0", ap.Gain)
	}

	c := &Chain{params: ap, format: *format}
	c.channels = make([][]Stage, format.NumChannels)
	for ch := range c.channels {
		c.channels[ch] = []Stage{
			NewHighPass(highPass, FilterQ, rate),
			NewLowPass(lowPass, FilterQ, rate),
			NewCompressor(ap.CompressorThresholdDB, CompressorKneeDB, ap.CompressorRatio, AttackSeconds, ReleaseSeconds, rate),
			Gain(ap.Gain),
			NewCompressor(LimiterThresholdDB, LimiterKneeDB, LimiterRatio, AttackSeconds, ReleaseSeconds, rate),
		}
	}
	return c, nil
}

// New builds the chain and falls back to a passthrough when construction
// fails, so capture still works with raw input.
func New(ap config.AudioProcessing, format *audio.Format, logger *zap.Logger) *Chain {
	c, err := Build(ap, format)
	if err == nil {
		return c
	}
	if logger != nil {
		logger.Warn("conditioning chain unavailable, capturing raw input",
			zap.Error(err),
			zap.Any("params", ap))
	}
	p := &Chain{params: ap, bypass: true}
	if format != nil {
		p.format = *format
	}
	return p
}

// Passthrough returns a chain that leaves audio untouched.
func Passthrough(format audio.Format) *Chain {
	return &Chain{format: format, bypass: true}
}

// Bypassed reports whether the chain passes raw input through.
func (c *Chain) Bypassed() bool { return c.bypass }

// Params returns the parameters the chain was built from.
func (c *Chain) Params() config.AudioProcessing { return c.params }

// Process conditions buf in place. Samples are interleaved by channel.
func (c *Chain) Process(buf *audio.FloatBuffer) {
	if c.bypass || buf == nil {
		return
	}
	n := len(c.channels)
	for i, x := range buf.Data {
		for _, st := range c.channels[i%n] {
			x = st.Process(x)
		}
		buf.Data[i] = x
	}
}

// Reset clears all filter and envelope state.
func (c *Chain) Reset() {
	for _, stages := range c.channels {
		for _, st := range stages {
			st.Reset()
		}
	}
}
