package chain

import "math"

// Limiter settings applied after the gain stage.
const (
	LimiterThresholdDB = -3.0
	LimiterKneeDB      = 0.0
	LimiterRatio       = 20.0

	CompressorKneeDB = 10.0
	AttackSeconds    = 0.0
	ReleaseSeconds   = 0.1
)

// minDB keeps log10 away from zero input.
const minDB = -120.0

// Compressor is a feed-forward soft-knee compressor. Gain reduction is
// smoothed with separate attack and release time constants; there is no
// makeup gain.
type Compressor struct {
	thresholdDB float64
	kneeDB      float64
	ratio       float64
	attackCoef  float64
	releaseCoef float64

	reductionDB float64
}

// NewCompressor builds a compressor for the given sample rate.
func NewCompressor(thresholdDB, kneeDB, ratio, attack, release, sampleRate float64) *Compressor {
	return &Compressor{
		thresholdDB: thresholdDB,
		kneeDB:      kneeDB,
		ratio:       ratio,
		attackCoef:  timeCoef(attack, sampleRate),
		releaseCoef: timeCoef(release, sampleRate),
	}
}

func timeCoef(seconds, sampleRate float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return math.Exp(-1 / (seconds * sampleRate))
}

// curve maps an input level to the static output level, both in dB.
func (c *Compressor) curve(in float64) float64 {
	over := in - c.thresholdDB
	switch {
	case c.kneeDB > 0 && 2*math.Abs(over) <= c.kneeDB:
		k := over + c.kneeDB/2
		return in + (1/c.ratio-1)*k*k/(2*c.kneeDB)
	case over > 0:
		return c.thresholdDB + over/c.ratio
	default:
		return in
	}
}

// Process applies the current gain reduction to one sample.
func (c *Compressor) Process(x float64) float64 {
	level := minDB
	if a := math.Abs(x); a > 0 {
		level = math.Max(minDB, 20*math.Log10(a))
	}
	target := level - c.curve(level)
	coef := c.releaseCoef
	if target > c.reductionDB {
		coef = c.attackCoef
	}
	c.reductionDB = target + (c.reductionDB-target)*coef
	return x * math.Pow(10, -c.reductionDB/20)
}

// ReductionDB reports the gain reduction currently applied.
func (c *Compressor) ReductionDB() float64 { return c.reductionDB }

// Reset clears the envelope.
func (c *Compressor) Reset() { c.reductionDB = 0 }

// Gain is a fixed linear gain stage.
type Gain float64

// Process scales one sample.
func (g Gain) Process(x float64) float64 { return x * float64(g) }

// Reset is a no-op; Gain has no state.
func (g Gain) Reset() {}
