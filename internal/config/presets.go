package config

import (
	"fmt"
	"sort"
	"strings"
)

// AudioProcessing parameterizes the conditioning chain for one capture.
type AudioProcessing struct {
	HighPassHz            float64 `json:"highPassHz"`
	LowPassHz             float64 `json:"lowPassHz"`
	CompressorThresholdDB float64 `json:"compressorThreshold"`
	CompressorRatio       float64 `json:"compressorRatio"`
	Gain                  float64 `json:"gain"`
}

// Preset is a named AudioProcessing tuned for one listening environment.
type Preset struct {
	ID          string
	Label       string
	Description string
	AudioProcessing
}

const (
	DefaultPreset = "background-music"
	CustomPreset  = "custom"
)

// Presets maps preset ids to their parameters.
var Presets = map[string]Preset{
	"calm": {
		ID: "calm", Label: "Calm", Description: "Quiet room, normal speaking voice",
		AudioProcessing: AudioProcessing{HighPassHz: 80, LowPassHz: 8000, CompressorThresholdDB: -30, CompressorRatio: 4, Gain: 2},
	},
	"quiet": {
		ID: "quiet", Label: "Quiet", Description: "Some ambient noise (fan, AC)",
		AudioProcessing: AudioProcessing{HighPassHz: 120, LowPassHz: 6000, CompressorThresholdDB: -35, CompressorRatio: 6, Gain: 3},
	},
	"restaurant": {
		ID: "restaurant", Label: "Restaurant", Description: "People talking nearby, moderate noise",
		AudioProcessing: AudioProcessing{HighPassHz: 150, LowPassHz: 5000, CompressorThresholdDB: -40, CompressorRatio: 8, Gain: 5},
	},
	"background-music": {
		ID: "background-music", Label: "Background Music", Description: "Instrumental music playing nearby",
		AudioProcessing: AudioProcessing{HighPassHz: 200, LowPassHz: 4000, CompressorThresholdDB: -45, CompressorRatio: 10, Gain: 6},
	},
	"max-isolation": {
		ID: "max-isolation", Label: "Max Isolation", Description: "Loud music, very soft speech",
		AudioProcessing: AudioProcessing{HighPassHz: 250, LowPassHz: 3500, CompressorThresholdDB: -50, CompressorRatio: 12, Gain: 8},
	},
}

// PresetIDs returns the known preset ids in a stable order.
func PresetIDs() []string {
	ids := make([]string, 0, len(Presets))
	for id := range Presets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultAudio is used whenever configuration cannot be read.
func DefaultAudio() AudioProcessing {
	return Presets[DefaultPreset].AudioProcessing
}

// ResolveAudio builds the effective AudioProcessing. The named preset (default
// for custom, empty or unknown ids) is the base; any audio* field present in
// the config overrides it, zero included.
func ResolveAudio(cfg Config) AudioProcessing {
	p, ok := Presets[strings.ToLower(cfg.AudioPreset)]
	if !ok {
		p = Presets[DefaultPreset]
	}
	ap := p.AudioProcessing
	override(&ap.HighPassHz, cfg.AudioHighPassHz)
	override(&ap.LowPassHz, cfg.AudioLowPassHz)
	override(&ap.CompressorThresholdDB, cfg.AudioCompressorThreshold)
	override(&ap.CompressorRatio, cfg.AudioCompressorRatio)
	override(&ap.Gain, cfg.AudioGain)
	return ap
}

func override(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// Float returns a pointer to v, for setting audio overrides.
func Float(v float64) *float64 { return &v }

// ValidateAudio checks the preset id and the explicitly set audio fields
// against the ranges the settings surface allows.
func ValidateAudio(cfg *Config) error {
	id := strings.ToLower(cfg.AudioPreset)
	if _, ok := Presets[id]; !ok && id != CustomPreset && id != "" {
		return fmt.Errorf("invalid audioPreset: %q (allowed: %s, custom)", cfg.AudioPreset, strings.Join(PresetIDs(), ", "))
	}
	// A threshold of 0 dB leaves the compressor idle.
	checks := []struct {
		name     string
		v        *float64
		min, max float64
	}{
		{"audioHighPassHz", cfg.AudioHighPassHz, 50, 400},
		{"audioLowPassHz", cfg.AudioLowPassHz, 2000, 10000},
		{"audioCompressorThreshold", cfg.AudioCompressorThreshold, -60, 0},
		{"audioCompressorRatio", cfg.AudioCompressorRatio, 2, 20},
		{"audioGain", cfg.AudioGain, 1, 15},
	}
	for _, c := range checks {
		if c.v == nil {
			continue
		}
		if *c.v < c.min || *c.v > c.max {
			return fmt.Errorf("invalid %s: %v (allowed %v..%v)", c.name, *c.v, c.min, c.max)
		}
	}
	return nil
}
