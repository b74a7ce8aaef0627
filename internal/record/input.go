package record

import "github.com/go-audio/audio"

// InputOptions request a capture stream. The processing hints ask the
// platform for echo cancellation, noise suppression and automatic gain; a
// backend that cannot honor them captures unprocessed audio.
type InputOptions struct {
	SampleRate       int
	Channels         int
	FramesPerBuffer  int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultInputOptions enables every processing hint.
func DefaultInputOptions(sampleRate, channels int) InputOptions {
	return InputOptions{
		SampleRate:       sampleRate,
		Channels:         channels,
		FramesPerBuffer:  1024,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Input is an open microphone stream.
type Input interface {
	Format() audio.Format
	// Read blocks until buf is filled with interleaved samples in [-1, 1]
	// and returns how many were written.
	Read(buf []float32) (int, error)
	Close() error
}

// InputFactory opens an Input.
type InputFactory func(opts InputOptions) (Input, error)
