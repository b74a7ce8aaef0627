// Package mic opens the default microphone through PortAudio.
package mic

import (
	"errors"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"dictate/internal/record"
)

// Stream is an open PortAudio input stream.
type Stream struct {
	stream *portaudio.Stream
	in     []float32
	format audio.Format
	logger *zap.Logger
}

// Factory returns a record.InputFactory backed by PortAudio.
func Factory(logger *zap.Logger) record.InputFactory {
	return func(opts record.InputOptions) (record.Input, error) {
		return Open(opts, logger)
	}
}

// Open initializes PortAudio and starts the default input device.
// PortAudio exposes no echo cancellation, noise suppression or gain
// control, so those hints are left to the OS audio stack.
func Open(opts record.InputOptions, logger *zap.Logger) (*Stream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = 1024
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}
	in := make([]float32, opts.FramesPerBuffer*opts.Channels)
	stream, err := portaudio.OpenDefaultStream(opts.Channels, 0, float64(opts.SampleRate), opts.FramesPerBuffer, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open stream failed: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start stream failed: %w", err)
	}
	logger.Debug("input opened",
		zap.Int("sampleRate", opts.SampleRate),
		zap.Int("channels", opts.Channels),
		zap.Bool("echoCancellation", opts.EchoCancellation),
		zap.Bool("noiseSuppression", opts.NoiseSuppression),
		zap.Bool("autoGainControl", opts.AutoGainControl))
	return &Stream{
		stream: stream,
		in:     in,
		format: audio.Format{NumChannels: opts.Channels, SampleRate: opts.SampleRate},
		logger: logger,
	}, nil
}

// Format implements record.Input.
func (s *Stream) Format() audio.Format { return s.format }

// Read blocks for one buffer. Overflows drop samples but are not fatal.
func (s *Stream) Read(buf []float32) (int, error) {
	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return 0, err
		}
		s.logger.Debug("input overflowed")
	}
	return copy(buf, s.in), nil
}

// Close stops the stream and releases PortAudio.
func (s *Stream) Close() error {
	err := s.stream.Stop()
	if cerr := s.stream.Close(); err == nil {
		err = cerr
	}
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}
