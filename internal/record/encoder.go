package record

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dictate/internal/audio/ffmpeg"
)

// TempPrefix marks encoder scratch files so stale ones can be cleaned up.
const TempPrefix = "RecordTemp_"

// Encoder turns conditioned buffers into one payload.
type Encoder interface {
	Write(buf *audio.FloatBuffer) error
	// Finalize completes the payload. It returns nil when nothing was written.
	Finalize() ([]byte, error)
	// Salvage returns whatever can still be recovered after a failure.
	Salvage() []byte
	// Abort drops all buffered audio.
	Abort()
}

// EncoderFactory starts an encoder for format.
type EncoderFactory func(format audio.Format) (Encoder, error)

// WAVOptions configure NewWAVEncoder.
type WAVOptions struct {
	Dir string
	// Transcode, when set, converts the finished WAV with ffmpeg. A failed
	// conversion falls back to the WAV payload.
	Transcode *ffmpeg.Options
	Ext       string
	Logger    *zap.Logger
}

// WAVEncoderFactory returns an EncoderFactory writing 16-bit PCM WAV files.
func WAVEncoderFactory(opts WAVOptions) EncoderFactory {
	return func(format audio.Format) (Encoder, error) {
		return NewWAVEncoder(opts, format)
	}
}

// WAVEncoder streams 16-bit PCM into a temp file.
type WAVEncoder struct {
	opts   WAVOptions
	path   string
	file   *os.File
	enc    *wav.Encoder
	format audio.Format
	frames int
	ints   []int
	closed bool
	logger *zap.Logger
}

// NewWAVEncoder creates the temp file and writes the WAV header lazily.
func NewWAVEncoder(opts WAVOptions, format audio.Format) (*WAVEncoder, error) {
	if format.NumChannels <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid format: %+v", format)
	}
	dir := opts.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, TempName("wav"))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav failed: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("encoder started", zap.String("path", path))
	return &WAVEncoder{
		opts:   opts,
		path:   path,
		file:   f,
		enc:    wav.NewEncoder(f, format.SampleRate, 16, format.NumChannels, 1),
		format: format,
		logger: logger,
	}, nil
}

// TempName returns a unique scratch file name with ext.
func TempName(ext string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	return fmt.Sprintf("%s%s.%s", TempPrefix, id, ext)
}

// Path is the scratch file location.
func (e *WAVEncoder) Path() string { return e.path }

// Write converts buf to 16-bit samples and appends them.
func (e *WAVEncoder) Write(buf *audio.FloatBuffer) error {
	if e.closed {
		return fmt.Errorf("encoder closed")
	}
	if cap(e.ints) < len(buf.Data) {
		e.ints = make([]int, len(buf.Data))
	}
	ints := e.ints[:len(buf.Data)]
	for i, v := range buf.Data {
		ints[i] = toPCM16(v)
	}
	ib := &audio.IntBuffer{Format: &e.format, Data: ints, SourceBitDepth: 16}
	if err := e.enc.Write(ib); err != nil {
		return fmt.Errorf("wav write failed: %w", err)
	}
	e.frames += len(ints) / e.format.NumChannels
	return nil
}

func toPCM16(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(v * 32767)
}

// Frames is the number of frames written so far.
func (e *WAVEncoder) Frames() int { return e.frames }

// Finalize closes the WAV, optionally transcodes it, and returns the bytes.
// The scratch file is kept for Salvage only when closing the WAV fails.
func (e *WAVEncoder) Finalize() ([]byte, error) {
	if err := e.close(); err != nil {
		return nil, fmt.Errorf("wav close failed: %w", err)
	}
	defer e.cleanup()
	if e.frames == 0 {
		return nil, nil
	}
	wavBytes, err := os.ReadFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("read wav failed: %w", err)
	}
	if e.opts.Transcode == nil || !ffmpeg.NeedsTranscode(e.opts.Transcode.Codec) {
		return wavBytes, nil
	}
	out, err := e.transcode()
	if err != nil {
		e.logger.Warn("transcode failed, keeping wav", zap.Error(err))
		return wavBytes, nil
	}
	return out, nil
}

func (e *WAVEncoder) transcode() ([]byte, error) {
	ext := e.opts.Ext
	if ext == "" {
		ext = "ogg"
	}
	outPath := strings.TrimSuffix(e.path, filepath.Ext(e.path)) + "." + ext
	defer os.Remove(outPath)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := ffmpeg.Convert(ctx, *e.opts.Transcode, e.path, outPath, e.logger); err != nil {
		return nil, err
	}
	return os.ReadFile(outPath)
}

// Salvage closes what can be closed and returns any frames already on disk.
func (e *WAVEncoder) Salvage() []byte {
	defer e.cleanup()
	if err := e.close(); err != nil {
		e.logger.Warn("wav close during salvage failed", zap.Error(err))
	}
	if e.frames == 0 {
		return nil
	}
	b, err := os.ReadFile(e.path)
	if err != nil {
		e.logger.Warn("salvage read failed", zap.Error(err))
		return nil
	}
	return b
}

// Abort discards the scratch file.
func (e *WAVEncoder) Abort() {
	_ = e.close()
	e.cleanup()
}

func (e *WAVEncoder) close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.enc.Close()
	if cerr := e.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (e *WAVEncoder) cleanup() {
	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("remove scratch file failed", zap.String("path", e.path), zap.Error(err))
	}
}
