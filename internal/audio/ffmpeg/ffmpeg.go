// Package ffmpeg transcodes finished WAV captures with the ffmpeg binary.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Options describe the target encoding.
type Options struct {
	Codec       string
	BitRateKbps int
	SampleRate  int
	Channels    int
}

// Binary is the executable looked up on PATH.
var Binary = "ffmpeg"

// Available reports whether the ffmpeg binary can be found.
func Available() bool {
	_, err := exec.LookPath(Binary)
	return err == nil
}

// NeedsTranscode reports whether codec differs from the PCM the recorder writes.
func NeedsTranscode(codec string) bool {
	c := strings.ToLower(codec)
	return c != "" && c != "pcm" && c != "pcm_s16le"
}

// Convert transcodes inPath into outPath.
func Convert(ctx context.Context, opts Options, inPath, outPath string, logger *zap.Logger) error {
	args, err := buildArgs(opts, inPath, outPath)
	if err != nil {
		return err
	}
	if logger != nil {
		logger.Debug("executing", zap.String("cmd", Binary+" "+strings.Join(args, " ")))
	}
	cmd := exec.CommandContext(ctx, Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func buildArgs(opts Options, inPath, outPath string) ([]string, error) {
	ffCodec, hasBitrate := codecFor(opts.Codec)
	if ffCodec == "" {
		return nil, fmt.Errorf("unsupported codec: %s", opts.Codec)
	}
	channels := opts.Channels
	if channels <= 0 {
		channels = 1
	}
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", inPath, "-ac", strconv.Itoa(channels)}
	if opts.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(opts.SampleRate))
	}
	args = append(args, "-c:a", ffCodec)
	if hasBitrate {
		br := opts.BitRateKbps
		if br <= 0 {
			br = 32
		}
		args = append(args, "-b:a", fmt.Sprintf("%dk", br))
	}
	return append(args, outPath), nil
}

func codecFor(key string) (string, bool) {
	switch strings.ToLower(key) {
	case "opus", "libopus":
		return "libopus", true
	case "vorbis", "libvorbis":
		return "libvorbis", true
	case "mp3":
		return "libmp3lame", true
	case "aac":
		return "aac", true
	case "flac":
		return "flac", false
	case "pcm", "pcm_s16le":
		return "pcm_s16le", false
	}
	return "", false
}
