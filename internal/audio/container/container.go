// Package container identifies audio payload formats.
package container

import (
	"bytes"
	"strings"
)

// Known lists the extensions recognized as audio payloads.
var Known = map[string]bool{
	"wav":  true,
	"ogg":  true,
	"webm": true,
	"mp3":  true,
	"flac": true,
	"m4a":  true,
}

// Sniff returns the file extension for payload based on its magic bytes.
// Unrecognized payloads are reported as "bin".
func Sniff(payload []byte) string {
	switch {
	case len(payload) >= 12 && bytes.Equal(payload[:4], []byte("RIFF")) && bytes.Equal(payload[8:12], []byte("WAVE")):
		return "wav"
	case bytes.HasPrefix(payload, []byte("OggS")):
		return "ogg"
	case bytes.HasPrefix(payload, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "webm"
	case bytes.HasPrefix(payload, []byte("fLaC")):
		return "flac"
	case bytes.HasPrefix(payload, []byte("ID3")):
		return "mp3"
	case len(payload) >= 2 && payload[0] == 0xFF && payload[1]&0xE0 == 0xE0:
		return "mp3"
	case len(payload) >= 8 && bytes.Equal(payload[4:8], []byte("ftyp")):
		return "m4a"
	}
	return "bin"
}

// Ext maps a container name to its file extension.
func Ext(name string) string {
	c := strings.ToLower(strings.TrimPrefix(name, "."))
	switch c {
	case "", "wave":
		return "wav"
	case "oga", "opus":
		return "ogg"
	case "mp4":
		return "m4a"
	}
	return c
}

// MIMEType returns the content type used when uploading ext.
func MIMEType(ext string) string {
	switch strings.ToLower(ext) {
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	case "webm":
		return "audio/webm"
	case "mp3":
		return "audio/mpeg"
	case "flac":
		return "audio/flac"
	case "m4a":
		return "audio/mp4"
	}
	return "application/octet-stream"
}
