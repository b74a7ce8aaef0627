package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSniff(t *testing.T) {
	cases := map[string][]byte{
		"wav":  []byte("RIFF\x24\x00\x00\x00WAVEfmt "),
		"ogg":  []byte("OggS\x00\x02"),
		"webm": {0x1A, 0x45, 0xDF, 0xA3, 0x9F},
		"flac": []byte("fLaC\x00"),
		"mp3":  []byte("ID3\x04\x00"),
		"m4a":  []byte("\x00\x00\x00\x20ftypM4A "),
		"bin":  []byte("hello world"),
	}
	for want, payload := range cases {
		assert.Equal(t, want, Sniff(payload), want)
	}
	assert.Equal(t, "mp3", Sniff([]byte{0xFF, 0xFB, 0x90, 0x00}))
	assert.Equal(t, "bin", Sniff(nil))
}

func TestExt(t *testing.T) {
	assert.Equal(t, "wav", Ext(""))
	assert.Equal(t, "ogg", Ext("OPUS"))
	assert.Equal(t, "m4a", Ext("mp4"))
	assert.Equal(t, "webm", Ext(".webm"))
	assert.Equal(t, "audio/mpeg", MIMEType("mp3"))
}
