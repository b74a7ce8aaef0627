// Package clipboard hands finished transcripts to the user: it copies them
// to the system clipboard and can paste them into the focused window.
package clipboard

import (
	"errors"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"
)

// ErrPasteUnsupported is returned where synthetic key presses are unavailable.
var ErrPasteUnsupported = errors.New("clipboard paste not supported on this platform")

// settle gives the clipboard owner time to publish before a paste.
const settle = 80 * time.Millisecond

// Deliverer copies transcripts and optionally pastes them.
type Deliverer struct {
	Paste  bool
	logger *zap.Logger

	write func(string) error
	paste func() error
}

// New creates a Deliverer.
func New(paste bool, logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clipboard.Unsupported {
		logger.Warn("no clipboard utility found, transcripts will not be copied")
	}
	return &Deliverer{Paste: paste, logger: logger, write: clipboard.WriteAll, paste: sendPaste}
}

// Deliver puts text on the clipboard. A failed paste is logged; the text
// stays on the clipboard either way.
func (d *Deliverer) Deliver(text string) error {
	if text == "" {
		return nil
	}
	if err := d.write(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	if !d.Paste {
		return nil
	}
	time.Sleep(settle)
	if err := d.paste(); err != nil {
		d.logger.Warn("paste failed, transcript left on clipboard", zap.Error(err))
	}
	return nil
}
