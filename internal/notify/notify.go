// Package notify shows desktop notifications.
package notify

import (
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier posts desktop notifications when enabled.
type Notifier struct {
	Enabled bool
	logger  *zap.Logger
	send    func(title, message string) error
}

// New creates a Notifier.
func New(enabled bool, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		Enabled: enabled,
		logger:  logger,
		send:    func(title, message string) error { return beeep.Notify(title, message, "") },
	}
}

// Notify shows a notification. Failures are logged only.
func (n *Notifier) Notify(title, message string) {
	if n == nil || !n.Enabled {
		return
	}
	if err := n.send(title, message); err != nil {
		n.logger.Debug("notification failed", zap.String("title", title), zap.Error(err))
	}
}
