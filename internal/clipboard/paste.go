//go:build windows || linux

package clipboard

import (
	"runtime"
	"time"

	"github.com/micmonay/keybd_event"
)

// sendPaste presses Ctrl+V.
func sendPaste() error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return err
	}
	if runtime.GOOS == "linux" {
		// uinput needs time to register the virtual device.
		time.Sleep(2 * time.Second)
	}
	kb.HasCTRL(true)
	kb.SetKeys(keybd_event.VK_V)
	return kb.Launching()
}
