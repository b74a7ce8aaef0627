//go:build !windows && !linux

package clipboard

func sendPaste() error { return ErrPasteUnsupported }
