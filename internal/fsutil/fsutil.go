// Package fsutil holds the durable file helpers shared by the stores.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteFileAtomic writes data to a temp file in the target directory,
// fsyncs it and renames it over path, then fsyncs the directory. Readers
// see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir is best effort; some platforms cannot fsync directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// ErrInvalidName is returned for ids that are not plain file name stems.
var ErrInvalidName = errors.New("invalid id")

// CheckName rejects ids that could escape a store directory or act as a
// glob pattern.
func CheckName(id string) error {
	if id == "" || id == "." || id == ".." {
		return fmt.Errorf("%w %q", ErrInvalidName, id)
	}
	if strings.ContainsAny(id, `/\*?[]`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w %q", ErrInvalidName, id)
	}
	return nil
}

// IsTemp reports whether name is an in-flight WriteFileAtomic temp file.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
}
