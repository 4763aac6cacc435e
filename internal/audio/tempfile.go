// Package audio owns the temporary audio files a request or job works on:
// spooling uploads to disk, format checks, transcoding, and release.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = fmt.Errorf("%w: audio file too large", model.ErrValidation)

// TempFile is a temporary audio file. Release removes it exactly once no
// matter how many times it is called.
type TempFile struct {
	path     string
	once     sync.Once
	released atomic.Bool
	err      error
}

// NewTempFile wraps an existing path.
func NewTempFile(path string) *TempFile {
	return &TempFile{path: path}
}

// Path returns the file path. It stays valid until Release.
func (t *TempFile) Path() string { return t.path }

// Valid reports whether the file has not been released and still exists.
func (t *TempFile) Valid() bool {
	if t == nil || t.path == "" || t.released.Load() {
		return false
	}
	_, err := os.Stat(t.path)
	return err == nil
}

// Release deletes the file. Subsequent calls return the first result.
func (t *TempFile) Release() error {
	t.once.Do(func() {
		t.released.Store(true)
		if err := os.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			t.err = err
		}
	})
	return t.err
}

// Spool copies r into a new temp file under dir, keeping the extension of
// filename. At most maxBytes are accepted (0 disables the limit).
func Spool(dir, filename string, r io.Reader, maxBytes int64) (*TempFile, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".wav"
	}
	tmp, err := os.CreateTemp(dir, "asr-upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close: %w", err)
	}
	if maxBytes > 0 && n > maxBytes {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, maxBytes)
	}
	return NewTempFile(tmpPath), nil
}
