package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore archives uploads under a directory on disk.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// Save writes data at dir/key. Keys must stay inside dir.
func (s *LocalStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("archive key %q escapes %s", key, s.dir)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, rel), data)
}

// writeFileAtomic writes through a sibling temp file so readers never see a
// partial archive entry.
func writeFileAtomic(dst string, data []byte) (err error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".archive-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename %s: %w", dst, err)
	}
	return nil
}

func (s *LocalStore) Type() string { return "local" }
