package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/config"
	"github.com/rs/zerolog"
)

func TestKey(t *testing.T) {
	ts := time.Date(2026, 3, 4, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	tests := []struct {
		filename string
		want     string
	}{
		{"clip.MP3", "2026-03-05/job1.mp3"},
		{"noext", "2026-03-05/job1.wav"},
		{"", "2026-03-05/job1.wav"},
	}
	for _, tt := range tests {
		if got := Key(ts, "job1", tt.filename); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("a/b.wav"); got != "audio/wav" {
		t.Errorf("wav = %q", got)
	}
	if got := ContentType("a/b.xyz"); got != "application/octet-stream" {
		t.Errorf("unknown = %q", got)
	}
}

func TestLocalStore_Save(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)

	if err := s.Save(context.Background(), "2026-01-01/a.wav", []byte("RIFF"), "audio/wav"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "2026-01-01", "a.wav"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "RIFF" {
		t.Errorf("data = %q", data)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "2026-01-01"))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestLocalStore_RejectsEscapingKey(t *testing.T) {
	parent := t.TempDir()
	s := NewLocalStore(filepath.Join(parent, "archive"))

	if err := s.Save(context.Background(), "../outside.wav", []byte("x"), "audio/wav"); err == nil {
		t.Fatal("expected error for key outside the archive dir")
	}
	if _, err := os.Stat(filepath.Join(parent, "outside.wav")); !os.IsNotExist(err) {
		t.Errorf("file written outside archive: %v", err)
	}
}

func TestNew_Disabled(t *testing.T) {
	store, stop, err := New(config.S3Config{}, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer stop()
	if store != nil {
		t.Errorf("expected nil store, got %s", store.Type())
	}
}

func TestNew_LocalOnly(t *testing.T) {
	store, stop, err := New(config.S3Config{}, t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer stop()
	if store == nil || store.Type() != "local" {
		t.Fatalf("expected local store, got %v", store)
	}
}

type memRemote struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (m *memRemote) Save(ctx context.Context, key string, data []byte, ct string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return m.err
}

func TestTieredStore_SavesLocallyAndUploads(t *testing.T) {
	remote := &memRemote{}
	up := NewAsyncUploader(remote, 8, zerolog.Nop())
	up.Start(1)
	dir := t.TempDir()
	s := NewTieredStore(NewLocalStore(dir), up, zerolog.Nop())

	if err := s.Save(context.Background(), "d/a.wav", []byte("x"), "audio/wav"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	up.Stop()

	if _, err := os.Stat(filepath.Join(dir, "d", "a.wav")); err != nil {
		t.Errorf("local copy missing: %v", err)
	}
	if len(remote.keys) != 1 || remote.keys[0] != "d/a.wav" {
		t.Errorf("remote keys = %v", remote.keys)
	}
}

func TestAsyncUploader_CountsFailuresAndIgnoresAfterStop(t *testing.T) {
	remote := &memRemote{err: errors.New("denied")}
	up := NewAsyncUploader(remote, 8, zerolog.Nop())
	up.Start(2)

	up.Enqueue("a", nil, "")
	up.Enqueue("b", nil, "")
	up.Stop()
	up.Stop()
	up.Enqueue("c", nil, "")

	if up.Failed() != 2 {
		t.Errorf("Failed = %d, want 2", up.Failed())
	}
	if len(remote.keys) != 2 {
		t.Errorf("uploads after stop should be dropped: %v", remote.keys)
	}
}
