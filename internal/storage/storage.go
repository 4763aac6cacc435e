package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/config"
	"github.com/rs/zerolog"
)

// AudioStore archives uploaded audio.
type AudioStore interface {
	// Save stores audio data. key format: {YYYY-MM-DD}/{id}{ext}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// New creates an AudioStore based on config. It returns a nil store when
// neither a local directory nor an S3 bucket is configured. The returned
// stop function flushes background uploads and is never nil.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, archiveDir string, log zerolog.Logger) (AudioStore, func(), error) {
	noop := func() {}
	if !cfg.Enabled() {
		if archiveDir == "" {
			return nil, noop, nil
		}
		return NewLocalStore(archiveDir), noop, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, noop, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, noop, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if archiveDir == "" {
		return s3store, noop, nil
	}

	// Tiered mode: local primary + async S3 backup
	uploader := NewAsyncUploader(s3store, 64, log)
	uploader.Start(2)
	return NewTieredStore(NewLocalStore(archiveDir), uploader, log), uploader.Stop, nil
}

// Key builds the archive key for one upload.
func Key(t time.Time, id, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".wav"
	}
	return path.Join(t.UTC().Format("2006-01-02"), id+ext)
}

// ContentType guesses a MIME type from the key extension.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	}
	return "application/octet-stream"
}
