package storage

import (
	"context"

	"github.com/rs/zerolog"
)

// TieredStore writes to local disk synchronously and queues an S3 copy in
// the background. Requests never wait on S3.
type TieredStore struct {
	local    *LocalStore
	uploader *AsyncUploader
	log      zerolog.Logger
}

// NewTieredStore creates a local-primary store with async S3 backup.
func NewTieredStore(local *LocalStore, uploader *AsyncUploader, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		local:    local,
		uploader: uploader,
		log:      log.With().Str("component", "tiered-store").Logger(),
	}
}

// Save writes locally (returning any error) and then enqueues the S3 copy.
func (s *TieredStore) Save(ctx context.Context, key string, data []byte, ct string) error {
	if err := s.local.Save(ctx, key, data, ct); err != nil {
		return err
	}
	s.uploader.Enqueue(key, data, ct)
	return nil
}

func (s *TieredStore) Type() string { return "tiered" }
