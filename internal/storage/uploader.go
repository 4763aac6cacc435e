package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// remoteStore is the destination of background uploads.
type remoteStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
}

// AsyncUploader copies archived audio to S3 off the request path.
type AsyncUploader struct {
	remote   remoteStore
	ch       chan uploadJob
	log      zerolog.Logger
	mu       sync.RWMutex // guards stopped against close(ch)
	stopped  bool
	wg       sync.WaitGroup
	failed   atomic.Int64
}

type uploadJob struct {
	key         string
	data        []byte
	contentType string
}

// NewAsyncUploader creates an uploader with the given queue size.
func NewAsyncUploader(remote remoteStore, bufferSize int, log zerolog.Logger) *AsyncUploader {
	return &AsyncUploader{
		remote: remote,
		ch:     make(chan uploadJob, bufferSize),
		log:    log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue adds an upload. It never blocks: when the queue is full or the
// uploader is stopped the upload is dropped with a warning, since the local
// copy already exists.
func (u *AsyncUploader) Enqueue(key string, data []byte, contentType string) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.stopped {
		return
	}
	select {
	case u.ch <- uploadJob{key: key, data: data, contentType: contentType}:
	default:
		u.log.Warn().Str("key", key).Msg("upload queue full, skipping (local copy kept)")
	}
}

// Start launches worker goroutines.
func (u *AsyncUploader) Start(workers int) {
	for i := 0; i < workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop closes the queue and waits for queued uploads to finish.
func (u *AsyncUploader) Stop() {
	u.mu.Lock()
	if !u.stopped {
		u.stopped = true
		close(u.ch)
	}
	u.mu.Unlock()
	u.wg.Wait()
}

// Failed returns the number of uploads that returned an error.
func (u *AsyncUploader) Failed() int64 { return u.failed.Load() }

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		if err := u.remote.Save(ctx, job.key, job.data, job.contentType); err != nil {
			u.failed.Add(1)
			u.log.Error().Err(err).Str("key", job.key).Msg("async S3 upload failed (local copy kept)")
		}
		cancel()
	}
}
