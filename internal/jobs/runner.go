package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/events"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/metrics"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/pipeline"
	"github.com/rs/zerolog"
)

// Pipeline runs one audio file through the inference stages.
type Pipeline interface {
	Run(ctx context.Context, audioPath string, opts pipeline.Options) (*pipeline.Result, error)
}

// Publisher receives job lifecycle events.
type Publisher interface {
	Publish(typ, jobID string, payload any)
}

// Notifier is told about jobs that reached a terminal status.
type Notifier interface {
	JobFinished(job PublicJob)
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Store         *Store
	Pipeline      Pipeline
	MaxConcurrent int // 0 means unbounded
	Events        Publisher
	Notifier      Notifier
	Log           zerolog.Logger
}

// Runner executes jobs in the background, one goroutine per job. Each job
// reaches a terminal status and has its audio released exactly once.
type Runner struct {
	store    *Store
	pipeline Pipeline
	events   Publisher
	notifier Notifier
	log      zerolog.Logger

	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// RunnerStats is a point-in-time view of runner counters.
type RunnerStats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// NewRunner creates a runner. Call Shutdown to wait for in-flight jobs.
func NewRunner(opts RunnerOptions) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:    opts.Store,
		pipeline: opts.Pipeline,
		events:   opts.Events,
		notifier: opts.Notifier,
		log:      opts.Log.With().Str("component", "runner").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	if opts.MaxConcurrent > 0 {
		r.sem = make(chan struct{}, opts.MaxConcurrent)
	}
	return r
}

// Submit creates a pending job for audio and dispatches it.
func (r *Runner) Submit(audio Resource, filename, uttid string, params Params) string {
	id := r.store.Create(audio, filename, uttid, params)
	metrics.JobsSubmittedTotal.Inc()
	r.publish(events.TypeJobCreated, id)
	r.log.Info().Str("job_id", id).Str("filename", filename).Msg("job submitted")
	r.Dispatch(id)
	return id
}

// Dispatch runs job id in the background. Jobs waiting for a concurrency
// slot stay pending.
func (r *Runner) Dispatch(id string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.sem != nil {
			select {
			case r.sem <- struct{}{}:
				defer func() { <-r.sem }()
			case <-r.ctx.Done():
			}
		}
		r.Run(r.ctx, id)
	}()
}

// Run executes job id synchronously. It does nothing unless the job is
// pending, so duplicate dispatches are harmless.
func (r *Runner) Run(ctx context.Context, id string) {
	job, err := r.store.GetFull(id)
	if err != nil {
		r.log.Warn().Err(err).Str("job_id", id).Msg("dispatched job not found")
		return
	}
	if job.Status != StatusPending || !r.store.SetProcessing(id) {
		r.log.Debug().Str("job_id", id).Str("status", string(job.Status)).Msg("job already dispatched")
		return
	}

	log := r.log.With().Str("job_id", id).Str("uttid", job.UttID).Logger()
	r.active.Add(1)
	defer r.active.Add(-1)

	defer func() {
		if job.Audio == nil {
			return
		}
		if err := job.Audio.Release(); err != nil {
			log.Warn().Err(err).Msg("failed to release job audio")
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("job panicked")
			r.fail(id, fmt.Sprintf("internal error: %v", p))
		}
	}()

	r.publish(events.TypeJobProcessing, id)

	if job.Audio == nil || !job.Audio.Valid() {
		log.Error().Msg("job audio is missing")
		r.fail(id, fmt.Sprintf("%v: audio file for job %s is no longer available", model.ErrResourceMissing, id))
		return
	}

	res, err := r.pipeline.Run(ctx, job.Audio.Path(), job.Params.Options(job.UttID))
	if err != nil {
		log.Error().Err(err).Msg("job failed")
		r.fail(id, err.Error())
		return
	}

	if r.store.SetCompleted(id, res) {
		r.completed.Add(1)
		r.finished(id, StatusCompleted)
		log.Info().Int64("processing_time_ms", res.ProcessingTimeMs).Msg("job completed")
	}
}

func (r *Runner) fail(id, msg string) {
	if r.store.SetFailed(id, msg) {
		r.failed.Add(1)
		r.finished(id, StatusFailed)
	}
}

func (r *Runner) finished(id string, status Status) {
	metrics.JobsFinishedTotal.WithLabelValues(string(status)).Inc()
	typ := events.TypeJobCompleted
	if status == StatusFailed {
		typ = events.TypeJobFailed
	}
	r.publish(typ, id)

	if r.notifier == nil {
		return
	}
	if job, err := r.store.Get(id); err == nil {
		r.notifier.JobFinished(job)
	}
}

func (r *Runner) publish(typ, id string) {
	if r.events == nil {
		return
	}
	job, err := r.store.Get(id)
	if err != nil {
		return
	}
	// Results can be large; subscribers fetch them from the result endpoint.
	job.Result = nil
	r.events.Publish(typ, id, job)
}

// Stats returns the runner counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Active:    r.active.Load(),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
	}
}

// Shutdown waits for dispatched jobs. If ctx expires first, in-flight
// pipelines are cancelled so their jobs fail and release their audio.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
