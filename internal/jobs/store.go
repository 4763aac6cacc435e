// Package jobs owns asynchronous transcription jobs: the in-memory store
// with its status state machine, and the runner that executes them.
package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/metrics"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/pipeline"
	"github.com/rs/zerolog"
)

// Status is a job's position in its lifecycle. It only moves forward:
// pending → processing → completed | failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DefaultMaxJobs is the retention ceiling used when none is configured.
const DefaultMaxJobs = 1000

// Params are the per-job pipeline switches chosen at submission.
type Params struct {
	EnableVAD       bool   `json:"enable_vad"`
	EnableLID       bool   `json:"enable_lid"`
	EnablePunc      bool   `json:"enable_punc"`
	ASRType         string `json:"asr_type,omitempty"`
	ReturnTimestamp bool   `json:"return_timestamp"`
}

// Options converts params into pipeline options for the given uttid.
func (p Params) Options(uttid string) pipeline.Options {
	return pipeline.Options{
		UttID:           uttid,
		EnableVAD:       p.EnableVAD,
		EnableLID:       p.EnableLID,
		EnablePunc:      p.EnablePunc,
		ASRType:         p.ASRType,
		ReturnTimestamp: p.ReturnTimestamp,
	}
}

// Resource is the temporary audio a job owns until it finishes.
type Resource interface {
	Path() string
	Valid() bool
	Release() error
}

// Job is the internal record, including the audio handle.
type Job struct {
	ID        string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Filename  string
	UttID     string
	Params    Params
	Audio     Resource
	Result    *pipeline.Result
	Error     string
}

// PublicJob is the externally visible view of a job. It never carries the
// audio handle.
type PublicJob struct {
	ID        string           `json:"job_id"`
	Status    Status           `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Filename  string           `json:"filename"`
	UttID     string           `json:"uttid,omitempty"`
	Params    Params           `json:"params"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func (j *Job) public() PublicJob {
	return PublicJob{
		ID:        j.ID,
		Status:    j.Status,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Filename:  j.Filename,
		UttID:     j.UttID,
		Params:    j.Params,
		Result:    j.Result,
		Error:     j.Error,
	}
}

// Store is a concurrency-safe job table with bounded retention. When it
// holds more than maxJobs records, the oldest terminal jobs are evicted.
// Pending and processing jobs are never evicted.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	order   []string // insertion order, oldest first
	maxJobs int
	log     zerolog.Logger
	now     func() time.Time
}

// NewStore creates an empty store. maxJobs <= 0 uses DefaultMaxJobs.
func NewStore(maxJobs int, log zerolog.Logger) *Store {
	if maxJobs <= 0 {
		maxJobs = DefaultMaxJobs
	}
	return &Store{
		jobs:    make(map[string]*Job),
		maxJobs: maxJobs,
		log:     log.With().Str("component", "jobs").Logger(),
		now:     time.Now,
	}
}

// Create inserts a pending job and returns its id. It may evict old
// terminal jobs to stay within the retention limit.
func (s *Store) Create(audio Resource, filename, uttid string, params Params) string {
	id := uuid.NewString()
	now := s.now()

	s.mu.Lock()
	s.jobs[id] = &Job{
		ID:        id,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Filename:  filename,
		UttID:     uttid,
		Params:    params,
		Audio:     audio,
	}
	s.order = append(s.order, id)
	evicted := s.evictLocked()
	s.mu.Unlock()

	if evicted > 0 {
		metrics.JobsEvictedTotal.Add(float64(evicted))
		s.log.Debug().Int("evicted", evicted).Msg("evicted terminal jobs")
	}
	return id
}

// evictLocked drops the oldest terminal jobs until the store is back under
// its ceiling or no terminal job remains.
func (s *Store) evictLocked() int {
	excess := len(s.jobs) - s.maxJobs
	if excess <= 0 {
		return 0
	}

	evicted := 0
	kept := s.order[:0]
	for _, id := range s.order {
		if evicted < excess && s.jobs[id].Status.Terminal() {
			delete(s.jobs, id)
			evicted++
			continue
		}
		kept = append(kept, id)
	}
	clear(s.order[len(kept):])
	s.order = kept
	return evicted
}

// Get returns the public view of a job.
func (s *Store) Get(id string) (PublicJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return PublicJob{}, fmt.Errorf("%w: %s", model.ErrJobNotFound, id)
	}
	return j.public(), nil
}

// GetFull returns a copy of the internal record, audio handle included.
// Only the runner should need it.
func (s *Store) GetFull(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", model.ErrJobNotFound, id)
	}
	return *j, nil
}

// SetProcessing moves a job from pending to processing. It returns false if
// the job is unknown or not pending, so a job is processed at most once.
func (s *Store) SetProcessing(id string) bool {
	return s.transition(id, StatusPending, StatusProcessing, nil)
}

// SetCompleted moves a processing job to completed with its result.
func (s *Store) SetCompleted(id string, res *pipeline.Result) bool {
	return s.transition(id, StatusProcessing, StatusCompleted, func(j *Job) {
		j.Result = res
	})
}

// SetFailed moves a processing job to failed with a message.
func (s *Store) SetFailed(id, msg string) bool {
	return s.transition(id, StatusProcessing, StatusFailed, func(j *Job) {
		j.Error = msg
	})
}

// transition applies a compare-and-update under the write lock. Repeated
// or backward moves are rejected.
func (s *Store) transition(id string, from, to Status, apply func(*Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	if j.Status != from {
		s.log.Warn().
			Str("job_id", id).
			Str("status", string(j.Status)).
			Str("target", string(to)).
			Msg("rejected job status transition")
		return false
	}
	j.Status = to
	j.UpdatedAt = s.now()
	if apply != nil {
		apply(j)
	}
	return true
}

// List returns public views of all retained jobs, newest first.
func (s *Store) List() []PublicJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PublicJob, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.jobs[s.order[i]].public())
	}
	return out
}

// Counts returns the number of retained jobs per status.
func (s *Store) Counts() map[string]int {
	out := map[string]int{
		string(StatusPending):    0,
		string(StatusProcessing): 0,
		string(StatusCompleted):  0,
		string(StatusFailed):     0,
	}
	s.mu.RLock()
	for _, j := range s.jobs {
		out[string(j.Status)]++
	}
	s.mu.RUnlock()
	return out
}

// Len returns the number of retained jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
