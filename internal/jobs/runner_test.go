package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/pipeline"
	"github.com/rs/zerolog"
)

// fakeResource counts releases.
type fakeResource struct {
	path     string
	valid    bool
	released atomic.Int32
}

func (f *fakeResource) Path() string { return f.path }
func (f *fakeResource) Valid() bool  { return f.valid && f.released.Load() == 0 }
func (f *fakeResource) Release() error {
	f.released.Add(1)
	return nil
}

// fakePipeline returns a result or error per audio path.
type fakePipeline struct {
	mu    sync.Mutex
	errs  map[string]error
	panic map[string]bool
	calls int
	gate  chan struct{}
}

func (f *fakePipeline) Run(ctx context.Context, audioPath string, opts pipeline.Options) (*pipeline.Result, error) {
	f.mu.Lock()
	f.calls++
	err := f.errs[audioPath]
	doPanic := f.panic[audioPath]
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if doPanic {
		panic("adapter exploded")
	}
	if err != nil {
		return nil, err
	}
	return &pipeline.Result{UttID: opts.UttID, Text: "text of " + audioPath}, nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(typ, jobID string, payload any) {
	p.mu.Lock()
	p.types = append(p.types, typ)
	p.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []PublicJob
}

func (n *recordingNotifier) JobFinished(job PublicJob) {
	n.mu.Lock()
	n.jobs = append(n.jobs, job)
	n.mu.Unlock()
}

func newTestRunner(p Pipeline, maxConcurrent int) (*Runner, *Store) {
	s := newTestStore(100)
	r := NewRunner(RunnerOptions{
		Store:         s,
		Pipeline:      p,
		MaxConcurrent: maxConcurrent,
		Log:           zerolog.Nop(),
	})
	return r, s
}

func waitShutdown(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestRunner_Completes(t *testing.T) {
	r, s := newTestRunner(&fakePipeline{}, 0)
	res := &fakeResource{path: "a.wav", valid: true}

	id := r.Submit(res, "a.wav", "utt-a", Params{})
	waitShutdown(t, r)

	pub, _ := s.Get(id)
	if pub.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", pub.Status, pub.Error)
	}
	if pub.Result.Text != "text of a.wav" || pub.Result.UttID != "utt-a" {
		t.Errorf("result = %+v", pub.Result)
	}
	if got := res.released.Load(); got != 1 {
		t.Errorf("released %d times, want 1", got)
	}
}

func TestRunner_FailureIsolatedBetweenJobs(t *testing.T) {
	p := &fakePipeline{errs: map[string]error{
		"bad.wav": fmt.Errorf("asr: %w: backend rejected input", model.ErrInference),
	}}
	r, s := newTestRunner(p, 0)
	bad := &fakeResource{path: "bad.wav", valid: true}
	good := &fakeResource{path: "good.wav", valid: true}

	badID := r.Submit(bad, "bad.wav", "", Params{})
	goodID := r.Submit(good, "good.wav", "", Params{})
	waitShutdown(t, r)

	badJob, _ := s.Get(badID)
	if badJob.Status != StatusFailed {
		t.Errorf("bad job status = %s, want failed", badJob.Status)
	}
	if !strings.Contains(badJob.Error, "backend rejected input") || badJob.Result != nil {
		t.Errorf("bad job = %+v", badJob)
	}
	goodJob, _ := s.Get(goodID)
	if goodJob.Status != StatusCompleted {
		t.Errorf("good job status = %s, want completed", goodJob.Status)
	}
	for _, res := range []*fakeResource{bad, good} {
		if got := res.released.Load(); got != 1 {
			t.Errorf("%s released %d times, want 1", res.path, got)
		}
	}
	if st := r.Stats(); st.Completed != 1 || st.Failed != 1 || st.Active != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRunner_MissingResource(t *testing.T) {
	p := &fakePipeline{}
	r, s := newTestRunner(p, 0)
	gone := &fakeResource{path: "gone.wav", valid: false}

	id := s.Create(gone, "gone.wav", "", Params{})
	r.Run(context.Background(), id)

	pub, _ := s.Get(id)
	if pub.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", pub.Status)
	}
	if !strings.Contains(pub.Error, model.ErrResourceMissing.Error()) {
		t.Errorf("error = %q", pub.Error)
	}
	if p.calls != 0 {
		t.Error("pipeline must not run without audio")
	}
	if got := gone.released.Load(); got != 1 {
		t.Errorf("released %d times, want 1", got)
	}
}

func TestRunner_NilResource(t *testing.T) {
	r, s := newTestRunner(&fakePipeline{}, 0)
	id := s.Create(nil, "x.wav", "", Params{})
	r.Run(context.Background(), id)

	if pub, _ := s.Get(id); pub.Status != StatusFailed {
		t.Errorf("status = %s, want failed", pub.Status)
	}
}

func TestRunner_DuplicateDispatchRunsOnce(t *testing.T) {
	p := &fakePipeline{}
	r, s := newTestRunner(p, 0)
	res := &fakeResource{path: "a.wav", valid: true}

	id := s.Create(res, "a.wav", "", Params{})
	for i := 0; i < 5; i++ {
		r.Dispatch(id)
	}
	waitShutdown(t, r)

	if p.calls != 1 {
		t.Errorf("pipeline ran %d times, want 1", p.calls)
	}
	if got := res.released.Load(); got != 1 {
		t.Errorf("released %d times, want 1", got)
	}
	if pub, _ := s.Get(id); pub.Status != StatusCompleted {
		t.Errorf("status = %s", pub.Status)
	}
}

func TestRunner_PanicBecomesFailure(t *testing.T) {
	p := &fakePipeline{panic: map[string]bool{"a.wav": true}}
	r, s := newTestRunner(p, 0)
	res := &fakeResource{path: "a.wav", valid: true}

	id := r.Submit(res, "a.wav", "", Params{})
	waitShutdown(t, r)

	pub, _ := s.Get(id)
	if pub.Status != StatusFailed || !strings.HasPrefix(pub.Error, "internal error:") {
		t.Errorf("job = %+v", pub)
	}
	if got := res.released.Load(); got != 1 {
		t.Errorf("released %d times, want 1", got)
	}
}

func TestRunner_WaitingJobsStayPending(t *testing.T) {
	p := &fakePipeline{gate: make(chan struct{})}
	r, s := newTestRunner(p, 1)

	first := r.Submit(&fakeResource{path: "1.wav", valid: true}, "1.wav", "", Params{})
	second := r.Submit(&fakeResource{path: "2.wav", valid: true}, "2.wav", "", Params{})

	deadline := time.Now().Add(2 * time.Second)
	for r.Stats().Active != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	statuses := map[Status]int{}
	for _, id := range []string{first, second} {
		pub, _ := s.Get(id)
		statuses[pub.Status]++
	}
	if statuses[StatusProcessing] != 1 || statuses[StatusPending] != 1 {
		t.Errorf("statuses = %v, want one processing and one pending", statuses)
	}

	close(p.gate)
	waitShutdown(t, r)
	for _, id := range []string{first, second} {
		if pub, _ := s.Get(id); pub.Status != StatusCompleted {
			t.Errorf("job %s status = %s", id, pub.Status)
		}
	}
}

func TestRunner_ShutdownTimeoutFailsInFlight(t *testing.T) {
	p := &fakePipeline{gate: make(chan struct{})}
	r, s := newTestRunner(p, 0)
	res := &fakeResource{path: "a.wav", valid: true}
	id := r.Submit(res, "a.wav", "", Params{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown = %v, want deadline exceeded", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for res.released.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub, _ := s.Get(id); pub.Status != StatusFailed {
		t.Errorf("status = %s, want failed after cancellation", pub.Status)
	}
}

func TestRunner_EventsAndNotifier(t *testing.T) {
	pub := &recordingPublisher{}
	notif := &recordingNotifier{}
	s := newTestStore(10)
	r := NewRunner(RunnerOptions{Store: s, Pipeline: &fakePipeline{}, Events: pub, Notifier: notif, Log: zerolog.Nop()})

	r.Submit(&fakeResource{path: "a.wav", valid: true}, "a.wav", "", Params{})
	waitShutdown(t, r)

	want := []string{"job_created", "job_processing", "job_completed"}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.types) != len(want) {
		t.Fatalf("events = %v, want %v", pub.types, want)
	}
	for i := range want {
		if pub.types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, pub.types[i], want[i])
		}
	}
	if len(notif.jobs) != 1 || notif.jobs[0].Status != StatusCompleted {
		t.Errorf("notified = %+v", notif.jobs)
	}
}
