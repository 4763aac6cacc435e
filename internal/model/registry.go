package model

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the active adapters. Every slot was
// produced by the same build, identified by Generation.
type Snapshot struct {
	Set
	Generation uint64
	LoadedAt   time.Time
}

// LoadState is the user-visible state of one capability.
type LoadState string

const (
	Loaded   LoadState = "loaded"
	Unloaded LoadState = "unloaded"
)

// BuildFunc constructs a complete new adapter set.
type BuildFunc func(ctx context.Context) (Set, error)

// ReloadReport summarizes one Reload call.
type ReloadReport struct {
	Succeeded  []Capability `json:"succeeded"`
	Failed     []Capability `json:"failed"`
	Generation uint64       `json:"generation"`
	Error      string       `json:"error,omitempty"`
}

// Registry publishes the current Snapshot. Readers never block; reloads are
// serialized and swap the whole snapshot at once.
type Registry struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex

	// OnPublish, if set, is called after each successful publication.
	OnPublish func(*Snapshot)
}

// NewRegistry creates a registry whose generation-0 snapshot holds initial.
func NewRegistry(initial Set) *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{Set: initial, LoadedAt: time.Now()})
	return r
}

// Snapshot returns the currently published snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Status reports loaded/unloaded for every capability of the current snapshot.
func (r *Registry) Status() map[Capability]LoadState {
	snap := r.Snapshot()
	out := make(map[Capability]LoadState, 4)
	for _, c := range []Capability{ASR, VAD, LID, Punc} {
		if snap.Has(c) {
			out[c] = Loaded
		} else {
			out[c] = Unloaded
		}
	}
	return out
}

// LoadedCapabilities reports the current snapshot keyed by capability name.
func (r *Registry) LoadedCapabilities() map[string]bool {
	snap := r.Snapshot()
	out := make(map[string]bool, 4)
	for _, c := range []Capability{ASR, VAD, LID, Punc} {
		out[c.String()] = snap.Has(c)
	}
	return out
}

// Reload builds a new adapter set and publishes it only if the build
// succeeds. On failure the previous snapshot stays live and every requested
// capability is reported failed. A requested capability that the new set
// does not provide is reported failed even though the rest is published.
func (r *Registry) Reload(ctx context.Context, requested []Capability, build BuildFunc) (ReloadReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	report := ReloadReport{
		Succeeded:  []Capability{},
		Failed:     []Capability{},
		Generation: old.Generation,
	}

	set, err := build(ctx)
	if err != nil {
		report.Failed = append(report.Failed, requested...)
		report.Error = err.Error()
		return report, fmt.Errorf("%w: %w", ErrReloadFailed, err)
	}

	next := &Snapshot{Set: set, Generation: old.Generation + 1, LoadedAt: time.Now()}
	if !r.current.CompareAndSwap(old, next) {
		report.Failed = append(report.Failed, requested...)
		report.Error = "registry changed during reload"
		return report, fmt.Errorf("%w: concurrent publication", ErrReloadFailed)
	}

	for _, c := range requested {
		if set.Has(c) {
			report.Succeeded = append(report.Succeeded, c)
		} else {
			report.Failed = append(report.Failed, c)
		}
	}
	report.Generation = next.Generation

	if r.OnPublish != nil {
		r.OnPublish(next)
	}
	return report, nil
}
