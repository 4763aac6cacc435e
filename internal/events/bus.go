// Package events distributes job and registry events to SSE subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/metrics"
)

// Event types.
const (
	TypeJobCreated    = "job_created"
	TypeJobProcessing = "job_processing"
	TypeJobCompleted  = "job_completed"
	TypeJobFailed     = "job_failed"
	TypeModelsReload  = "models_reloaded"
)

// Event is one published event as sent over SSE.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	JobID     string          `json:"job_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Filter selects events for a subscriber. Zero values match everything.
type Filter struct {
	Types []string
	JobID string
}

func (f Filter) matches(e Event) bool {
	if len(f.Types) > 0 {
		match := false
		for _, t := range f.Types {
			if strings.TrimSpace(t) == e.Type {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if f.JobID != "" && f.JobID != e.JobID {
		return false
	}
	return true
}

// Bus provides pub-sub event distribution with a ring buffer for replay on
// reconnect.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// NewBus creates an event bus with the given ring buffer size.
func NewBus(ringSize int) *Bus {
	if ringSize <= 0 {
		ringSize = 256
	}
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a new subscriber and returns a channel and cancel function.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// ReplaySince returns buffered events after lastEventID, oldest first. If
// lastEventID has already left the ring, every buffered event is returned.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	ordered := make([]Event, 0, b.ringSize)
	for i := 0; i < b.ringSize; i++ {
		e := b.ring[(b.ringHead+i)%b.ringSize]
		if e.ID != "" {
			ordered = append(ordered, e)
		}
	}

	start := 0
	if lastEventID != "" {
		for i, e := range ordered {
			if e.ID == lastEventID {
				start = i + 1
				break
			}
		}
	}

	var out []Event
	for _, e := range ordered[start:] {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Publish sends an event to all matching subscribers and adds it to the
// ring buffer. Slow subscribers drop events rather than block publishers.
func (b *Bus) Publish(typ, jobID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	now := time.Now()
	event := Event{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), b.seq.Add(1)),
		Type:      typ,
		Timestamp: now.UTC().Format(time.RFC3339),
		JobID:     jobID,
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if sub.filter.matches(event) {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
	b.mu.RUnlock()
	metrics.SSEEventsPublishedTotal.Inc()
}
