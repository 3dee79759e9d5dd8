package solve

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"platesolver/internal/apperrors"
)

// patchBuffer holds every patch a single solve can emit without the producer
// ever blocking on a slow or absent consumer.
const patchBuffer = 8

// jobEntry is the registry's record of one in-flight solve.
type jobEntry struct {
	id      string
	source  string
	started time.Time
	patches chan Patch

	// ctx is done once the solve is cancelled; the drive loop selects on it
	// to cut queue and poll waits short. In-flight HTTP calls are not
	// interrupted, the loop checks the flag at the next checkpoint.
	ctx    context.Context
	cancel context.CancelFunc

	cancelled atomic.Bool
	closed    atomic.Bool

	mu   sync.Mutex
	last Patch
}

func (e *jobEntry) markCancelled() {
	e.cancelled.Store(true)
	e.cancel()
}

func (e *jobEntry) setLast(p Patch) {
	e.mu.Lock()
	e.last = p
	e.mu.Unlock()
}

func (e *jobEntry) lastPatch() Patch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// registry tracks active solves by id. Entries are removed on cancellation
// or when the terminal patch is emitted, whichever comes first.
type registry struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

func newRegistry() *registry {
	return &registry{jobs: make(map[string]*jobEntry)}
}

func (r *registry) register(id, source string, now time.Time) (*jobEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[id]; exists {
		return nil, apperrors.Conflict("solve", id, "a solve with this id is already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	entry := &jobEntry{
		id:      id,
		source:  source,
		started: now,
		patches: make(chan Patch, patchBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	r.jobs[id] = entry
	return entry, nil
}

// release removes the entry and returns it. The second return is false when
// the id is unknown or already released.
func (r *registry) release(id string) (*jobEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	return entry, ok
}

func (r *registry) get(id string) (*jobEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.jobs[id]
	return entry, ok
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func (r *registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		out = append(out, id)
	}
	return out
}

func (r *registry) entries() []*jobEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*jobEntry, 0, len(r.jobs))
	for _, entry := range r.jobs {
		out = append(out, entry)
	}
	return out
}
