package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// CancelRegistry maps an in-flight job id to its cancellation function. The
// API layer trips it to abort a running job; the worker registers and removes
// entries as jobs start and finish. A trip is remembered until Remove so the
// worker can tell a user cancellation apart from a process shutdown, whose
// context cancellation looks identical from inside the pipeline.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	tripped map[uuid.UUID]bool
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{
		cancels: make(map[uuid.UUID]context.CancelFunc),
		tripped: make(map[uuid.UUID]bool),
	}
}

func (r *CancelRegistry) Register(id uuid.UUID, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[id] = cancel
}

func (r *CancelRegistry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
	delete(r.tripped, id)
}

// Cancel trips the job's cancellation and reports whether the job was
// running in this process.
func (r *CancelRegistry) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[id]
	if ok {
		r.tripped[id] = true
		cancel()
	}
	return ok
}

// Tripped reports whether the job's cancellation was requested through
// Cancel, as opposed to its parent context ending.
func (r *CancelRegistry) Tripped(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tripped[id]
}
