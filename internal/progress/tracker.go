package progress

import (
	"sync"
)

type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseProcessing Phase = "processing"
	PhaseUploading  Phase = "uploading"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// Entry is the ephemeral progress of one in-flight job.
type Entry struct {
	Percent float64
	Phase   Phase
	Error   string
}

// Tracker is a process-local map from job id to progress, consulted by the
// polling API so every tick does not round-trip through the database. It is
// lost on restart; the job row stays the source of truth whenever the two
// disagree.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]Entry)}
}

func (t *Tracker) Update(id string, percent float64, phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = Entry{Percent: percent, Phase: phase}
}

func (t *Tracker) SetError(id string, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = Entry{Percent: 0, Phase: PhaseError, Error: message}
}

func (t *Tracker) Get(id string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[id]
	return entry, ok
}

func (t *Tracker) Clear(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}
