package projection

import (
	"sync"

	"github.com/google/uuid"
)

// QuarantineEntry records one event that was skipped rather than cleanly
// applied. Event is nil when the failure happened before deserialization
// (the payload could not even be decoded into E). ID uniquely identifies
// the entry so operator tooling can reference one without relying on Seq,
// which is not unique across quarantines of different projections.
type QuarantineEntry[E any] struct {
	ID    uuid.UUID
	Seq   uint64
	Event *E
	Err   error
}

// Quarantine is an append-only, unbounded record of skipped events, kept
// for operator inspection. Safe for concurrent reads while the wrapper
// appends from its own goroutine.
type Quarantine[E any] struct {
	mu      sync.RWMutex
	entries []QuarantineEntry[E]
}

// Add appends a new entry.
func (q *Quarantine[E]) Add(seq uint64, event *E, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, QuarantineEntry[E]{ID: uuid.New(), Seq: seq, Event: event, Err: err})
}

// Entries returns a snapshot copy of every recorded entry, in the order
// they were quarantined.
func (q *Quarantine[E]) Entries() []QuarantineEntry[E] {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]QuarantineEntry[E], len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of quarantined entries.
func (q *Quarantine[E]) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}
