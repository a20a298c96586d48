// Package projection implements the reified projection group: the
// in-memory holder that folds a stream of domain events into one or more
// materialized state values, tracks the sequence those states reflect,
// and knows how to snapshot itself to and from a projection cache.
package projection

import "errors"

// ErrOutOfOrder is returned by Group.Apply when asked to apply an event at
// or before the group's current sequence.
var ErrOutOfOrder = errors.New("projection: event applied out of order")

// ErrSnapshotSeqMismatch is returned by Group.TryLoad when a loaded
// snapshot's projections disagree on their sequence.
var ErrSnapshotSeqMismatch = errors.New("projection: snapshot sequence mismatch")

// Projection is one materialized view over an event stream. The group
// holds a heterogeneous collection of these, all sharing event type E but
// each owning its own opaque state, keyed by FullName.
//
// Apply must be pure and deterministic, and must tolerate being replayed:
// callers may re-deliver an event after a failed save/load cycle, and gaps
// are possible when earlier events were quarantined.
type Projection[E any] interface {
	// FullName identifies this projection's snapshot slot, of the form
	// "<name>-<version>". Bump the version suffix to invalidate prior
	// caches after a change to Apply's semantics or Initial's shape.
	FullName() string

	// Initial returns the zero-event state.
	Initial() any

	// Apply folds one event into prev, producing the new state. It must
	// not mutate prev in place; readers may be holding a reference to it.
	Apply(seq uint64, event E, prev any) (any, error)

	// TryLoad decodes a state value from previously-saved bytes. ok=false
	// means the bytes are unusable (wrong shape, wrong version) and the
	// group should treat this projection as having no snapshot.
	TryLoad(data []byte) (state any, ok bool)

	// TrySave encodes state to bytes for the cache. ok=false means this
	// projection declines to be snapshotted right now; never fatal.
	TrySave(state any) (data []byte, ok bool)
}
