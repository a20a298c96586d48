// Package evstream defines the append-only event stream contract consumed
// by the stream wrapper, plus in-memory and SQLite-backed implementations.
//
// The contract deliberately avoids exception-driven control flow: every
// fallible operation returns an explicit success/failure discriminant
// alongside its error, and every blocking operation takes a
// context.Context so cancellation is a first-class, distinctly checked
// signal rather than an error masquerading as one.
package evstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorruptEvent is wrapped into the error returned by TryGetNext when a
// slot could not be deserialized. The slot is still considered consumed:
// the stream's local sequence advances past it regardless.
var ErrCorruptEvent = errors.New("evstream: corrupt event")

// ErrClosed names the closed-stream condition. Neither driver in this
// package returns it: operations on a closed SQLiteEventStream fail with
// the database driver's own error.
var ErrClosed = errors.New("evstream: stream closed")

// Codec converts between the stream's opaque byte payloads and the
// application's event type E. Event serialization format is a client
// concern; a JSON codec is provided as the default, swappable driver.
type Codec[E any] interface {
	Encode(ev E) ([]byte, error)
	Decode(data []byte) (E, error)
}

// JSONCodec is the default Codec, encoding events as JSON.
type JSONCodec[E any] struct{}

func (JSONCodec[E]) Encode(ev E) ([]byte, error) { return json.Marshal(ev) }

func (JSONCodec[E]) Decode(data []byte) (E, error) {
	var ev E
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// NextResult is the outcome of one TryGetNext call. When Err is non-nil the
// slot at Seq failed to deserialize; Event is the zero value in that case.
type NextResult[E any] struct {
	Seq   uint64
	Event E
	Err   error
}

// FinishFetch is returned by BackgroundFetch. Calling it blocks until the
// fetch completes, integrates the fetched batch into the stream's local
// buffer, and reports whether more events may still be available upstream
// (false means the fetcher reached the remote tail).
type FinishFetch func() (more bool, err error)

// Stream is the append-only event log collaborator consumed by the stream
// wrapper. Implementations must be safe for use by a single caller at a
// time; the wrapper itself guarantees it never calls a Stream method
// concurrently with another (see the wrapper package's concurrency model).
type Stream[E any] interface {
	// TryGetNext returns the next locally buffered slot, or ok=false if the
	// local buffer is empty. It advances the stream's local sequence by one
	// slot whether or not that slot deserialized cleanly.
	TryGetNext(ctx context.Context) (result NextResult[E], ok bool)

	// BackgroundFetch starts fetching more events from the remote store in
	// the background and returns immediately with a finalizer. Splitting
	// fetch into start+finalize lets the wrapper overlap local catch-up
	// (CPU-bound) with the network round trip (I/O-bound).
	BackgroundFetch(ctx context.Context) FinishFetch

	// DiscardUpTo fast-forwards the local view past seq-1 without
	// delivering those slots through TryGetNext, and returns the highest
	// sequence number the store is aware of.
	DiscardUpTo(ctx context.Context, seq uint64) (maxKnownSeq uint64, err error)

	// Write optimistically appends events. ok=false means the remote store
	// advanced since this stream's view was last synced (a write conflict);
	// the caller must catch up and retry. A non-nil err is non-retriable.
	Write(ctx context.Context, events []E) (endSeq uint64, ok bool, err error)

	// Reset clears all local state, forcing a fresh fetch from the
	// beginning on the next catch-up.
	Reset()

	// Sequence returns the highest sequence this stream has observed
	// locally, whether or not that slot was delivered via TryGetNext.
	Sequence() uint64
}

func wrapCorrupt(seq uint64, err error) error {
	return fmt.Errorf("%w: seq %d: %v", ErrCorruptEvent, seq, err)
}
