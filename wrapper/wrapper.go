// Package wrapper implements the Stream Wrapper: a single-threaded
// coordinator binding an event stream, a reified projection group, and an
// optional projection snapshot cache into a consistent read/write engine
// with optimistic-concurrency transactions and automatic rebase on
// conflict.
//
// The wrapper assumes exclusive use of its collaborators; concurrent entry
// into any of its operations from more than one goroutine is undefined.
// Upper layers are expected to serialize calls (a mutex, an actor, a
// single-consumer task queue). Reading the current state, subscribing to
// lifecycle events, and calling WaitForState remain safe concurrently with
// an in-flight operation.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/streamkit/eventwrap/evstream"
	"github.com/streamkit/eventwrap/projection"
)

// Config controls a Wrapper's ambient behavior.
type Config struct {
	// EventsBetweenCacheSaves is the number of catch-up-applied events
	// after which a save/load cycle is triggered. Zero disables automatic
	// snapshotting (the default; opt-in per §4.5).
	EventsBetweenCacheSaves uint64

	// Logger receives non-fatal diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// EventBusBufferSize sizes each lifecycle event subscriber's channel.
	EventBusBufferSize int
}

// AppendResult is returned by AppendEvents and RunTransaction.
type AppendResult[R any] struct {
	Added  int
	EndSeq uint64
	Result R
}

// Wrapper binds a Stream, a projection Group, and a Quarantine into the
// engine described by the package doc comment.
type Wrapper[E any, TState any] struct {
	id         uuid.UUID
	stream     evstream.Stream[E]
	group      *projection.Group[E, TState]
	quarantine *projection.Quarantine[E]

	cfg    Config
	logger *slog.Logger

	bus     *eventBus
	refresh refreshLatch

	eventsSinceLastSave uint64
}

// New constructs a Wrapper. Call Initialize before using it.
func New[E any, TState any](stream evstream.Stream[E], group *projection.Group[E, TState], cfg Config) *Wrapper[E, TState] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Wrapper[E, TState]{
		id:         uuid.New(),
		stream:     stream,
		group:      group,
		quarantine: &projection.Quarantine[E]{},
		cfg:        cfg,
		logger:     logger,
		bus:        newEventBus(cfg.EventBusBufferSize),
	}
}

// ID uniquely identifies this Wrapper instance, stable for its lifetime.
// Useful for correlating log lines and lifecycle events across several
// wrappers running in the same process.
func (w *Wrapper[E, TState]) ID() uuid.UUID {
	return w.id
}

// Initialize loads a snapshot if one exists, aligns the stream's local view
// with it, and runs an initial catch-up. It must be called exactly once
// before any other Wrapper method.
func (w *Wrapper[E, TState]) Initialize(ctx context.Context) error {
	loaded, err := w.group.TryLoad(ctx)
	if err != nil {
		w.logger.Warn("wrapper: snapshot load failed, starting from empty state", "wrapper_id", w.id, "err", err)
		w.stream.Reset()
		w.group.Reset()
		loaded = false
	}
	_ = loaded

	maxSeq, err := w.stream.DiscardUpTo(ctx, w.group.Sequence()+1)
	if err != nil {
		return fmt.Errorf("wrapper: initialize: discard up to snapshot: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if maxSeq < w.group.Sequence() {
		w.logger.Warn("wrapper: cached snapshot is ahead of the store, discarding it",
			"wrapper_id", w.id, "snapshot_seq", w.group.Sequence(), "store_max_seq", maxSeq)
		w.stream.Reset()
		w.group.Reset()
	}

	return w.catchUp(ctx)
}

// catchUp brings group.Sequence() up to the stream's local sequence, then
// up to the remote tail, overlapping background fetch with local apply.
func (w *Wrapper[E, TState]) catchUp(ctx context.Context) error {
	w.bus.publish(Event{Kind: EventCatchUpStarted, Sequence: w.group.Sequence(), Time: time.Now()})

	more := true
	for {
		// Once a fetch has reported the tail, one more local pass drains the
		// batch that fetch buffered, without starting another fetch.
		var finish evstream.FinishFetch
		if more {
			finish = w.stream.BackgroundFetch(ctx)
		}

		for {
			res, ok := w.stream.TryGetNext(ctx)
			if !ok {
				break
			}

			if res.Err != nil {
				w.group.SetPossiblyInconsistent()
				w.quarantine.Add(res.Seq, nil, res.Err)
				w.bus.publish(Event{Kind: EventQuarantined, Sequence: res.Seq, Err: res.Err, Time: time.Now()})
				continue
			}

			if res.Seq <= w.group.Sequence() {
				continue // already covered by a loaded snapshot
			}

			if applyErr := w.group.Apply(res.Seq, res.Event); applyErr != nil {
				ev := res.Event
				w.quarantine.Add(res.Seq, &ev, applyErr)
				w.bus.publish(Event{Kind: EventQuarantined, Sequence: res.Seq, Err: applyErr, Time: time.Now()})
			} else {
				w.bus.publish(Event{Kind: EventApplied, Sequence: res.Seq, Time: time.Now()})
			}

			w.eventsSinceLastSave++
			if w.cfg.EventsBetweenCacheSaves > 0 && w.eventsSinceLastSave >= w.cfg.EventsBetweenCacheSaves {
				if err := w.saveLoadCycle(ctx); err != nil {
					return err
				}
				w.eventsSinceLastSave = 0
			}
		}

		if finish == nil {
			break
		}
		var err error
		more, err = finish()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.Error("wrapper: background fetch failed", "wrapper_id", w.id, "err", err)
			return err
		}
	}

	w.eventsSinceLastSave = 0
	w.refresh.notify()
	w.bus.publish(Event{Kind: EventCatchUpCompleted, Sequence: w.group.Sequence(), Time: time.Now()})
	return nil
}

// saveLoadCycle saves the group's current state, then reloads it to
// release memory and verify the snapshot round-trips to the same
// sequence. A round-trip mismatch is the one fatal condition in this
// package: it means the just-written snapshot cannot be trusted.
func (w *Wrapper[E, TState]) saveLoadCycle(ctx context.Context) error {
	streamSeq := w.group.Sequence()

	saved, err := w.group.TrySave(ctx)
	if err != nil {
		w.logger.Warn("wrapper: snapshot save failed", "wrapper_id", w.id, "err", err)
	}
	if !saved {
		w.logger.Info("wrapper: snapshot save skipped")
		return nil
	}
	w.bus.publish(Event{Kind: EventSnapshotSaved, Sequence: streamSeq, Time: time.Now()})

	w.group.Reset()
	loaded, err := w.group.TryLoad(ctx)
	if err != nil {
		w.logger.Warn("wrapper: post-save snapshot reload failed", "wrapper_id", w.id, "err", err)
	}
	if !loaded {
		w.bus.publish(Event{Kind: EventSnapshotLoadFailed, Time: time.Now()})
	}

	if w.group.Sequence() != streamSeq {
		w.bus.publish(Event{Kind: EventSnapshotRoundTripFailed, Sequence: w.group.Sequence(), Time: time.Now()})
		w.logger.Error("wrapper: snapshot round trip failed", "wrapper_id", w.id, "saved_seq", streamSeq, "reloaded_seq", w.group.Sequence())
		return fmt.Errorf("%w: saved at %d, reloaded at %d", ErrSnapshotRoundTrip, streamSeq, w.group.Sequence())
	}
	return nil
}

// Current returns the wrapper's current logical state.
func (w *Wrapper[E, TState]) Current() TState {
	return w.group.State()
}

// Sequence returns the stream's locally observed sequence, which is
// greater than or equal to the group's applied sequence.
func (w *Wrapper[E, TState]) Sequence() uint64 {
	return w.stream.Sequence()
}

// GroupSequence returns the sequence of the last event applied to every
// projection.
func (w *Wrapper[E, TState]) GroupSequence() uint64 {
	return w.group.Sequence()
}

// PossiblyInconsistent reports whether at least one event was skipped or
// partially applied since the last reset.
func (w *Wrapper[E, TState]) PossiblyInconsistent() bool {
	return w.group.PossiblyInconsistent()
}

// Quarantine returns the read-only quarantine of skipped events.
func (w *Wrapper[E, TState]) Quarantine() *projection.Quarantine[E] {
	return w.quarantine
}

// EventsBetweenCacheSaves returns the configured save cadence.
func (w *Wrapper[E, TState]) EventsBetweenCacheSaves() uint64 {
	return w.cfg.EventsBetweenCacheSaves
}

// Subscribe returns a live feed of the wrapper's lifecycle events.
func (w *Wrapper[E, TState]) Subscribe() Subscription {
	return w.bus.subscribe()
}

// Close releases the wrapper's event bus. It does not close the
// underlying stream or cache, which the caller owns.
func (w *Wrapper[E, TState]) Close() {
	w.bus.close()
}

// Reset rewinds both the stream and the projection group to sequence 0
// and initial state.
func (w *Wrapper[E, TState]) Reset() {
	w.stream.Reset()
	w.group.Reset()
	w.eventsSinceLastSave = 0
}

// TrySave forces an out-of-band snapshot save without the round-trip
// verification the catch-up loop performs; useful for CLI/operator
// tooling. Returns false, non-fatally, on any failure.
func (w *Wrapper[E, TState]) TrySave(ctx context.Context) (bool, error) {
	return w.group.TrySave(ctx)
}

// WaitForState returns a channel that closes at the next moment the
// wrapper's view catches up to the stream tail. Calling it lazily creates
// the underlying latch; concurrent callers share the same generation.
func (w *Wrapper[E, TState]) WaitForState() <-chan struct{} {
	return w.refresh.wait()
}

// WaitingForState reports whether at least one caller is currently parked
// on WaitForState.
func (w *Wrapper[E, TState]) WaitingForState() bool {
	return w.refresh.waiting()
}
