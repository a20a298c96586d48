package wrapper

import (
	"context"
	"errors"
	"time"
)

// Builder produces the events to append from the wrapper's current state,
// plus an arbitrary user result to hand back to the caller. Returning zero
// events is a valid no-op.
type Builder[E any, TState any, R any] func(state TState) (events []E, result R, err error)

// AppendEvents runs builder against the wrapper's current state, writes
// the resulting events, and on an optimistic-concurrency conflict catches
// up and retries the builder against the rebased state.
//
// This is a package-level function rather than a method because it
// introduces a third type parameter (R) that a method on Wrapper[E,
// TState] cannot add on its own.
//
// Errors returned by builder propagate unchanged and are never logged —
// the caller's own builder failed against state it just inspected.
// context.Canceled and context.DeadlineExceeded also propagate unchanged.
// Any other error is logged before propagating.
func AppendEvents[E any, TState any, R any](ctx context.Context, w *Wrapper[E, TState], builder Builder[E, TState, R]) (AppendResult[R], error) {
	for {
		events, result, err := builder(w.group.State())
		if err != nil {
			return AppendResult[R]{}, err
		}
		if len(events) == 0 {
			return AppendResult[R]{Result: result}, nil
		}

		if err := w.group.TryApply(w.stream.Sequence(), events); err != nil {
			return AppendResult[R]{}, logUnlessCancel(w, err)
		}

		endSeq, ok, err := w.stream.Write(ctx, events)
		if err != nil {
			return AppendResult[R]{}, logUnlessCancel(w, err)
		}

		if !ok {
			w.bus.publish(Event{Kind: EventWriteConflict, Sequence: w.stream.Sequence(), Time: time.Now()})
			if err := w.catchUp(ctx); err != nil {
				return AppendResult[R]{}, err
			}
			continue
		}

		if err := w.catchUp(ctx); err != nil {
			return AppendResult[R]{}, err
		}

		w.bus.publish(Event{Kind: EventAppendCompleted, Sequence: endSeq, Time: time.Now()})
		return AppendResult[R]{Added: len(events), EndSeq: endSeq, Result: result}, nil
	}
}

func logUnlessCancel[E any, TState any](w *Wrapper[E, TState], err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	w.logger.Error("wrapper: operation failed", "wrapper_id", w.id, "err", err)
	return err
}
