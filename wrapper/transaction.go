package wrapper

import (
	"context"
	"time"

	"github.com/streamkit/eventwrap/projection"
)

// Transaction is a trial scratchpad: a clone of the projection group plus
// a growable list of staged events. Add applies an event to the clone
// immediately, so the callback observes the post-event state, and stages
// the event for the eventual write.
type Transaction[E any, TState any] struct {
	group  *projection.Group[E, TState]
	events []E
}

// Add applies event to the transaction's cloned state and stages it. If
// the clone rejects the event, the transaction is left unmodified and the
// error is returned for the caller to handle (typically by aborting).
func (tx *Transaction[E, TState]) Add(event E) error {
	trial := tx.group.Clone()
	seq := trial.Sequence() + 1
	if err := trial.Apply(seq, event); err != nil {
		return err
	}
	tx.group = trial
	tx.events = append(tx.events, event)
	return nil
}

// State returns the transaction's trial state, reflecting every event
// added so far.
func (tx *Transaction[E, TState]) State() TState {
	return tx.group.State()
}

// Events returns a copy of the events staged so far.
func (tx *Transaction[E, TState]) Events() []E {
	return append([]E(nil), tx.events...)
}

// TxBuilder runs against a Transaction and returns an arbitrary user
// result. Returning an error aborts the transaction; the wrapper's real
// state is never touched regardless of what the transaction staged.
type TxBuilder[E any, TState any, R any] func(tx *Transaction[E, TState]) (result R, err error)

// RunTransaction builds a Transaction from a clone of the current group,
// runs builder against it, and writes the staged events. On conflict it
// catches up and retries with a fresh clone built from the now-rebased
// group, so every retry observes any events written by other actors in
// between.
func RunTransaction[E any, TState any, R any](ctx context.Context, w *Wrapper[E, TState], builder TxBuilder[E, TState, R]) (AppendResult[R], error) {
	for {
		tx := &Transaction[E, TState]{group: w.group.Clone()}

		result, err := builder(tx)
		if err != nil {
			return AppendResult[R]{}, err
		}
		if len(tx.events) == 0 {
			return AppendResult[R]{Result: result}, nil
		}

		endSeq, ok, err := w.stream.Write(ctx, tx.events)
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

		w.bus.publish(Event{Kind: EventTransactionCompleted, Sequence: endSeq, Time: time.Now()})
		return AppendResult[R]{Added: len(tx.events), EndSeq: endSeq, Result: result}, nil
	}
}
