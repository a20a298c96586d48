package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streamkit/eventwrap/cache"
)

// snapshotEnvelope wraps a projection's opaque saved bytes with the
// group's sequence at save time, so a load can verify every projection's
// slot agrees on which sequence it reflects.
type snapshotEnvelope struct {
	Seq     uint64 `json:"seq"`
	Payload []byte `json:"payload"`
}

// Group is the reified projection group: it owns one state value per
// Projection, a single logical sequence (the highest event applied to
// every projection), and the possibly-inconsistent flag.
//
// TState is the composite state exposed to readers; Compose assembles it
// from each projection's individual state on every State() call.
type Group[E any, TState any] struct {
	mu sync.RWMutex

	projections []Projection[E]
	states      map[string]any // keyed by Projection.FullName()
	compose     func(map[string]any) TState

	sequence             uint64
	possiblyInconsistent bool

	cache cache.ProjectionCache
}

// NewGroup constructs a Group in its initial state. compose turns the
// group's internal per-projection states into the caller's logical
// TState; it is called fresh on every State() so it must be cheap and
// side-effect free.
func NewGroup[E any, TState any](
	projections []Projection[E],
	compose func(map[string]any) TState,
	c cache.ProjectionCache,
) *Group[E, TState] {
	g := &Group[E, TState]{
		projections: projections,
		states:      make(map[string]any, len(projections)),
		compose:     compose,
		cache:       c,
	}
	for _, p := range projections {
		g.states[p.FullName()] = p.Initial()
	}
	return g
}

// Sequence returns the sequence of the last event successfully applied to
// every projection.
func (g *Group[E, TState]) Sequence() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sequence
}

// PossiblyInconsistent reports whether at least one event was skipped or
// partially applied since the last reset.
func (g *Group[E, TState]) PossiblyInconsistent() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.possiblyInconsistent
}

// SetPossiblyInconsistent sets the sticky inconsistency flag.
func (g *Group[E, TState]) SetPossiblyInconsistent() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.possiblyInconsistent = true
}

// State composes and returns the current logical state. The returned
// value is safe to read concurrently with further applies: each
// projection replaces its state reference rather than mutating it.
func (g *Group[E, TState]) State() TState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.composeLocked()
}

func (g *Group[E, TState]) composeLocked() TState {
	snapshot := make(map[string]any, len(g.states))
	for k, v := range g.states {
		snapshot[k] = v
	}
	return g.compose(snapshot)
}

// Apply advances the group by one event. seq must be greater than the
// group's current sequence. If any individual projection's Apply fails,
// the group is marked possibly inconsistent and its sequence still
// advances to seq — the caller (the wrapper's catch-up loop) is
// responsible for quarantining the event using the returned error.
func (g *Group[E, TState]) Apply(seq uint64, event E) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.applyLocked(seq, event)
}

func (g *Group[E, TState]) applyLocked(seq uint64, event E) error {
	if seq <= g.sequence {
		return ErrOutOfOrder
	}

	var firstErr error
	for _, p := range g.projections {
		name := p.FullName()
		next, err := p.Apply(seq, event, g.states[name])
		if err != nil {
			g.possiblyInconsistent = true
			if firstErr == nil {
				firstErr = fmt.Errorf("projection %q: %w", name, err)
			}
			continue
		}
		g.states[name] = next
	}
	g.sequence = seq
	return firstErr
}

// TryApply is a dry run for pre-flight validation: it clones the group and
// applies events sequentially starting at baseSeq+1, failing fast on the
// first error and leaving the real group untouched.
func (g *Group[E, TState]) TryApply(baseSeq uint64, events []E) error {
	trial := g.Clone()
	seq := baseSeq
	for _, ev := range events {
		seq++
		if err := trial.Apply(seq, ev); err != nil {
			return err
		}
	}
	return nil
}

// Clone deep-copies the group's bookkeeping. Because projection states are
// treated as immutable once published, the clone shares state references
// with the original; only the mutable fields (sequence, the inconsistency
// flag, and the states map itself) are duplicated.
func (g *Group[E, TState]) Clone() *Group[E, TState] {
	g.mu.RLock()
	defer g.mu.RUnlock()

	states := make(map[string]any, len(g.states))
	for k, v := range g.states {
		states[k] = v
	}
	return &Group[E, TState]{
		projections:          g.projections,
		states:               states,
		compose:              g.compose,
		sequence:             g.sequence,
		possiblyInconsistent: g.possiblyInconsistent,
		cache:                g.cache,
	}
}

// Reset returns the group to its initial state at sequence 0.
func (g *Group[E, TState]) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.projections {
		g.states[p.FullName()] = p.Initial()
	}
	g.sequence = 0
	g.possiblyInconsistent = false
}

// TryLoad attempts to rehydrate every projection from the cache. On any
// failure — a missing snapshot, a corrupt one, a version mismatch, or
// projections disagreeing on their saved sequence — it leaves the group in
// its initial state and reports ok=false. This is never fatal.
func (g *Group[E, TState]) TryLoad(ctx context.Context) (ok bool, err error) {
	if g.cache == nil {
		return false, nil
	}

	loaded := make(map[string]any, len(g.projections))
	var loadedSeq uint64
	haveSeq := false

	for _, p := range g.projections {
		raw, found, loadErr := g.cache.Load(ctx, p.FullName())
		if loadErr != nil {
			return false, nil
		}
		if !found {
			return false, nil
		}

		var env snapshotEnvelope
		if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
			return false, nil
		}
		state, decOk := p.TryLoad(env.Payload)
		if !decOk {
			return false, nil
		}
		if !haveSeq {
			loadedSeq = env.Seq
			haveSeq = true
		} else if env.Seq != loadedSeq {
			return false, ErrSnapshotSeqMismatch
		}
		loaded[p.FullName()] = state
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.states = loaded
	g.sequence = loadedSeq
	g.possiblyInconsistent = false
	return true, nil
}

// TrySave serializes the current state of every projection to the cache,
// wrapped with the group's current sequence. It operates on a snapshot
// taken under a brief read lock so it can proceed concurrently with
// further applies. Returns false on any failure; snapshotting is
// advisory and failure must never be fatal to the run.
func (g *Group[E, TState]) TrySave(ctx context.Context) (bool, error) {
	if g.cache == nil {
		return false, nil
	}

	g.mu.RLock()
	seq := g.sequence
	states := make(map[string]any, len(g.states))
	for k, v := range g.states {
		states[k] = v
	}
	g.mu.RUnlock()

	for _, p := range g.projections {
		payload, ok := p.TrySave(states[p.FullName()])
		if !ok {
			return false, nil
		}
		raw, err := json.Marshal(snapshotEnvelope{Seq: seq, Payload: payload})
		if err != nil {
			return false, nil
		}
		if err := g.cache.Store(ctx, p.FullName(), raw); err != nil {
			return false, nil
		}
	}
	return true, nil
}
