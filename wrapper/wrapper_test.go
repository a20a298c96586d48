package wrapper

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/streamkit/eventwrap/cache"
	"github.com/streamkit/eventwrap/evstream"
	"github.com/streamkit/eventwrap/projection"
)

type ledgerEvent struct {
	Kind   string
	Amount int
}

type balanceProjection struct{}

func (balanceProjection) FullName() string { return "balance-v1" }
func (balanceProjection) Initial() any     { return 0 }

func (balanceProjection) Apply(_ uint64, ev ledgerEvent, prev any) (any, error) {
	switch ev.Kind {
	case "deposit":
		return prev.(int) + ev.Amount, nil
	case "withdraw":
		return prev.(int) - ev.Amount, nil
	case "boom":
		return prev, errors.New("balanceProjection: forced failure")
	default:
		return prev, errors.New("balanceProjection: unknown event kind")
	}
}

func (balanceProjection) TryLoad(data []byte) (any, bool) {
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (balanceProjection) TrySave(state any) ([]byte, bool) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, false
	}
	return data, true
}

func composeBalance(states map[string]any) int {
	return states["balance-v1"].(int)
}

func newTestWrapper(t *testing.T, stream evstream.Stream[ledgerEvent], c cache.ProjectionCache, cfg Config) *Wrapper[ledgerEvent, int] {
	t.Helper()
	group := projection.NewGroup[ledgerEvent, int]([]projection.Projection[ledgerEvent]{balanceProjection{}}, composeBalance, c)
	return New[ledgerEvent, int](stream, group, cfg)
}

func TestWrapper_Scenario1_EmptyStreamNoSnapshot(t *testing.T) {
	stream := evstream.NewMemEventStream[ledgerEvent](nil)
	w := newTestWrapper(t, stream, nil, Config{})

	if err := w.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if got := w.Current(); got != 0 {
		t.Fatalf("Current() = %d, want 0", got)
	}
	if w.Sequence() != 0 {
		t.Fatalf("Sequence() = %d, want 0", w.Sequence())
	}

	select {
	case <-w.WaitForState():
		t.Fatalf("WaitForState: resolved immediately, want pending")
	default:
	}
}

func TestWrapper_Scenario2_AppendTwoEventsToEmptyStream(t *testing.T) {
	stream := evstream.NewMemEventStream[ledgerEvent](nil)
	w := newTestWrapper(t, stream, nil, Config{})
	ctx := context.Background()

	if err := w.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	waiter := w.WaitForState()

	result, err := AppendEvents[ledgerEvent, int, struct{}](ctx, w, func(state int) ([]ledgerEvent, struct{}, error) {
		return []ledgerEvent{{Kind: "deposit", Amount: 10}, {Kind: "deposit", Amount: 5}}, struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if result.Added != 2 || result.EndSeq != 2 {
		t.Fatalf("AppendEvents result = %+v, want Added=2 EndSeq=2", result)
	}
	if got := w.Current(); got != 15 {
		t.Fatalf("Current() = %d, want 15", got)
	}

	select {
	case <-waiter:
	case <-time.After(time.Second):
		t.Fatalf("WaitForState: not resolved after successful append")
	}
}

func TestWrapper_Scenario3_SnapshotBehindStreamTail(t *testing.T) {
	c := cache.NewMemProjectionCache()
	ctx := context.Background()

	seedStream := evstream.NewMemEventStream[ledgerEvent](nil)
	for i := 0; i < 150; i++ {
		if err := seedStream.SeedRemote(ledgerEvent{Kind: "deposit", Amount: 1}); err != nil {
			t.Fatalf("SeedRemote: %v", err)
		}
	}

	seedWrapper := newTestWrapper(t, seedStream, c, Config{})
	if err := seedWrapper.Initialize(ctx); err != nil {
		t.Fatalf("seed Initialize: %v", err)
	}
	if seedWrapper.GroupSequence() != 150 {
		t.Fatalf("seed GroupSequence() = %d, want 150", seedWrapper.GroupSequence())
	}

	// Simulate a snapshot taken mid-stream: build a fresh group/stream pair
	// holding only the first 100 events and save its snapshot under the
	// same projection key.
	partialStream := evstream.NewMemEventStream[ledgerEvent](nil)
	for i := 0; i < 100; i++ {
		_ = partialStream.SeedRemote(ledgerEvent{Kind: "deposit", Amount: 1})
	}
	snapCache := cache.NewMemProjectionCache()
	snapWrapper := newTestWrapper(t, partialStream, snapCache, Config{})
	if err := snapWrapper.Initialize(ctx); err != nil {
		t.Fatalf("snap Initialize: %v", err)
	}
	if saved, err := snapWrapper.TrySave(ctx); err != nil || !saved {
		t.Fatalf("TrySave: saved=%v err=%v", saved, err)
	}

	fullStream := evstream.NewMemEventStream[ledgerEvent](nil)
	for i := 0; i < 150; i++ {
		_ = fullStream.SeedRemote(ledgerEvent{Kind: "deposit", Amount: 1})
	}
	w := newTestWrapper(t, fullStream, snapCache, Config{})
	if err := w.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if w.GroupSequence() != 150 {
		t.Fatalf("GroupSequence() = %d, want 150", w.GroupSequence())
	}
	if got := w.Current(); got != 150 {
		t.Fatalf("Current() = %d, want 150", got)
	}
}

func TestWrapper_Scenario4_SnapshotAheadOfStore(t *testing.T) {
	ctx := context.Background()
	snapCache := cache.NewMemProjectionCache()

	seedStream := evstream.NewMemEventStream[ledgerEvent](nil)
	for i := 0; i < 100; i++ {
		_ = seedStream.SeedRemote(ledgerEvent{Kind: "deposit", Amount: 1})
	}
	seedWrapper := newTestWrapper(t, seedStream, snapCache, Config{})
	if err := seedWrapper.Initialize(ctx); err != nil {
		t.Fatalf("seed Initialize: %v", err)
	}
	if saved, err := seedWrapper.TrySave(ctx); err != nil || !saved {
		t.Fatalf("TrySave: saved=%v err=%v", saved, err)
	}

	// A store with fewer events than the snapshot claims: a development
	// scenario where the store was reset out from under the cache.
	shortStream := evstream.NewMemEventStream[ledgerEvent](nil)
	for i := 0; i < 50; i++ {
		_ = shortStream.SeedRemote(ledgerEvent{Kind: "deposit", Amount: 1})
	}

	w := newTestWrapper(t, shortStream, snapCache, Config{})
	if err := w.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if w.GroupSequence() != 50 {
		t.Fatalf("GroupSequence() = %d, want 50 (full replay after cache discard)", w.GroupSequence())
	}
	if got := w.Current(); got != 50 {
		t.Fatalf("Current() = %d, want 50", got)
	}
}

func TestWrapper_Scenario5_AppendConflictThenRebase(t *testing.T) {
	ctx := context.Background()
	stream := evstream.NewMemEventStream[ledgerEvent](nil)

	w1 := newTestWrapper(t, stream, nil, Config{})
	if err := w1.Initialize(ctx); err != nil {
		t.Fatalf("w1 Initialize: %v", err)
	}

	// A second actor lands an event directly in the remote store,
	// simulating a concurrent writer, before w1's builder runs.
	attempts := 0
	result, err := AppendEvents[ledgerEvent, int, int](ctx, w1, func(state int) ([]ledgerEvent, int, error) {
		attempts++
		if attempts == 1 {
			if err := stream.SeedRemote(ledgerEvent{Kind: "deposit", Amount: 1000}); err != nil {
				t.Fatalf("SeedRemote: %v", err)
			}
		}
		// The builder reacts to the current state each attempt, so the
		// second attempt sees the interleaved deposit already applied.
		return []ledgerEvent{{Kind: "deposit", Amount: state}}, state, nil
	})
	if err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("builder ran %d times, want 2 (one conflict, one success)", attempts)
	}
	// First attempt observed state 0, staged deposit(0); write conflicts
	// against the interleaved deposit(1000). Second attempt observes
	// state 1000, stages deposit(1000). Final balance: 1000 + 1000.
	if result.Result != 1000 {
		t.Fatalf("builder result = %d, want 1000 (state observed on the winning attempt)", result.Result)
	}
	if got := w1.Current(); got != 2000 {
		t.Fatalf("Current() = %d, want 2000", got)
	}
}

func TestWrapper_Scenario6_UnreadableEventIsQuarantined(t *testing.T) {
	ctx := context.Background()
	stream := evstream.NewMemEventStream[ledgerEvent](nil)
	for i := 1; i <= 50; i++ {
		_ = stream.SeedRemote(ledgerEvent{Kind: "deposit", Amount: 1})
	}
	stream.InjectCorrupt(42)

	w := newTestWrapper(t, stream, nil, Config{})
	if err := w.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if w.GroupSequence() != stream.Sequence() {
		t.Fatalf("GroupSequence() = %d, want equal to stream Sequence() = %d", w.GroupSequence(), stream.Sequence())
	}
	if !w.PossiblyInconsistent() {
		t.Fatalf("PossiblyInconsistent() = false, want true after a corrupt slot")
	}

	entries := w.Quarantine().Entries()
	if len(entries) != 1 {
		t.Fatalf("Quarantine entries = %d, want 1", len(entries))
	}
	if entries[0].Seq != 42 {
		t.Fatalf("quarantined seq = %d, want 42", entries[0].Seq)
	}
	if got := w.Current(); got != 49 {
		t.Fatalf("Current() = %d, want 49 (50 deposits minus the corrupt one)", got)
	}
}

func TestWrapper_CatchUpIsIdempotentWhenNothingNew(t *testing.T) {
	ctx := context.Background()
	stream := evstream.NewMemEventStream[ledgerEvent](nil)
	_ = stream.SeedRemote(ledgerEvent{Kind: "deposit", Amount: 1})

	w := newTestWrapper(t, stream, nil, Config{})
	if err := w.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	seqBefore := w.GroupSequence()
	quarantineBefore := w.Quarantine().Len()

	if err := w.catchUp(ctx); err != nil {
		t.Fatalf("second catchUp: %v", err)
	}

	if w.GroupSequence() != seqBefore {
		t.Fatalf("GroupSequence() changed on idempotent catch-up: %d != %d", w.GroupSequence(), seqBefore)
	}
	if w.Quarantine().Len() != quarantineBefore {
		t.Fatalf("Quarantine grew on idempotent catch-up: %d != %d", w.Quarantine().Len(), quarantineBefore)
	}
}

func TestWrapper_IDIsStableAndUniquePerInstance(t *testing.T) {
	w1 := newTestWrapper(t, evstream.NewMemEventStream[ledgerEvent](nil), nil, Config{})
	w2 := newTestWrapper(t, evstream.NewMemEventStream[ledgerEvent](nil), nil, Config{})

	if w1.ID() == uuid.Nil {
		t.Fatal("ID() returned the zero UUID")
	}
	if w1.ID() != w1.ID() {
		t.Fatal("ID() is not stable across calls")
	}
	if w1.ID() == w2.ID() {
		t.Fatal("two Wrapper instances share an ID")
	}
}
