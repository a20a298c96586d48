package evstream

import (
	"context"
	"sync"
)

// record is one slot in the simulated remote store.
type record struct {
	seq     uint64
	data    []byte
	corrupt bool
}

// MemEventStream is an in-memory Stream, useful for tests and demos. It
// simulates a remote store (the "server") separately from the caller's
// locally fetched view, so BackgroundFetch, DiscardUpTo, and optimistic
// write conflicts are all meaningfully exercised rather than trivially
// satisfied by shared state. Grounded on bus.MemEventStore's map-backed
// shape, adapted here to a single ordered stream with an explicit
// local/remote split.
type MemEventStream[E any] struct {
	mu    sync.Mutex
	codec Codec[E]

	remote []record // the simulated remote store, append-only

	fetchCursor int      // index into remote already pulled into buffer
	buffer      []record // fetched, not yet drained by TryGetNext
	localSeq    uint64   // last sequence observed locally (delivered or not)

	batchSize int
}

// MemStreamOption configures a MemEventStream.
type MemStreamOption[E any] func(*MemEventStream[E])

// WithBatchSize overrides the number of records fetched per BackgroundFetch
// round (default 50).
func WithBatchSize[E any](n int) MemStreamOption[E] {
	return func(s *MemEventStream[E]) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewMemEventStream creates an empty in-memory stream. A nil codec defaults
// to JSONCodec.
func NewMemEventStream[E any](codec Codec[E], opts ...MemStreamOption[E]) *MemEventStream[E] {
	if codec == nil {
		codec = JSONCodec[E]{}
	}
	s := &MemEventStream[E]{
		codec:     codec,
		batchSize: 50,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemEventStream[E]) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localSeq
}

func (s *MemEventStream[E]) TryGetNext(_ context.Context) (NextResult[E], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) == 0 {
		return NextResult[E]{}, false
	}
	rec := s.buffer[0]
	s.buffer = s.buffer[1:]
	s.localSeq = rec.seq

	if rec.corrupt {
		return NextResult[E]{Seq: rec.seq, Err: wrapCorrupt(rec.seq, errCorruptSlot)}, true
	}
	ev, err := s.codec.Decode(rec.data)
	if err != nil {
		return NextResult[E]{Seq: rec.seq, Err: wrapCorrupt(rec.seq, err)}, true
	}
	return NextResult[E]{Seq: rec.seq, Event: ev}, true
}

type fetchOutcome struct {
	batch []record
	more  bool
}

func (s *MemEventStream[E]) BackgroundFetch(ctx context.Context) FinishFetch {
	resultCh := make(chan fetchOutcome, 1)

	go func() {
		s.mu.Lock()
		start := s.fetchCursor
		end := start + s.batchSize
		if end > len(s.remote) {
			end = len(s.remote)
		}
		batch := append([]record(nil), s.remote[start:end]...)
		s.fetchCursor = end
		more := s.fetchCursor < len(s.remote)
		s.mu.Unlock()

		resultCh <- fetchOutcome{batch: batch, more: more}
	}()

	return func() (bool, error) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case out := <-resultCh:
			s.mu.Lock()
			s.buffer = append(s.buffer, out.batch...)
			s.mu.Unlock()
			return out.more, nil
		}
	}
}

func (s *MemEventStream[E]) DiscardUpTo(_ context.Context, seq uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := 0
	for idx < len(s.remote) && s.remote[idx].seq < seq {
		idx++
	}
	s.fetchCursor = idx
	s.buffer = nil
	if idx > 0 {
		s.localSeq = s.remote[idx-1].seq
	}

	if len(s.remote) == 0 {
		return 0, nil
	}
	return s.remote[len(s.remote)-1].seq, nil
}

func (s *MemEventStream[E]) Write(_ context.Context, events []E) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Optimistic concurrency: a conflict exists if the remote store has
	// grown past what this stream has already fetched.
	if len(s.remote) != s.fetchCursor {
		return 0, false, nil
	}

	seq := uint64(len(s.remote))
	encoded := make([]record, 0, len(events))
	for _, ev := range events {
		data, err := s.codec.Encode(ev)
		if err != nil {
			return 0, false, err
		}
		seq++
		encoded = append(encoded, record{seq: seq, data: data})
	}

	s.remote = append(s.remote, encoded...)
	s.fetchCursor = len(s.remote)
	// The writer already knows the content of what it just wrote; queue it
	// for local delivery so the caller's own subsequent catch-up applies
	// these events without needing a round trip to "fetch" them back.
	s.buffer = append(s.buffer, encoded...)
	return seq, true, nil
}

func (s *MemEventStream[E]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localSeq = 0
	s.fetchCursor = 0
	s.buffer = nil
}

// InjectCorrupt marks the remote slot at seq as undecodable, for exercising
// the corrupt-event quarantine path in tests. It must be called before the
// slot has been fetched locally.
func (s *MemEventStream[E]) InjectCorrupt(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.remote {
		if s.remote[i].seq == seq {
			s.remote[i].corrupt = true
			return
		}
	}
}

// SeedRemote appends events directly to the simulated remote store, useful
// for setting up scenarios where a store already has history before a
// wrapper ever attaches.
func (s *MemEventStream[E]) SeedRemote(events ...E) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := uint64(len(s.remote))
	for _, ev := range events {
		data, err := s.codec.Encode(ev)
		if err != nil {
			return err
		}
		seq++
		s.remote = append(s.remote, record{seq: seq, data: data})
	}
	return nil
}

type corruptSlotError struct{}

func (corruptSlotError) Error() string { return "slot marked corrupt" }

var errCorruptSlot = corruptSlotError{}

// Compile-time interface check.
var _ Stream[struct{}] = (*MemEventStream[struct{}])(nil)
