package evstream

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestSQLiteStream(t *testing.T) *SQLiteEventStream[ledgerEvent] {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "events.db")
	s, err := NewSQLiteEventStream[ledgerEvent](SQLiteStreamConfig{DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("NewSQLiteEventStream: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func drainBackgroundSQLite(t *testing.T, s *SQLiteEventStream[ledgerEvent]) {
	t.Helper()
	finish := s.BackgroundFetch(context.Background())
	if _, err := finish(); err != nil {
		t.Fatalf("BackgroundFetch finish: %v", err)
	}
}

func TestSQLiteEventStream_EmptyStreamHasNothingToFetch(t *testing.T) {
	s := newTestSQLiteStream(t)
	drainBackgroundSQLite(t, s)

	if _, ok := s.TryGetNext(context.Background()); ok {
		t.Fatalf("TryGetNext: expected ok=false on empty stream")
	}
}

func TestSQLiteEventStream_WriteThenFetchThenDeliver(t *testing.T) {
	s := newTestSQLiteStream(t)
	ctx := context.Background()

	end, ok, err := s.Write(ctx, []ledgerEvent{{Kind: "deposit", Amount: 100}, {Kind: "withdraw", Amount: 40}})
	if err != nil || !ok {
		t.Fatalf("Write: ok=%v err=%v", ok, err)
	}
	if end != 2 {
		t.Fatalf("Write: end seq = %d, want 2", end)
	}

	drainBackgroundSQLite(t, s)

	res, ok := s.TryGetNext(ctx)
	if !ok || res.Seq != 1 || res.Event.Amount != 100 {
		t.Fatalf("TryGetNext: got %+v ok=%v", res, ok)
	}
	res, ok = s.TryGetNext(ctx)
	if !ok || res.Seq != 2 || res.Event.Amount != 40 {
		t.Fatalf("TryGetNext: got %+v ok=%v", res, ok)
	}
}

func TestSQLiteEventStream_WriteConflictThenRetry(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "events.db")

	writer, err := NewSQLiteEventStream[ledgerEvent](SQLiteStreamConfig{DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("NewSQLiteEventStream: %v", err)
	}
	t.Cleanup(func() { _ = writer.Close() })

	other, err := NewSQLiteEventStream[ledgerEvent](SQLiteStreamConfig{DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("NewSQLiteEventStream (other): %v", err)
	}
	t.Cleanup(func() { _ = other.Close() })

	ctx := context.Background()

	if _, ok, err := writer.Write(ctx, []ledgerEvent{{Kind: "deposit", Amount: 10}}); err != nil || !ok {
		t.Fatalf("initial Write: ok=%v err=%v", ok, err)
	}

	// A second stream handle writes concurrently, advancing the table past
	// what "other" has fetched.
	if _, ok, err := writer.Write(ctx, []ledgerEvent{{Kind: "deposit", Amount: 20}}); err != nil || !ok {
		t.Fatalf("second Write: ok=%v err=%v", ok, err)
	}

	_, ok, err := other.Write(ctx, []ledgerEvent{{Kind: "withdraw", Amount: 5}})
	if err != nil {
		t.Fatalf("conflicting Write: unexpected err %v", err)
	}
	if ok {
		t.Fatalf("conflicting Write: expected ok=false, other has stale view")
	}

	drainBackgroundSQLite(t, other)
	end, ok, err := other.Write(ctx, []ledgerEvent{{Kind: "withdraw", Amount: 5}})
	if err != nil || !ok {
		t.Fatalf("retry Write: ok=%v err=%v", ok, err)
	}
	if end != 3 {
		t.Fatalf("retry Write: end seq = %d, want 3", end)
	}
}

func TestSQLiteEventStream_CorruptSlotStillAdvancesSequence(t *testing.T) {
	s := newTestSQLiteStream(t)
	ctx := context.Background()

	if _, ok, err := s.Write(ctx, []ledgerEvent{{Kind: "deposit", Amount: 1}, {Kind: "deposit", Amount: 2}}); err != nil || !ok {
		t.Fatalf("Write: ok=%v err=%v", ok, err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE stream_events SET corrupt = 1 WHERE seq = 1`); err != nil {
		t.Fatalf("marking corrupt: %v", err)
	}
	s.Reset()

	drainBackgroundSQLite(t, s)

	res, ok := s.TryGetNext(ctx)
	if !ok || res.Seq != 1 || res.Err == nil {
		t.Fatalf("TryGetNext: got %+v ok=%v, want a decode error at seq 1", res, ok)
	}
	if s.Sequence() != 1 {
		t.Fatalf("Sequence() after corrupt slot = %d, want 1 (cursor still advances)", s.Sequence())
	}

	res, ok = s.TryGetNext(ctx)
	if !ok || res.Seq != 2 || res.Event.Amount != 2 {
		t.Fatalf("TryGetNext: got %+v ok=%v, want seq 2 amount 2", res, ok)
	}
}

func TestSQLiteEventStream_DiscardUpTo(t *testing.T) {
	s := newTestSQLiteStream(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, ok, err := s.Write(ctx, []ledgerEvent{{Kind: "tick", Amount: i}}); err != nil || !ok {
			t.Fatalf("Write %d: ok=%v err=%v", i, ok, err)
		}
	}

	maxKnown, err := s.DiscardUpTo(ctx, 4)
	if err != nil {
		t.Fatalf("DiscardUpTo: %v", err)
	}
	if maxKnown != 5 {
		t.Fatalf("DiscardUpTo: maxKnownSeq = %d, want 5", maxKnown)
	}
	if s.Sequence() != 3 {
		t.Fatalf("Sequence after discard: got %d, want 3", s.Sequence())
	}

	drainBackgroundSQLite(t, s)
	res, ok := s.TryGetNext(ctx)
	if !ok || res.Seq != 4 {
		t.Fatalf("TryGetNext after discard: got %+v ok=%v, want seq 4", res, ok)
	}
}
