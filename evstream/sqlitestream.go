package evstream

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteStreamSchema string

// SQLiteStreamConfig configures a SQLite-backed Stream.
type SQLiteStreamConfig struct {
	// DSN is the database connection string, e.g. "file:events.db".
	DSN string

	// BatchSize caps how many rows a single BackgroundFetch round pulls.
	// Defaults to 50.
	BatchSize int
}

// SQLiteEventStream is a durable Stream backed by a SQLite table, grounded
// on bus.SQLiteEventStore's schema-embedding and WAL setup. Unlike
// MemEventStream, the remote store lives outside the process, so
// BackgroundFetch issues a real query and Write is guarded by a
// transaction that re-checks the table's max sequence before appending.
type SQLiteEventStream[E any] struct {
	db    *sql.DB
	codec Codec[E]

	mu          sync.Mutex
	fetchCursor uint64 // highest seq already pulled into buffer or consumed
	localSeq    uint64
	buffer      []record
	batchSize   int
}

// NewSQLiteEventStream opens (or creates) a SQLite-backed event stream.
func NewSQLiteEventStream[E any](cfg SQLiteStreamConfig, codec Codec[E]) (*SQLiteEventStream[E], error) {
	if codec == nil {
		codec = JSONCodec[E]{}
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("evstream: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("evstream: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteStreamSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("evstream: create schema: %w", err)
	}

	return &SQLiteEventStream[E]{
		db:        db,
		codec:     codec,
		batchSize: batchSize,
	}, nil
}

func (s *SQLiteEventStream[E]) Close() error {
	return s.db.Close()
}

func (s *SQLiteEventStream[E]) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localSeq
}

func (s *SQLiteEventStream[E]) TryGetNext(_ context.Context) (NextResult[E], bool) {
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

func (s *SQLiteEventStream[E]) BackgroundFetch(ctx context.Context) FinishFetch {
	resultCh := make(chan fetchOutcome, 1)
	errCh := make(chan error, 1)

	s.mu.Lock()
	start := s.fetchCursor
	limit := s.batchSize
	s.mu.Unlock()

	go func() {
		rows, err := s.db.QueryContext(ctx,
			`SELECT seq, payload, corrupt FROM stream_events WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
			start, limit,
		)
		if err != nil {
			errCh <- fmt.Errorf("evstream: fetch: %w", err)
			return
		}
		defer rows.Close()

		var batch []record
		var lastSeq uint64
		for rows.Next() {
			var rec record
			var corrupt int
			if err := rows.Scan(&rec.seq, &rec.data, &corrupt); err != nil {
				errCh <- fmt.Errorf("evstream: scan: %w", err)
				return
			}
			rec.corrupt = corrupt != 0
			batch = append(batch, rec)
			lastSeq = rec.seq
		}
		if err := rows.Err(); err != nil {
			errCh <- fmt.Errorf("evstream: fetch rows: %w", err)
			return
		}

		more := len(batch) == limit
		if !more && lastSeq > 0 {
			var maxSeq uint64
			if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM stream_events`).Scan(&maxSeq); err == nil {
				more = maxSeq > lastSeq
			}
		}
		resultCh <- fetchOutcome{batch: batch, more: more}
	}()

	return func() (bool, error) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case err := <-errCh:
			return false, err
		case out := <-resultCh:
			s.mu.Lock()
			s.buffer = append(s.buffer, out.batch...)
			if len(out.batch) > 0 {
				s.fetchCursor = out.batch[len(out.batch)-1].seq
			}
			s.mu.Unlock()
			return out.more, nil
		}
	}
}

func (s *SQLiteEventStream[E]) DiscardUpTo(ctx context.Context, seq uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxSeq uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM stream_events`).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("evstream: discard: %w", err)
	}

	target := seq - 1
	if seq == 0 {
		target = 0
	}
	if target > maxSeq {
		target = maxSeq
	}
	s.fetchCursor = target
	s.localSeq = target
	s.buffer = nil

	return maxSeq, nil
}

func (s *SQLiteEventStream[E]) Write(ctx context.Context, events []E) (uint64, bool, error) {
	s.mu.Lock()
	viewCursor := s.fetchCursor
	s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("evstream: begin tx: %w", err)
	}
	defer tx.Rollback()

	var maxSeq uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM stream_events`).Scan(&maxSeq); err != nil {
		return 0, false, fmt.Errorf("evstream: read max seq: %w", err)
	}

	if maxSeq != viewCursor {
		return 0, false, nil
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stream_events (payload, corrupt) VALUES (?, 0)`)
	if err != nil {
		return 0, false, fmt.Errorf("evstream: prepare insert: %w", err)
	}
	defer stmt.Close()

	var lastID int64
	written := make([]record, 0, len(events))
	for _, ev := range events {
		data, err := s.codec.Encode(ev)
		if err != nil {
			return 0, false, err
		}
		res, err := stmt.ExecContext(ctx, data)
		if err != nil {
			return 0, false, fmt.Errorf("evstream: insert: %w", err)
		}
		lastID, err = res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("evstream: last insert id: %w", err)
		}
		written = append(written, record{seq: uint64(lastID), data: data})
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("evstream: commit: %w", err)
	}

	endSeq := uint64(lastID)
	s.mu.Lock()
	s.fetchCursor = endSeq
	// The writer already has the content it just wrote; queue it for local
	// delivery so it doesn't need a round trip to fetch its own write back.
	s.buffer = append(s.buffer, written...)
	s.mu.Unlock()

	return endSeq, true, nil
}

func (s *SQLiteEventStream[E]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localSeq = 0
	s.fetchCursor = 0
	s.buffer = nil
}

var _ Stream[struct{}] = (*SQLiteEventStream[struct{}])(nil)
