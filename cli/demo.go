package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streamkit/eventwrap/cache"
	"github.com/streamkit/eventwrap/evstream"
	"github.com/streamkit/eventwrap/projection"
	"github.com/streamkit/eventwrap/wrapper"
	"github.com/streamkit/eventwrap/wrapperconfig"
)

// isCancelled reports whether err is (or wraps) a context cancellation, the
// signal that ends an interactive command cleanly rather than as a failure.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ledgerEvent is the demo domain the CLI subcommands exercise end to end: a
// minimal append-only ledger of deposits and withdrawals.
type ledgerEvent struct {
	Kind   string `json:"kind"`
	Amount int    `json:"amount"`
}

// balanceProjection folds ledgerEvents into a running balance.
type balanceProjection struct{}

func (balanceProjection) FullName() string { return "ledger-balance-v1" }
func (balanceProjection) Initial() any     { return 0 }

func (balanceProjection) Apply(_ uint64, event ledgerEvent, prev any) (any, error) {
	balance, _ := prev.(int)
	switch event.Kind {
	case "deposit":
		return balance + event.Amount, nil
	case "withdraw":
		return balance - event.Amount, nil
	default:
		return nil, fmt.Errorf("unknown ledger event kind %q", event.Kind)
	}
}

func (balanceProjection) TryLoad(data []byte) (any, bool) {
	if len(data) != 8 {
		return nil, false
	}
	var n int64
	for _, b := range data {
		n = n<<8 | int64(b)
	}
	return int(n), true
}

func (balanceProjection) TrySave(state any) ([]byte, bool) {
	balance, ok := state.(int)
	if !ok {
		return nil, false
	}
	n := int64(balance)
	data := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		data[i] = byte(n)
		n >>= 8
	}
	return data, true
}

func composeLedgerState(states map[string]any) int {
	balance, _ := states["ledger-balance-v1"].(int)
	return balance
}

// ledgerWrapper is the concrete type every subcommand builds against.
type ledgerWrapper = wrapper.Wrapper[ledgerEvent, int]

// openLedgerWrapper opens the SQLite-backed stream and cache at
// cfg.DriverDSN and returns an unstarted ledger wrapper. Callers must call
// Initialize and closeFn.
func openLedgerWrapper(cfg wrapperconfig.Config, logger *slog.Logger) (*ledgerWrapper, func() error, error) {
	stream, err := evstream.NewSQLiteEventStream[ledgerEvent](evstream.SQLiteStreamConfig{
		DSN: cfg.DriverDSN,
	}, evstream.JSONCodec[ledgerEvent]{})
	if err != nil {
		return nil, nil, fmt.Errorf("opening event stream: %w", err)
	}

	snapshotCache, err := cache.NewSQLiteProjectionCache(cache.SQLiteCacheConfig{DSN: cfg.DriverDSN})
	if err != nil {
		_ = stream.Close()
		return nil, nil, fmt.Errorf("opening projection cache: %w", err)
	}

	group := projection.NewGroup[ledgerEvent, int](
		[]projection.Projection[ledgerEvent]{balanceProjection{}},
		composeLedgerState,
		snapshotCache,
	)

	w := wrapper.New[ledgerEvent, int](stream, group, cfg.WrapperConfig(logger))
	closeFn := func() error {
		w.Close()
		streamErr := stream.Close()
		cacheErr := snapshotCache.Close()
		if streamErr != nil {
			return streamErr
		}
		return cacheErr
	}
	return w, closeFn, nil
}
