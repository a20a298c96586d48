package obs

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/streamkit/eventwrap/wrapper"
)

// MetricsHandler translates a Wrapper's lifecycle events into OpenTelemetry
// counters and a catch-up duration histogram.
type MetricsHandler struct {
	catchUps       metric.Int64Counter
	appends        metric.Int64Counter
	transactions   metric.Int64Counter
	quarantined    metric.Int64Counter
	conflicts      metric.Int64Counter
	snapshotsSaved metric.Int64Counter
	roundTripFails metric.Int64Counter
	catchUpSeconds metric.Float64Histogram

	mu             sync.Mutex
	catchUpStarted time.Time
}

// NewMetricsHandler creates a MetricsHandler using the given meter to
// register its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	catchUps, err := meter.Int64Counter("eventwrap.catch_ups",
		metric.WithDescription("Number of catch-up cycles run"))
	if err != nil {
		return nil, err
	}
	appends, err := meter.Int64Counter("eventwrap.appends",
		metric.WithDescription("Number of successful append_events calls"))
	if err != nil {
		return nil, err
	}
	transactions, err := meter.Int64Counter("eventwrap.transactions",
		metric.WithDescription("Number of successful transaction calls"))
	if err != nil {
		return nil, err
	}
	quarantined, err := meter.Int64Counter("eventwrap.quarantined_events",
		metric.WithDescription("Number of events that failed to deserialize or apply"))
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("eventwrap.writes.conflicts",
		metric.WithDescription("Number of optimistic-concurrency write conflicts"))
	if err != nil {
		return nil, err
	}
	snapshotsSaved, err := meter.Int64Counter("eventwrap.snapshots_saved",
		metric.WithDescription("Number of successful projection snapshot saves"))
	if err != nil {
		return nil, err
	}
	roundTripFails, err := meter.Int64Counter("eventwrap.snapshot_round_trip_failures",
		metric.WithDescription("Number of fatal snapshot save/load round-trip mismatches"))
	if err != nil {
		return nil, err
	}
	catchUpSeconds, err := meter.Float64Histogram("eventwrap.catch_up.duration",
		metric.WithDescription("Duration of a catch-up cycle"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		catchUps:       catchUps,
		appends:        appends,
		transactions:   transactions,
		quarantined:    quarantined,
		conflicts:      conflicts,
		snapshotsSaved: snapshotsSaved,
		roundTripFails: roundTripFails,
		catchUpSeconds: catchUpSeconds,
	}, nil
}

// Handle processes one wrapper.Event and records the appropriate metric.
func (h *MetricsHandler) Handle(ev wrapper.Event) {
	ctx := context.Background()
	switch ev.Kind {
	case wrapper.EventCatchUpStarted:
		h.mu.Lock()
		h.catchUpStarted = ev.Time
		h.mu.Unlock()
	case wrapper.EventCatchUpCompleted:
		h.catchUps.Add(ctx, 1)
		h.mu.Lock()
		started := h.catchUpStarted
		h.mu.Unlock()
		if !started.IsZero() {
			h.catchUpSeconds.Record(ctx, ev.Time.Sub(started).Seconds())
		}
	case wrapper.EventAppendCompleted:
		h.appends.Add(ctx, 1)
	case wrapper.EventTransactionCompleted:
		h.transactions.Add(ctx, 1)
	case wrapper.EventQuarantined:
		h.quarantined.Add(ctx, 1)
	case wrapper.EventWriteConflict:
		h.conflicts.Add(ctx, 1)
	case wrapper.EventSnapshotSaved:
		h.snapshotsSaved.Add(ctx, 1)
	case wrapper.EventSnapshotRoundTripFailed:
		h.roundTripFails.Add(ctx, 1)
	}
}
