package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamkit/eventwrap/wrapper"
)

// TracingHandler translates a Wrapper's lifecycle events into spans: one
// span per catch-up cycle, with quarantine entries recorded as span
// events, plus a short span for every completed append or transaction.
//
// A Wrapper drives its events from a single goroutine, so at most one
// catch-up span is ever open at a time; the mutex only guards against a
// concurrent Handle call racing a concurrent read (there is none today,
// but Handle is exported and callers may reasonably assume it's safe).
type TracingHandler struct {
	tracer trace.Tracer

	mu          sync.Mutex
	catchUpSpan trace.Span
}

// NewTracingHandler creates a TracingHandler using the given tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{tracer: tracer}
}

// Handle processes one wrapper.Event, creating, annotating, or ending
// spans accordingly.
func (h *TracingHandler) Handle(ev wrapper.Event) {
	switch ev.Kind {
	case wrapper.EventCatchUpStarted:
		h.handleCatchUpStarted(ev)
	case wrapper.EventCatchUpCompleted:
		h.handleCatchUpCompleted(ev)
	case wrapper.EventQuarantined:
		h.handleQuarantined(ev)
	case wrapper.EventSnapshotRoundTripFailed:
		h.handleRoundTripFailed(ev)
	case wrapper.EventAppendCompleted:
		h.handlePointEvent("append", ev)
	case wrapper.EventTransactionCompleted:
		h.handlePointEvent("transaction", ev)
	}
}

func (h *TracingHandler) handleCatchUpStarted(ev wrapper.Event) {
	_, span := h.tracer.Start(context.Background(), "catch_up",
		trace.WithAttributes(attribute.Int64("eventwrap.from_sequence", int64(ev.Sequence))),
		trace.WithTimestamp(ev.Time),
	)

	h.mu.Lock()
	h.catchUpSpan = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleCatchUpCompleted(ev wrapper.Event) {
	h.mu.Lock()
	span := h.catchUpSpan
	h.catchUpSpan = nil
	h.mu.Unlock()

	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int64("eventwrap.to_sequence", int64(ev.Sequence)))
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(ev.Time))
}

func (h *TracingHandler) handleQuarantined(ev wrapper.Event) {
	h.mu.Lock()
	span := h.catchUpSpan
	h.mu.Unlock()
	if span == nil {
		return
	}

	errMsg := ""
	if ev.Err != nil {
		errMsg = ev.Err.Error()
	}
	span.AddEvent("quarantined", trace.WithTimestamp(ev.Time), trace.WithAttributes(
		attribute.Int64("eventwrap.sequence", int64(ev.Sequence)),
		attribute.String("eventwrap.error", errMsg),
	))
}

func (h *TracingHandler) handleRoundTripFailed(ev wrapper.Event) {
	h.mu.Lock()
	span := h.catchUpSpan
	h.mu.Unlock()
	if span == nil {
		return
	}
	if ev.Err != nil {
		span.RecordError(ev.Err, trace.WithTimestamp(ev.Time))
	}
	span.SetStatus(codes.Error, "snapshot round trip failed")
}

func (h *TracingHandler) handlePointEvent(name string, ev wrapper.Event) {
	_, span := h.tracer.Start(context.Background(), name,
		trace.WithAttributes(attribute.Int64("eventwrap.end_sequence", int64(ev.Sequence))),
		trace.WithTimestamp(ev.Time),
	)
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(ev.Time))
}
