package obs

import "github.com/streamkit/eventwrap/wrapper"

// Handler receives a Wrapper's lifecycle events. TracingHandler and
// MetricsHandler both satisfy it.
type Handler interface {
	Handle(ev wrapper.Event)
}

// Attach subscribes to sub and fans out every event to each handler, in a
// dedicated goroutine, until the subscription's channel is closed (the
// caller closed the subscription, or the wrapper itself was closed).
func Attach(sub wrapper.Subscription, handlers ...Handler) {
	go func() {
		for ev := range sub.Events() {
			for _, h := range handlers {
				h.Handle(ev)
			}
		}
	}()
}
