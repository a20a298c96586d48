package wrapper

import "sync"

// refreshLatch is a one-shot broadcast primitive: any number of readers can
// wait for the next "caught up" moment, and a single notify releases all of
// them at once. The channel is recreated lazily so waiters never need to
// register or unregister individually, and a cancelled waiter (its ctx
// done) never prevents the latch from firing for the others.
type refreshLatch struct {
	mu   sync.Mutex
	done chan struct{}
}

// wait returns the channel to select on. Closed exactly once per latch
// generation, at the next notify.
func (l *refreshLatch) wait() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		l.done = make(chan struct{})
	}
	return l.done
}

// notify fires the current latch, if one exists, and discards it so the
// next wait() call starts a fresh generation.
func (l *refreshLatch) notify() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		close(l.done)
		l.done = nil
	}
}

// waiting reports whether at least one waiter is parked on the current
// generation.
func (l *refreshLatch) waiting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}
