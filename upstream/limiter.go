package upstream

import "context"

// IdentifyLimiter serializes identify requests the way Discord's
// session-start-limit max_concurrency requires: only a bounded number of
// shards may identify at once, and each identify holds one slot until
// Release is called. No delay is added between a Release and the next
// Acquire.
type IdentifyLimiter struct {
	slots chan struct{}
}

// NewIdentifyLimiter builds a limiter with maxConcurrency concurrent
// identify slots.
func NewIdentifyLimiter(maxConcurrency int) *IdentifyLimiter {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &IdentifyLimiter{slots: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until an identify slot is available or ctx is done.
func (l *IdentifyLimiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot to the pool.
func (l *IdentifyLimiter) Release() {
	select {
	case <-l.slots:
	default:
	}
}
