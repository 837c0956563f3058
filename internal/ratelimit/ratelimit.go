// Package ratelimit gates every call to the enrichment API behind a single
// process-wide token bucket. Callers block on Acquire until a permit is free;
// backpressure, not rejection.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Permit is proof that the holder may issue one API call. Release it when the
// call finishes so the outstanding count stays accurate.
type Permit struct {
	l        *Limiter
	released bool
	mu       sync.Mutex
}

// Release returns the permit's slot to the bucket. Safe to call more than once.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	<-p.l.slots
}

// Limiter combines a concurrency cap (at most capacity permits outstanding)
// with a steady refill pace. Waiters queue FIFO inside rate.Limiter, so no
// caller starves while tokens keep refilling.
type Limiter struct {
	slots chan struct{}
	pacer *rate.Limiter
}

// New builds a limiter allowing a burst of capacity and one new permit per
// refill interval thereafter.
func New(capacity int, refill time.Duration) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if refill <= 0 {
		refill = time.Second
	}
	return &Limiter{
		slots: make(chan struct{}, capacity),
		pacer: rate.NewLimiter(rate.Every(refill), capacity),
	}
}

// Acquire blocks until a permit is available or ctx expires. The caller bounds
// the wait through ctx; this layer never imposes its own cap.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := l.pacer.Wait(ctx); err != nil {
		<-l.slots
		return nil, err
	}
	return &Permit{l: l}, nil
}

// Outstanding reports how many permits are currently held.
func (l *Limiter) Outstanding() int {
	return len(l.slots)
}

// Capacity reports the configured burst size.
func (l *Limiter) Capacity() int {
	return cap(l.slots)
}
