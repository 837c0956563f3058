package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireUpToCapacity(t *testing.T) {
	l := New(2, time.Millisecond)
	ctx := context.Background()

	p1, err := l.Acquire(ctx)
	require.NoError(t, err)
	p2, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Outstanding())

	// Third caller must block until a permit is released.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(shortCtx)
	require.Error(t, err)

	p1.Release()
	assert.Equal(t, 1, l.Outstanding())

	p3, err := l.Acquire(ctx)
	require.NoError(t, err)
	p3.Release()
	p2.Release()
	assert.Equal(t, 0, l.Outstanding())
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := New(1, time.Millisecond)
	p, err := l.Acquire(context.Background())
	require.NoError(t, err)

	p.Release()
	p.Release()
	assert.Equal(t, 0, l.Outstanding())

	// The slot must be usable again after the double release.
	p2, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p2.Release()
}

func TestOutstandingNeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	l := New(capacity, time.Millisecond)

	var peak int64
	var current int64
	var wg sync.WaitGroup

	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.Acquire(context.Background())
			if err != nil {
				return
			}
			n := atomic.AddInt64(&current, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&current, -1)
			p.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(capacity))
	assert.Equal(t, 0, l.Outstanding())
}

func TestWaitersProgressUnderRefill(t *testing.T) {
	l := New(1, time.Millisecond)

	// Every waiter must eventually get through; nobody starves while the
	// bucket keeps refilling.
	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		go func() {
			p, err := l.Acquire(context.Background())
			if err == nil {
				p.Release()
			}
			done <- struct{}{}
		}()
	}

	timeout := time.After(5 * time.Second)
	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case <-timeout:
			t.Fatal("waiters starved: not all acquirers completed")
		}
	}
}
