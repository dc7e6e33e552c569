// Package budget bounds the number of backend requests in flight.
package budget

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultMax is used when a non-positive maximum is configured.
const DefaultMax = 5

// recheckInterval is the fallback poll period for blocked Acquire calls.
const recheckInterval = 500 * time.Millisecond

// ErrExceeded is returned by TryAcquire when no unit is available.
var ErrExceeded = errors.New("request budget exceeded")

// Budget is a counting semaphore whose capacity can be changed while in use.
type Budget struct {
	mu     sync.Mutex
	max    int
	avail  int
	wakeup chan struct{}
}

// New creates a Budget with max units available.
func New(max int) *Budget {
	if max <= 0 {
		max = DefaultMax
	}
	return &Budget{max: max, avail: max, wakeup: make(chan struct{})}
}

// TryAcquire takes a unit without waiting.
func (b *Budget) TryAcquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.avail <= 0 {
		return ErrExceeded
	}
	b.avail--
	return nil
}

// Acquire takes a unit, waiting until one is released or ctx is done.
func (b *Budget) Acquire(ctx context.Context) error {
	ticker := time.NewTicker(recheckInterval)
	defer ticker.Stop()

	for {
		b.mu.Lock()
		if b.avail > 0 {
			b.avail--
			b.mu.Unlock()
			return nil
		}
		wake := b.wakeup
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-ticker.C:
		}
	}
}

// Release returns a unit. Releases beyond the maximum are dropped.
func (b *Budget) Release() {
	b.mu.Lock()
	if b.avail < b.max {
		b.avail++
	}
	b.broadcast()
	b.mu.Unlock()
}

// SetMax changes the capacity. The difference is applied to the available
// count, which may stay at zero until enough in-flight units are released.
func (b *Budget) SetMax(n int) {
	if n <= 0 {
		n = DefaultMax
	}
	b.mu.Lock()
	b.avail += n - b.max
	if b.avail < 0 {
		b.avail = 0
	}
	b.max = n
	b.broadcast()
	b.mu.Unlock()
}

// Available returns the number of units that can be acquired right now.
func (b *Budget) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.avail
}

// Max returns the configured capacity.
func (b *Budget) Max() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max
}

// broadcast wakes every waiter. Caller holds mu.
func (b *Budget) broadcast() {
	close(b.wakeup)
	b.wakeup = make(chan struct{})
}
