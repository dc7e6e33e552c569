// Package gate collapses bursts of calls into a single delayed invocation.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrSuperseded is returned to a caller whose pending invocation was replaced
// by a later Schedule on the same Gate before it fired.
var ErrSuperseded = errors.New("superseded by a later call")

type result[T any] struct {
	val T
	err error
}

type call[T any] struct {
	timer *time.Timer
	done  chan result[T]
}

// Gate runs only the last of a burst of scheduled functions. Every Schedule
// restarts the delay and releases the previously pending caller with
// ErrSuperseded. Once a function fires it runs to completion even if newer
// calls arrive.
type Gate[T any] struct {
	mu      sync.Mutex
	delay   time.Duration
	pending *call[T]
}

// New creates a Gate with the given delay.
func New[T any](delay time.Duration) *Gate[T] {
	if delay < 0 {
		delay = 0
	}
	return &Gate[T]{delay: delay}
}

// SetDelay changes the delay used by subsequent Schedule calls.
func (g *Gate[T]) SetDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	g.mu.Lock()
	g.delay = d
	g.mu.Unlock()
}

// Delay returns the current delay.
func (g *Gate[T]) Delay() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.delay
}

// Schedule waits for the delay and then runs fn, unless another Schedule
// arrives first. fn receives ctx unchanged.
func (g *Gate[T]) Schedule(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	c := &call[T]{done: make(chan result[T], 1)}

	g.mu.Lock()
	if prev := g.pending; prev != nil {
		// Stop reports false once the timer fired; that call now runs to
		// completion and delivers its own result.
		if prev.timer.Stop() {
			prev.done <- result[T]{err: ErrSuperseded}
		}
	}
	g.pending = c
	c.timer = time.AfterFunc(g.delay, func() {
		g.mu.Lock()
		if g.pending == c {
			g.pending = nil
		}
		g.mu.Unlock()

		v, err := fn(ctx)
		c.done <- result[T]{val: v, err: err}
	})
	g.mu.Unlock()

	select {
	case r := <-c.done:
		return r.val, r.err
	case <-ctx.Done():
		g.mu.Lock()
		if c.timer.Stop() && g.pending == c {
			g.pending = nil
		}
		g.mu.Unlock()
		var zero T
		return zero, ctx.Err()
	}
}
