package client

import (
	"context"
	"sync"
)

// latch is a manual-reset gate for pause/resume. It starts open; pause
// closes it, resume reopens it. wait blocks while the latch is closed.
type latch struct {
	mu     sync.Mutex
	gate   chan struct{}
	paused bool
}

func newLatch() *latch {
	gate := make(chan struct{})
	close(gate)
	return &latch{gate: gate}
}

// pause closes the gate. Idempotent.
func (l *latch) pause() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.paused {
		l.paused = true
		l.gate = make(chan struct{})
	}
}

// resume reopens the gate, releasing every waiter. Idempotent.
func (l *latch) resume() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		l.paused = false
		close(l.gate)
	}
}

// isPaused reports the current gate state.
func (l *latch) isPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// wait blocks until the gate is open or the context is done.
func (l *latch) wait(ctx context.Context) error {
	l.mu.Lock()
	gate := l.gate
	l.mu.Unlock()

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
