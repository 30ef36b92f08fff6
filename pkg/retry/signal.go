package retry

import (
	"context"
	"sync"
)

// Signal is a cancellation capability. Subscribe registers fn to run once
// when the signal triggers (immediately if it already has) and returns a
// function that removes the registration.
type Signal interface {
	Triggered() bool
	Subscribe(fn func()) (unsubscribe func())
}

// ContextSignal adapts a context to Signal.
func ContextSignal(ctx context.Context) Signal {
	return contextSignal{ctx: ctx}
}

type contextSignal struct {
	ctx context.Context
}

func (s contextSignal) Triggered() bool {
	return s.ctx.Err() != nil
}

func (s contextSignal) Subscribe(fn func()) func() {
	stop := context.AfterFunc(s.ctx, fn)
	return func() { stop() }
}

// Trigger is a manually fired Signal.
type Trigger struct {
	mu        sync.Mutex
	triggered bool
	nextID    uint64
	listeners map[uint64]func()
}

// NewTrigger creates an untriggered signal.
func NewTrigger() *Trigger {
	return &Trigger{listeners: make(map[uint64]func())}
}

// Fire triggers the signal and notifies every subscriber once.
func (t *Trigger) Fire() {
	t.mu.Lock()
	if t.triggered {
		t.mu.Unlock()
		return
	}
	t.triggered = true
	listeners := t.listeners
	t.listeners = nil
	t.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (t *Trigger) Triggered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.triggered
}

func (t *Trigger) Subscribe(fn func()) func() {
	t.mu.Lock()
	if t.triggered {
		t.mu.Unlock()
		fn()
		return func() {}
	}
	t.nextID++
	id := t.nextID
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

// Listeners returns the number of pending subscriptions.
func (t *Trigger) Listeners() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners)
}
