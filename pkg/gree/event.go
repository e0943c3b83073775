package gree

import (
	"context"
	"sync"
)

// event is a resettable signal. Wait returns once Set has been called, until
// the next Clear.
type event struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newEvent(set bool) *event {
	e := &event{ch: make(chan struct{})}
	if set {
		e.Set()
	}
	return e
}

func (e *event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		close(e.ch)
		e.set = true
	}
}

func (e *event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.ch = make(chan struct{})
		e.set = false
	}
}

func (e *event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

func (e *event) Wait(ctx context.Context) error {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
