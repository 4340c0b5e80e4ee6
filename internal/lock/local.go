// Package lock provides the serialization points placed in front of booking
// writes so that the read-check-append sequence runs one writer at a time.
package lock

import (
	"context"
	"sync"
)

// Local serializes writers inside a single process. It is sufficient when one
// process fronts the store; use Redis when several do.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal returns an empty in-process locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) slot(resource string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[resource]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[resource] = ch
	}
	return ch
}

// Lock blocks until resource is free or ctx is done.
func (l *Local) Lock(ctx context.Context, resource string) (func(), error) {
	ch := l.slot(resource)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
