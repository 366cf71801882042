// Package pool provides the bounded handle pools shared by the test workers.
//
// A Pool never creates or destroys handles: it is seeded once before the
// workers start and every handle checked out is expected to come back through
// Release. The two pools used by a run (VM names and working directories) are
// the only state shared between workers.
package pool

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPoolFull is returned when seeding more handles than the pool can hold.
	ErrPoolFull = errors.New("pool is full")
)

// Observer is notified with the number of available handles after every
// checkout and release.
type Observer func(pool string, available int)

// Pool is a bounded multiple-producer/multiple-consumer queue of handles.
type Pool[T any] struct {
	name     string
	handles  chan T
	observer Observer
}

// New creates an empty pool able to hold capacity handles.
func New[T any](name string, capacity int) *Pool[T] {
	if capacity < 1 {
		panic("pool capacity must be positive")
	}
	return &Pool[T]{
		name:    name,
		handles: make(chan T, capacity),
	}
}

// WithObserver installs an observer and returns the pool for chaining.
func (p *Pool[T]) WithObserver(o Observer) *Pool[T] {
	p.observer = o
	return p
}

// Seed adds the initial handles. It fails without adding anything if the
// handles do not fit.
func (p *Pool[T]) Seed(handles ...T) error {
	if len(handles) > cap(p.handles)-len(p.handles) {
		return fmt.Errorf("%w: %s holds %d of %d, cannot seed %d more",
			ErrPoolFull, p.name, len(p.handles), cap(p.handles), len(handles))
	}
	for _, h := range handles {
		p.handles <- h
	}
	p.notify()
	return nil
}

// Checkout blocks until a handle is available and removes it from the pool.
// If ctx ends first no handle is taken and ctx.Err() is returned.
func (p *Pool[T]) Checkout(ctx context.Context) (T, error) {
	select {
	case h := <-p.handles:
		p.notify()
		return h, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Release returns a handle to the pool. Releasing into a full pool means a
// handle was released twice or never checked out, and panics.
func (p *Pool[T]) Release(h T) {
	select {
	case p.handles <- h:
		p.notify()
	default:
		panic(fmt.Sprintf("pool %s: release of %v into a full pool", p.name, h))
	}
}

// Available returns the number of handles currently in the pool.
func (p *Pool[T]) Available() int {
	return len(p.handles)
}

// Capacity returns the number of handles the pool holds when nothing is checked out.
func (p *Pool[T]) Capacity() int {
	return cap(p.handles)
}

// Name returns the pool name used in logs and metrics.
func (p *Pool[T]) Name() string {
	return p.name
}

func (p *Pool[T]) notify() {
	if p.observer != nil {
		p.observer(p.name, len(p.handles))
	}
}
