// Package hooks implements the extension mechanism: named points where
// host-site code can override a computed value (Filter) or observe a
// transition (Action).
//
// A Filter runs its callbacks in registration order; each callback
// receives the current value plus a context payload and returns the
// possibly-modified value. An Action is the same registry with no return
// value consumed: callbacks are fire-and-forget and cannot alter control
// flow.
package hooks

import "sync"

// Filter is an ordered chain of value-override callbacks.
// T is the value being computed, C the context payload handed to each
// callback alongside it.
type Filter[T, C any] struct {
	mu  sync.RWMutex
	fns []func(T, C) T
}

// Register appends a callback to the chain.
func (f *Filter[T, C]) Register(fn func(T, C) T) {
	f.mu.Lock()
	f.fns = append(f.fns, fn)
	f.mu.Unlock()
}

// Apply threads v through every registered callback in order and returns
// the final value. With no callbacks registered it returns v unchanged.
func (f *Filter[T, C]) Apply(v T, c C) T {
	f.mu.RLock()
	fns := f.fns
	f.mu.RUnlock()

	for _, fn := range fns {
		v = fn(v, c)
	}
	return v
}

// Action is an ordered list of observers for one notification point.
type Action[C any] struct {
	mu  sync.RWMutex
	fns []func(C)
}

// Register appends an observer.
func (a *Action[C]) Register(fn func(C)) {
	a.mu.Lock()
	a.fns = append(a.fns, fn)
	a.mu.Unlock()
}

// Fire notifies every observer in order. Observers cannot veto or alter
// the flow that fired them.
func (a *Action[C]) Fire(c C) {
	a.mu.RLock()
	fns := a.fns
	a.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
