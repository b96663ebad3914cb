package dispatch

import "sync"

// Observable is a thread-safe set of observers. Notify marshals every
// invocation through the Executor, so observers never run concurrently with
// each other when the Executor is a Loop.
type Observable[T comparable] struct {
	mu        sync.RWMutex
	observers map[T]struct{}
	// generation invalidates callbacks posted before the last UnsubscribeAll.
	generation uint64
	exec       Executor
}

// NewObservable creates an empty Observable dispatching through exec.
func NewObservable[T comparable](exec Executor) *Observable[T] {
	if exec == nil {
		exec = Inline{}
	}
	return &Observable[T]{
		observers: make(map[T]struct{}),
		exec:      exec,
	}
}

// Subscribe registers o. It reports false if o was already registered.
func (ob *Observable[T]) Subscribe(o T) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if _, ok := ob.observers[o]; ok {
		return false
	}
	ob.observers[o] = struct{}{}
	return true
}

// Unsubscribe removes o. Callbacks already posted for o are skipped.
func (ob *Observable[T]) Unsubscribe(o T) {
	ob.mu.Lock()
	delete(ob.observers, o)
	ob.mu.Unlock()
}

// UnsubscribeAll removes every observer and cancels all pending callbacks.
func (ob *Observable[T]) UnsubscribeAll() {
	ob.mu.Lock()
	ob.observers = make(map[T]struct{})
	ob.generation++
	ob.mu.Unlock()
}

// Len returns the number of registered observers.
func (ob *Observable[T]) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.observers)
}

// Notify posts action once per registered observer.
func (ob *Observable[T]) Notify(action func(T)) {
	ob.mu.RLock()
	generation := ob.generation
	targets := make([]T, 0, len(ob.observers))
	for o := range ob.observers {
		targets = append(targets, o)
	}
	ob.mu.RUnlock()

	for _, o := range targets {
		o := o
		ob.exec.Post(func() {
			if ob.live(generation, o) {
				action(o)
			}
		})
	}
}

func (ob *Observable[T]) live(generation uint64, o T) bool {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if generation != ob.generation {
		return false
	}
	_, ok := ob.observers[o]
	return ok
}
