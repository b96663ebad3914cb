// Package dispatch delivers events to registered observers on a single
// designated goroutine.
package dispatch

import (
	"sync"
)

// Executor runs posted functions. Implementations decide on which goroutine.
type Executor interface {
	Post(fn func())
}

// Inline runs posted functions immediately on the caller's goroutine.
type Inline struct{}

func (Inline) Post(fn func()) { fn() }

// Loop is an Executor backed by one goroutine that runs posted functions in
// FIFO order. Post never blocks, so functions running on the loop may post
// further work.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	signal  chan struct{}
	done    chan struct{}
	onPanic func(any)
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPanicHandler recovers panics raised by posted functions and hands the
// recovered value to fn. Without it a panicking function is silently dropped.
func WithPanicHandler(fn func(any)) LoopOption {
	return func(l *Loop) { l.onPanic = fn }
}

// NewLoop starts a loop goroutine.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

// Post enqueues fn. It is a no-op after Close.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Close stops the loop after the function currently running returns.
// Queued functions that have not started are discarded. Use Done to wait for
// the goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			<-l.signal
			continue
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.invoke(fn)
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil && l.onPanic != nil {
			l.onPanic(r)
		}
	}()
	fn()
}
