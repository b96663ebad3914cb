package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got []int
}

func (r *recorder) add(v int) { r.got = append(r.got, v) }

func waitIdle(t *testing.T, l *Loop) {
	t.Helper()
	done := make(chan struct{})
	l.Post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not drain")
	}
}

func TestObservable_InlineNotify(t *testing.T) {
	ob := NewObservable[*recorder](Inline{})
	a, b := &recorder{}, &recorder{}

	assert.True(t, ob.Subscribe(a))
	assert.True(t, ob.Subscribe(b))
	assert.False(t, ob.Subscribe(a), "duplicate subscription is a no-op")
	assert.Equal(t, 2, ob.Len())

	ob.Notify(func(r *recorder) { r.add(1) })

	assert.Equal(t, []int{1}, a.got)
	assert.Equal(t, []int{1}, b.got)
}

func TestObservable_Unsubscribe(t *testing.T) {
	ob := NewObservable[*recorder](nil)
	a := &recorder{}
	ob.Subscribe(a)
	ob.Unsubscribe(a)
	ob.Unsubscribe(a)

	ob.Notify(func(r *recorder) { r.add(1) })

	assert.Empty(t, a.got)
	assert.Zero(t, ob.Len())
}

func TestObservable_NotifyOnEmptySetIsNoop(t *testing.T) {
	ob := NewObservable[*recorder](Inline{})
	assert.NotPanics(t, func() {
		ob.Notify(func(r *recorder) { r.add(1) })
	})
}

func TestObservable_LoopPreservesOrder(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	ob := NewObservable[*recorder](loop)
	a := &recorder{}
	ob.Subscribe(a)

	for i := 0; i < 100; i++ {
		i := i
		ob.Notify(func(r *recorder) { r.add(i) })
	}
	waitIdle(t, loop)

	require.Len(t, a.got, 100)
	for i, v := range a.got {
		assert.Equal(t, i, v)
	}
}

func TestObservable_UnsubscribeAllCancelsPending(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	ob := NewObservable[*recorder](loop)
	a := &recorder{}
	ob.Subscribe(a)

	release := make(chan struct{})
	loop.Post(func() { <-release })

	ob.Notify(func(r *recorder) { r.add(1) })
	ob.UnsubscribeAll()
	close(release)
	waitIdle(t, loop)

	assert.Empty(t, a.got)
}

func TestObservable_ResubscribeDoesNotRevivePending(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	ob := NewObservable[*recorder](loop)
	a := &recorder{}
	ob.Subscribe(a)

	release := make(chan struct{})
	loop.Post(func() { <-release })

	ob.Notify(func(r *recorder) { r.add(1) })
	ob.UnsubscribeAll()
	ob.Subscribe(a)
	ob.Notify(func(r *recorder) { r.add(2) })
	close(release)
	waitIdle(t, loop)

	assert.Equal(t, []int{2}, a.got)
}

func TestObservable_ConcurrentProducersSerialized(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	ob := NewObservable[*recorder](loop)
	a := &recorder{}
	ob.Subscribe(a)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ob.Notify(func(r *recorder) { r.add(1) })
			}
		}()
	}
	wg.Wait()
	waitIdle(t, loop)

	assert.Len(t, a.got, 400)
}

func TestLoop_RecoversPanics(t *testing.T) {
	var recovered any
	loop := NewLoop(WithPanicHandler(func(r any) { recovered = r }))
	defer loop.Close()

	loop.Post(func() { panic("boom") })
	waitIdle(t, loop)

	assert.Equal(t, "boom", recovered)
}

func TestLoop_PostAfterCloseIsDropped(t *testing.T) {
	loop := NewLoop()
	loop.Close()
	<-loop.Done()

	called := false
	loop.Post(func() { called = true })
	assert.False(t, called)
}
