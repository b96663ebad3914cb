package service

import (
	"sync"

	"github.com/capitalize-ai/convoai/internal/model"
)

const defaultEventBuffer = 64

// EventStream buffers a session's events for one streaming client. A client
// that falls a full buffer behind is cut off rather than stalling dispatch.
type EventStream struct {
	events  chan model.Event
	dropped chan struct{}
	once    sync.Once
}

func newEventStream(buffer int) *EventStream {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &EventStream{
		events:  make(chan model.Event, buffer),
		dropped: make(chan struct{}),
	}
}

// Events returns the buffered events.
func (es *EventStream) Events() <-chan model.Event { return es.events }

// Dropped is closed once the stream overflowed.
func (es *EventStream) Dropped() <-chan struct{} { return es.dropped }

// OnEvent never blocks.
func (es *EventStream) OnEvent(ev model.Event) {
	select {
	case <-es.dropped:
		return
	default:
	}

	select {
	case es.events <- ev:
	default:
		es.once.Do(func() { close(es.dropped) })
	}
}
