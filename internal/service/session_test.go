package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/convoai/internal/model"
	"github.com/capitalize-ai/convoai/internal/session"
	"github.com/capitalize-ai/convoai/pkg/logger"
)

type fakeSubscription struct {
	closed bool
}

func (s *fakeSubscription) Unsubscribe() error {
	s.closed = true
	return nil
}

type fakeTransport struct {
	mu    sync.Mutex
	sinks map[string]model.Sink
	subs  map[string]*fakeSubscription
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sinks: map[string]model.Sink{}, subs: map[string]*fakeSubscription{}}
}

func (t *fakeTransport) Subscribe(channel string, sink model.Sink) (model.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub := &fakeSubscription{}
	t.sinks[channel] = sink
	t.subs[channel] = sub
	return sub, nil
}

func (t *fakeTransport) Publish(context.Context, string, []byte, model.PublishOptions) error {
	return nil
}

func (t *fakeTransport) deliver(channel, payload string) {
	t.mu.Lock()
	sink := t.sinks[channel]
	t.mu.Unlock()
	sink.HandleMessage(model.RawMessage{Kind: model.PayloadText, PublisherID: "agent-1", Channel: channel, Payload: []byte(payload)})
}

type fakeArchiver struct {
	mu     sync.Mutex
	events []model.Event
}

func (a *fakeArchiver) Observer(string) model.Observer { return a }

func (a *fakeArchiver) OnEvent(ev model.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func nextEvent(t *testing.T, es *EventStream) model.Event {
	t.Helper()
	select {
	case ev := <-es.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSessionService_OpenDeliverClose(t *testing.T) {
	tr := newFakeTransport()
	archive := &fakeArchiver{}
	svc := NewSessionService(tr, archive, session.Config{}, logger.NewNop())

	sess, created, err := svc.Open(context.Background(), "room1")
	require.NoError(t, err)
	assert.True(t, created)

	es, stop := sess.Watch(8)
	defer stop()

	tr.deliver("room1", `{"object":"message.state","state":"listening","turn_id":1,"ts":1000}`)

	ev := nextEvent(t, es)
	require.Equal(t, model.KindAgentStateChanged, ev.Kind())
	assert.Equal(t, "agent-1", ev.AgentUserID())
	assert.Eventually(t, func() bool { return archive.count() == 1 }, time.Second, 10*time.Millisecond)

	info := sess.Info()
	assert.Equal(t, "room1", info.Channel)
	assert.Equal(t, int64(1000), info.Watermark.Timestamp)
	assert.Equal(t, 2, info.Observers)

	require.NoError(t, svc.Close("room1"))
	assert.True(t, tr.subs["room1"].closed)

	select {
	case <-sess.Done():
	default:
		t.Fatal("session not marked done")
	}

	_, err = svc.Get("room1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.Close("room1"), ErrSessionNotFound)
}

func TestSessionService_ReopenResetsWatermark(t *testing.T) {
	tr := newFakeTransport()
	svc := NewSessionService(tr, nil, session.Config{}, logger.NewNop())

	sess, _, err := svc.Open(context.Background(), "room1")
	require.NoError(t, err)
	tr.deliver("room1", `{"object":"message.state","state":"speaking","turn_id":4,"ts":4000}`)
	require.Equal(t, int64(4), sess.Router().Watermark().TurnID)

	again, created, err := svc.Open(context.Background(), "room1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, sess, again)
	assert.Equal(t, model.StateChangeEvent{}, again.Router().Watermark())

	svc.CloseAll()
	assert.Empty(t, svc.List())
}

func TestSessionService_List(t *testing.T) {
	svc := NewSessionService(newFakeTransport(), nil, session.Config{}, logger.NewNop())
	defer svc.CloseAll()

	for _, ch := range []string{"b", "a", "c"} {
		_, _, err := svc.Open(context.Background(), ch)
		require.NoError(t, err)
	}

	infos := svc.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "a", infos[0].Channel)
	assert.Equal(t, "c", infos[2].Channel)
}

func TestSessionService_OpenCancelledContext(t *testing.T) {
	svc := NewSessionService(newFakeTransport(), nil, session.Config{}, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := svc.Open(ctx, "room1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventStream_DropsSlowClient(t *testing.T) {
	es := newEventStream(1)
	ev := model.NewDebugLog("", "x")

	es.OnEvent(ev)
	es.OnEvent(ev)
	es.OnEvent(ev)

	select {
	case <-es.Dropped():
	default:
		t.Fatal("expected stream to be dropped")
	}
	assert.Len(t, es.Events(), 1)
}
