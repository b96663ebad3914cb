package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/convoai/internal/dispatch"
	"github.com/capitalize-ai/convoai/internal/model"
	"github.com/capitalize-ai/convoai/internal/protocol"
	"github.com/capitalize-ai/convoai/pkg/logger"
)

type fakeSubscription struct {
	unsubscribed int
}

func (s *fakeSubscription) Unsubscribe() error {
	s.unsubscribed++
	return nil
}

type published struct {
	target  string
	payload []byte
	opts    model.PublishOptions
}

type fakeTransport struct {
	mu         sync.Mutex
	channels   []string
	subs       []*fakeSubscription
	published  []published
	publishErr error
}

func (t *fakeTransport) Subscribe(channel string, _ model.Sink) (model.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub := &fakeSubscription{}
	t.channels = append(t.channels, channel)
	t.subs = append(t.subs, sub)
	return sub, nil
}

func (t *fakeTransport) Publish(_ context.Context, target string, payload []byte, opts model.PublishOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.publishErr != nil {
		return t.publishErr
	}
	t.published = append(t.published, published{target: target, payload: payload, opts: opts})
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) OnEvent(e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind())
	}
	return out
}

func (r *recorder) states() []model.StateChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.StateChangeEvent
	for _, e := range r.events {
		if sc, ok := e.(model.AgentStateChanged); ok {
			out = append(out, sc.State)
		}
	}
	return out
}

func (r *recorder) transcripts() []model.Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Transcript
	for _, e := range r.events {
		if tu, ok := e.(model.TranscriptUpdated); ok {
			out = append(out, tu.Transcript)
		}
	}
	return out
}

func newTestRouter(t *testing.T, cfg Config) (*Router, *fakeTransport, *recorder) {
	t.Helper()
	tr := &fakeTransport{}
	r := NewRouter(tr, dispatch.Inline{}, cfg, logger.NewNop())
	rec := &recorder{}
	require.True(t, r.AddObserver(rec))
	return r, tr, rec
}

func stateMsg(state string, turnID, ts int64) model.RawMessage {
	return model.RawMessage{
		Kind:        model.PayloadText,
		PublisherID: "agent-1",
		Payload:     []byte(fmt.Sprintf(`{"object":"message.state","state":%q,"turn_id":%d,"ts":%d}`, state, turnID, ts)),
	}
}

func textMsg(payload string) model.RawMessage {
	return model.RawMessage{Kind: model.PayloadText, PublisherID: "agent-1", Payload: []byte(payload)}
}

func TestRouter_WatermarkScenario(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{})
	require.NoError(t, r.Subscribe("room1"))

	r.HandleMessage(stateMsg("listening", 1, 1000))
	assert.Equal(t, model.StateChangeEvent{State: model.AgentStateListening, TurnID: 1, Timestamp: 1000}, r.Watermark())

	r.HandleMessage(stateMsg("thinking", 1, 999))
	assert.Equal(t, int64(1000), r.Watermark().Timestamp)

	r.HandleMessage(stateMsg("speaking", 2, 2000))
	assert.Equal(t, model.StateChangeEvent{State: model.AgentStateSpeaking, TurnID: 2, Timestamp: 2000}, r.Watermark())

	states := rec.states()
	require.Len(t, states, 2)
	assert.Equal(t, model.AgentStateListening, states[0].State)
	assert.Equal(t, model.AgentStateSpeaking, states[1].State)
}

func TestRouter_RejectsStaleStates(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{})
	require.NoError(t, r.Subscribe("room1"))
	r.HandleMessage(stateMsg("listening", 5, 5000))

	tests := []struct {
		name   string
		turnID int64
		ts     int64
	}{
		{"older turn", 4, 6000},
		{"equal timestamp", 5, 5000},
		{"older timestamp newer turn", 6, 4000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r.HandleMessage(stateMsg("thinking", tt.turnID, tt.ts))
			assert.Equal(t, model.StateChangeEvent{State: model.AgentStateListening, TurnID: 5, Timestamp: 5000}, r.Watermark())
		})
	}
	assert.Len(t, rec.states(), 1)
}

func TestRouter_IncreasingStatesDispatchedInOrder(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{})
	require.NoError(t, r.Subscribe("room1"))

	for i := int64(1); i <= 20; i++ {
		r.HandleMessage(stateMsg("speaking", i, i*100))
	}

	states := rec.states()
	require.Len(t, states, 20)
	for i, s := range states {
		assert.Equal(t, int64(i+1), s.TurnID)
	}
}

func TestRouter_ResubscribeResetsWatermark(t *testing.T) {
	r, tr, rec := newTestRouter(t, Config{})
	require.NoError(t, r.Subscribe("room1"))
	r.HandleMessage(stateMsg("speaking", 3, 3000))

	require.NoError(t, r.Subscribe("room1"))
	assert.Equal(t, model.StateChangeEvent{}, r.Watermark())
	assert.Equal(t, 1, tr.subs[0].unsubscribed)

	r.HandleMessage(stateMsg("listening", 1, 100))
	assert.Equal(t, int64(1), r.Watermark().TurnID)
	assert.Len(t, rec.states(), 2)
}

func TestRouter_PresenceState(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{})
	require.NoError(t, r.Subscribe("room1"))

	r.HandlePresence(model.PresenceEvent{
		Type:       model.PresenceRemoteStateChanged,
		Channel:    "room1",
		Publisher:  "agent-1",
		Timestamp:  1000,
		StateItems: map[string]string{"state": "thinking", "turn_id": "2"},
	})
	r.HandlePresence(model.PresenceEvent{
		Type:       model.PresenceRemoteStateChanged,
		Channel:    "room2",
		Publisher:  "agent-1",
		Timestamp:  2000,
		StateItems: map[string]string{"state": "speaking", "turn_id": "3"},
	})
	r.HandlePresence(model.PresenceEvent{Type: model.PresenceRemoteJoin, Channel: "room1", Timestamp: 3000})
	r.HandlePresence(model.PresenceEvent{
		Type:       model.PresenceRemoteStateChanged,
		Channel:    "room1",
		Timestamp:  4000,
		StateItems: map[string]string{"state": "speaking", "turn_id": "abc"},
	})

	states := rec.states()
	require.Len(t, states, 1)
	assert.Equal(t, model.StateChangeEvent{State: model.AgentStateThinking, TurnID: 2, Timestamp: 1000}, states[0])
	assert.Equal(t, "agent-1", rec.events[0].AgentUserID())
}

func TestRouter_UnknownAndMalformedAreNoOps(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{})
	require.NoError(t, r.Subscribe("room1"))

	r.HandleMessage(textMsg(`{"object":"message.future_kind","turn_id":1}`))
	r.HandleMessage(textMsg(`{"object":`))
	r.HandleMessage(textMsg(`[1,2,3]`))
	r.HandleMessage(textMsg(``))
	r.HandleMessage(textMsg(`{"object":"message.state","state":"speaking"}`))

	assert.Empty(t, rec.kinds())
	assert.Equal(t, model.StateChangeEvent{}, r.Watermark())
}

func TestRouter_IgnoresTrafficWhenNotSubscribed(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{})

	r.HandleMessage(stateMsg("speaking", 1, 1000))
	r.HandlePresence(model.PresenceEvent{
		Type:       model.PresenceRemoteStateChanged,
		Channel:    "room1",
		Timestamp:  1000,
		StateItems: map[string]string{"state": "speaking", "turn_id": "1"},
	})

	assert.Empty(t, rec.kinds())
}

func TestRouter_DispatchesAgentEvents(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{})
	require.NoError(t, r.Subscribe("room1"))

	r.HandleMessage(textMsg(`{"object":"message.metrics","module":"llm","metric_name":"ttfb","latency_ms":120,"turn_id":1,"send_ts":10}`))
	r.HandleMessage(textMsg(`{"object":"message.error","module":"tts","code":1001,"message":"quota","send_ts":11}`))
	r.HandleMessage(textMsg(`{"object":"message.info","module":"context","resource_type":"picture","message":{"uuid":"img-1"},"turn_id":2}`))
	r.HandleMessage(textMsg(`{"object":"message.sal_status","status":"VP_REGISTER_SUCCESS","turn_id":2,"send_ts":12}`))

	assert.Equal(t, []model.EventKind{
		model.KindMetricsReceived,
		model.KindErrorReceived,
		model.KindReceiptReceived,
		model.KindVoiceprintUpdated,
	}, rec.kinds())

	metric := rec.events[0].(model.MetricsReceived).Metric
	assert.Equal(t, model.VendorLLM, metric.Vendor)
	assert.Equal(t, "ttfb", metric.Name)
	assert.Equal(t, 120.0, metric.Value)

	agentErr := rec.events[1].(model.ErrorReceived).Error
	assert.Equal(t, 1001, agentErr.Code)
	assert.Equal(t, model.VendorTTS, agentErr.Vendor)

	receipt := rec.events[2].(model.ReceiptReceived).Receipt
	assert.Equal(t, model.ReceiptTypeImageInfo, receipt.Type)
	assert.JSONEq(t, `{"uuid":"img-1"}`, receipt.Message)
}

func TestRouter_TranscriptsAndInterruptIsolation(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{RenderMode: model.RenderModeText})
	require.NoError(t, r.Subscribe("room1"))

	r.HandleMessage(textMsg(`{"object":"assistant.transcription","turn_id":6,"text":"Sure","turn_status":0}`))
	r.HandleMessage(textMsg(`{"object":"message.interrupt","turn_id":5,"send_ts":100}`))

	transcripts := rec.transcripts()
	require.Len(t, transcripts, 1)
	assert.Equal(t, model.TranscriptInProgress, transcripts[0].Status)
	assert.Equal(t, model.KindAgentInterrupted, rec.kinds()[1])

	r.HandleMessage(textMsg(`{"object":"message.interrupt","turn_id":6,"send_ts":200}`))
	transcripts = rec.transcripts()
	require.Len(t, transcripts, 2)
	assert.Equal(t, int64(6), transcripts[1].TurnID)
	assert.Equal(t, model.TranscriptInterrupted, transcripts[1].Status)
	assert.Equal(t, "Sure", transcripts[1].Text)
}

func TestRouter_TranscriptOrdering(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{RenderMode: model.RenderModeText})
	require.NoError(t, r.Subscribe("room1"))

	for _, text := range []string{"H", "He", "Hell", "Hello"} {
		r.HandleMessage(textMsg(fmt.Sprintf(`{"object":"assistant.transcription","turn_id":5,"text":%q,"turn_status":0}`, text)))
	}
	r.HandleMessage(textMsg(`{"object":"assistant.transcription","turn_id":5,"text":"Hello","turn_status":1}`))

	transcripts := rec.transcripts()
	require.Len(t, transcripts, 5)
	last := transcripts[len(transcripts)-1]
	assert.Equal(t, "Hello", last.Text)
	assert.Equal(t, model.TranscriptEnd, last.Status)
	assert.Equal(t, "agent-1", rec.events[len(rec.events)-1].AgentUserID())
}

func TestRouter_ResubscribeResetsCaptions(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{RenderMode: model.RenderModeText})
	require.NoError(t, r.Subscribe("room1"))
	r.HandleMessage(textMsg(`{"object":"assistant.transcription","turn_id":5,"text":"Hel","turn_status":0}`))
	require.Len(t, rec.transcripts(), 1)

	require.NoError(t, r.Subscribe("room1"))
	r.HandleMessage(textMsg(`{"object":"message.interrupt","turn_id":5,"send_ts":100}`))
	assert.Len(t, rec.transcripts(), 1)

	r.HandleMessage(textMsg(`{"object":"assistant.transcription","turn_id":5,"text":"Hello","turn_status":0}`))
	transcripts := rec.transcripts()
	require.Len(t, transcripts, 2)
	assert.Equal(t, "Hello", transcripts[1].Text)
	assert.Equal(t, model.TranscriptInProgress, transcripts[1].Status)
}

func TestRouter_UnsubscribeClearsObservers(t *testing.T) {
	r, tr, rec := newTestRouter(t, Config{})
	require.NoError(t, r.Subscribe("room1"))
	r.HandleMessage(stateMsg("speaking", 1, 1000))

	require.NoError(t, r.Unsubscribe())
	assert.Equal(t, 1, tr.subs[0].unsubscribed)
	assert.Equal(t, "", r.Channel())
	assert.Equal(t, 0, r.ObserverCount())
	assert.Equal(t, model.StateChangeEvent{}, r.Watermark())

	r.HandleMessage(stateMsg("speaking", 2, 2000))
	assert.Len(t, rec.states(), 1)
}

func TestRouter_UnsubscribeCancelsPendingCallbacks(t *testing.T) {
	tr := &fakeTransport{}
	loop := dispatch.NewLoop()
	defer loop.Close()

	r := NewRouter(tr, loop, Config{}, logger.NewNop())
	rec := &recorder{}
	require.True(t, r.AddObserver(rec))
	require.NoError(t, r.Subscribe("room1"))

	gate := make(chan struct{})
	loop.Post(func() { <-gate })

	r.HandleMessage(stateMsg("speaking", 1, 1000))
	require.NoError(t, r.Unsubscribe())
	close(gate)

	flushed := make(chan struct{})
	loop.Post(func() { close(flushed) })
	<-flushed

	assert.Empty(t, rec.kinds())
}

func TestRouter_Destroy(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{})
	require.NoError(t, r.Subscribe("room1"))
	require.NoError(t, r.Destroy())

	assert.ErrorIs(t, r.Subscribe("room1"), ErrDestroyed)
	assert.False(t, r.AddObserver(&recorder{}))
	r.HandleMessage(stateMsg("speaking", 1, 1000))
	assert.Empty(t, rec.kinds())

	_, err := r.Interrupt(context.Background(), "agent-1")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestRouter_SubscribeRequiresChannel(t *testing.T) {
	r, _, _ := newTestRouter(t, Config{})
	assert.ErrorIs(t, r.Subscribe(""), ErrNoChannel)
}

func TestRouter_DuplicateObserver(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{})
	assert.False(t, r.AddObserver(rec))
	assert.Equal(t, 1, r.ObserverCount())

	r.RemoveObserver(rec)
	assert.Equal(t, 0, r.ObserverCount())
}

func TestRouter_DebugEvents(t *testing.T) {
	r, _, rec := newTestRouter(t, Config{DebugEvents: true})
	require.NoError(t, r.Subscribe("room1"))

	require.Len(t, rec.events, 1)
	assert.Equal(t, model.KindDebugLog, rec.events[0].Kind())
	assert.Contains(t, rec.events[0].(model.DebugLog).Message, "room1")
}

func TestRouter_Chat(t *testing.T) {
	r, tr, _ := newTestRouter(t, Config{})

	traceID, err := r.Chat(context.Background(), "agent-1", protocol.TextMessage{Text: "hello"})
	require.NoError(t, err)
	assert.Len(t, traceID, 8)

	require.Len(t, tr.published, 1)
	p := tr.published[0]
	assert.Equal(t, "agent-1", p.target)
	assert.Equal(t, model.PublishOptions{ChannelType: model.ChannelTypeUser, CustomType: protocol.CustomTypeChat}, p.opts)
	assert.JSONEq(t, `{"message":"hello","priority":"INTERRUPT","interruptable":true}`, string(p.payload))
}

func TestRouter_SendImageAndInterrupt(t *testing.T) {
	r, tr, _ := newTestRouter(t, Config{})

	_, err := r.SendImage(context.Background(), "agent-1", protocol.ImageMessage{UUID: "img-1", URL: "https://example.com/a.png"})
	require.NoError(t, err)
	_, err = r.Interrupt(context.Background(), "agent-1")
	require.NoError(t, err)

	require.Len(t, tr.published, 2)
	assert.Equal(t, protocol.CustomTypeImage, tr.published[0].opts.CustomType)
	assert.JSONEq(t, `{"uuid":"img-1","image_url":"https://example.com/a.png"}`, string(tr.published[0].payload))
	assert.Equal(t, protocol.CustomTypeInterrupt, tr.published[1].opts.CustomType)
	assert.JSONEq(t, `{"customType":"message.interrupt"}`, string(tr.published[1].payload))
}

func TestRouter_CommandPublishFailure(t *testing.T) {
	r, tr, _ := newTestRouter(t, Config{})
	tr.publishErr = &model.PublishError{Code: 503, Reason: "not connected"}

	traceID, err := r.Chat(context.Background(), "agent-1", protocol.TextMessage{Text: "hello"})

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, ErrorKindTransport, cmdErr.Kind)
	assert.Equal(t, 503, cmdErr.Code)
	assert.Equal(t, CommandChat, cmdErr.Command)
	assert.Len(t, cmdErr.TraceID, 8)
	assert.Equal(t, traceID, cmdErr.TraceID)

	tr.publishErr = errors.New("connection reset")
	_, err = r.Interrupt(context.Background(), "agent-1")
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, -1, cmdErr.Code)
}

func TestRouter_CommandSerializationFailure(t *testing.T) {
	r, tr, _ := newTestRouter(t, Config{})

	_, err := r.Chat(context.Background(), "agent-1", protocol.TextMessage{
		Text:  "hello",
		Extra: map[string]any{"score": math.NaN()},
	})

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, ErrorKindUnknown, cmdErr.Kind)
	assert.Empty(t, tr.published)

	_, err = r.Chat(context.Background(), "", protocol.TextMessage{Text: "hello"})
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, ErrorKindUnknown, cmdErr.Kind)
}
