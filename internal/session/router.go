// Package session routes inbound conversational AI traffic of one channel to
// observers and sends commands to the agent.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/convoai/internal/dispatch"
	"github.com/capitalize-ai/convoai/internal/model"
	"github.com/capitalize-ai/convoai/internal/protocol"
	"github.com/capitalize-ai/convoai/internal/transcript"
	"github.com/capitalize-ai/convoai/pkg/logger"
	"github.com/capitalize-ai/convoai/pkg/metrics"
)

const tracerName = "github.com/capitalize-ai/convoai/internal/session"

// Transport is the messaging layer the router subscribes and publishes on.
// Subscribe must not deliver to sink before it returns.
type Transport interface {
	Subscribe(channel string, sink model.Sink) (model.Subscription, error)
	Publish(ctx context.Context, targetID string, payload []byte, opts model.PublishOptions) error
}

// Config holds router settings.
type Config struct {
	RenderMode     model.RenderMode
	RevealInterval time.Duration
	// PublishTimeout bounds a single command publish. Zero means no bound
	// beyond the caller's context.
	PublishTimeout time.Duration
	// DebugEvents dispatches DebugLog events for subscriptions and commands.
	DebugEvents bool
}

// Router owns the state watermark of one subscription. Only the latest
// accepted state update is retained; an update is accepted when its turn id
// does not go backwards and its timestamp strictly advances.
type Router struct {
	cfg       Config
	transport Transport
	log       *logger.Logger
	tracer    trace.Tracer
	parser    protocol.Parser
	observers *dispatch.Observable[model.Observer]
	captions  *transcript.Controller

	mu          sync.Mutex
	channel     string
	sub         model.Subscription
	destroyed   bool
	watermark   model.StateChangeEvent
	agentUserID string
}

// NewRouter creates a router. Observers are invoked through exec.
func NewRouter(transport Transport, exec dispatch.Executor, cfg Config, log *logger.Logger) *Router {
	if log == nil {
		log = logger.Global()
	}

	r := &Router{
		cfg:       cfg,
		transport: transport,
		log:       log,
		tracer:    otel.Tracer(tracerName),
		observers: dispatch.NewObservable[model.Observer](exec),
	}
	r.parser = protocol.Parser{OnError: r.reportParseError}
	r.captions = transcript.NewController(transcript.Options{
		RenderMode:     cfg.RenderMode,
		RevealInterval: cfg.RevealInterval,
	}, r.onTranscript)
	return r
}

// AddObserver registers o. It reports false for a duplicate registration or
// a destroyed router.
func (r *Router) AddObserver(o model.Observer) bool {
	r.mu.Lock()
	destroyed := r.destroyed
	r.mu.Unlock()
	if destroyed {
		return false
	}
	return r.observers.Subscribe(o)
}

// RemoveObserver unregisters o.
func (r *Router) RemoveObserver(o model.Observer) {
	r.observers.Unsubscribe(o)
}

// ObserverCount returns the number of registered observers.
func (r *Router) ObserverCount() int {
	return r.observers.Len()
}

// Subscribe starts receiving the channel's messages and presence updates.
// The watermark is reset even when resubscribing to the same channel.
func (r *Router) Subscribe(channel string) error {
	if channel == "" {
		return ErrNoChannel
	}

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			r.log.Warn("failed to drop previous subscription", zap.String("channel", r.channel), zap.Error(err))
		}
		r.sub = nil
	}

	r.channel = ""
	r.watermark = model.StateChangeEvent{}
	r.captions.Reset()
	sub, err := r.transport.Subscribe(channel, r)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	r.sub = sub
	r.channel = channel
	r.mu.Unlock()

	r.log.Info("subscribed", zap.String("channel", channel))
	r.debugf("subscribed to %s", channel)
	return nil
}

// Unsubscribe stops receiving traffic, resets the watermark and clears all
// observers. Callbacks already posted to observers are cancelled.
func (r *Router) Unsubscribe() error {
	r.mu.Lock()
	err := r.teardownLocked()
	r.mu.Unlock()

	r.observers.UnsubscribeAll()
	return err
}

// Destroy is Unsubscribe followed by making the router permanently inert.
func (r *Router) Destroy() error {
	r.mu.Lock()
	err := r.teardownLocked()
	r.destroyed = true
	r.mu.Unlock()

	r.observers.UnsubscribeAll()
	return err
}

// teardownLocked drops the subscription and resets the watermark and
// captions. Messages that passed the subscription check before this point
// are kept out of the caption state by the caption generation.
func (r *Router) teardownLocked() error {
	var err error
	if r.sub != nil {
		if uerr := r.sub.Unsubscribe(); uerr != nil {
			err = fmt.Errorf("failed to unsubscribe from %s: %w", r.channel, uerr)
		}
		r.sub = nil
		r.log.Info("unsubscribed", zap.String("channel", r.channel))
	}
	r.channel = ""
	r.watermark = model.StateChangeEvent{}
	r.captions.Reset()
	return err
}

// Channel returns the subscribed channel, or "" when not subscribed.
func (r *Router) Channel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

// Watermark returns the most recently accepted state update.
func (r *Router) Watermark() model.StateChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watermark
}

// AgentUserID returns the publisher of the most recent inbound message.
func (r *Router) AgentUserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agentUserID
}

// RenderMode returns the caption render mode.
func (r *Router) RenderMode() model.RenderMode {
	return r.captions.RenderMode()
}

// RunReveal paces caption reveal until ctx is done. It returns at once
// unless the render mode is word.
func (r *Router) RunReveal(ctx context.Context) {
	r.captions.Run(ctx)
}

// HandleMessage processes one inbound channel message. It never panics on
// malformed input; undecodable payloads are logged and dropped.
func (r *Router) HandleMessage(raw model.RawMessage) {
	r.mu.Lock()
	active := !r.destroyed && r.channel != ""
	if active && raw.PublisherID != "" {
		r.agentUserID = raw.PublisherID
	}
	gen := r.captions.Generation()
	r.mu.Unlock()
	if !active {
		r.log.Debug("dropping message while not subscribed", zap.String("publisher", raw.PublisherID))
		return
	}

	fields := r.parser.ParseBytes(raw.Payload)
	if fields == nil {
		return
	}
	msg, err := protocol.Decode(fields)
	if err != nil {
		r.reportParseError(err)
		return
	}
	metrics.InboundMessagesTotal.WithLabelValues(msg.Kind().String()).Inc()

	publisher := raw.PublisherID
	switch m := msg.(type) {
	case protocol.StateMessage:
		r.applyState(publisher, "", m.State)

	case protocol.InterruptMessage:
		r.captions.OnInterruptAt(gen, m.Interrupt.TurnID)
		r.notify(model.NewAgentInterrupted(publisher, m.Interrupt))

	case protocol.MetricsMessage:
		metrics.RecordAgentMetric(string(m.Metric.Vendor), m.Metric.Name, m.Metric.Value)
		r.notify(model.NewMetricsReceived(publisher, m.Metric))

	case protocol.ErrorMessage:
		r.log.Warn("agent reported error",
			zap.String("vendor", string(m.Error.Vendor)),
			zap.Int("code", m.Error.Code),
			zap.String("message", m.Error.Message),
		)
		r.notify(model.NewErrorReceived(publisher, m.Error))

	case protocol.TranscriptionMessage:
		r.captions.IngestAt(gen, transcript.Fragment{
			TurnID: m.TurnID,
			Text:   m.Text,
			Status: m.Status,
			Type:   m.Type,
			UserID: m.UserID,
		})

	case protocol.ReceiptMessage:
		r.notify(model.NewReceiptReceived(publisher, m.Receipt))

	case protocol.VoiceprintMessage:
		r.notify(model.NewVoiceprintUpdated(publisher, m.Status))

	case protocol.UnknownMessage:
		r.log.Debug("ignoring unknown message", zap.String("object", m.Object))
	}
}

// HandlePresence processes one presence notification. Only state changes
// for the subscribed channel are considered.
func (r *Router) HandlePresence(p model.PresenceEvent) {
	if p.Type != model.PresenceRemoteStateChanged {
		r.log.Debug("ignoring presence event", zap.String("type", string(p.Type)), zap.String("channel", p.Channel))
		return
	}

	turnID, ok := protocol.ParseTurnID(p.StateItems["turn_id"])
	if !ok {
		r.reportParseError(fmt.Errorf("presence state from %s has no valid turn_id", p.Publisher))
		return
	}

	r.applyState(p.Publisher, p.Channel, model.StateChangeEvent{
		State:     model.ParseAgentState(p.StateItems["state"]),
		TurnID:    turnID,
		Timestamp: p.Timestamp,
	})
}

// applyState runs the watermark filter. An empty channel skips the channel
// check, which only applies to presence.
func (r *Router) applyState(publisher, channel string, ev model.StateChangeEvent) {
	r.mu.Lock()
	if r.destroyed || r.channel == "" || (channel != "" && channel != r.channel) {
		r.mu.Unlock()
		metrics.StateEventsTotal.WithLabelValues("wrong_channel").Inc()
		r.log.Debug("dropping state for another channel", zap.String("channel", channel))
		return
	}
	w := r.watermark
	if !ev.Supersedes(w) {
		r.mu.Unlock()
		outcome := "stale_timestamp"
		if ev.TurnID < w.TurnID {
			outcome = "stale_turn"
		}
		metrics.StateEventsTotal.WithLabelValues(outcome).Inc()
		r.log.Debug("dropping stale state",
			zap.String("reason", outcome),
			zap.Int64("turn_id", ev.TurnID),
			zap.Int64("timestamp", ev.Timestamp),
			zap.Int64("watermark_turn_id", w.TurnID),
			zap.Int64("watermark_timestamp", w.Timestamp),
		)
		return
	}
	r.watermark = ev
	r.mu.Unlock()

	metrics.StateEventsTotal.WithLabelValues("accepted").Inc()
	r.notify(model.NewAgentStateChanged(publisher, ev))
}

func (r *Router) onTranscript(t model.Transcript) {
	r.mu.Lock()
	agentUserID := r.agentUserID
	r.mu.Unlock()

	metrics.TranscriptUpdatesTotal.WithLabelValues(string(t.Type), string(t.Status)).Inc()
	r.notify(model.NewTranscriptUpdated(agentUserID, t))
}

func (r *Router) notify(ev model.Event) {
	metrics.DispatchedEventsTotal.WithLabelValues(string(ev.Kind())).Inc()
	r.observers.Notify(func(o model.Observer) {
		o.OnEvent(ev)
	})
}

func (r *Router) debugf(format string, args ...any) {
	if !r.cfg.DebugEvents {
		return
	}
	r.mu.Lock()
	agentUserID := r.agentUserID
	r.mu.Unlock()
	r.notify(model.NewDebugLog(agentUserID, fmt.Sprintf(format, args...)))
}

func (r *Router) reportParseError(err error) {
	metrics.ParseErrorsTotal.Inc()
	r.log.Warn("dropping undecodable message", zap.Error(err))
}
