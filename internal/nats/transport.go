package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/convoai/internal/model"
	"github.com/capitalize-ai/convoai/pkg/logger"
)

// DefaultSubjectPrefix is the root of all channel subjects.
const DefaultSubjectPrefix = "rtm"

// Headers carried on channel messages.
const (
	HeaderPublisher   = "Rtm-Publisher"
	HeaderCustomType  = "Rtm-Custom-Type"
	HeaderChannelType = "Rtm-Channel-Type"
	HeaderMessageType = "Rtm-Message-Type"
)

// Publish error codes reported in model.PublishError.
const (
	CodeNotConnected = 1
	CodeTimeout      = 2
	CodeInvalid      = 3
	CodeFailed       = 4
)

// MessageSubject returns the subject carrying a channel's messages.
func MessageSubject(prefix, channel string) string {
	return fmt.Sprintf("%s.channel.%s", prefix, channel)
}

// PresenceSubject returns the subject carrying a channel's presence updates.
func PresenceSubject(prefix, channel string) string {
	return fmt.Sprintf("%s.presence.%s", prefix, channel)
}

// UserSubject returns the subject addressing a single user.
func UserSubject(prefix, userID string) string {
	return fmt.Sprintf("%s.user.%s", prefix, userID)
}

// ValidToken reports whether s can be used as one subject token.
func ValidToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".*> \t\r\n")
}

// Transport carries channel messages and presence updates over core NATS.
type Transport struct {
	conn     *nats.Conn
	prefix   string
	clientID string
	log      *logger.Logger
}

// NewTransport creates a transport. clientID is sent as the publisher of
// outbound messages.
func NewTransport(client *Client, prefix, clientID string, log *logger.Logger) *Transport {
	return newTransport(client.Conn(), prefix, clientID, log)
}

func newTransport(conn *nats.Conn, prefix, clientID string, log *logger.Logger) *Transport {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = logger.Global()
	}
	return &Transport{conn: conn, prefix: prefix, clientID: clientID, log: log}
}

type subscription struct {
	subs []*nats.Subscription
}

func (s *subscription) Unsubscribe() error {
	var errs []error
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe delivers the channel's messages and presence updates to sink.
// Each subject is delivered on its own goroutine.
func (t *Transport) Subscribe(channel string, sink model.Sink) (model.Subscription, error) {
	if !ValidToken(channel) {
		return nil, fmt.Errorf("invalid channel name %q", channel)
	}

	msgSub, err := t.conn.Subscribe(MessageSubject(t.prefix, channel), func(m *nats.Msg) {
		sink.HandleMessage(toRawMessage(channel, m))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to messages: %w", err)
	}

	presenceSub, err := t.conn.Subscribe(PresenceSubject(t.prefix, channel), func(m *nats.Msg) {
		ev, err := DecodePresence(channel, m.Data)
		if err != nil {
			t.log.Warn("dropping presence update", zap.String("channel", channel), zap.Error(err))
			return
		}
		sink.HandlePresence(ev)
	})
	if err != nil {
		_ = msgSub.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to presence: %w", err)
	}

	return &subscription{subs: []*nats.Subscription{msgSub, presenceSub}}, nil
}

// Publish sends payload to a user or a channel and waits for the server to
// acknowledge the flush.
func (t *Transport) Publish(ctx context.Context, targetID string, payload []byte, opts model.PublishOptions) error {
	if !ValidToken(targetID) {
		return &model.PublishError{Code: CodeInvalid, Reason: fmt.Sprintf("invalid target %q", targetID)}
	}

	subject := UserSubject(t.prefix, targetID)
	if opts.ChannelType == model.ChannelTypeMessage {
		subject = MessageSubject(t.prefix, targetID)
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(HeaderPublisher, t.clientID)
	msg.Header.Set(HeaderMessageType, string(model.PayloadText))
	if opts.ChannelType != "" {
		msg.Header.Set(HeaderChannelType, string(opts.ChannelType))
	}
	if opts.CustomType != "" {
		msg.Header.Set(HeaderCustomType, opts.CustomType)
	}

	if err := t.conn.PublishMsg(msg); err != nil {
		return publishError(err)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		return publishError(err)
	}
	return nil
}

// PublishChannelMessage sends a raw message to every subscriber of channel
// as publisher. It is used to simulate an agent.
func (t *Transport) PublishChannelMessage(ctx context.Context, channel, publisher string, payload []byte) error {
	if !ValidToken(channel) {
		return &model.PublishError{Code: CodeInvalid, Reason: fmt.Sprintf("invalid channel %q", channel)}
	}
	msg := nats.NewMsg(MessageSubject(t.prefix, channel))
	msg.Data = payload
	msg.Header.Set(HeaderPublisher, publisher)
	msg.Header.Set(HeaderMessageType, string(model.PayloadText))

	if err := t.conn.PublishMsg(msg); err != nil {
		return publishError(err)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		return publishError(err)
	}
	return nil
}

// PublishPresence sends a presence update on the event's channel.
func (t *Transport) PublishPresence(ctx context.Context, ev model.PresenceEvent) error {
	if !ValidToken(ev.Channel) {
		return &model.PublishError{Code: CodeInvalid, Reason: fmt.Sprintf("invalid channel %q", ev.Channel)}
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	if err := t.conn.Publish(PresenceSubject(t.prefix, ev.Channel), data); err != nil {
		return publishError(err)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		return publishError(err)
	}
	return nil
}

func toRawMessage(channel string, m *nats.Msg) model.RawMessage {
	kind := model.PayloadText
	if m.Header != nil && m.Header.Get(HeaderMessageType) == string(model.PayloadBinary) {
		kind = model.PayloadBinary
	}
	publisher := ""
	if m.Header != nil {
		publisher = m.Header.Get(HeaderPublisher)
	}
	return model.RawMessage{
		Kind:        kind,
		Payload:     m.Data,
		PublisherID: publisher,
		Channel:     channel,
	}
}

// DecodePresence decodes a presence update published on channel's presence
// subject. Missing channel names default to channel.
func DecodePresence(channel string, data []byte) (model.PresenceEvent, error) {
	var raw struct {
		Type       model.PresenceType `json:"type"`
		Channel    string             `json:"channel"`
		Publisher  string             `json:"publisher"`
		Timestamp  json.Number        `json:"timestamp"`
		StateItems map[string]any     `json:"state_items"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return model.PresenceEvent{}, fmt.Errorf("failed to decode presence: %w", err)
	}
	if raw.Type == "" {
		return model.PresenceEvent{}, errors.New("presence type is required")
	}

	ev := model.PresenceEvent{
		Type:      raw.Type,
		Channel:   raw.Channel,
		Publisher: raw.Publisher,
	}
	if ev.Channel == "" {
		ev.Channel = channel
	}
	if raw.Timestamp != "" {
		ts, err := raw.Timestamp.Int64()
		if err != nil {
			return model.PresenceEvent{}, fmt.Errorf("invalid presence timestamp %q: %w", raw.Timestamp, err)
		}
		ev.Timestamp = ts
	}
	if len(raw.StateItems) > 0 {
		ev.StateItems = make(map[string]string, len(raw.StateItems))
		for k, v := range raw.StateItems {
			switch t := v.(type) {
			case string:
				ev.StateItems[k] = t
			case nil:
			default:
				ev.StateItems[k] = fmt.Sprint(t)
			}
		}
	}
	return ev, nil
}

func publishError(err error) error {
	code := CodeFailed
	switch {
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrConnectionReconnecting):
		code = CodeNotConnected
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	case errors.Is(err, nats.ErrMaxPayload), errors.Is(err, nats.ErrBadSubject):
		code = CodeInvalid
	}
	return &model.PublishError{Code: code, Reason: err.Error()}
}
