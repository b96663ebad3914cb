package model

import "fmt"

// PayloadKind is the encoding of an inbound channel message.
type PayloadKind string

const (
	PayloadText   PayloadKind = "text"
	PayloadBinary PayloadKind = "binary"
)

// RawMessage is an inbound channel message before parsing.
type RawMessage struct {
	Kind        PayloadKind
	Payload     []byte
	PublisherID string
	Channel     string
}

// Text returns the payload as a string regardless of its kind.
func (m RawMessage) Text() string {
	return string(m.Payload)
}

// PresenceType is the kind of presence notification.
type PresenceType string

const (
	PresenceRemoteStateChanged PresenceType = "REMOTE_STATE_CHANGED"
	PresenceRemoteJoin         PresenceType = "REMOTE_JOIN"
	PresenceRemoteLeave        PresenceType = "REMOTE_LEAVE"
	PresenceSnapshot           PresenceType = "SNAPSHOT"
)

// PresenceEvent is a presence notification from the presence channel.
type PresenceEvent struct {
	Type       PresenceType      `json:"type"`
	Channel    string            `json:"channel"`
	Publisher  string            `json:"publisher"`
	Timestamp  int64             `json:"timestamp"`
	StateItems map[string]string `json:"state_items,omitempty"`
}

// ChannelType selects the addressing mode of a publish.
type ChannelType string

const (
	ChannelTypeUser    ChannelType = "user"
	ChannelTypeMessage ChannelType = "message"
)

// PublishOptions are passed alongside an outbound payload.
type PublishOptions struct {
	ChannelType ChannelType
	CustomType  string
}

// PublishError is a transport failure while sending a message.
type PublishError struct {
	Code   int
	Reason string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed (code %d): %s", e.Code, e.Reason)
}
