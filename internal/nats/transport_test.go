package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/convoai/internal/model"
	"github.com/capitalize-ai/convoai/pkg/logger"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "rtm.channel.room1", MessageSubject("rtm", "room1"))
	assert.Equal(t, "rtm.presence.room1", PresenceSubject("rtm", "room1"))
	assert.Equal(t, "rtm.user.agent-1", UserSubject("rtm", "agent-1"))
	assert.Equal(t, "rtm.transcript.room1", TranscriptSubject("rtm", "room1"))
	assert.Equal(t, "rtm.transcript.>", TranscriptSubject("rtm", ">"))
}

func TestValidToken(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"room1", true},
		{"agent_user-42", true},
		{"", false},
		{"a.b", false},
		{"room*", false},
		{"room>", false},
		{"two words", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidToken(tt.in), tt.in)
	}
}

func TestDecodePresence(t *testing.T) {
	ev, err := DecodePresence("room1", []byte(`{
		"type": "REMOTE_STATE_CHANGED",
		"publisher": "agent-1",
		"timestamp": 1700000000123,
		"state_items": {"state": "speaking", "turn_id": 7, "extra": null}
	}`))
	require.NoError(t, err)

	assert.Equal(t, model.PresenceRemoteStateChanged, ev.Type)
	assert.Equal(t, "room1", ev.Channel)
	assert.Equal(t, "agent-1", ev.Publisher)
	assert.Equal(t, int64(1700000000123), ev.Timestamp)
	assert.Equal(t, map[string]string{"state": "speaking", "turn_id": "7"}, ev.StateItems)
}

func TestDecodePresence_KeepsExplicitChannel(t *testing.T) {
	ev, err := DecodePresence("room1", []byte(`{"type":"REMOTE_JOIN","channel":"room2"}`))
	require.NoError(t, err)
	assert.Equal(t, "room2", ev.Channel)
	assert.Nil(t, ev.StateItems)
}

func TestDecodePresence_Invalid(t *testing.T) {
	for _, in := range []string{
		``,
		`not json`,
		`{"channel":"room1"}`,
		`{"type":"REMOTE_STATE_CHANGED","timestamp":1.5}`,
	} {
		_, err := DecodePresence("room1", []byte(in))
		assert.Error(t, err, in)
	}
}

func TestToRawMessage(t *testing.T) {
	msg := nats.NewMsg(MessageSubject("rtm", "room1"))
	msg.Data = []byte(`{"object":"message.state"}`)
	msg.Header.Set(HeaderPublisher, "agent-1")

	raw := toRawMessage("room1", msg)
	assert.Equal(t, model.PayloadText, raw.Kind)
	assert.Equal(t, "agent-1", raw.PublisherID)
	assert.Equal(t, "room1", raw.Channel)
	assert.Equal(t, `{"object":"message.state"}`, raw.Text())

	msg.Header.Set(HeaderMessageType, string(model.PayloadBinary))
	assert.Equal(t, model.PayloadBinary, toRawMessage("room1", msg).Kind)

	bare := &nats.Msg{Subject: MessageSubject("rtm", "room1"), Data: []byte(`{}`)}
	assert.Equal(t, "", toRawMessage("room1", bare).PublisherID)
}

func TestPublishError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nats.ErrConnectionClosed, CodeNotConnected},
		{nats.ErrConnectionDraining, CodeNotConnected},
		{nats.ErrTimeout, CodeTimeout},
		{context.DeadlineExceeded, CodeTimeout},
		{nats.ErrMaxPayload, CodeInvalid},
		{errors.New("boom"), CodeFailed},
	}
	for _, tt := range tests {
		var pubErr *model.PublishError
		require.ErrorAs(t, publishError(tt.err), &pubErr)
		assert.Equal(t, tt.code, pubErr.Code, tt.err.Error())
		assert.Equal(t, tt.err.Error(), pubErr.Reason)
	}
}

func TestPublish_RejectsInvalidTarget(t *testing.T) {
	tr := newTransport(nil, "", "client-1", nil)

	err := tr.Publish(context.Background(), "a.b", []byte(`{}`), model.PublishOptions{})
	var pubErr *model.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, CodeInvalid, pubErr.Code)

	_, err = tr.Subscribe("", nil)
	assert.Error(t, err)
}

func TestConfig_TLSFiles(t *testing.T) {
	useTLS, err := Config{}.tlsFiles()
	require.NoError(t, err)
	assert.False(t, useTLS)

	useTLS, err = Config{CAFile: "ca.pem", CertFile: "c.pem", KeyFile: "k.pem"}.tlsFiles()
	require.NoError(t, err)
	assert.True(t, useTLS)

	_, err = Config{CertFile: "c.pem"}.tlsFiles()
	assert.Error(t, err)

	_, err = connectOptions(Config{CAFile: "ca.pem"}, logger.NewNop())
	assert.Error(t, err)

	opts, err := connectOptions(Config{Name: "test", Token: "secret"}, logger.NewNop())
	require.NoError(t, err)
	assert.NotEmpty(t, opts)
}
