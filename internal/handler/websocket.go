package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/convoai/internal/model"
	"github.com/capitalize-ai/convoai/internal/protocol"
	"github.com/capitalize-ai/convoai/internal/service"
	"github.com/capitalize-ai/convoai/pkg/logger"
	"github.com/capitalize-ai/convoai/pkg/metrics"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxFrameBytes  = 64 * 1024
	wsCommandTimeout = 10 * time.Second
)

// WebSocketHandler streams session events over a WebSocket and accepts
// chat and interrupt commands from the client.
type WebSocketHandler struct {
	sessions *service.SessionService
	logger   *logger.Logger
	buffer   int
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a WebSocket handler. A nil checkOrigin only
// accepts same-origin browser upgrades.
func NewWebSocketHandler(sessions *service.SessionService, buffer int, checkOrigin func(*http.Request) bool, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		logger:   log,
		buffer:   buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ClientFrame is a command sent by a WebSocket client.
type ClientFrame struct {
	Type        string            `json:"type"`
	AgentUserID string            `json:"agent_user_id,omitempty"`
	Text        string            `json:"text,omitempty"`
	Priority    protocol.Priority `json:"priority,omitempty"`
}

// ServerFrame is any frame sent to a WebSocket client.
type ServerFrame struct {
	Type    string             `json:"type"`
	Event   *model.EventRecord `json:"event,omitempty"`
	TraceID string             `json:"trace_id,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Serve handles GET /api/v1/sessions/{channel}/ws
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.IncrementEventStreams("websocket")
	defer metrics.DecrementEventStreams("websocket")

	events, stop := sess.Watch(h.buffer)
	defer stop()

	// Replies to client commands are handed to the writer goroutine, the
	// only goroutine allowed to write to conn.
	replies := make(chan ServerFrame, 8)
	readDone := make(chan struct{})
	go h.readLoop(r.Context(), conn, sess, replies, readDone)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return

		case <-sess.Done():
			h.closeWith(conn, websocket.CloseGoingAway, "session closed")
			return

		case <-events.Dropped():
			h.logger.Warn("websocket client too slow, dropping", zap.String("channel", channel))
			h.closeWith(conn, websocket.ClosePolicyViolation, "client too slow")
			return

		case ev := <-events.Events():
			rec := model.RecordOf(ev)
			if err := h.write(conn, ServerFrame{Type: "event", Event: &rec}); err != nil {
				return
			}

		case frame := <-replies:
			if err := h.write(conn, frame); err != nil {
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *service.Session, replies chan<- ServerFrame, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(wsMaxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("websocket closed", zap.String("channel", sess.Channel()), zap.Error(err))
			}
			return
		}
		var reply ServerFrame
		var frame ClientFrame
		switch {
		case messageType != websocket.TextMessage:
			reply = ServerFrame{Type: "error", Error: "only text frames are accepted"}
		case json.Unmarshal(data, &frame) != nil:
			reply = ServerFrame{Type: "error", Error: "invalid frame"}
		default:
			reply = h.execute(ctx, sess, frame)
		}

		// The request context ends when Serve returns.
		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) execute(ctx context.Context, sess *service.Session, frame ClientFrame) ServerFrame {
	agentUserID := frame.AgentUserID
	if agentUserID == "" {
		agentUserID = sess.Router().AgentUserID()
	}

	ctx, cancel := context.WithTimeout(ctx, wsCommandTimeout)
	defer cancel()

	var (
		traceID string
		err     error
	)
	switch frame.Type {
	case "chat":
		traceID, err = sess.Router().Chat(ctx, agentUserID, protocol.TextMessage{Text: frame.Text, Priority: frame.Priority})
	case "interrupt":
		traceID, err = sess.Router().Interrupt(ctx, agentUserID)
	default:
		return ServerFrame{Type: "error", Error: "unknown frame type " + frame.Type}
	}
	if err != nil {
		return ServerFrame{Type: "error", TraceID: traceID, Error: err.Error()}
	}
	return ServerFrame{Type: "ack", TraceID: traceID}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, frame ServerFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(frame)
}

func (h *WebSocketHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
