package handler

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/convoai/internal/middleware"
	"github.com/capitalize-ai/convoai/internal/protocol"
	"github.com/capitalize-ai/convoai/internal/service"
	"github.com/capitalize-ai/convoai/pkg/logger"
)

// CommandHandler sends commands to the agent of a session.
type CommandHandler struct {
	sessions *service.SessionService
	logger   *logger.Logger
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(sessions *service.SessionService, log *logger.Logger) *CommandHandler {
	return &CommandHandler{
		sessions: sessions,
		logger:   log,
	}
}

func (h *CommandHandler) fail(w http.ResponseWriter, r *http.Request, command string, err error) {
	h.logger.Warn("command failed",
		zap.String("command", command),
		zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		zap.Error(err),
	)
	writeCommandError(w, err)
}

// ChatRequest is the body of POST /sessions/{channel}/chat. AgentUserID
// defaults to the publisher last heard on the channel.
type ChatRequest struct {
	AgentUserID   string                 `json:"agent_user_id,omitempty"`
	Text          string                 `json:"text"`
	Priority      protocol.Priority      `json:"priority,omitempty"`
	Interruptable *bool                  `json:"interruptable,omitempty"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// ImageRequest is the body of POST /sessions/{channel}/image.
type ImageRequest struct {
	AgentUserID string `json:"agent_user_id,omitempty"`
	UUID        string `json:"uuid,omitempty"`
	URL         string `json:"image_url,omitempty"`
	Base64      string `json:"image_base64,omitempty"`
}

// InterruptRequest is the optional body of POST /sessions/{channel}/interrupt.
type InterruptRequest struct {
	AgentUserID string `json:"agent_user_id,omitempty"`
}

// CommandResponse acknowledges a published command.
type CommandResponse struct {
	Status      string `json:"status"`
	TraceID     string `json:"trace_id"`
	AgentUserID string `json:"agent_user_id"`
	UUID        string `json:"uuid,omitempty"`
}

// Chat handles POST /api/v1/sessions/{channel}/chat
func (h *CommandHandler) Chat(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}

	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateChatText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Priority {
	case "", protocol.PriorityInterrupt, protocol.PriorityAppend, protocol.PriorityIgnore:
	default:
		writeError(w, http.StatusBadRequest, "priority must be INTERRUPT, APPEND or IGNORE")
		return
	}

	agentUserID, ok := h.target(w, sess, req.AgentUserID)
	if !ok {
		return
	}

	traceID, err := sess.Router().Chat(r.Context(), agentUserID, protocol.TextMessage{
		Text:          req.Text,
		Priority:      req.Priority,
		Interruptable: req.Interruptable,
		Extra:         req.Extra,
	})
	if err != nil {
		h.fail(w, r, "chat", err)
		return
	}

	writeAccepted(w, &CommandResponse{Status: "sent", TraceID: traceID, AgentUserID: agentUserID})
}

// Image handles POST /api/v1/sessions/{channel}/image
func (h *CommandHandler) Image(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}

	var req ImageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UUID == "" {
		req.UUID = uuid.NewString()
	} else if err := middleware.ValidateImageID(req.UUID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateImageData(req.Base64); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	agentUserID, ok := h.target(w, sess, req.AgentUserID)
	if !ok {
		return
	}

	traceID, err := sess.Router().SendImage(r.Context(), agentUserID, protocol.ImageMessage{
		UUID:   req.UUID,
		URL:    req.URL,
		Base64: req.Base64,
	})
	if err != nil {
		h.fail(w, r, "image", err)
		return
	}

	writeAccepted(w, &CommandResponse{Status: "sent", TraceID: traceID, AgentUserID: agentUserID, UUID: req.UUID})
}

// Interrupt handles POST /api/v1/sessions/{channel}/interrupt
func (h *CommandHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}

	var req InterruptRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	agentUserID, ok := h.target(w, sess, req.AgentUserID)
	if !ok {
		return
	}

	traceID, err := sess.Router().Interrupt(r.Context(), agentUserID)
	if err != nil {
		h.fail(w, r, "interrupt", err)
		return
	}

	writeAccepted(w, &CommandResponse{Status: "sent", TraceID: traceID, AgentUserID: agentUserID})
}

func (h *CommandHandler) target(w http.ResponseWriter, sess *service.Session, requested string) (string, bool) {
	if requested == "" {
		requested = sess.Router().AgentUserID()
	}
	if requested == "" {
		writeError(w, http.StatusConflict, "no agent has published on this channel yet; set agent_user_id")
		return "", false
	}
	if err := middleware.ValidateUserID(requested); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return requested, true
}

func writeAccepted(w http.ResponseWriter, resp *CommandResponse) {
	w.Header().Set("X-Trace-ID", resp.TraceID)
	writeJSON(w, http.StatusAccepted, resp)
}
