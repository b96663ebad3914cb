package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/convoai/internal/middleware"
	"github.com/capitalize-ai/convoai/internal/model"
	"github.com/capitalize-ai/convoai/internal/service"
	"github.com/capitalize-ai/convoai/pkg/logger"
)

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	sessions *service.SessionService
	logger   *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions *service.SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   log,
	}
}

// ListSessionsResponse is the body of GET /sessions.
type ListSessionsResponse struct {
	Sessions []model.SessionInfo `json:"sessions"`
	Total    int                 `json:"total"`
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	visible := make([]model.SessionInfo, 0)
	for _, info := range h.sessions.List() {
		if middleware.CanAccessChannel(ctx, info.Channel) {
			visible = append(visible, info)
		}
	}

	writeJSON(w, http.StatusOK, &ListSessionsResponse{
		Sessions: visible,
		Total:    len(visible),
	})
}

// Open handles PUT /api/v1/sessions/{channel}
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if err := middleware.ValidateChannel(channel); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, created, err := h.sessions.Open(r.Context(), channel)
	if err != nil {
		h.logger.Error("failed to open session", zap.String("channel", channel), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to subscribe to channel")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, sess.Info())
}

// Get handles GET /api/v1/sessions/{channel}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

// Close handles DELETE /api/v1/sessions/{channel}
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")

	if err := h.sessions.Close(channel); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Warn("session closed with error", zap.String("channel", channel), zap.Error(err))
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*service.Session, bool) {
	return lookupSession(h.sessions, w, r)
}

func lookupSession(sessions *service.SessionService, w http.ResponseWriter, r *http.Request) (*service.Session, bool) {
	sess, err := sessions.Get(chi.URLParam(r, "channel"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}
