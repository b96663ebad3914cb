package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/convoai/internal/model"
	"github.com/capitalize-ai/convoai/internal/service"
	"github.com/capitalize-ai/convoai/pkg/logger"
	"github.com/capitalize-ai/convoai/pkg/metrics"
)

const (
	heartbeatInterval = 30 * time.Second
	replayBatchSize   = 50
)

// TranscriptStore reads archived captions.
type TranscriptStore interface {
	History(ctx context.Context, channel string, afterSequence uint64, limit int) ([]model.ArchivedTranscript, uint64, bool, error)
}

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	sessions *service.SessionService
	archive  TranscriptStore
	logger   *logger.Logger
	buffer   int
}

// NewStreamHandler creates a new stream handler. archive may be nil.
func NewStreamHandler(sessions *service.SessionService, archive TranscriptStore, buffer int, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		sessions: sessions,
		archive:  archive,
		logger:   log,
		buffer:   buffer,
	}
}

// ReplayCompleteEvent marks the end of archived transcript replay.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	Count        int    `json:"count"`
}

// HeartbeatEvent keeps idle streams open through proxies.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Events handles GET /api/v1/sessions/{channel}/events
// Supports ?after_sequence=N to replay archived transcripts first.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel := chi.URLParam(r, "channel")

	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}

	afterSequence, requested, ok := querySequence(w, r)
	if !ok {
		return
	}
	replay := requested && h.archive != nil

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.IncrementEventStreams("sse")
	defer metrics.DecrementEventStreams("sse")

	// Register before replaying so no live event is missed.
	events, stop := sess.Watch(h.buffer)
	defer stop()

	sendSSEEvent(w, flusher, "connected", sess.Info())

	if replay {
		if !h.replay(ctx, w, flusher, channel, afterSequence) {
			return
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("channel", channel))
			return

		case <-sess.Done():
			sendSSEEvent(w, flusher, "session_closed", map[string]string{"channel": channel})
			return

		case <-events.Dropped():
			h.logger.Warn("SSE client too slow, dropping", zap.String("channel", channel))
			sendSSEEvent(w, flusher, "overflow", map[string]string{"channel": channel})
			return

		case ev := <-events.Events():
			if err := sendSSEEvent(w, flusher, string(ev.Kind()), model.RecordOf(ev)); err != nil {
				h.logger.Warn("failed to write SSE event", zap.String("channel", channel), zap.Error(err))
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

// replay streams archived transcripts. It reports whether the stream should
// continue.
func (h *StreamHandler) replay(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, channel string, afterSequence uint64) bool {
	lastSequence := afterSequence
	total := 0

	for {
		records, last, hasMore, err := h.archive.History(ctx, channel, lastSequence, replayBatchSize)
		if err != nil {
			h.logger.Error("failed to replay transcripts", zap.String("channel", channel), zap.Error(err))
			sendSSEEvent(w, flusher, "error", map[string]string{
				"code":    "replay_error",
				"message": "failed to replay transcripts",
			})
			break
		}

		for _, rec := range records {
			if ctx.Err() != nil {
				return false
			}
			sendSSEEvent(w, flusher, "transcript.archived", rec)
			total++
		}
		lastSequence = last

		if !hasMore {
			break
		}
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSequence: lastSequence,
		Count:        total,
	})

	h.logger.Info("transcript replay complete",
		zap.String("channel", channel),
		zap.Int("replayed", total),
		zap.Uint64("last_sequence", lastSequence),
	)
	return true
}

// Transcripts handles GET /api/v1/sessions/{channel}/transcripts
func (h *StreamHandler) Transcripts(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if h.archive == nil {
		writeError(w, http.StatusNotImplemented, "transcript archive disabled")
		return
	}

	afterSequence, _, ok := querySequence(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", replayBatchSize, 500)

	records, last, hasMore, err := h.archive.History(r.Context(), channel, afterSequence, limit)
	if err != nil {
		h.logger.Error("failed to read transcripts", zap.String("channel", channel), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to read transcripts")
		return
	}
	if records == nil {
		records = []model.ArchivedTranscript{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transcripts":   records,
		"last_sequence": last,
		"has_more":      hasMore,
	})
}

// querySequence reads ?after_sequence. requested is false when the
// parameter is absent; a malformed value is answered with 400.
func querySequence(w http.ResponseWriter, r *http.Request) (seq uint64, requested, ok bool) {
	raw := r.URL.Query().Get("after_sequence")
	if raw == "" {
		return 0, false, true
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "after_sequence must be a non-negative integer")
		return 0, false, false
	}
	return seq, true, true
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
