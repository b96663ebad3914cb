package handler

import (
	"context"
	"net/http"
	"time"
)

const readyCheckTimeout = 2 * time.Second

// ConnectionChecker reports messaging connectivity.
type ConnectionChecker interface {
	IsConnected() bool
}

// ArchiveChecker reports whether the transcript archive is reachable.
type ArchiveChecker interface {
	Ping(ctx context.Context) error
}

// Check states reported by /ready.
const (
	checkUp       = "up"
	checkDown     = "down"
	checkDisabled = "disabled"
)

// ReadinessResponse is the body of GET /ready.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthHandler serves liveness and per-dependency readiness.
type HealthHandler struct {
	conn    ConnectionChecker
	archive ArchiveChecker
}

// NewHealthHandler creates a health handler. archive is nil when the
// transcript archive is disabled.
func NewHealthHandler(conn ConnectionChecker, archive ArchiveChecker) *HealthHandler {
	return &HealthHandler{conn: conn, archive: archive}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /ready. Every dependency must be up or disabled.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"nats":    checkDown,
		"archive": checkDisabled,
	}
	if h.conn != nil && h.conn.IsConnected() {
		checks["nats"] = checkUp
	}
	if h.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()
		checks["archive"] = checkUp
		if err := h.archive.Ping(ctx); err != nil {
			checks["archive"] = checkDown
		}
	}

	status, code := "ready", http.StatusOK
	for _, state := range checks {
		if state == checkDown {
			status, code = "not ready", http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, &ReadinessResponse{Status: status, Checks: checks})
}
