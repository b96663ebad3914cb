package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/capitalize-ai/convoai/internal/session"
)

const maxBodyBytes = 16 * 1024 * 1024

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON decodes a size-limited request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeCommandError maps a failed command onto an HTTP response.
func writeCommandError(w http.ResponseWriter, err error) {
	var cmdErr *session.CommandError
	if !errors.As(err, &cmdErr) {
		writeError(w, http.StatusInternalServerError, "command failed")
		return
	}

	status := http.StatusBadRequest
	switch {
	case errors.Is(err, session.ErrDestroyed):
		status = http.StatusGone
	case cmdErr.Kind == session.ErrorKindTransport:
		status = http.StatusBadGateway
	}

	w.Header().Set("X-Trace-ID", cmdErr.TraceID)
	writeJSON(w, status, map[string]interface{}{
		"error":    cmdErr.Message,
		"kind":     cmdErr.Kind,
		"code":     cmdErr.Code,
		"trace_id": cmdErr.TraceID,
	})
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
