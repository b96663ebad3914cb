package model

import "time"

// SessionInfo describes an open session.
type SessionInfo struct {
	Channel     string           `json:"channel"`
	AgentUserID string           `json:"agent_user_id,omitempty"`
	Watermark   StateChangeEvent `json:"watermark"`
	RenderMode  RenderMode       `json:"render_mode"`
	Observers   int              `json:"observers"`
	OpenedAt    time.Time        `json:"opened_at"`
}
