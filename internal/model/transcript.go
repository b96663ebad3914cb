package model

import "time"

// TranscriptStatus is the lifecycle state of a caption.
type TranscriptStatus string

const (
	TranscriptInProgress  TranscriptStatus = "in_progress"
	TranscriptEnd         TranscriptStatus = "end"
	TranscriptInterrupted TranscriptStatus = "interrupted"
)

// Final reports whether the status is terminal.
func (s TranscriptStatus) Final() bool {
	return s == TranscriptEnd || s == TranscriptInterrupted
}

// TranscriptStatusFromWire maps the numeric turn_status field.
func TranscriptStatusFromWire(code int64) TranscriptStatus {
	switch code {
	case 1:
		return TranscriptEnd
	case 2:
		return TranscriptInterrupted
	default:
		return TranscriptInProgress
	}
}

// TranscriptType is the conversation side a caption belongs to.
type TranscriptType string

const (
	TranscriptUser  TranscriptType = "user"
	TranscriptAgent TranscriptType = "agent"
)

// RenderMode controls how caption text is surfaced.
type RenderMode string

const (
	RenderModeWord RenderMode = "word"
	RenderModeText RenderMode = "text"
)

// ParseRenderMode defaults to text for anything but "word".
func ParseRenderMode(s string) RenderMode {
	if RenderMode(s) == RenderModeWord {
		return RenderModeWord
	}
	return RenderModeText
}

// Transcript is a caption for one turn of one side of the conversation.
type Transcript struct {
	TurnID     int64            `json:"turn_id"`
	UserID     string           `json:"user_id,omitempty"`
	Text       string           `json:"text"`
	Status     TranscriptStatus `json:"status"`
	Type       TranscriptType   `json:"type"`
	RenderMode RenderMode       `json:"render_mode"`
}

// ArchivedTranscript is a finalized caption persisted to the archive stream.
type ArchivedTranscript struct {
	Sequence    uint64           `json:"sequence,omitempty"`
	Channel     string           `json:"channel"`
	AgentUserID string           `json:"agent_user_id,omitempty"`
	TurnID      int64            `json:"turn_id"`
	UserID      string           `json:"user_id,omitempty"`
	Type        TranscriptType   `json:"type"`
	Status      TranscriptStatus `json:"status"`
	Text        string           `json:"text"`
	ArchivedAt  time.Time        `json:"archived_at"`
}
