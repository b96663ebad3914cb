// Package model defines data structures for the conversational AI event router.
package model

// AgentState is the conversational state reported by the remote agent.
type AgentState string

const (
	AgentStateIdle      AgentState = "idle"
	AgentStateSilent    AgentState = "silent"
	AgentStateListening AgentState = "listening"
	AgentStateThinking  AgentState = "thinking"
	AgentStateSpeaking  AgentState = "speaking"
	AgentStateUnknown   AgentState = "unknown"
)

// ParseAgentState maps a wire state string onto the closed AgentState set.
func ParseAgentState(s string) AgentState {
	switch AgentState(s) {
	case AgentStateIdle, AgentStateSilent, AgentStateListening, AgentStateThinking, AgentStateSpeaking:
		return AgentState(s)
	default:
		return AgentStateUnknown
	}
}

// StateChangeEvent is the agent state at a point in time.
type StateChangeEvent struct {
	State     AgentState `json:"state"`
	TurnID    int64      `json:"turn_id"`
	Timestamp int64      `json:"timestamp"`
}

// Supersedes reports whether e may replace the watermark w: the turn must not
// go backwards and the timestamp must strictly advance.
func (e StateChangeEvent) Supersedes(w StateChangeEvent) bool {
	return e.TurnID >= w.TurnID && e.Timestamp > w.Timestamp
}

// InterruptEvent signals that a turn was cut short.
type InterruptEvent struct {
	TurnID    int64 `json:"turn_id"`
	Timestamp int64 `json:"timestamp"`
}

// Vendor is the agent module a metric, error or receipt originates from.
type Vendor string

const (
	VendorLLM     Vendor = "llm"
	VendorMLLM    Vendor = "mllm"
	VendorTTS     Vendor = "tts"
	VendorContext Vendor = "context"
	VendorUnknown Vendor = "unknown"
)

// ParseVendor maps a wire module string onto the closed Vendor set.
func ParseVendor(s string) Vendor {
	switch Vendor(s) {
	case VendorLLM, VendorMLLM, VendorTTS, VendorContext:
		return Vendor(s)
	default:
		return VendorUnknown
	}
}

// Metric is a telemetry sample reported by the agent.
type Metric struct {
	Vendor    Vendor  `json:"vendor"`
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// AgentError is an error reported by the agent.
type AgentError struct {
	Vendor    Vendor `json:"vendor"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	TurnID    int64  `json:"turn_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ReceiptType identifies what a message receipt acknowledges.
type ReceiptType string

const (
	ReceiptTypeImageInfo ReceiptType = "image_info"
	ReceiptTypeUnknown   ReceiptType = "unknown"
)

// MessageReceipt acknowledges a resource previously sent to the agent.
type MessageReceipt struct {
	Vendor  Vendor      `json:"vendor"`
	Type    ReceiptType `json:"type"`
	Message string      `json:"message"`
	TurnID  int64       `json:"turn_id"`
}

// VoiceprintStatus reports speaker-recognition progress.
type VoiceprintStatus struct {
	Status    string `json:"status"`
	TurnID    int64  `json:"turn_id"`
	Timestamp int64  `json:"timestamp"`
}
