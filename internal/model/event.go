package model

// EventKind identifies a domain event delivered to observers.
type EventKind string

// Event kinds, one per Event implementation.
const (
	KindAgentStateChanged EventKind = "agent.state_changed"
	KindAgentInterrupted  EventKind = "agent.interrupted"
	KindMetricsReceived   EventKind = "agent.metrics"
	KindErrorReceived     EventKind = "agent.error"
	KindTranscriptUpdated EventKind = "transcript.updated"
	KindReceiptReceived   EventKind = "message.receipt"
	KindVoiceprintUpdated EventKind = "voiceprint.updated"
	KindDebugLog          EventKind = "debug.log"
)

// Event is a normalized domain event. The set of implementations is closed.
type Event interface {
	Kind() EventKind
	// AgentUserID is the identifier of the publisher the event originated from.
	AgentUserID() string
	// Payload is the data-model value carried by the event.
	Payload() any
	isEvent()
}

// Observer receives domain events. Implementations must be comparable
// (typically a pointer) so they can be registered and removed.
type Observer interface {
	OnEvent(Event)
}

type base struct {
	kind        EventKind
	agentUserID string
}

func (b base) Kind() EventKind     { return b.kind }
func (b base) AgentUserID() string { return b.agentUserID }
func (base) isEvent()              {}

// AgentStateChanged reports a state update that passed the watermark.
type AgentStateChanged struct {
	base
	State StateChangeEvent
}

func (e AgentStateChanged) Payload() any { return e.State }

// NewAgentStateChanged creates an AgentStateChanged event.
func NewAgentStateChanged(agentUserID string, state StateChangeEvent) AgentStateChanged {
	return AgentStateChanged{base: base{KindAgentStateChanged, agentUserID}, State: state}
}

// AgentInterrupted reports that the agent cut a turn short.
type AgentInterrupted struct {
	base
	Interrupt InterruptEvent
}

func (e AgentInterrupted) Payload() any { return e.Interrupt }

// NewAgentInterrupted creates an AgentInterrupted event.
func NewAgentInterrupted(agentUserID string, interrupt InterruptEvent) AgentInterrupted {
	return AgentInterrupted{base: base{KindAgentInterrupted, agentUserID}, Interrupt: interrupt}
}

// MetricsReceived carries one agent-reported metric.
type MetricsReceived struct {
	base
	Metric Metric
}

func (e MetricsReceived) Payload() any { return e.Metric }

// NewMetricsReceived creates a MetricsReceived event.
func NewMetricsReceived(agentUserID string, metric Metric) MetricsReceived {
	return MetricsReceived{base: base{KindMetricsReceived, agentUserID}, Metric: metric}
}

// ErrorReceived carries an error reported by an agent module.
type ErrorReceived struct {
	base
	Error AgentError
}

func (e ErrorReceived) Payload() any { return e.Error }

// NewErrorReceived creates an ErrorReceived event.
func NewErrorReceived(agentUserID string, agentErr AgentError) ErrorReceived {
	return ErrorReceived{base: base{KindErrorReceived, agentUserID}, Error: agentErr}
}

// TranscriptUpdated carries a visible caption change.
type TranscriptUpdated struct {
	base
	Transcript Transcript
}

func (e TranscriptUpdated) Payload() any { return e.Transcript }

// NewTranscriptUpdated creates a TranscriptUpdated event.
func NewTranscriptUpdated(agentUserID string, transcript Transcript) TranscriptUpdated {
	return TranscriptUpdated{base: base{KindTranscriptUpdated, agentUserID}, Transcript: transcript}
}

// ReceiptReceived acknowledges a message the agent processed.
type ReceiptReceived struct {
	base
	Receipt MessageReceipt
}

func (e ReceiptReceived) Payload() any { return e.Receipt }

// NewReceiptReceived creates a ReceiptReceived event.
func NewReceiptReceived(agentUserID string, receipt MessageReceipt) ReceiptReceived {
	return ReceiptReceived{base: base{KindReceiptReceived, agentUserID}, Receipt: receipt}
}

// VoiceprintUpdated reports the voiceprint registration status.
type VoiceprintUpdated struct {
	base
	Voiceprint VoiceprintStatus
}

func (e VoiceprintUpdated) Payload() any { return e.Voiceprint }

// NewVoiceprintUpdated creates a VoiceprintUpdated event.
func NewVoiceprintUpdated(agentUserID string, status VoiceprintStatus) VoiceprintUpdated {
	return VoiceprintUpdated{base: base{KindVoiceprintUpdated, agentUserID}, Voiceprint: status}
}

// DebugLog is a diagnostic line, only dispatched when debug events are on.
type DebugLog struct {
	base
	Message string
}

func (e DebugLog) Payload() any { return e.Message }

// NewDebugLog creates a DebugLog event.
func NewDebugLog(agentUserID, message string) DebugLog {
	return DebugLog{base: base{KindDebugLog, agentUserID}, Message: message}
}

// EventRecord is the JSON form of an Event used by streaming transports.
type EventRecord struct {
	Kind        EventKind `json:"kind"`
	AgentUserID string    `json:"agent_user_id,omitempty"`
	Data        any       `json:"data"`
}

// RecordOf converts an event into its JSON form.
func RecordOf(e Event) EventRecord {
	return EventRecord{Kind: e.Kind(), AgentUserID: e.AgentUserID(), Data: e.Payload()}
}
