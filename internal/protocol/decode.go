package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/capitalize-ai/convoai/internal/model"
)

// DecodeError reports an envelope that was classified but is missing a
// required field or carries one of the wrong type.
type DecodeError struct {
	Object string
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Object, e.Reason, e.Field)
}

func missing(object, field string) *DecodeError {
	return &DecodeError{Object: object, Field: field, Reason: "missing or invalid field"}
}

// Message is a decoded, kind-tagged inbound message.
type Message interface {
	Kind() Kind
	isMessage()
}

// StateMessage is a message.state envelope.
type StateMessage struct {
	State model.StateChangeEvent
}

// InterruptMessage is a message.interrupt envelope.
type InterruptMessage struct {
	Interrupt model.InterruptEvent
}

// MetricsMessage is a message.metrics envelope.
type MetricsMessage struct {
	Metric model.Metric
	TurnID int64
}

// ErrorMessage is a message.error envelope.
type ErrorMessage struct {
	Error model.AgentError
}

// TranscriptionMessage is a user or assistant transcription fragment.
// Text is cumulative for the turn.
type TranscriptionMessage struct {
	Type     model.TranscriptType
	TurnID   int64
	Text     string
	Status   model.TranscriptStatus
	UserID   string
	StreamID int64
}

// ReceiptMessage is a message.info receipt.
type ReceiptMessage struct {
	Receipt model.MessageReceipt
}

// VoiceprintMessage is a voiceprint status update.
type VoiceprintMessage struct {
	Status model.VoiceprintStatus
}

// UnknownMessage is an envelope whose object is not recognized. Callers
// ignore it.
type UnknownMessage struct {
	Object string
}

func (StateMessage) Kind() Kind         { return KindState }
func (InterruptMessage) Kind() Kind     { return KindInterrupt }
func (MetricsMessage) Kind() Kind       { return KindMetrics }
func (ErrorMessage) Kind() Kind         { return KindError }
func (TranscriptionMessage) Kind() Kind { return KindTranscription }
func (ReceiptMessage) Kind() Kind       { return KindReceipt }
func (VoiceprintMessage) Kind() Kind    { return KindVoiceprint }
func (UnknownMessage) Kind() Kind       { return KindUnknown }

func (StateMessage) isMessage()         {}
func (InterruptMessage) isMessage()     {}
func (MetricsMessage) isMessage()       {}
func (ErrorMessage) isMessage()         {}
func (TranscriptionMessage) isMessage() {}
func (ReceiptMessage) isMessage()       {}
func (VoiceprintMessage) isMessage()    {}
func (UnknownMessage) isMessage()       {}

// Decode classifies fields and converts them into a typed Message.
func Decode(fields map[string]any) (Message, error) {
	object, _ := fields["object"].(string)

	switch Classify(fields) {
	case KindState:
		turnID, ok := int64Field(fields, "turn_id")
		if !ok {
			return nil, missing(object, "turn_id")
		}
		return StateMessage{State: model.StateChangeEvent{
			State:     model.ParseAgentState(stringField(fields, "state")),
			TurnID:    turnID,
			Timestamp: timestamp(fields),
		}}, nil

	case KindInterrupt:
		turnID, ok := int64Field(fields, "turn_id")
		if !ok {
			return nil, missing(object, "turn_id")
		}
		return InterruptMessage{Interrupt: model.InterruptEvent{
			TurnID:    turnID,
			Timestamp: timestamp(fields),
		}}, nil

	case KindMetrics:
		name := stringField(fields, "metric_name")
		if name == "" {
			return nil, missing(object, "metric_name")
		}
		value, ok := float64Field(fields, "latency_ms")
		if !ok {
			value, _ = float64Field(fields, "value")
		}
		turnID, _ := int64Field(fields, "turn_id")
		return MetricsMessage{
			Metric: model.Metric{
				Vendor:    model.ParseVendor(stringField(fields, "module")),
				Name:      name,
				Value:     value,
				Timestamp: timestamp(fields),
			},
			TurnID: turnID,
		}, nil

	case KindError:
		code, _ := int64Field(fields, "code")
		turnID, _ := int64Field(fields, "turn_id")
		return ErrorMessage{Error: model.AgentError{
			Vendor:    model.ParseVendor(stringField(fields, "module")),
			Code:      int(code),
			Message:   stringField(fields, "message"),
			TurnID:    turnID,
			Timestamp: timestamp(fields),
		}}, nil

	case KindTranscription:
		return decodeTranscription(object, fields)

	case KindReceipt:
		turnID, _ := int64Field(fields, "turn_id")
		return ReceiptMessage{Receipt: model.MessageReceipt{
			Vendor:  model.ParseVendor(stringField(fields, "module")),
			Type:    receiptType(fields),
			Message: rawText(fields["message"]),
			TurnID:  turnID,
		}}, nil

	case KindVoiceprint:
		status := stringField(fields, "status")
		if status == "" {
			return nil, missing(object, "status")
		}
		turnID, _ := int64Field(fields, "turn_id")
		return VoiceprintMessage{Status: model.VoiceprintStatus{
			Status:    status,
			TurnID:    turnID,
			Timestamp: timestamp(fields),
		}}, nil

	default:
		return UnknownMessage{Object: object}, nil
	}
}

func decodeTranscription(object string, fields map[string]any) (Message, error) {
	turnID, ok := int64Field(fields, "turn_id")
	if !ok {
		return nil, missing(object, "turn_id")
	}
	text, ok := fields["text"].(string)
	if !ok {
		return nil, missing(object, "text")
	}

	msg := TranscriptionMessage{
		TurnID: turnID,
		Text:   text,
		UserID: stringField(fields, "user_id"),
		Status: model.TranscriptInProgress,
	}
	msg.StreamID, _ = int64Field(fields, "stream_id")

	if object == ObjectUserTranscription {
		msg.Type = model.TranscriptUser
		if final, ok := boolField(fields, "final"); ok && final {
			msg.Status = model.TranscriptEnd
		}
		return msg, nil
	}

	msg.Type = model.TranscriptAgent
	if code, ok := int64Field(fields, "turn_status"); ok {
		msg.Status = model.TranscriptStatusFromWire(code)
	}
	return msg, nil
}

func timestamp(fields map[string]any) int64 {
	for _, key := range []string{"send_ts", "ts", "timestamp", "start_ms"} {
		if ts, ok := int64Field(fields, key); ok {
			return ts
		}
	}
	return 0
}

func receiptType(fields map[string]any) model.ReceiptType {
	for _, key := range []string{"resource_type", "type"} {
		switch strings.ToLower(stringField(fields, key)) {
		case "picture", "image", "image_info":
			return model.ReceiptTypeImageInfo
		}
	}
	return model.ReceiptTypeUnknown
}

// rawText returns strings as-is and re-encodes structured values as JSON.
func rawText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
