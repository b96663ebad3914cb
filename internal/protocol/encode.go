package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Custom types attached to outbound publishes.
const (
	CustomTypeChat      = ObjectUserTranscription
	CustomTypeImage     = "image.upload"
	CustomTypeInterrupt = ObjectInterrupt
)

// Priority controls how the agent treats a chat message that arrives while
// it is speaking.
type Priority string

const (
	PriorityInterrupt Priority = "INTERRUPT"
	PriorityAppend    Priority = "APPEND"
	PriorityIgnore    Priority = "IGNORE"
)

// TextMessage is a chat message sent to the agent.
type TextMessage struct {
	Text     string
	Priority Priority
	// Interruptable defaults to true when nil.
	Interruptable *bool
	// Extra is merged into the payload; it must not shadow the fixed keys.
	Extra map[string]any
}

// ImageMessage references an image the agent should look at. Exactly one of
// URL and Base64 is set.
type ImageMessage struct {
	UUID   string
	URL    string
	Base64 string
}

// EncodeText builds the JSON payload of a chat message.
func EncodeText(msg TextMessage) ([]byte, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return nil, errors.New("chat message text is required")
	}

	priority := msg.Priority
	if priority == "" {
		priority = PriorityInterrupt
	}
	interruptable := true
	if msg.Interruptable != nil {
		interruptable = *msg.Interruptable
	}

	payload := make(map[string]any, len(msg.Extra)+3)
	for k, v := range msg.Extra {
		payload[k] = v
	}
	payload["message"] = msg.Text
	payload["priority"] = string(priority)
	payload["interruptable"] = interruptable

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat message: %w", err)
	}
	return data, nil
}

// EncodeImage builds the JSON payload of an image message.
func EncodeImage(msg ImageMessage) ([]byte, error) {
	if strings.TrimSpace(msg.UUID) == "" {
		return nil, errors.New("image uuid is required")
	}
	hasURL := strings.TrimSpace(msg.URL) != ""
	hasData := strings.TrimSpace(msg.Base64) != ""
	if hasURL == hasData {
		return nil, errors.New("exactly one of image url and base64 data is required")
	}

	payload := map[string]string{"uuid": msg.UUID}
	if hasURL {
		payload["image_url"] = msg.URL
	} else {
		payload["image_base64"] = msg.Base64
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image message: %w", err)
	}
	return data, nil
}

// EncodeInterrupt builds the JSON payload of an interrupt command.
func EncodeInterrupt() ([]byte, error) {
	data, err := json.Marshal(map[string]string{"customType": CustomTypeInterrupt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal interrupt: %w", err)
	}
	return data, nil
}
