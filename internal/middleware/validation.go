package middleware

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxChannelLength = 64
	maxChatLength    = 8 * 1024
	maxImageBytes    = 10 * 1024 * 1024
)

// ValidateChannel validates a channel name. Names become a single subject
// token, so separators and wildcards are rejected.
func ValidateChannel(channel string) error {
	if channel == "" {
		return errors.New("channel cannot be empty")
	}
	if len(channel) > maxChannelLength {
		return errors.New("channel exceeds maximum length")
	}
	for _, r := range channel {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return errors.New("channel may only contain letters, digits, '-' and '_'")
		}
	}
	return nil
}

// ValidateUserID validates an agent user id used as a publish target.
func ValidateUserID(id string) error {
	if err := ValidateChannel(id); err != nil {
		return fmt.Errorf("invalid agent user id: %w", err)
	}
	return nil
}

// ValidateChatText validates chat message text.
func ValidateChatText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("text cannot be empty")
	}
	if len(text) > maxChatLength {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// ValidateImageID validates an image uuid.
func ValidateImageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid image uuid format")
	}
	return nil
}

// ValidateImageData validates the size of base64 image data.
func ValidateImageData(data string) error {
	if len(data) > maxImageBytes {
		return errors.New("image data exceeds maximum size")
	}
	return nil
}
