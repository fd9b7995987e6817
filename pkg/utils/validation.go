package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinRoomNameLength = 1
	MaxRoomNameLength = 64
	MaxMessageLength  = 8192
)

// ValidateRoomName checks a display name for a new room.
// Rules: 1-64 characters after trimming, no control characters.
func ValidateRoomName(name string) error {
	name = strings.TrimSpace(name)

	if utf8.RuneCountInString(name) < MinRoomNameLength {
		return &ValidationError{Field: "name", Message: "Room name is required"}
	}

	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return &ValidationError{Field: "name", Message: "Room name must be at most 64 characters"}
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return &ValidationError{Field: "name", Message: "Room name cannot contain control characters"}
		}
	}

	return nil
}

// ValidateMessageText checks outgoing message text.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: "text", Message: "Message text is required"}
	}
	if len(text) > MaxMessageLength {
		return &ValidationError{Field: "text", Message: "Message text is too long"}
	}
	return nil
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
