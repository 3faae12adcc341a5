package middleware

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/capitalize-ai/inbox-console/internal/model"
)

const (
	maxChatIDLength  = 128
	maxAgentIDLength = 64
	maxTextLength    = 65536
	maxNotesLength   = 2000
)

// ValidateChatID validates a WhatsApp chat id such as 5511999999999@s.whatsapp.net.
func ValidateChatID(id string) error {
	if id == "" {
		return model.NewValidationError("chatId", "required")
	}
	if len(id) > maxChatIDLength {
		return model.NewValidationError("chatId", "exceeds maximum length")
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return model.NewValidationError("chatId", "must not contain whitespace")
	}
	return nil
}

// ValidateMessageText validates outgoing message text.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return model.NewValidationError("text", "must not be empty")
	}
	if len(text) > maxTextLength {
		return model.NewValidationError("text", "exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return model.NewValidationError("text", "must be valid UTF-8")
	}
	return nil
}

// ValidateAgentID validates an agent id. field names the request field for the error.
func ValidateAgentID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return model.NewValidationError(field, "required")
	}
	if len(id) > maxAgentIDLength {
		return model.NewValidationError(field, "exceeds maximum length")
	}
	return nil
}

// ValidateNotes validates free-form handover notes.
func ValidateNotes(notes string) error {
	if len(notes) > maxNotesLength {
		return model.NewValidationError("notes", "exceeds maximum length")
	}
	if !utf8.ValidString(notes) {
		return model.NewValidationError("notes", "must be valid UTF-8")
	}
	return nil
}
