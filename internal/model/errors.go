package model

import (
	"errors"
	"fmt"
)

// ErrChatNotFound is returned when an action targets an unknown chat.
var ErrChatNotFound = errors.New("chat not found")

// ConnectionError is a transport-level failure. It is surfaced as a connection state, not per action.
type ConnectionError struct {
	SessionID    string
	Unauthorized bool
	Err          error
}

func (e *ConnectionError) Error() string {
	if e.Unauthorized {
		return fmt.Sprintf("connection to session %s rejected: unauthorized", e.SessionID)
	}
	return fmt.Sprintf("connection to session %s failed: %v", e.SessionID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ActionFailed reports a send or ownership action whose optimistic mutation was rolled back.
type ActionFailed struct {
	Action string
	ChatID string
	Err    error
}

func (e *ActionFailed) Error() string {
	return fmt.Sprintf("%s on chat %s failed: %v", e.Action, e.ChatID, e.Err)
}

func (e *ActionFailed) Unwrap() error {
	return e.Err
}

// ValidationError rejects an action before any mutation or network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
