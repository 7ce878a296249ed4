package session

import "errors"

var (
	// ErrSessionNotFound is returned when a session id matches no row.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrMessageNotFound is returned when a message id matches no row.
	ErrMessageNotFound = errors.New("session: message not found")

	// ErrInvalidRole is returned for a role outside user/assistant/system.
	ErrInvalidRole = errors.New("session: invalid role")

	// ErrNotAssistantMessage is returned when regeneration targets a message
	// that is not an assistant turn.
	ErrNotAssistantMessage = errors.New("session: regeneration target is not an assistant message")
)
