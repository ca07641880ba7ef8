package session

import "github.com/pkg/errors"

var (
	// ErrSessionNotFound is returned for unknown edit sessions.
	ErrSessionNotFound = errors.New("edit session not found")
	// ErrInvalidInstruction is returned for an empty or oversized instruction.
	ErrInvalidInstruction = errors.New("invalid instruction")
	// ErrSessionActive is returned when the conversation already has a non-terminal session.
	ErrSessionActive = errors.New("conversation already has an active edit session")
)
