package store

import "errors"

var (
	// ErrNotFound is returned when an update targets a row that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransitionRejected is returned when a compare-and-set status update
	// finds the row in a status outside the expected list.
	ErrTransitionRejected = errors.New("status transition rejected")
	// ErrChunkLogSealed is returned when appending to a session that already has a Done chunk.
	ErrChunkLogSealed = errors.New("chunk log is sealed")
	// ErrInvalidChunk is returned for chunk writes that bypass the dedicated path.
	ErrInvalidChunk = errors.New("invalid chunk write")
	// ErrConflict is returned when a uniqueness rule rejects the write, e.g. a
	// second non-terminal session for a conversation or a busy workspace.
	ErrConflict = errors.New("conflict")
)
