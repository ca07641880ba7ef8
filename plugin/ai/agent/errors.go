package agent

import (
	"context"
	"errors"
)

var (
	// ErrCancelled is raised by a Loop when the session was cancelled by the user.
	// It is never an execution failure.
	ErrCancelled = errors.New("cancelled by user")

	// ErrToolNotFound indicates the model asked for a tool that does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrPathOutsideWorkspace is returned by file tools for paths escaping the workspace.
	ErrPathOutsideWorkspace = errors.New("path outside workspace")

	// ErrIterationLimit is returned when the model keeps calling tools without finishing.
	ErrIterationLimit = errors.New("agent exceeded its iteration limit")
)

// CheckCancelled returns ErrCancelled if the request has been cancelled.
func CheckCancelled(ctx context.Context, req *Request) error {
	if req.IsCancelled != nil && req.IsCancelled(ctx) {
		return ErrCancelled
	}
	return nil
}

// IsCancelled reports whether err is the cancellation signal.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
