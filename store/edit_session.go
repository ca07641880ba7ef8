package store

import (
	"context"
)

type EditSessionStatus string

const (
	EditSessionStatusPending    EditSessionStatus = "PENDING"
	EditSessionStatusRunning    EditSessionStatus = "RUNNING"
	EditSessionStatusCancelling EditSessionStatus = "CANCELLING"
	EditSessionStatusCompleted  EditSessionStatus = "COMPLETED"
	EditSessionStatusFailed     EditSessionStatus = "FAILED"
	EditSessionStatusCancelled  EditSessionStatus = "CANCELLED"
)

// NonTerminalEditSessionStatuses lists the statuses a session can still leave.
var NonTerminalEditSessionStatuses = []EditSessionStatus{
	EditSessionStatusPending,
	EditSessionStatusRunning,
	EditSessionStatusCancelling,
}

func (s EditSessionStatus) IsTerminal() bool {
	switch s {
	case EditSessionStatusCompleted, EditSessionStatusFailed, EditSessionStatusCancelled:
		return true
	default:
		return false
	}
}

func (s EditSessionStatus) IsValid() bool {
	switch s {
	case EditSessionStatusPending, EditSessionStatusRunning, EditSessionStatusCancelling,
		EditSessionStatusCompleted, EditSessionStatusFailed, EditSessionStatusCancelled:
		return true
	default:
		return false
	}
}

type EditSession struct {
	ID             int32
	ConversationID int32
	Instruction    string
	Status         EditSessionStatus
	// CancelRequested is set when a cancel arrives while the session is Running.
	CancelRequested bool
	CreatedTs       int64
	UpdatedTs       int64
}

type FindEditSession struct {
	ID             *int32
	ConversationID *int32
	StatusList     []EditSessionStatus
	// Latest orders by id descending and returns one row.
	Latest bool
}

// UpdateEditSession is a compare-and-set update: when FromStatusList is set,
// the row is only updated if its current status is in the list.
type UpdateEditSession struct {
	ID              int32
	Status          *EditSessionStatus
	CancelRequested *bool
	FromStatusList  []EditSessionStatus
	UpdatedTs       *int64
}

func (s *Store) CreateEditSession(ctx context.Context, create *EditSession) (*EditSession, error) {
	if create.Status == "" {
		create.Status = EditSessionStatusPending
	}
	return s.driver.CreateEditSession(ctx, create)
}

func (s *Store) ListEditSessions(ctx context.Context, find *FindEditSession) ([]*EditSession, error) {
	return s.driver.ListEditSessions(ctx, find)
}

func (s *Store) GetEditSession(ctx context.Context, find *FindEditSession) (*EditSession, error) {
	list, err := s.ListEditSessions(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateEditSession returns ErrTransitionRejected when the compare-and-set misses
// and ErrNotFound when the session does not exist.
func (s *Store) UpdateEditSession(ctx context.Context, update *UpdateEditSession) (*EditSession, error) {
	return s.driver.UpdateEditSession(ctx, update)
}
