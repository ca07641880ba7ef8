package store

import (
	"context"
)

type ConversationStatus string

const (
	ConversationStatusOngoing  ConversationStatus = "ONGOING"
	ConversationStatusFinished ConversationStatus = "FINISHED"
)

// Conversation is one user's dialogue against one workspace.
type Conversation struct {
	ID          int32
	UID         string
	WorkspaceID int32
	OwnerID     int32
	Status      ConversationStatus
	// LastActivityTs is nil until the first heartbeat arrives.
	LastActivityTs *int64
	CreatedTs      int64
	UpdatedTs      int64
}

// ActivityTs returns the timestamp used for staleness checks.
func (c *Conversation) ActivityTs() int64 {
	if c.LastActivityTs != nil {
		return *c.LastActivityTs
	}
	return c.CreatedTs
}

type FindConversation struct {
	ID          *int32
	UID         *string
	WorkspaceID *int32
	OwnerID     *int32
	Status      *ConversationStatus
	// ActiveBefore matches conversations whose activity timestamp
	// (last activity, or creation when never touched) is older than the value.
	ActiveBefore *int64
}

// TouchConversation records client activity on an Ongoing conversation. The
// stored timestamp never moves backwards.
type TouchConversation struct {
	ID         int32
	ActivityTs int64
}

// ReleaseConversation finishes an Ongoing conversation and frees its workspace.
type ReleaseConversation struct {
	ID int32
	// StaleBefore, when set, only releases the conversation if it is still stale.
	StaleBefore *int64
	UpdatedTs   int64
}

// CreateConversation claims the workspace and creates an Ongoing conversation.
// It fails with ErrConflict when the workspace is not available.
func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	if create.Status == "" {
		create.Status = ConversationStatusOngoing
	}
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

func (s *Store) GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error) {
	list, err := s.ListConversations(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// TouchConversation fails with ErrTransitionRejected once the conversation is finished.
func (s *Store) TouchConversation(ctx context.Context, touch *TouchConversation) error {
	return s.driver.TouchConversation(ctx, touch)
}

// ReleaseConversation returns false when the conversation was no longer
// releasable (already finished, or refreshed by a heartbeat after the cutoff).
func (s *Store) ReleaseConversation(ctx context.Context, release *ReleaseConversation) (bool, error) {
	return s.driver.ReleaseConversation(ctx, release)
}
