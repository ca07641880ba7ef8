// Package conversation manages the lifecycle of conversations: starting one
// on a workspace, keeping it alive with heartbeats and reclaiming it once its
// owner went quiet.
package conversation

import (
	"context"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

var (
	// ErrNotFound is returned for unknown conversations or workspaces.
	ErrNotFound = errors.New("conversation not found")
	// ErrPermissionDenied is returned when the caller does not own the conversation.
	ErrPermissionDenied = errors.New("conversation belongs to another user")
	// ErrNotOngoing is returned when the conversation was already finished.
	ErrNotOngoing = errors.New("conversation is not ongoing")
	// ErrWorkspaceBusy is returned when another conversation holds the workspace.
	ErrWorkspaceBusy = errors.New("workspace is in another conversation")
)

type Service struct {
	store *store.Store
	clock clock.Clock
}

func NewService(s *store.Store, c clock.Clock) *Service {
	return &Service{store: s, clock: c}
}

// Start opens an Ongoing conversation for ownerID on an available workspace.
func (s *Service) Start(ctx context.Context, ownerID, workspaceID int32) (*store.Conversation, error) {
	workspace, err := s.store.GetWorkspace(ctx, &store.FindWorkspace{ID: &workspaceID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get workspace")
	}
	if workspace == nil {
		return nil, errors.Wrapf(ErrNotFound, "workspace %d", workspaceID)
	}

	now := s.clock.Now().Unix()
	conversation, err := s.store.CreateConversation(ctx, &store.Conversation{
		UID:         shortuuid.New(),
		WorkspaceID: workspaceID,
		OwnerID:     ownerID,
		CreatedTs:   now,
		UpdatedTs:   now,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, errors.Wrapf(ErrWorkspaceBusy, "workspace %d", workspaceID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create conversation")
	}
	return conversation, nil
}

// Get returns the conversation if userID owns it.
func (s *Service) Get(ctx context.Context, userID, id int32) (*store.Conversation, error) {
	conversation, err := s.store.GetConversation(ctx, &store.FindConversation{ID: &id})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get conversation")
	}
	if conversation == nil {
		return nil, errors.Wrapf(ErrNotFound, "conversation %d", id)
	}
	if conversation.OwnerID != userID {
		return nil, errors.Wrapf(ErrPermissionDenied, "conversation %d", id)
	}
	return conversation, nil
}

// GetOngoing is Get restricted to Ongoing conversations.
func (s *Service) GetOngoing(ctx context.Context, userID, id int32) (*store.Conversation, error) {
	conversation, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if conversation.Status != store.ConversationStatusOngoing {
		return nil, errors.Wrapf(ErrNotOngoing, "conversation %d", id)
	}
	return conversation, nil
}

// Heartbeat records that the owner still has the conversation open.
func (s *Service) Heartbeat(ctx context.Context, userID, id int32) error {
	conversation, err := s.GetOngoing(ctx, userID, id)
	if err != nil {
		return err
	}
	err = s.store.TouchConversation(ctx, &store.TouchConversation{
		ID:         conversation.ID,
		ActivityTs: s.clock.Now().Unix(),
	})
	// The reaper may finish the conversation between the read and the touch.
	if errors.Is(err, store.ErrTransitionRejected) {
		return errors.Wrapf(ErrNotOngoing, "conversation %d", id)
	}
	return err
}
