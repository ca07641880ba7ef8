package store

import (
	"context"
)

type WorkspaceStatus string

const (
	// WorkspaceStatusAvailable means no conversation currently holds the workspace.
	WorkspaceStatusAvailable WorkspaceStatus = "AVAILABLE"
	// WorkspaceStatusInConversation means an Ongoing conversation holds the workspace.
	WorkspaceStatusInConversation WorkspaceStatus = "IN_CONVERSATION"
)

type Workspace struct {
	ID        int32
	Name      string
	Status    WorkspaceStatus
	CreatedTs int64
	UpdatedTs int64
}

type FindWorkspace struct {
	ID     *int32
	Status *WorkspaceStatus
}

func (s *Store) CreateWorkspace(ctx context.Context, create *Workspace) (*Workspace, error) {
	if create.Status == "" {
		create.Status = WorkspaceStatusAvailable
	}
	return s.driver.CreateWorkspace(ctx, create)
}

func (s *Store) ListWorkspaces(ctx context.Context, find *FindWorkspace) ([]*Workspace, error) {
	return s.driver.ListWorkspaces(ctx, find)
}

func (s *Store) GetWorkspace(ctx context.Context, find *FindWorkspace) (*Workspace, error) {
	list, err := s.ListWorkspaces(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}
