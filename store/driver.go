package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Workspace model related methods.
	CreateWorkspace(ctx context.Context, create *Workspace) (*Workspace, error)
	ListWorkspaces(ctx context.Context, find *FindWorkspace) ([]*Workspace, error)

	// Conversation model related methods.
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	TouchConversation(ctx context.Context, touch *TouchConversation) error
	ReleaseConversation(ctx context.Context, release *ReleaseConversation) (bool, error)

	// ConversationMessage model related methods.
	CreateConversationMessages(ctx context.Context, conversationID int32, creates []*ConversationMessage) ([]*ConversationMessage, error)
	ListConversationMessages(ctx context.Context, find *FindConversationMessage) ([]*ConversationMessage, error)

	// EditSession model related methods.
	CreateEditSession(ctx context.Context, create *EditSession) (*EditSession, error)
	ListEditSessions(ctx context.Context, find *FindEditSession) ([]*EditSession, error)
	UpdateEditSession(ctx context.Context, update *UpdateEditSession) (*EditSession, error)

	// EditSessionChunk model related methods.
	AppendEditSessionChunk(ctx context.Context, create *EditSessionChunk) (*EditSessionChunk, error)
	ListEditSessionChunks(ctx context.Context, find *FindEditSessionChunk) ([]*EditSessionChunk, error)
	SealEditSession(ctx context.Context, seal *SealEditSession) (*EditSessionChunk, error)
}
