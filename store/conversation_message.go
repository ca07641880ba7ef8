package store

import (
	"context"
)

type ConversationMessageRole string

const (
	ConversationMessageRoleUser                ConversationMessageRole = "USER"
	ConversationMessageRoleAssistant           ConversationMessageRole = "ASSISTANT"
	ConversationMessageRoleTurnActivitySummary ConversationMessageRole = "TURN_ACTIVITY_SUMMARY"
)

// ConversationMessage is append-only; Sequence is assigned by the driver.
type ConversationMessage struct {
	ID             int32
	UID            string
	ConversationID int32
	Role           ConversationMessageRole
	Content        string // JSON string
	Sequence       int32
	CreatedTs      int64
}

type FindConversationMessage struct {
	ConversationID *int32
	Role           *ConversationMessageRole
}

// CreateConversationMessages appends the messages of one turn in order.
func (s *Store) CreateConversationMessages(ctx context.Context, conversationID int32, creates []*ConversationMessage) ([]*ConversationMessage, error) {
	if len(creates) == 0 {
		return nil, nil
	}
	return s.driver.CreateConversationMessages(ctx, conversationID, creates)
}

func (s *Store) ListConversationMessages(ctx context.Context, find *FindConversationMessage) ([]*ConversationMessage, error) {
	return s.driver.ListConversationMessages(ctx, find)
}
