package test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

func TestConversationStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	now := Now()

	workspace, conversation := CreateTestingConversation(ctx, t, ts, 7, now)
	assert.NotZero(t, conversation.ID)
	assert.Equal(t, store.ConversationStatusOngoing, conversation.Status)
	assert.Nil(t, conversation.LastActivityTs)

	claimed, err := ts.GetWorkspace(ctx, &store.FindWorkspace{ID: &workspace.ID})
	require.NoError(t, err)
	assert.Equal(t, store.WorkspaceStatusInConversation, claimed.Status)

	t.Run("busy workspace cannot be claimed twice", func(t *testing.T) {
		_, err := ts.CreateConversation(ctx, &store.Conversation{
			UID:         "second",
			WorkspaceID: workspace.ID,
			OwnerID:     7,
			CreatedTs:   now,
			UpdatedTs:   now,
		})
		assert.True(t, errors.Is(err, store.ErrConflict))
	})

	t.Run("touch never moves activity backwards", func(t *testing.T) {
		require.NoError(t, ts.TouchConversation(ctx, &store.TouchConversation{ID: conversation.ID, ActivityTs: now + 20}))
		require.NoError(t, ts.TouchConversation(ctx, &store.TouchConversation{ID: conversation.ID, ActivityTs: now + 10}))

		got, err := ts.GetConversation(ctx, &store.FindConversation{ID: &conversation.ID})
		require.NoError(t, err)
		require.NotNil(t, got.LastActivityTs)
		assert.Equal(t, now+20, *got.LastActivityTs)
		assert.Equal(t, now+20, got.ActivityTs())
	})

	t.Run("touch unknown conversation", func(t *testing.T) {
		err := ts.TouchConversation(ctx, &store.TouchConversation{ID: 9999, ActivityTs: now})
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("stale filter uses activity timestamp", func(t *testing.T) {
		cutoff := now + 15
		list, err := ts.ListConversations(ctx, &store.FindConversation{ID: &conversation.ID, ActiveBefore: &cutoff})
		require.NoError(t, err)
		assert.Empty(t, list)

		cutoff = now + 21
		list, err = ts.ListConversations(ctx, &store.FindConversation{ID: &conversation.ID, ActiveBefore: &cutoff})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("release guarded by staleness", func(t *testing.T) {
		staleBefore := now + 20
		released, err := ts.ReleaseConversation(ctx, &store.ReleaseConversation{ID: conversation.ID, StaleBefore: &staleBefore, UpdatedTs: now + 30})
		require.NoError(t, err)
		assert.False(t, released)

		staleBefore = now + 25
		released, err = ts.ReleaseConversation(ctx, &store.ReleaseConversation{ID: conversation.ID, StaleBefore: &staleBefore, UpdatedTs: now + 30})
		require.NoError(t, err)
		assert.True(t, released)

		got, err := ts.GetConversation(ctx, &store.FindConversation{ID: &conversation.ID})
		require.NoError(t, err)
		assert.Equal(t, store.ConversationStatusFinished, got.Status)

		freed, err := ts.GetWorkspace(ctx, &store.FindWorkspace{ID: &workspace.ID})
		require.NoError(t, err)
		assert.Equal(t, store.WorkspaceStatusAvailable, freed.Status)

		released, err = ts.ReleaseConversation(ctx, &store.ReleaseConversation{ID: conversation.ID, UpdatedTs: now + 40})
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("touch after release is rejected", func(t *testing.T) {
		err := ts.TouchConversation(ctx, &store.TouchConversation{ID: conversation.ID, ActivityTs: now + 50})
		assert.True(t, errors.Is(err, store.ErrTransitionRejected))

		got, err := ts.GetConversation(ctx, &store.FindConversation{ID: &conversation.ID})
		require.NoError(t, err)
		assert.Equal(t, now+20, *got.LastActivityTs)
		assert.Equal(t, store.ConversationStatusFinished, got.Status)
	})
}

func TestConversationMessageStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	_, conversation := CreateTestingConversation(ctx, t, ts, 1, Now())

	first, err := ts.CreateConversationMessages(ctx, conversation.ID, []*store.ConversationMessage{
		{UID: "m1", Role: store.ConversationMessageRoleUser, Content: `{"content":"add a footer"}`, CreatedTs: Now()},
		{UID: "m2", Role: store.ConversationMessageRoleAssistant, Content: `{"content":"done"}`, CreatedTs: Now()},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int32(1), first[0].Sequence)
	assert.Equal(t, int32(2), first[1].Sequence)

	_, err = ts.CreateConversationMessages(ctx, conversation.ID, []*store.ConversationMessage{
		{UID: "m3", Role: store.ConversationMessageRoleTurnActivitySummary, Content: `{"toolCalls":[]}`, CreatedTs: Now()},
	})
	require.NoError(t, err)

	list, err := ts.ListConversationMessages(ctx, &store.FindConversationMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, m := range list {
		assert.Equal(t, int32(i+1), m.Sequence)
	}
	assert.Equal(t, store.ConversationMessageRoleTurnActivitySummary, list[2].Role)
}
