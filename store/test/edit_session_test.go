package test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

func createTestingEditSession(ctx context.Context, t *testing.T, ts *store.Store, conversationID int32) *store.EditSession {
	t.Helper()
	session, err := ts.CreateEditSession(ctx, &store.EditSession{
		ConversationID: conversationID,
		Instruction:    "make the header blue",
		CreatedTs:      Now(),
		UpdatedTs:      Now(),
	})
	require.NoError(t, err)
	return session
}

func TestEditSessionStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	_, conversation := CreateTestingConversation(ctx, t, ts, 1, Now())

	session := createTestingEditSession(ctx, t, ts, conversation.ID)
	assert.Equal(t, store.EditSessionStatusPending, session.Status)

	t.Run("only one active session per conversation", func(t *testing.T) {
		_, err := ts.CreateEditSession(ctx, &store.EditSession{ConversationID: conversation.ID, Instruction: "again", CreatedTs: Now(), UpdatedTs: Now()})
		assert.True(t, errors.Is(err, store.ErrConflict))
	})

	t.Run("compare and set", func(t *testing.T) {
		running := store.EditSessionStatusRunning
		updated, err := ts.UpdateEditSession(ctx, &store.UpdateEditSession{
			ID:             session.ID,
			Status:         &running,
			FromStatusList: []store.EditSessionStatus{store.EditSessionStatusPending},
		})
		require.NoError(t, err)
		assert.Equal(t, store.EditSessionStatusRunning, updated.Status)

		_, err = ts.UpdateEditSession(ctx, &store.UpdateEditSession{
			ID:             session.ID,
			Status:         &running,
			FromStatusList: []store.EditSessionStatus{store.EditSessionStatusPending},
		})
		assert.True(t, errors.Is(err, store.ErrTransitionRejected))

		_, err = ts.UpdateEditSession(ctx, &store.UpdateEditSession{ID: 4242, Status: &running})
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("cancel flag", func(t *testing.T) {
		flag := true
		updated, err := ts.UpdateEditSession(ctx, &store.UpdateEditSession{ID: session.ID, CancelRequested: &flag})
		require.NoError(t, err)
		assert.True(t, updated.CancelRequested)
	})

	t.Run("latest session", func(t *testing.T) {
		latest, err := ts.GetEditSession(ctx, &store.FindEditSession{ConversationID: &conversation.ID, Latest: true})
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, session.ID, latest.ID)
	})
}

func TestEditSessionChunkStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	_, conversation := CreateTestingConversation(ctx, t, ts, 1, Now())
	session := createTestingEditSession(ctx, t, ts, conversation.ID)

	running := store.EditSessionStatusRunning
	_, err := ts.UpdateEditSession(ctx, &store.UpdateEditSession{ID: session.ID, Status: &running})
	require.NoError(t, err)

	var ids []int64
	for _, chunkType := range []store.EditSessionChunkType{
		store.EditSessionChunkTypeEvent,
		store.EditSessionChunkTypeText,
		store.EditSessionChunkTypeProgress,
		store.EditSessionChunkTypeText,
	} {
		chunk, err := ts.AppendEditSessionChunk(ctx, &store.EditSessionChunk{
			SessionID: session.ID,
			ChunkType: chunkType,
			Payload:   `{}`,
			CreatedTs: Now(),
		})
		require.NoError(t, err)
		ids = append(ids, chunk.ID)
	}
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}

	t.Run("read after cursor", func(t *testing.T) {
		after := ids[1]
		list, err := ts.ListEditSessionChunks(ctx, &store.FindEditSessionChunk{SessionID: &session.ID, AfterID: &after})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, ids[2], list[0].ID)
		assert.Equal(t, ids[3], list[1].ID)
	})

	t.Run("filter by type and conversation", func(t *testing.T) {
		list, err := ts.ListEditSessionChunks(ctx, &store.FindEditSessionChunk{
			ConversationID: &conversation.ID,
			ChunkTypeList:  []store.EditSessionChunkType{store.EditSessionChunkTypeText},
		})
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("done cannot be appended directly", func(t *testing.T) {
		_, err := ts.AppendEditSessionChunk(ctx, &store.EditSessionChunk{SessionID: session.ID, ChunkType: store.EditSessionChunkTypeDone, Payload: `{}`})
		assert.True(t, errors.Is(err, store.ErrInvalidChunk))
	})

	t.Run("seal rejects wrong source status", func(t *testing.T) {
		_, err := ts.SealEditSession(ctx, &store.SealEditSession{
			SessionID:      session.ID,
			FromStatusList: []store.EditSessionStatus{store.EditSessionStatusCancelling},
			Status:         store.EditSessionStatusCancelled,
			Payload:        `{"success":false}`,
			Ts:             Now(),
		})
		assert.True(t, errors.Is(err, store.ErrTransitionRejected))

		got, err := ts.GetEditSession(ctx, &store.FindEditSession{ID: &session.ID})
		require.NoError(t, err)
		assert.Equal(t, store.EditSessionStatusRunning, got.Status)
	})

	t.Run("seal writes done and terminal status together", func(t *testing.T) {
		done, err := ts.SealEditSession(ctx, &store.SealEditSession{
			SessionID:      session.ID,
			FromStatusList: []store.EditSessionStatus{store.EditSessionStatusRunning},
			Status:         store.EditSessionStatusCompleted,
			Payload:        `{"success":true}`,
			Ts:             Now(),
		})
		require.NoError(t, err)
		assert.Greater(t, done.ID, ids[len(ids)-1])

		got, err := ts.GetEditSession(ctx, &store.FindEditSession{ID: &session.ID})
		require.NoError(t, err)
		assert.Equal(t, store.EditSessionStatusCompleted, got.Status)

		_, err = ts.AppendEditSessionChunk(ctx, &store.EditSessionChunk{SessionID: session.ID, ChunkType: store.EditSessionChunkTypeText, Payload: `{}`, CreatedTs: Now()})
		assert.True(t, errors.Is(err, store.ErrChunkLogSealed))

		_, err = ts.SealEditSession(ctx, &store.SealEditSession{SessionID: session.ID, Status: store.EditSessionStatusFailed, Payload: `{}`, Ts: Now()})
		assert.True(t, errors.Is(err, store.ErrChunkLogSealed))

		all, err := ts.ListEditSessionChunks(ctx, &store.FindEditSessionChunk{SessionID: &session.ID})
		require.NoError(t, err)
		assert.Equal(t, store.EditSessionChunkTypeDone, all[len(all)-1].ChunkType)
	})
}
