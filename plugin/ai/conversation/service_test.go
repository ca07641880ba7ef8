package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
	storetest "github.com/dx-tooling/sitebuilder-webapp-sub000/store/test"
)

func newFakeClock() *clock.Fake {
	return clock.NewFake(time.Unix(storetest.Now(), 0))
}

func TestStart(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	svc := NewService(ts, newFakeClock())

	workspace, err := ts.CreateWorkspace(ctx, &store.Workspace{Name: "shop", CreatedTs: storetest.Now(), UpdatedTs: storetest.Now()})
	require.NoError(t, err)

	conversation, err := svc.Start(ctx, 7, workspace.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ConversationStatusOngoing, conversation.Status)
	assert.Equal(t, int32(7), conversation.OwnerID)
	assert.NotEmpty(t, conversation.UID)
	assert.Nil(t, conversation.LastActivityTs)

	t.Run("workspace is claimed", func(t *testing.T) {
		got, err := ts.GetWorkspace(ctx, &store.FindWorkspace{ID: &workspace.ID})
		require.NoError(t, err)
		assert.Equal(t, store.WorkspaceStatusInConversation, got.Status)

		_, err = svc.Start(ctx, 8, workspace.ID)
		assert.True(t, errors.Is(err, ErrWorkspaceBusy))
	})

	t.Run("unknown workspace", func(t *testing.T) {
		_, err := svc.Start(ctx, 7, 424242)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	fake := newFakeClock()
	svc := NewService(ts, fake)
	_, conversation := storetest.CreateTestingConversation(ctx, t, ts, 1, storetest.Now())

	t.Run("records activity", func(t *testing.T) {
		fake.Advance(30 * time.Second)
		require.NoError(t, svc.Heartbeat(ctx, 1, conversation.ID))

		got, err := svc.Get(ctx, 1, conversation.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastActivityTs)
		assert.Equal(t, fake.Now().Unix(), *got.LastActivityTs)
	})

	t.Run("activity never moves backwards", func(t *testing.T) {
		latest := fake.Now().Unix()
		require.NoError(t, ts.TouchConversation(ctx, &store.TouchConversation{ID: conversation.ID, ActivityTs: latest - 60}))

		got, err := svc.Get(ctx, 1, conversation.ID)
		require.NoError(t, err)
		assert.Equal(t, latest, *got.LastActivityTs)
	})

	t.Run("not found", func(t *testing.T) {
		err := svc.Heartbeat(ctx, 1, 999)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("not owner", func(t *testing.T) {
		err := svc.Heartbeat(ctx, 2, conversation.ID)
		assert.True(t, errors.Is(err, ErrPermissionDenied))
	})

	t.Run("not ongoing", func(t *testing.T) {
		released, err := ts.ReleaseConversation(ctx, &store.ReleaseConversation{ID: conversation.ID, UpdatedTs: fake.Now().Unix()})
		require.NoError(t, err)
		require.True(t, released)

		err = svc.Heartbeat(ctx, 1, conversation.ID)
		assert.True(t, errors.Is(err, ErrNotOngoing))
	})
}
