package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/cache"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/chunklog"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
	storetest "github.com/dx-tooling/sitebuilder-webapp-sub000/store/test"
)

type usageFixture struct {
	store          *store.Store
	log            *chunklog.Log
	conversationID int32
}

func newUsageFixture(t *testing.T) *usageFixture {
	t.Helper()
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	_, conversation := storetest.CreateTestingConversation(ctx, t, ts, 1, storetest.Now())
	return &usageFixture{
		store:          ts,
		log:            chunklog.NewLog(ts, clock.NewFake(time.Unix(storetest.Now(), 0))),
		conversationID: conversation.ID,
	}
}

func (f *usageFixture) runningSession(t *testing.T, instruction string) int32 {
	t.Helper()
	session, err := f.store.CreateEditSession(context.Background(), &store.EditSession{
		ConversationID: f.conversationID,
		Instruction:    instruction,
		Status:         store.EditSessionStatusRunning,
		CreatedTs:      storetest.Now(),
		UpdatedTs:      storetest.Now(),
	})
	require.NoError(t, err)
	return session.ID
}

func (f *usageFixture) toolTraffic(t *testing.T, sessionID int32) {
	t.Helper()
	ctx := context.Background()
	w := f.log.Writer(sessionID)
	require.NoError(t, w.Event(ctx, chunklog.EventPayload{Kind: chunklog.EventKindInferenceStart}))
	require.NoError(t, w.Event(ctx, chunklog.EventPayload{
		Kind:       chunklog.EventKindToolCalled,
		ToolName:   "read_file",
		ToolInputs: []chunklog.ToolInput{{Key: "path", Value: "index.html"}},
		ToolResult: "<html><body><h1>Welcome to the shop</h1></body></html>",
	}))
	require.NoError(t, w.Text(ctx, "I updated the heading."))
}

func newTestingService(f *usageFixture, costs cache.Cache) *Service {
	return NewService(f.store, TokenizerFunc(EstimateByLength), costs, Config{
		ModelName:          "gpt-4o-mini",
		MaxTokens:          128000,
		SystemPromptTokens: 1500,
		Pricing:            Pricing{InputPerMillion: 0.15, OutputPerMillion: 0.60},
	})
}

func newCostCache(t *testing.T) *cache.Service {
	t.Helper()
	costs := cache.NewService(cache.Config{Capacity: 10, DefaultTTL: time.Hour, CleanupInterval: time.Hour}, nil)
	t.Cleanup(costs.Close)
	return costs
}

func int32Ptr(v int32) *int32 {
	return &v
}

func TestSnapshot_ActiveSessionOnlyCountsWhileRunning(t *testing.T) {
	ctx := context.Background()
	f := newUsageFixture(t)

	_, err := f.store.CreateConversationMessages(ctx, f.conversationID, []*store.ConversationMessage{
		{UID: "m1", Role: store.ConversationMessageRoleUser, Content: `{"content":"make the heading blue"}`, CreatedTs: storetest.Now()},
		{UID: "m2", Role: store.ConversationMessageRoleAssistant, Content: `{"content":"The heading is blue now."}`, CreatedTs: storetest.Now()},
	})
	require.NoError(t, err)

	completedID := f.runningSession(t, "make the heading blue")
	f.toolTraffic(t, completedID)
	_, err = f.log.Seal(ctx, completedID, []store.EditSessionStatus{store.EditSessionStatusRunning}, store.EditSessionStatusCompleted, chunklog.DonePayload{Success: true})
	require.NoError(t, err)

	runningID := f.runningSession(t, "add a footer")
	f.toolTraffic(t, runningID)

	svc := newTestingService(f, newCostCache(t))

	none, err := svc.Snapshot(ctx, f.conversationID, nil)
	require.NoError(t, err)
	running, err := svc.Snapshot(ctx, f.conversationID, int32Ptr(runningID))
	require.NoError(t, err)
	completed, err := svc.Snapshot(ctx, f.conversationID, int32Ptr(completedID))
	require.NoError(t, err)

	t.Run("cost does not depend on the active session", func(t *testing.T) {
		assert.Greater(t, none.TotalCost, 0.0)
		assert.Equal(t, none.TotalCost, running.TotalCost)
		assert.Equal(t, none.TotalCost, completed.TotalCost)
		assert.InDelta(t, none.InputCost+none.OutputCost, none.TotalCost, 1e-12)
	})

	t.Run("only a non-terminal session adds its tool traffic", func(t *testing.T) {
		assert.Greater(t, running.UsedTokens, none.UsedTokens)
		assert.Equal(t, none.UsedTokens, completed.UsedTokens)
	})

	t.Run("static fields", func(t *testing.T) {
		assert.Equal(t, 128000, none.MaxTokens)
		assert.Equal(t, "gpt-4o-mini", none.ModelName)
		assert.GreaterOrEqual(t, none.UsedTokens, 1500)
	})

	t.Run("unknown session is ignored", func(t *testing.T) {
		other, err := svc.Snapshot(ctx, f.conversationID, int32Ptr(9999))
		require.NoError(t, err)
		assert.Equal(t, none.UsedTokens, other.UsedTokens)
	})
}

func TestSnapshot_CostNeverDecreases(t *testing.T) {
	ctx := context.Background()
	f := newUsageFixture(t)
	svc := newTestingService(f, newCostCache(t))

	sessionID := f.runningSession(t, "add a contact form")
	f.toolTraffic(t, sessionID)
	during, err := svc.Snapshot(ctx, f.conversationID, int32Ptr(sessionID))
	require.NoError(t, err)

	_, err = f.log.Seal(ctx, sessionID, []store.EditSessionStatus{store.EditSessionStatusRunning}, store.EditSessionStatusCancelled, chunklog.DonePayload{ErrorMessage: chunklog.MessageCancelledByUser})
	require.NoError(t, err)
	after, err := svc.Snapshot(ctx, f.conversationID, int32Ptr(sessionID))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, after.TotalCost, during.TotalCost)
	assert.Less(t, after.UsedTokens, during.UsedTokens)
}

func TestSnapshot_TerminalCostsAreCached(t *testing.T) {
	ctx := context.Background()
	f := newUsageFixture(t)
	costs := newCostCache(t)

	sessionID := f.runningSession(t, "rename the page")
	f.toolTraffic(t, sessionID)
	_, err := f.log.Seal(ctx, sessionID, []store.EditSessionStatus{store.EditSessionStatusRunning}, store.EditSessionStatusCompleted, chunklog.DonePayload{Success: true})
	require.NoError(t, err)

	calls := 0
	svc := NewService(f.store, TokenizerFunc(func(text string) int {
		calls++
		return EstimateByLength(text)
	}), costs, Config{Pricing: Pricing{InputPerMillion: 1, OutputPerMillion: 2}})

	first, err := svc.Snapshot(ctx, f.conversationID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, costs.Len())
	countedFirst := calls

	second, err := svc.Snapshot(ctx, f.conversationID, nil)
	require.NoError(t, err)
	assert.Equal(t, first.TotalCost, second.TotalCost)
	assert.Less(t, calls-countedFirst, countedFirst, "cached sessions are not tokenized again")
}

func TestSnapshot_RunningSessionIsNotCached(t *testing.T) {
	ctx := context.Background()
	f := newUsageFixture(t)
	costs := newCostCache(t)
	svc := newTestingService(f, costs)

	sessionID := f.runningSession(t, "add a blog page")
	f.toolTraffic(t, sessionID)
	first, err := svc.Snapshot(ctx, f.conversationID, int32Ptr(sessionID))
	require.NoError(t, err)

	require.NoError(t, f.log.Writer(sessionID).Text(ctx, " And I added a second paragraph to the page."))
	second, err := svc.Snapshot(ctx, f.conversationID, int32Ptr(sessionID))
	require.NoError(t, err)
	assert.Greater(t, second.OutputTokens, first.OutputTokens)
	assert.Equal(t, 0, costs.Len())
}

func TestSnapshot_TokenizesEachChunkOnce(t *testing.T) {
	ctx := context.Background()
	f := newUsageFixture(t)

	sessionID := f.runningSession(t, "add a pricing table")
	f.toolTraffic(t, sessionID)
	chunks, err := f.store.ListEditSessionChunks(ctx, &store.FindEditSessionChunk{
		SessionID:     &sessionID,
		ChunkTypeList: []store.EditSessionChunkType{store.EditSessionChunkTypeEvent},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	counted := map[string]int{}
	svc := NewService(f.store, TokenizerFunc(func(text string) int {
		counted[text]++
		return EstimateByLength(text)
	}), newCostCache(t), Config{SystemPromptTokens: 100, Pricing: Pricing{InputPerMillion: 1, OutputPerMillion: 2}})

	snapshot, err := svc.Snapshot(ctx, f.conversationID, int32Ptr(sessionID))
	require.NoError(t, err)

	events := 0
	for _, c := range chunks {
		assert.Equal(t, 1, counted[c.Payload])
		events += EstimateByLength(c.Payload)
	}
	assert.Equal(t, 1, counted["add a pricing table"])
	assert.Equal(t, 1, counted["I updated the heading."])
	assert.Equal(t, 100+events, snapshot.UsedTokens)
}

func TestService_ConversationReleased(t *testing.T) {
	ctx := context.Background()
	f := newUsageFixture(t)
	costs := newCostCache(t)
	svc := newTestingService(f, costs)

	sessionID := f.runningSession(t, "add an about page")
	_, err := f.log.Seal(ctx, sessionID, []store.EditSessionStatus{store.EditSessionStatusRunning}, store.EditSessionStatusCompleted, chunklog.DonePayload{Success: true})
	require.NoError(t, err)
	require.NoError(t, costs.Set(ctx, "conversation:999:session:1", []byte(`{"input":1,"output":1}`), 0))

	_, err = svc.Snapshot(ctx, f.conversationID, nil)
	require.NoError(t, err)
	require.Equal(t, 2, costs.Len())

	svc.ConversationReleased(ctx, f.conversationID)
	assert.Equal(t, 1, costs.Len())
	_, ok := costs.Get(ctx, "conversation:999:session:1")
	assert.True(t, ok)
}
