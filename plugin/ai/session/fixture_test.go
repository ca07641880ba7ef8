package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/agent"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/chunklog"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/conversation"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/usage"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
	storetest "github.com/dx-tooling/sitebuilder-webapp-sub000/store/test"
)

const ownerID int32 = 1

type fixture struct {
	store          *store.Store
	clock          *clock.Fake
	log            *chunklog.Log
	coordinator    *Coordinator
	conversations  *conversation.Service
	conversationID int32
	workspaceRoot  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	fake := clock.NewFake(time.Unix(storetest.Now(), 0))
	_, conv := storetest.CreateTestingConversation(ctx, t, ts, ownerID, storetest.Now())
	return &fixture{
		store:          ts,
		clock:          fake,
		log:            chunklog.NewLog(ts, fake),
		coordinator:    NewCoordinator(ts, NewStateMachine(ts, fake), fake),
		conversations:  conversation.NewService(ts, fake),
		conversationID: conv.ID,
		workspaceRoot:  t.TempDir(),
	}
}

func (f *fixture) handler(loop agent.Loop) *Handler {
	return NewHandler(f.store, f.log, f.coordinator, loop, f.clock, f.workspaceRoot)
}

func (f *fixture) service(queue Enqueuer) *Service {
	usageSvc := usage.NewService(f.store, usage.TokenizerFunc(usage.EstimateByLength), nil, usage.Config{
		ModelName:          "test-model",
		MaxTokens:          1000,
		SystemPromptTokens: 100,
		Pricing:            usage.Pricing{InputPerMillion: 1, OutputPerMillion: 2},
	})
	return NewService(f.store, f.log, f.conversations, f.coordinator, queue, usageSvc, f.clock)
}

func (f *fixture) pendingSession(t *testing.T, instruction string) int32 {
	t.Helper()
	session, err := f.store.CreateEditSession(context.Background(), &store.EditSession{
		ConversationID: f.conversationID,
		Instruction:    instruction,
		CreatedTs:      storetest.Now(),
		UpdatedTs:      storetest.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, store.EditSessionStatusPending, session.Status)
	return session.ID
}

func (f *fixture) session(t *testing.T, id int32) *store.EditSession {
	t.Helper()
	session, err := f.store.GetEditSession(context.Background(), &store.FindEditSession{ID: &id})
	require.NoError(t, err)
	require.NotNil(t, session)
	return session
}

func (f *fixture) chunks(t *testing.T, id int32) []*chunklog.Chunk {
	t.Helper()
	page, err := f.log.All(context.Background(), id)
	require.NoError(t, err)
	return page.Chunks
}

// lastDone decodes the Done payload, asserting it is the only Done chunk and the last one.
func (f *fixture) lastDone(t *testing.T, id int32) chunklog.DonePayload {
	t.Helper()
	chunks := f.chunks(t, id)
	require.NotEmpty(t, chunks)
	for _, c := range chunks[:len(chunks)-1] {
		require.False(t, c.IsDone(), "done chunk %d is not last", c.ID)
	}
	last := chunks[len(chunks)-1]
	require.True(t, last.IsDone())
	done, err := last.Done()
	require.NoError(t, err)
	return *done
}

// recordingQueue collects enqueued sessions instead of running them.
type recordingQueue struct {
	mu  sync.Mutex
	ids []int32
}

func (q *recordingQueue) Enqueue(sessionID int32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, sessionID)
}

func (q *recordingQueue) IDs() []int32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int32(nil), q.ids...)
}

func editTurn() *agent.ScriptedLoop {
	return &agent.ScriptedLoop{Iterations: []agent.ScriptedIteration{
		{ToolCalls: []agent.ScriptedToolCall{
			{Name: "read_file", Arguments: `{"path":"index.html"}`, Result: "<h1>Hello</h1>"},
			{Name: "write_file", Arguments: `{"path":"index.html","content":"<h1>Welcome</h1>"}`, Result: "updated index.html"},
		}},
		{Texts: []string{"I changed ", "the heading."}},
	}}
}
