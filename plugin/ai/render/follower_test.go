package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/chunklog"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/session"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

// fakeAPI serves a growing in-memory chunk list; every poll reveals one more chunk.
type fakeAPI struct {
	mu       sync.Mutex
	chunks   []*chunklog.Chunk
	revealed int
	polls    int
	// heartbeats counts heartbeat requests per conversation id.
	heartbeats map[string]int
}

func newFakeAPI() *fakeAPI {
	payload := func(v any) json.RawMessage {
		raw, _ := json.Marshal(v)
		return raw
	}
	return &fakeAPI{chunks: []*chunklog.Chunk{
		{ID: 3, ChunkType: store.EditSessionChunkTypeEvent, Payload: payload(chunklog.EventPayload{Kind: chunklog.EventKindInferenceStart})},
		{ID: 7, ChunkType: store.EditSessionChunkTypeText, Payload: payload(chunklog.TextPayload{Content: "Hello "})},
		{ID: 8, ChunkType: store.EditSessionChunkTypeText, Payload: payload(chunklog.TextPayload{Content: "world"})},
		{ID: 12, ChunkType: store.EditSessionChunkTypeDone, Payload: payload(chunklog.DonePayload{Success: true})},
	}, revealed: 2, heartbeats: map[string]int{}}
}

// heartbeatCount returns the heartbeats of one conversation, or of all when conversationID is empty.
func (a *fakeAPI) heartbeatCount(conversationID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if conversationID == "" {
		total := 0
		for _, n := range a.heartbeats {
			total += n
		}
		return total
	}
	return a.heartbeats[conversationID]
}

func (a *fakeAPI) handler(t *testing.T) http.Handler {
	e := echo.New()
	e.GET("/api/v1/poll/:id", func(c echo.Context) error {
		assert.Equal(t, "5", c.Request().Header.Get("X-User-ID"))
		after, err := strconv.ParseInt(c.QueryParam("after"), 10, 64)
		assert.NoError(t, err)

		a.mu.Lock()
		defer a.mu.Unlock()
		a.polls++
		result := session.PollResult{Chunks: []*chunklog.Chunk{}, LastID: after, Status: store.EditSessionStatusRunning}
		for _, chunk := range a.chunks[:a.revealed] {
			if chunk.ID > after {
				result.Chunks = append(result.Chunks, chunk)
				result.LastID = chunk.ID
			}
		}
		if a.revealed < len(a.chunks) {
			a.revealed++
		}
		return c.JSON(http.StatusOK, result)
	})
	e.GET("/api/v1/sessions/:id", func(c echo.Context) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		snapshot := session.Snapshot{ID: 1, ConversationID: 9, Status: store.EditSessionStatusRunning, Instruction: "greet", Chunks: a.chunks[:1], LastChunkID: a.chunks[0].ID}
		return c.JSON(http.StatusOK, snapshot)
	})
	e.POST("/api/v1/conversation/:id/heartbeat", func(c echo.Context) error {
		assert.Equal(t, "5", c.Request().Header.Get("X-User-ID"))
		a.mu.Lock()
		defer a.mu.Unlock()
		a.heartbeats[c.Param("id")]++
		return c.JSON(http.StatusOK, map[string]bool{"success": true})
	})
	return e
}

func TestFollower_FollowsUntilDone(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	follower := &Follower{BaseURL: srv.URL, UserID: 5, Interval: time.Millisecond}
	r := NewRenderer()
	var updates int
	err := follower.Follow(context.Background(), 1, r, func(State) { updates++ })
	require.NoError(t, err)

	state := r.State()
	assert.Equal(t, "Hello world", state.Reply)
	assert.True(t, state.Done())
	assert.Equal(t, int64(12), r.Cursor())
	assert.Greater(t, updates, 0)
	assert.Zero(t, api.heartbeatCount(""), "no conversation, no heartbeats")
}

func TestFollower_SendsHeartbeats(t *testing.T) {
	api := newFakeAPI()
	api.revealed = 1
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	follower := &Follower{
		BaseURL:           srv.URL,
		UserID:            5,
		Interval:          5 * time.Millisecond,
		ConversationID:    4,
		HeartbeatInterval: time.Millisecond,
	}
	r := NewRenderer()
	require.NoError(t, follower.Follow(context.Background(), 1, r, nil))
	require.True(t, r.State().Done())

	sent := api.heartbeatCount("4")
	assert.GreaterOrEqual(t, sent, 1)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, sent, api.heartbeatCount("4"), "heartbeats stop once following ends")
}

func TestFollower_NoHeartbeatForFinishedSession(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	r := NewRenderer()
	require.NoError(t, r.Apply(api.chunks))

	follower := &Follower{BaseURL: srv.URL, UserID: 5, ConversationID: 4}
	require.NoError(t, follower.Follow(context.Background(), 1, r, nil))
	assert.Zero(t, api.heartbeatCount("4"))
	assert.Zero(t, api.polls)
}

func TestFollower_Resume(t *testing.T) {
	api := newFakeAPI()
	api.revealed = 1
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	follower := &Follower{BaseURL: srv.URL, UserID: 5, Interval: time.Millisecond}
	r, err := follower.Resume(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "greet", r.State().Instruction)
	assert.Equal(t, "Hello world", r.State().Reply)
	assert.Len(t, r.State().Activities, 1)
	assert.GreaterOrEqual(t, api.heartbeatCount("9"), 1, "the snapshot's conversation is kept alive")
}

func TestFollower_TransportErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
		}))
		defer srv.Close()

		follower := &Follower{BaseURL: srv.URL, UserID: 5}
		err := follower.Follow(context.Background(), 1, NewRenderer(), nil)
		var transportErr *TransportError
		require.True(t, errors.As(err, &transportErr))
		assert.Equal(t, http.StatusInternalServerError, transportErr.StatusCode)
	})

	t.Run("network failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		follower := &Follower{BaseURL: url, UserID: 5}
		r := NewRenderer()
		err := follower.Follow(context.Background(), 1, r, nil)
		var transportErr *TransportError
		require.True(t, errors.As(err, &transportErr))
		assert.Zero(t, transportErr.StatusCode)
		assert.Equal(t, int64(0), r.Cursor(), "a failed poll leaves the cursor for a later resume")
	})

	t.Run("context cancelled", func(t *testing.T) {
		api := newFakeAPI()
		api.chunks = api.chunks[:1]
		srv := httptest.NewServer(api.handler(t))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		follower := &Follower{BaseURL: srv.URL, UserID: 5, Interval: 5 * time.Millisecond}
		err := follower.Follow(ctx, 1, NewRenderer(), nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
