package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/agent"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/chunklog"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

type countingHandler struct {
	mu      sync.Mutex
	ran     []int32
	current atomic.Int32
	peak    atomic.Int32
	release chan struct{}
}

func (h *countingHandler) Run(ctx context.Context, sessionID int32) error {
	n := h.current.Add(1)
	defer h.current.Add(-1)
	for {
		peak := h.peak.Load()
		if n <= peak || h.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-h.release:
	case <-ctx.Done():
	}
	h.mu.Lock()
	h.ran = append(h.ran, sessionID)
	h.mu.Unlock()
	return nil
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	handler := &countingHandler{release: make(chan struct{})}
	runner := NewRunner(handler, 2)

	for id := int32(1); id <= 5; id++ {
		runner.Enqueue(id)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), handler.peak.Load())

	close(handler.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Shutdown(ctx))
	assert.ElementsMatch(t, []int32{1, 2, 3, 4, 5}, handler.ran)
	assert.LessOrEqual(t, handler.peak.Load(), int32(2))
}

func TestRunner_ShutdownDeadlineCancelsSessions(t *testing.T) {
	handler := &countingHandler{release: make(chan struct{})}
	runner := NewRunner(handler, 1)
	runner.Enqueue(1)
	runner.Enqueue(2)
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := runner.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// Session 2 never got a slot.
	assert.Equal(t, []int32{1}, handler.ran)
}

func TestRunner_ExecutesSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	runner := NewRunner(f.handler(editTurn()), 2)
	svc := f.service(runner)

	session, err := svc.Submit(ctx, ownerID, f.conversationID, "change the heading")
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Shutdown(shutdownCtx))

	assert.Equal(t, store.EditSessionStatusCompleted, f.session(t, session.ID).Status)
}

func TestRecover(t *testing.T) {
	ctx := context.Background()

	t.Run("running session is failed", func(t *testing.T) {
		f := newFixture(t)
		id := f.pendingSession(t, "change the heading")
		_, err := NewStateMachine(f.store, f.clock).Transition(ctx, id, store.EditSessionStatusRunning)
		require.NoError(t, err)
		require.NoError(t, f.log.Writer(id).Text(ctx, "partial"))

		queue := &recordingQueue{}
		report, err := f.handler(editTurn()).Recover(ctx, queue)
		require.NoError(t, err)
		assert.Equal(t, &RecoveryReport{Failed: 1}, report)
		assert.Empty(t, queue.IDs())
		assert.Equal(t, store.EditSessionStatusFailed, f.session(t, id).Status)
		assert.Equal(t, chunklog.MessageInterruptedByRestart, f.lastDone(t, id).ErrorMessage)
	})

	t.Run("running session with a cancel request is cancelled", func(t *testing.T) {
		f := newFixture(t)
		id := f.pendingSession(t, "change the heading")
		_, err := NewStateMachine(f.store, f.clock).Transition(ctx, id, store.EditSessionStatusRunning)
		require.NoError(t, err)
		_, err = f.coordinator.RequestCancel(ctx, id)
		require.NoError(t, err)

		report, err := f.handler(editTurn()).Recover(ctx, &recordingQueue{})
		require.NoError(t, err)
		assert.Equal(t, &RecoveryReport{Cancelled: 1}, report)
		assert.Equal(t, chunklog.MessageCancelledByUser, f.lastDone(t, id).ErrorMessage)
	})

	t.Run("cancelling session is cancelled", func(t *testing.T) {
		f := newFixture(t)
		id := f.pendingSession(t, "change the heading")
		_, err := f.coordinator.RequestCancel(ctx, id)
		require.NoError(t, err)

		report, err := f.handler(editTurn()).Recover(ctx, &recordingQueue{})
		require.NoError(t, err)
		assert.Equal(t, &RecoveryReport{Cancelled: 1}, report)
		assert.Equal(t, store.EditSessionStatusCancelled, f.session(t, id).Status)
		assert.Equal(t, chunklog.MessageCancelledBeforeStart, f.lastDone(t, id).ErrorMessage)
	})

	t.Run("pending session is requeued", func(t *testing.T) {
		f := newFixture(t)
		id := f.pendingSession(t, "change the heading")

		queue := &recordingQueue{}
		report, err := f.handler(&agent.ScriptedLoop{}).Recover(ctx, queue)
		require.NoError(t, err)
		assert.Equal(t, &RecoveryReport{Requeued: 1}, report)
		assert.Equal(t, []int32{id}, queue.IDs())
		assert.Equal(t, store.EditSessionStatusPending, f.session(t, id).Status)
	})
}
