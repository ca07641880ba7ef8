package session

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Enqueuer schedules a session for background execution.
type Enqueuer interface {
	Enqueue(sessionID int32)
}

// SessionRunner executes one session; *Handler implements it.
type SessionRunner interface {
	Run(ctx context.Context, sessionID int32) error
}

// Runner executes sessions on background goroutines, at most maxConcurrent
// at a time. Each session gets exactly one goroutine.
type Runner struct {
	handler SessionRunner
	sem     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(handler SessionRunner, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		handler: handler,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue starts the session once a slot is free. Sessions still waiting for
// a slot at shutdown stay Pending and are picked up by recovery.
func (r *Runner) Enqueue(sessionID int32) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			slog.Warn("edit session not started before shutdown", "session_id", sessionID)
			return
		}
		defer r.sem.Release(1)

		if err := r.handler.Run(r.ctx, sessionID); err != nil {
			slog.Error("edit session handler failed", "session_id", sessionID, "error", err)
		}
	}()
}

// Shutdown waits for running sessions. When ctx expires first, their
// contexts are cancelled and Shutdown waits for them to record the
// interruption.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
