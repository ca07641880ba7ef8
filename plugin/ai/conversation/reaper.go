package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

const (
	// DefaultTimeout is how long a conversation may go without activity.
	DefaultTimeout = 5 * time.Minute
	// DefaultSweepInterval is the interval between reaper sweeps.
	DefaultSweepInterval = time.Minute
)

// ReaperConfig holds configuration for the stale conversation reaper.
type ReaperConfig struct {
	Timeout       time.Duration // inactivity after which a conversation is stale (default: 5m)
	SweepInterval time.Duration // interval between sweeps (default: 1m)
	// CancelOrphans requests cancellation of the non-terminal edit session of
	// every released conversation.
	CancelOrphans bool
}

// OrphanCanceller cancels the edit sessions still running in a released conversation.
type OrphanCanceller interface {
	CancelConversationSessions(ctx context.Context, conversationID int32) error
}

// ReleaseListener is told about every conversation the reaper finished.
type ReleaseListener interface {
	ConversationReleased(ctx context.Context, conversationID int32)
}

// Reaper finishes Ongoing conversations whose owner stopped sending
// heartbeats and releases their workspaces.
type Reaper struct {
	store     *store.Store
	clock     clock.Clock
	config    ReaperConfig
	canceller OrphanCanceller

	mu        sync.Mutex
	listeners []ReleaseListener
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewReaper creates a reaper. canceller may be nil.
func NewReaper(s *store.Store, c clock.Clock, config ReaperConfig, canceller OrphanCanceller) *Reaper {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	return &Reaper{
		store:     s,
		clock:     c,
		config:    config,
		canceller: canceller,
	}
}

// OnRelease registers a listener for released conversations.
func (r *Reaper) OnRelease(l ReleaseListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Start begins the periodic sweep in a goroutine.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.done = make(chan struct{})

	go r.run(ctx, r.stopChan, r.done)

	slog.Info("conversation reaper started",
		"timeout", r.config.Timeout,
		"interval", r.config.SweepInterval)
	return nil
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopChan)
	r.running = false
	done := r.done
	r.mu.Unlock()

	<-done
	slog.Info("conversation reaper stopped")
}

func (r *Reaper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RunOnce sweeps immediately and returns the ids of the released workspaces.
func (r *Reaper) RunOnce(ctx context.Context) ([]int32, error) {
	return r.sweep(ctx)
}

func (r *Reaper) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			released, err := r.sweep(ctx)
			if err != nil {
				slog.Error("conversation reaper sweep failed", "error", err)
			} else if len(released) > 0 {
				slog.Info("conversation reaper released workspaces", "workspace_ids", released)
			}
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) ([]int32, error) {
	now := r.clock.Now()
	cutoff := now.Add(-r.config.Timeout).Unix()
	ongoing := store.ConversationStatusOngoing

	stale, err := r.store.ListConversations(ctx, &store.FindConversation{
		Status:       &ongoing,
		ActiveBefore: &cutoff,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale conversations")
	}

	r.mu.Lock()
	listeners := append([]ReleaseListener(nil), r.listeners...)
	r.mu.Unlock()

	released := make([]int32, 0, len(stale))
	for _, conversation := range stale {
		// The release re-checks the cutoff, so a heartbeat that arrived after
		// the listing keeps the conversation alive.
		ok, err := r.store.ReleaseConversation(ctx, &store.ReleaseConversation{
			ID:          conversation.ID,
			StaleBefore: &cutoff,
			UpdatedTs:   now.Unix(),
		})
		if err != nil {
			return released, errors.Wrapf(err, "failed to release conversation %d", conversation.ID)
		}
		if !ok {
			continue
		}
		released = append(released, conversation.WorkspaceID)
		slog.Info("released stale conversation",
			"conversation_id", conversation.ID,
			"workspace_id", conversation.WorkspaceID,
			"last_activity_ts", conversation.ActivityTs())
		for _, l := range listeners {
			l.ConversationReleased(ctx, conversation.ID)
		}

		if r.config.CancelOrphans && r.canceller != nil {
			if err := r.canceller.CancelConversationSessions(ctx, conversation.ID); err != nil {
				slog.Warn("failed to cancel sessions of released conversation",
					"conversation_id", conversation.ID,
					"error", err)
			}
		}
	}
	return released, nil
}
