package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

// maxCancelAttempts bounds the re-reads when a cancel races a status change.
const maxCancelAttempts = 3

// Coordinator implements cooperative cancellation. A Pending session is moved
// to Cancelling; a Running one gets its cancel flag raised, both in memory and
// in the store, and the handler observes it at its next suspension point.
type Coordinator struct {
	store   *store.Store
	machine *StateMachine
	clock   clock.Clock

	// flags holds the ids of Running sessions cancelled through this process.
	flags sync.Map
}

func NewCoordinator(s *store.Store, machine *StateMachine, c clock.Clock) *Coordinator {
	return &Coordinator{store: s, machine: machine, clock: c}
}

// RequestCancel asks the session to stop and returns its status after the
// request. Cancelling a terminal session is a no-op.
func (c *Coordinator) RequestCancel(ctx context.Context, sessionID int32) (*store.EditSession, error) {
	for attempt := 0; attempt < maxCancelAttempts; attempt++ {
		session, err := c.store.GetEditSession(ctx, &store.FindEditSession{ID: &sessionID})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get edit session %d", sessionID)
		}
		if session == nil {
			return nil, errors.Wrapf(ErrSessionNotFound, "edit session %d", sessionID)
		}

		switch session.Status {
		case store.EditSessionStatusPending:
			updated, err := c.machine.Transition(ctx, sessionID, store.EditSessionStatusCancelling)
			if errors.Is(err, store.ErrTransitionRejected) {
				// The handler picked it up in the meantime.
				continue
			}
			if err != nil {
				return nil, err
			}
			slog.Info("edit session cancelled before start", "session_id", sessionID)
			return updated, nil

		case store.EditSessionStatusRunning:
			c.flags.Store(sessionID, struct{}{})
			requested := true
			now := c.clock.Now().Unix()
			updated, err := c.store.UpdateEditSession(ctx, &store.UpdateEditSession{
				ID:              sessionID,
				CancelRequested: &requested,
				FromStatusList:  []store.EditSessionStatus{store.EditSessionStatusRunning},
				UpdatedTs:       &now,
			})
			if errors.Is(err, store.ErrTransitionRejected) {
				c.flags.Delete(sessionID)
				continue
			}
			if err != nil {
				return nil, errors.Wrapf(err, "failed to flag edit session %d for cancellation", sessionID)
			}
			slog.Info("edit session cancellation requested", "session_id", sessionID)
			return updated, nil

		default:
			// Cancelling or terminal.
			return session, nil
		}
	}
	return nil, errors.Wrapf(store.ErrTransitionRejected, "edit session %d kept changing status", sessionID)
}

// IsCancelled reports whether a cancel was requested for a Running session.
// The in-memory flag answers for this process; the stored flag covers
// requests handled by another process.
func (c *Coordinator) IsCancelled(ctx context.Context, sessionID int32) bool {
	if _, ok := c.flags.Load(sessionID); ok {
		return true
	}
	session, err := c.store.GetEditSession(ctx, &store.FindEditSession{ID: &sessionID})
	if err != nil {
		slog.Warn("failed to read cancel flag", "session_id", sessionID, "error", err)
		return false
	}
	return session != nil && session.CancelRequested
}

// Predicate binds IsCancelled to one session.
func (c *Coordinator) Predicate(sessionID int32) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		return c.IsCancelled(ctx, sessionID)
	}
}

// Forget drops the in-memory flag once the session reached a terminal state.
func (c *Coordinator) Forget(sessionID int32) {
	c.flags.Delete(sessionID)
}

// CancelConversationSessions requests cancellation of every non-terminal
// session of a conversation.
func (c *Coordinator) CancelConversationSessions(ctx context.Context, conversationID int32) error {
	sessions, err := c.store.ListEditSessions(ctx, &store.FindEditSession{
		ConversationID: &conversationID,
		StatusList:     store.NonTerminalEditSessionStatuses,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to list sessions of conversation %d", conversationID)
	}
	for _, session := range sessions {
		if _, err := c.RequestCancel(ctx, session.ID); err != nil {
			return err
		}
	}
	return nil
}
