// Package session drives edit sessions from submission to a terminal state
// and serves their chunk logs to polling clients.
package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

// transitions lists, for every non-terminal status, where it may go next.
// Terminal statuses have no outgoing transitions.
var transitions = map[store.EditSessionStatus][]store.EditSessionStatus{
	store.EditSessionStatusPending:    {store.EditSessionStatusRunning, store.EditSessionStatusCancelling},
	store.EditSessionStatusRunning:    {store.EditSessionStatusCompleted, store.EditSessionStatusFailed, store.EditSessionStatusCancelled},
	store.EditSessionStatusCancelling: {store.EditSessionStatusCancelled},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to store.EditSessionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf returns the statuses from which to is reachable.
func SourcesOf(to store.EditSessionStatus) []store.EditSessionStatus {
	var sources []store.EditSessionStatus
	for _, from := range []store.EditSessionStatus{
		store.EditSessionStatusPending,
		store.EditSessionStatusRunning,
		store.EditSessionStatusCancelling,
	} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// StateMachine applies non-terminal transitions as compare-and-set updates.
// Terminal transitions go through chunklog.Log.Seal so the Done chunk and the
// status change land together.
type StateMachine struct {
	store *store.Store
	clock clock.Clock
}

func NewStateMachine(s *store.Store, c clock.Clock) *StateMachine {
	return &StateMachine{store: s, clock: c}
}

// Transition moves the session to a non-terminal status. It fails with
// store.ErrTransitionRejected when the session is no longer in a status the
// transition starts from.
func (m *StateMachine) Transition(ctx context.Context, id int32, to store.EditSessionStatus) (*store.EditSession, error) {
	if to.IsTerminal() {
		return nil, errors.Errorf("terminal status %s must be reached by sealing the chunk log", to)
	}
	from := SourcesOf(to)
	if len(from) == 0 {
		return nil, errors.Wrapf(store.ErrTransitionRejected, "no transition leads to %s", to)
	}
	now := m.clock.Now().Unix()
	session, err := m.store.UpdateEditSession(ctx, &store.UpdateEditSession{
		ID:             id,
		Status:         &to,
		FromStatusList: from,
		UpdatedTs:      &now,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to move edit session %d to %s", id, to)
	}
	return session, nil
}
