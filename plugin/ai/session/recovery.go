package session

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/chunklog"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

// RecoveryReport counts what Recover did with each interrupted session.
type RecoveryReport struct {
	Requeued  int
	Failed    int
	Cancelled int
}

// Recover finishes the sessions a previous process left behind. It must run
// before new sessions are accepted: Running sessions lost their worker and
// are failed, or cancelled if a cancel had been requested; Cancelling
// sessions are cancelled; Pending sessions are handed to queue.
func (h *Handler) Recover(ctx context.Context, queue Enqueuer) (*RecoveryReport, error) {
	sessions, err := h.store.ListEditSessions(ctx, &store.FindEditSession{
		StatusList: store.NonTerminalEditSessionStatuses,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list interrupted edit sessions")
	}

	report := &RecoveryReport{}
	for _, session := range sessions {
		switch session.Status {
		case store.EditSessionStatusPending:
			queue.Enqueue(session.ID)
			report.Requeued++
		case store.EditSessionStatusCancelling:
			if err := h.seal(ctx, session.ID, store.EditSessionStatusCancelling, store.EditSessionStatusCancelled,
				chunklog.DonePayload{ErrorMessage: chunklog.MessageCancelledBeforeStart}); err != nil {
				return report, err
			}
			report.Cancelled++
		case store.EditSessionStatusRunning:
			if session.CancelRequested {
				if err := h.seal(ctx, session.ID, store.EditSessionStatusRunning, store.EditSessionStatusCancelled,
					chunklog.DonePayload{ErrorMessage: chunklog.MessageCancelledByUser}); err != nil {
					return report, err
				}
				report.Cancelled++
				continue
			}
			if err := h.seal(ctx, session.ID, store.EditSessionStatusRunning, store.EditSessionStatusFailed,
				chunklog.DonePayload{ErrorMessage: chunklog.MessageInterruptedByRestart}); err != nil {
				return report, err
			}
			report.Failed++
		}
	}

	if len(sessions) > 0 {
		slog.Info("recovered interrupted edit sessions",
			"requeued", report.Requeued,
			"failed", report.Failed,
			"cancelled", report.Cancelled)
	}
	return report, nil
}
