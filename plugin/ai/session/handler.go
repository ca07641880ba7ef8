package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/agent"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/chunklog"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/timeout"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

// Handler drives one edit session to a terminal state. Execution failures
// never escape Run: they end up as the Done chunk of the session.
type Handler struct {
	store         *store.Store
	log           *chunklog.Log
	machine       *StateMachine
	coordinator   *Coordinator
	loop          agent.Loop
	clock         clock.Clock
	workspaceRoot string
}

func NewHandler(s *store.Store, log *chunklog.Log, coordinator *Coordinator, loop agent.Loop, c clock.Clock, workspaceRoot string) *Handler {
	return &Handler{
		store:         s,
		log:           log,
		machine:       NewStateMachine(s, c),
		coordinator:   coordinator,
		loop:          loop,
		clock:         c,
		workspaceRoot: workspaceRoot,
	}
}

// WorkspaceDir returns the directory the agent edits for a workspace.
func (h *Handler) WorkspaceDir(workspaceID int32) string {
	return filepath.Join(h.workspaceRoot, strconv.Itoa(int(workspaceID)))
}

// Run executes the session. It returns an error only when the store could
// not record the outcome; a session that is already terminal, or running
// under another handler, is left alone.
func (h *Handler) Run(ctx context.Context, sessionID int32) error {
	session, err := h.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	started := false
	if session.Status == store.EditSessionStatusPending {
		session, err = h.machine.Transition(ctx, sessionID, store.EditSessionStatusRunning)
		switch {
		case errors.Is(err, store.ErrTransitionRejected):
			// A cancel request won the race.
			if session, err = h.getSession(ctx, sessionID); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			started = true
		}
	}

	switch {
	case session.Status == store.EditSessionStatusCancelling:
		return h.seal(ctx, sessionID, store.EditSessionStatusCancelling, store.EditSessionStatusCancelled,
			chunklog.DonePayload{ErrorMessage: chunklog.MessageCancelledBeforeStart})
	case started:
		return h.execute(ctx, session)
	default:
		slog.Debug("edit session not runnable", "session_id", sessionID, "status", session.Status)
		return nil
	}
}

func (h *Handler) getSession(ctx context.Context, sessionID int32) (*store.EditSession, error) {
	session, err := h.store.GetEditSession(ctx, &store.FindEditSession{ID: &sessionID})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get edit session %d", sessionID)
	}
	if session == nil {
		return nil, errors.Wrapf(ErrSessionNotFound, "edit session %d", sessionID)
	}
	return session, nil
}

func (h *Handler) execute(ctx context.Context, session *store.EditSession) error {
	defer h.coordinator.Forget(session.ID)
	slog.Info("edit session started", "session_id", session.ID, "conversation_id", session.ConversationID)

	// The outcome is recorded even when ctx was cancelled by a shutdown.
	sealCtx := context.WithoutCancel(ctx)
	fail := func(err error) error {
		return h.seal(sealCtx, session.ID, store.EditSessionStatusRunning, store.EditSessionStatusFailed,
			chunklog.DonePayload{ErrorMessage: err.Error()})
	}

	conversation, err := h.store.GetConversation(ctx, &store.FindConversation{ID: &session.ConversationID})
	if err != nil {
		return fail(errors.Wrap(err, "failed to load conversation"))
	}
	if conversation == nil {
		return fail(errors.Errorf("conversation %d not found", session.ConversationID))
	}
	messages, err := h.store.ListConversationMessages(ctx, &store.FindConversationMessage{ConversationID: &conversation.ID})
	if err != nil {
		return fail(errors.Wrap(err, "failed to load conversation history"))
	}
	workspaceDir := h.WorkspaceDir(conversation.WorkspaceID)
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return fail(errors.Wrap(err, "failed to prepare workspace"))
	}

	writer := h.log.Writer(session.ID)
	recorder := &activityRecorder{summary: ActivitySummary{SessionID: session.ID, Tools: []ToolActivity{}}}
	emit := func(ctx context.Context, event agent.Event) error {
		recorder.observe(event)
		return appendEvent(ctx, writer, event)
	}
	req := &agent.Request{
		SessionID:    session.ID,
		Instruction:  session.Instruction,
		History:      historyFromMessages(messages),
		WorkspaceDir: workspaceDir,
		IsCancelled:  h.coordinator.Predicate(session.ID),
	}

	result, runErr := h.runLoop(ctx, req, emit)
	switch {
	case runErr == nil:
		if err := h.persistTurn(sealCtx, conversation.ID, session.Instruction, result.Reply, recorder.summary); err != nil {
			slog.Error("failed to persist turn", "session_id", session.ID, "error", err)
			return fail(err)
		}
		return h.seal(sealCtx, session.ID, store.EditSessionStatusRunning, store.EditSessionStatusCompleted,
			chunklog.DonePayload{Success: true})
	case agent.IsCancelled(runErr):
		return h.seal(sealCtx, session.ID, store.EditSessionStatusRunning, store.EditSessionStatusCancelled,
			chunklog.DonePayload{ErrorMessage: chunklog.MessageCancelledByUser})
	case ctx.Err() != nil:
		return h.seal(sealCtx, session.ID, store.EditSessionStatusRunning, store.EditSessionStatusFailed,
			chunklog.DonePayload{ErrorMessage: chunklog.MessageInterruptedByRestart})
	default:
		slog.Warn("edit session failed", "session_id", session.ID, "error", runErr)
		return fail(runErr)
	}
}

// runLoop turns a panicking agent loop into an ordinary failure.
func (h *Handler) runLoop(ctx context.Context, req *agent.Request, emit agent.Emitter) (result *agent.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent loop panicked",
				"session_id", req.SessionID,
				"panic", r,
				"stack", string(debug.Stack()))
			result, err = nil, errors.Errorf("agent loop panicked: %v", r)
		}
	}()

	result, err = h.loop.Run(ctx, req, emit)
	if err == nil && result == nil {
		result = &agent.Result{}
	}
	return result, err
}

func appendEvent(ctx context.Context, w *chunklog.Writer, event agent.Event) error {
	switch event.Type {
	case agent.EventText:
		if event.Content == "" {
			return nil
		}
		return w.Text(ctx, event.Content)
	case agent.EventProgress:
		return w.Progress(ctx, event.Content)
	case agent.EventAgentError:
		return w.Event(ctx, chunklog.EventPayload{
			Kind:         chunklog.EventKindAgentError,
			ToolName:     event.ToolName,
			ErrorMessage: event.Content,
		})
	default:
		inputs := make([]chunklog.ToolInput, 0, len(event.ToolInputs))
		for _, in := range event.ToolInputs {
			inputs = append(inputs, chunklog.ToolInput{Key: in.Key, Value: in.Value})
		}
		return w.Event(ctx, chunklog.EventPayload{
			Kind:       chunklog.EventKind(event.Type),
			ToolName:   event.ToolName,
			ToolInputs: inputs,
			ToolResult: timeout.Truncate(event.ToolResult, timeout.MaxToolResultLength),
		})
	}
}

// persistTurn appends the messages of a completed turn.
func (h *Handler) persistTurn(ctx context.Context, conversationID int32, instruction, reply string, summary ActivitySummary) error {
	now := h.clock.Now().Unix()
	_, err := h.store.CreateConversationMessages(ctx, conversationID, []*store.ConversationMessage{
		{
			UID:       shortuuid.New(),
			Role:      store.ConversationMessageRoleUser,
			Content:   encodeContent(MessageContent{Content: instruction}),
			CreatedTs: now,
		},
		{
			UID:       shortuuid.New(),
			Role:      store.ConversationMessageRoleAssistant,
			Content:   encodeContent(MessageContent{Content: reply}),
			CreatedTs: now,
		},
		{
			UID:       shortuuid.New(),
			Role:      store.ConversationMessageRoleTurnActivitySummary,
			Content:   encodeContent(summary),
			CreatedTs: now,
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to save turn messages")
	}
	return nil
}

// seal records the outcome. Losing the race to another sealer is not an error.
func (h *Handler) seal(ctx context.Context, sessionID int32, from, to store.EditSessionStatus, done chunklog.DonePayload) error {
	_, err := h.log.Seal(ctx, sessionID, []store.EditSessionStatus{from}, to, done)
	if errors.Is(err, store.ErrTransitionRejected) || errors.Is(err, store.ErrChunkLogSealed) {
		slog.Warn("edit session already finished elsewhere", "session_id", sessionID, "status", to)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to finish edit session %d", sessionID)
	}
	slog.Info("edit session finished",
		"session_id", sessionID,
		"status", to,
		"error_message", done.ErrorMessage)
	return nil
}
