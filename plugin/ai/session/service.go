package session

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/chunklog"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/conversation"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/usage"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

// MaxInstructionLength is the longest accepted instruction, in characters.
const MaxInstructionLength = 16000

// UsageReader computes the context usage attached to poll responses.
type UsageReader interface {
	Snapshot(ctx context.Context, conversationID int32, activeSessionID *int32) (*usage.Snapshot, error)
}

// PollResult is the response to a poll: the chunks after the cursor, the
// new cursor and the session status read before the chunks.
type PollResult struct {
	Chunks       []*chunklog.Chunk       `json:"chunks"`
	LastID       int64                   `json:"lastId"`
	Status       store.EditSessionStatus `json:"status"`
	ContextUsage *usage.Snapshot         `json:"contextUsage,omitempty"`
}

// Snapshot is everything a reloading client needs to rebuild a session and
// resume polling from LastChunkID.
type Snapshot struct {
	ID             int32                   `json:"id"`
	ConversationID int32                   `json:"conversationId"`
	Status         store.EditSessionStatus `json:"status"`
	Instruction    string                  `json:"instruction"`
	Chunks         []*chunklog.Chunk       `json:"chunks"`
	LastChunkID    int64                   `json:"lastChunkId"`
}

// Service is the user-facing API of edit sessions.
type Service struct {
	store         *store.Store
	log           *chunklog.Log
	conversations *conversation.Service
	coordinator   *Coordinator
	queue         Enqueuer
	usage         UsageReader
	clock         clock.Clock
}

func NewService(s *store.Store, log *chunklog.Log, conversations *conversation.Service, coordinator *Coordinator, queue Enqueuer, usageReader UsageReader, c clock.Clock) *Service {
	return &Service{
		store:         s,
		log:           log,
		conversations: conversations,
		coordinator:   coordinator,
		queue:         queue,
		usage:         usageReader,
		clock:         c,
	}
}

// Submit creates a Pending session for the instruction and schedules it.
func (s *Service) Submit(ctx context.Context, userID, conversationID int32, instruction string) (*store.EditSession, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, errors.Wrap(ErrInvalidInstruction, "instruction is required")
	}
	if utf8.RuneCountInString(instruction) > MaxInstructionLength {
		return nil, errors.Wrapf(ErrInvalidInstruction, "instruction exceeds %d characters", MaxInstructionLength)
	}

	conv, err := s.conversations.GetOngoing(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().Unix()
	session, err := s.store.CreateEditSession(ctx, &store.EditSession{
		ConversationID: conv.ID,
		Instruction:    instruction,
		CreatedTs:      now,
		UpdatedTs:      now,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, errors.Wrapf(ErrSessionActive, "conversation %d", conv.ID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create edit session")
	}

	s.queue.Enqueue(session.ID)
	slog.Info("edit session submitted", "session_id", session.ID, "conversation_id", conv.ID)
	return session, nil
}

// authorize loads a session the user owns through its conversation.
func (s *Service) authorize(ctx context.Context, userID, sessionID int32) (*store.EditSession, error) {
	session, err := s.store.GetEditSession(ctx, &store.FindEditSession{ID: &sessionID})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get edit session %d", sessionID)
	}
	if session == nil {
		return nil, errors.Wrapf(ErrSessionNotFound, "edit session %d", sessionID)
	}
	if _, err := s.conversations.Get(ctx, userID, session.ConversationID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return nil, errors.Wrapf(ErrSessionNotFound, "edit session %d", sessionID)
		}
		return nil, err
	}
	return session, nil
}

// Poll returns the chunks after the cursor. The status is read before the
// chunks, so a terminal status always comes with its Done chunk in the same
// or an earlier response.
func (s *Service) Poll(ctx context.Context, userID, sessionID int32, after int64) (*PollResult, error) {
	if after < 0 {
		after = 0
	}
	session, err := s.authorize(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	page, err := s.log.Read(ctx, sessionID, after)
	if err != nil {
		return nil, err
	}
	result := &PollResult{
		Chunks: page.Chunks,
		LastID: page.LastID,
		Status: session.Status,
	}

	if !session.Status.IsTerminal() && s.usage != nil {
		snapshot, err := s.usage.Snapshot(ctx, session.ConversationID, &session.ID)
		if err != nil {
			slog.Warn("failed to compute context usage", "session_id", sessionID, "error", err)
		} else {
			result.ContextUsage = snapshot
		}
	}
	return result, nil
}

// Snapshot returns the full chunk log of a session for a reloading client.
func (s *Service) Snapshot(ctx context.Context, userID, sessionID int32) (*Snapshot, error) {
	session, err := s.authorize(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, session)
}

func (s *Service) snapshot(ctx context.Context, session *store.EditSession) (*Snapshot, error) {
	page, err := s.log.All(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:             session.ID,
		ConversationID: session.ConversationID,
		Status:         session.Status,
		Instruction:    session.Instruction,
		Chunks:         page.Chunks,
		LastChunkID:    page.LastID,
	}, nil
}

// Latest returns the snapshot of the most recent session of a conversation.
func (s *Service) Latest(ctx context.Context, userID, conversationID int32) (*Snapshot, error) {
	conv, err := s.conversations.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	session, err := s.store.GetEditSession(ctx, &store.FindEditSession{ConversationID: &conv.ID, Latest: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest edit session")
	}
	if session == nil {
		return nil, errors.Wrapf(ErrSessionNotFound, "conversation %d has no edit sessions", conv.ID)
	}
	return s.snapshot(ctx, session)
}

// Cancel requests cancellation and returns the session status afterwards.
func (s *Service) Cancel(ctx context.Context, userID, sessionID int32) (store.EditSessionStatus, error) {
	if _, err := s.authorize(ctx, userID, sessionID); err != nil {
		return "", err
	}
	session, err := s.coordinator.RequestCancel(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return session.Status, nil
}

// ContextUsage returns the usage of a conversation the user owns.
func (s *Service) ContextUsage(ctx context.Context, userID, conversationID int32, activeSessionID *int32) (*usage.Snapshot, error) {
	if _, err := s.conversations.Get(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.usage.Snapshot(ctx, conversationID, activeSessionID)
}
