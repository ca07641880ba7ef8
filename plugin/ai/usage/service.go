// Package usage computes the live context window usage and the cumulative
// cost of a conversation from its messages and chunk logs.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/cache"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/chunklog"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

type Config struct {
	ModelName          string
	MaxTokens          int
	SystemPromptTokens int
	Pricing            Pricing
}

// Snapshot is the context usage of a conversation at query time.
type Snapshot struct {
	UsedTokens   int     `json:"usedTokens"`
	MaxTokens    int     `json:"maxTokens"`
	ModelName    string  `json:"modelName"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	InputCost    float64 `json:"inputCost"`
	OutputCost   float64 `json:"outputCost"`
	TotalCost    float64 `json:"totalCost"`
}

type Service struct {
	store     *store.Store
	tokenizer Tokenizer
	// costs holds the token counts of terminal sessions, which never change.
	costs  cache.Cache
	config Config
}

func NewService(s *store.Store, tokenizer Tokenizer, costs cache.Cache, config Config) *Service {
	if tokenizer == nil {
		tokenizer = NewTokenizer()
	}
	return &Service{store: s, tokenizer: tokenizer, costs: costs, config: config}
}

// Snapshot computes the usage of a conversation. The Event traffic of
// activeSessionID counts towards UsedTokens only while that session is still
// non-terminal. Costs always cover every session of the conversation, so they
// do not depend on activeSessionID.
func (s *Service) Snapshot(ctx context.Context, conversationID int32, activeSessionID *int32) (*Snapshot, error) {
	sessions, err := s.store.ListEditSessions(ctx, &store.FindEditSession{ConversationID: &conversationID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list edit sessions")
	}
	var total TokenCount
	activeEvents := 0
	for _, session := range sessions {
		count, events, err := s.sessionTokens(ctx, session)
		if err != nil {
			return nil, err
		}
		total = total.add(count)
		if activeSessionID != nil && session.ID == *activeSessionID && !session.Status.IsTerminal() {
			activeEvents = events
		}
	}

	used, err := s.messageTokens(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	used += activeEvents

	inputCost := s.config.Pricing.InputCost(total.Input)
	outputCost := s.config.Pricing.OutputCost(total.Output)
	return &Snapshot{
		UsedTokens:   used,
		MaxTokens:    s.config.MaxTokens,
		ModelName:    s.config.ModelName,
		InputTokens:  total.Input,
		OutputTokens: total.Output,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost + outputCost,
	}, nil
}

// ConversationReleased drops the cached costs of a finished conversation.
func (s *Service) ConversationReleased(ctx context.Context, conversationID int32) {
	if s.costs == nil {
		return
	}
	if err := s.costs.Invalidate(ctx, fmt.Sprintf("conversation:%d:*", conversationID)); err != nil {
		slog.Warn("failed to drop cached costs", "conversation_id", conversationID, "error", err)
	}
}

// messageTokens counts the system prompt and the persisted conversation history.
func (s *Service) messageTokens(ctx context.Context, conversationID int32) (int, error) {
	used := s.config.SystemPromptTokens

	messages, err := s.store.ListConversationMessages(ctx, &store.FindConversationMessage{ConversationID: &conversationID})
	if err != nil {
		return 0, errors.Wrap(err, "failed to list conversation messages")
	}
	for _, m := range messages {
		used += s.tokenizer.Count(m.Content)
	}
	return used, nil
}

// sessionTokens prices one session: the instruction and its Event traffic
// are input, its Text fragments are output. It also returns the Event tokens
// alone, which are zero for a session served from the cache.
func (s *Service) sessionTokens(ctx context.Context, session *store.EditSession) (TokenCount, int, error) {
	key := costKey(session.ConversationID, session.ID)
	if session.Status.IsTerminal() && s.costs != nil {
		if raw, ok := s.costs.Get(ctx, key); ok {
			var count TokenCount
			if err := json.Unmarshal(raw, &count); err == nil {
				return count, 0, nil
			}
		}
	}

	chunks, err := s.store.ListEditSessionChunks(ctx, &store.FindEditSessionChunk{
		SessionID:     &session.ID,
		ChunkTypeList: []store.EditSessionChunkType{store.EditSessionChunkTypeEvent, store.EditSessionChunkTypeText},
	})
	if err != nil {
		return TokenCount{}, 0, errors.Wrapf(err, "failed to list chunks of session %d", session.ID)
	}
	events, texts := 0, 0
	for _, c := range chunks {
		switch c.ChunkType {
		case store.EditSessionChunkTypeEvent:
			events += s.tokenizer.Count(c.Payload)
		case store.EditSessionChunkTypeText:
			texts += s.textTokens(c.Payload)
		}
	}
	count := TokenCount{
		Input:  s.tokenizer.Count(session.Instruction) + events,
		Output: texts,
	}

	if session.Status.IsTerminal() && s.costs != nil {
		raw, _ := json.Marshal(count)
		if err := s.costs.Set(ctx, key, raw, 0); err != nil {
			slog.Warn("failed to cache session cost", "session_id", session.ID, "error", err)
		}
	}
	return count, events, nil
}

// textTokens counts the reply text itself rather than its JSON envelope.
func (s *Service) textTokens(payload string) int {
	var text chunklog.TextPayload
	if err := json.Unmarshal([]byte(payload), &text); err != nil {
		return s.tokenizer.Count(payload)
	}
	return s.tokenizer.Count(text.Content)
}

func costKey(conversationID, sessionID int32) string {
	return fmt.Sprintf("conversation:%d:session:%d", conversationID, sessionID)
}
