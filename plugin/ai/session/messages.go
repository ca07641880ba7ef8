package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/agent"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

// MaxHistoryMessages is the sliding window of prior messages handed to the agent.
const MaxHistoryMessages = 20

// MessageContent is the stored JSON of User and Assistant messages.
type MessageContent struct {
	Content string `json:"content"`
}

// ToolActivity is one tool call of a turn.
type ToolActivity struct {
	ToolName string            `json:"toolName"`
	Inputs   []agent.ToolInput `json:"inputs,omitempty"`
	Failed   bool              `json:"failed,omitempty"`
}

// ActivitySummary is the stored JSON of TurnActivitySummary messages.
type ActivitySummary struct {
	SessionID int32          `json:"sessionId"`
	Tools     []ToolActivity `json:"tools"`
}

// Text renders the summary as a line the model can read.
func (s ActivitySummary) Text() string {
	if len(s.Tools) == 0 {
		return "No tools were used in the previous turn."
	}
	calls := make([]string, 0, len(s.Tools))
	for _, tool := range s.Tools {
		args := make([]string, 0, len(tool.Inputs))
		for _, in := range tool.Inputs {
			if in.Key == "path" {
				args = append(args, in.Value)
			}
		}
		call := fmt.Sprintf("%s(%s)", tool.ToolName, strings.Join(args, ", "))
		if tool.Failed {
			call += " failed"
		}
		calls = append(calls, call)
	}
	return "Tools used in the previous turn: " + strings.Join(calls, "; ")
}

// activityRecorder accumulates the tool calls of a running turn.
type activityRecorder struct {
	summary ActivitySummary
}

func (r *activityRecorder) observe(event agent.Event) {
	switch event.Type {
	case agent.EventToolCalling:
		r.summary.Tools = append(r.summary.Tools, ToolActivity{ToolName: event.ToolName, Inputs: event.ToolInputs})
	case agent.EventAgentError:
		if n := len(r.summary.Tools); n > 0 && r.summary.Tools[n-1].ToolName == event.ToolName {
			r.summary.Tools[n-1].Failed = true
		}
	}
}

func encodeContent(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// Only plain structs are encoded here.
		panic(err)
	}
	return string(raw)
}

// historyFromMessages converts stored messages to agent history, keeping the
// last MaxHistoryMessages.
func historyFromMessages(messages []*store.ConversationMessage) []agent.Message {
	if len(messages) > MaxHistoryMessages {
		messages = messages[len(messages)-MaxHistoryMessages:]
	}
	history := make([]agent.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case store.ConversationMessageRoleUser, store.ConversationMessageRoleAssistant:
			var content MessageContent
			if err := json.Unmarshal([]byte(m.Content), &content); err != nil {
				content.Content = m.Content
			}
			role := agent.MessageRoleUser
			if m.Role == store.ConversationMessageRoleAssistant {
				role = agent.MessageRoleAssistant
			}
			history = append(history, agent.Message{Role: role, Content: content.Content})
		case store.ConversationMessageRoleTurnActivitySummary:
			var summary ActivitySummary
			if err := json.Unmarshal([]byte(m.Content), &summary); err != nil {
				continue
			}
			history = append(history, agent.Message{Role: agent.MessageRoleSystem, Content: summary.Text()})
		}
	}
	return history
}
