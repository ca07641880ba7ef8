// Package agent defines the contract between edit sessions and the
// tool-calling agent that executes an instruction, plus an OpenAI-compatible
// implementation of that agent.
package agent

import (
	"context"
)

// Loop executes one turn: it takes an instruction, calls the model and the
// workspace tools as often as it needs, and reports every step through emit.
// Loop 执行单轮编辑指令，通过 emit 实时上报每个步骤。
type Loop interface {
	// Run blocks until the turn finishes. It returns ErrCancelled when
	// req.IsCancelled reported a cancellation at a suspension point.
	Run(ctx context.Context, req *Request, emit Emitter) (*Result, error)
}

// LoopFunc adapts a function to the Loop interface.
type LoopFunc func(ctx context.Context, req *Request, emit Emitter) (*Result, error)

func (f LoopFunc) Run(ctx context.Context, req *Request, emit Emitter) (*Result, error) {
	return f(ctx, req, emit)
}

// Emitter receives agent events as they happen. An emit error aborts the turn.
type Emitter func(ctx context.Context, event Event) error

// EventType identifies an agent event.
type EventType string

const (
	EventInferenceStart EventType = "inference_start"
	EventInferenceStop  EventType = "inference_stop"
	EventToolCalling    EventType = "tool_calling"
	EventToolCalled     EventType = "tool_called"
	EventAgentError     EventType = "agent_error"
	EventText           EventType = "text"
	EventProgress       EventType = "progress"
)

type ToolInput struct {
	Key   string
	Value string
}

// Event is one step of a turn.
// Content carries the text fragment, the progress line or the error message,
// depending on Type.
type Event struct {
	Type       EventType
	ToolName   string
	ToolInputs []ToolInput
	ToolResult string
	Content    string
}

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Message is one prior conversation message handed to the model.
type Message struct {
	Role    MessageRole
	Content string
}

type Request struct {
	SessionID    int32
	Instruction  string
	History      []Message
	WorkspaceDir string
	// IsCancelled is polled at suspension points: before each inference and
	// before and after each tool call.
	IsCancelled func(ctx context.Context) bool
}

type Result struct {
	// Reply is the full assistant reply, the concatenation of all text events.
	Reply string
}
