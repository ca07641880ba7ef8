package agent

import (
	"context"
	"strings"
)

// ScriptedToolCall is a tool call replayed by ScriptedLoop.
type ScriptedToolCall struct {
	Name      string
	Arguments string
	Result    string
}

// ScriptedIteration is one inference round of a ScriptedLoop.
type ScriptedIteration struct {
	Texts     []string
	ToolCalls []ScriptedToolCall
}

// ScriptedLoop replays a fixed sequence of events without calling a model.
// It honors the same cancellation points as OpenAILoop, which makes it the
// loop of choice for exercising session execution.
type ScriptedLoop struct {
	Iterations []ScriptedIteration
	// Err, when set, is returned after all iterations were replayed.
	Err error
	// Hook runs before every emitted event. Tests use it to interleave
	// cancellation or panics with a running turn.
	Hook func(ctx context.Context, event Event)
}

var _ Loop = (*ScriptedLoop)(nil)

func (l *ScriptedLoop) Run(ctx context.Context, req *Request, emit Emitter) (*Result, error) {
	send := func(event Event) error {
		if l.Hook != nil {
			l.Hook(ctx, event)
		}
		return emit(ctx, event)
	}

	var reply strings.Builder
	for _, iteration := range l.Iterations {
		if err := CheckCancelled(ctx, req); err != nil {
			return nil, err
		}
		if err := send(Event{Type: EventInferenceStart}); err != nil {
			return nil, err
		}
		for _, text := range iteration.Texts {
			reply.WriteString(text)
			if err := send(Event{Type: EventText, Content: text}); err != nil {
				return nil, err
			}
		}
		if err := send(Event{Type: EventInferenceStop}); err != nil {
			return nil, err
		}
		for _, call := range iteration.ToolCalls {
			if err := CheckCancelled(ctx, req); err != nil {
				return nil, err
			}
			inputs := ParseToolInputs(call.Arguments)
			if err := send(Event{Type: EventToolCalling, ToolName: call.Name, ToolInputs: inputs}); err != nil {
				return nil, err
			}
			if err := send(Event{Type: EventToolCalled, ToolName: call.Name, ToolInputs: inputs, ToolResult: call.Result}); err != nil {
				return nil, err
			}
			if err := CheckCancelled(ctx, req); err != nil {
				return nil, err
			}
		}
	}
	if l.Err != nil {
		return nil, l.Err
	}
	return &Result{Reply: reply.String()}, nil
}
