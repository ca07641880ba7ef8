package agent

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/timeout"
)

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	BaseURL          string
	APIKey           string
	Model            string
	SystemPrompt     string
	MaxIterations    int
	MaxRetries       int
	InferenceTimeout time.Duration
	ToolTimeout      time.Duration
}

func (c *OpenAIConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = timeout.MaxIterations
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InferenceTimeout <= 0 {
		c.InferenceTimeout = timeout.InferenceTimeout
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = timeout.ToolExecutionTimeout
	}
}

// OpenAILoop is a streaming tool-calling Loop over an OpenAI-compatible API.
type OpenAILoop struct {
	client *openai.Client
	config OpenAIConfig
	// retryBase is the first backoff step between failed stream starts.
	retryBase time.Duration
}

var _ Loop = (*OpenAILoop)(nil)

func NewOpenAILoop(cfg OpenAIConfig) *OpenAILoop {
	cfg.applyDefaults()
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAILoop{
		client:    openai.NewClientWithConfig(clientConfig),
		config:    cfg,
		retryBase: time.Second,
	}
}

func (l *OpenAILoop) Run(ctx context.Context, req *Request, emit Emitter) (*Result, error) {
	workspace := &Workspace{Root: req.WorkspaceDir}
	toolbox := NewToolbox(workspace.Tools()...)
	definitions := toolbox.Definitions()
	messages := l.buildMessages(req)

	var reply strings.Builder
	for iteration := 0; iteration < l.config.MaxIterations; iteration++ {
		if err := CheckCancelled(ctx, req); err != nil {
			return nil, err
		}
		if err := emit(ctx, Event{Type: EventInferenceStart}); err != nil {
			return nil, err
		}

		message, err := l.infer(ctx, messages, definitions, func(fragment string) error {
			reply.WriteString(fragment)
			return emit(ctx, Event{Type: EventText, Content: fragment})
		})
		if err != nil {
			return nil, err
		}
		if err := emit(ctx, Event{Type: EventInferenceStop}); err != nil {
			return nil, err
		}

		if len(message.ToolCalls) == 0 {
			return &Result{Reply: reply.String()}, nil
		}
		messages = append(messages, message)

		for _, call := range message.ToolCalls {
			if err := CheckCancelled(ctx, req); err != nil {
				return nil, err
			}
			result, err := l.callTool(ctx, toolbox, call, emit)
			if err != nil {
				return nil, err
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
			if err := CheckCancelled(ctx, req); err != nil {
				return nil, err
			}
		}
	}
	return nil, errors.Wrapf(ErrIterationLimit, "no final answer after %d inference rounds", l.config.MaxIterations)
}

// callTool runs one tool call. Tool failures are reported to the model and
// as agent_error events; only emit failures abort the turn.
func (l *OpenAILoop) callTool(ctx context.Context, toolbox *Toolbox, call openai.ToolCall, emit Emitter) (string, error) {
	name := call.Function.Name
	inputs := ParseToolInputs(call.Function.Arguments)
	if err := emit(ctx, Event{Type: EventToolCalling, ToolName: name, ToolInputs: inputs}); err != nil {
		return "", err
	}

	result, runErr := l.runTool(ctx, toolbox, name, call.Function.Arguments)
	if runErr != nil {
		slog.Warn("tool call failed", "tool", name, "error", runErr)
		result = "error: " + runErr.Error()
		if err := emit(ctx, Event{Type: EventAgentError, ToolName: name, Content: runErr.Error()}); err != nil {
			return "", err
		}
	}
	result = timeout.Truncate(result, timeout.MaxToolResultLength)

	if err := emit(ctx, Event{Type: EventToolCalled, ToolName: name, ToolInputs: inputs, ToolResult: result}); err != nil {
		return "", err
	}
	return result, nil
}

func (l *OpenAILoop) runTool(ctx context.Context, toolbox *Toolbox, name, arguments string) (string, error) {
	tool, err := toolbox.Get(name)
	if err != nil {
		return "", err
	}
	toolCtx, cancel := context.WithTimeout(ctx, l.config.ToolTimeout)
	defer cancel()
	return tool.Run(toolCtx, arguments)
}

func (l *OpenAILoop) buildMessages(req *Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: l.config.SystemPrompt})
	for _, m := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Instruction})
	return messages
}

// infer streams one completion, forwarding text deltas and assembling tool calls.
func (l *OpenAILoop) infer(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, onText func(string) error) (openai.ChatCompletionMessage, error) {
	message := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}

	callCtx, cancel := context.WithTimeout(ctx, l.config.InferenceTimeout)
	defer cancel()

	var stream *openai.ChatCompletionStream
	err := l.doWithRetry(callCtx, func() error {
		var err error
		stream, err = l.client.CreateChatCompletionStream(callCtx, openai.ChatCompletionRequest{
			Model:    l.config.Model,
			Messages: messages,
			Tools:    tools,
			Stream:   true,
		})
		return err
	})
	if err != nil {
		return message, errors.Wrap(err, "failed to start chat completion")
	}
	defer stream.Close()

	var content strings.Builder
	calls := map[int]*openai.ToolCall{}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return message, errors.Wrap(err, "chat completion stream failed")
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if err := onText(delta.Content); err != nil {
				return message, err
			}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call, ok := calls[index]
			if !ok {
				call = &openai.ToolCall{Type: openai.ToolTypeFunction}
				calls[index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}
	}

	message.Content = content.String()
	indexes := make([]int, 0, len(calls))
	for index := range calls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	for _, index := range indexes {
		message.ToolCalls = append(message.ToolCalls, *calls[index])
	}
	return message, nil
}

// doWithRetry executes a function with exponential backoff retry.
func (l *OpenAILoop) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < l.config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == l.config.MaxRetries-1 {
			break
		}
		waitTime := time.Duration(math.Pow(2, float64(attempt))) * l.retryBase
		slog.Debug("chat completion failed, retrying",
			"attempt", attempt+1,
			"wait_time", waitTime,
			"error", err)
		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// isRetryable reports whether an API error is worth retrying (rate limits, server errors).
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return false
}
