package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamServer answers every chat completion request with the next scripted
// list of stream deltas.
func streamServer(t *testing.T, responses ...[]openai.ChatCompletionStreamChoiceDelta) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if r.URL.Path != "/v1/chat/completions" || n >= len(responses) {
			http.Error(w, `{"error":{"message":"unexpected request"}}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range responses[n] {
			chunk := openai.ChatCompletionStreamResponse{
				ID:      "chatcmpl-test",
				Object:  "chat.completion.chunk",
				Model:   "test-model",
				Choices: []openai.ChatCompletionStreamChoice{{Index: 0, Delta: delta}},
			}
			raw, err := json.Marshal(chunk)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", raw)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func toolCallDelta(index int, id, name, arguments string) openai.ChatCompletionStreamChoiceDelta {
	return openai.ChatCompletionStreamChoiceDelta{
		ToolCalls: []openai.ToolCall{{
			Index:    &index,
			ID:       id,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: name, Arguments: arguments},
		}},
	}
}

func collect(events *[]Event) Emitter {
	return func(_ context.Context, event Event) error {
		*events = append(*events, event)
		return nil
	}
}

func newTestLoop(baseURL string) *OpenAILoop {
	return NewOpenAILoop(OpenAIConfig{
		BaseURL:          baseURL + "/v1",
		APIKey:           "sk-test",
		Model:            "test-model",
		MaxIterations:    4,
		InferenceTimeout: 5 * time.Second,
		ToolTimeout:      time.Second,
	})
}

func TestOpenAILoop_ToolCallThenReply(t *testing.T) {
	srv, calls := streamServer(t,
		[]openai.ChatCompletionStreamChoiceDelta{
			toolCallDelta(0, "call_1", "write_file", `{"path":"index.html",`),
			toolCallDelta(0, "", "", `"content":"<h1>Hi</h1>"}`),
		},
		[]openai.ChatCompletionStreamChoiceDelta{
			{Content: "Added "},
			{Content: "a heading."},
		},
	)

	root := t.TempDir()
	var events []Event
	result, err := newTestLoop(srv.URL).Run(context.Background(), &Request{
		SessionID:    1,
		Instruction:  "add a heading",
		WorkspaceDir: root,
	}, collect(&events))
	require.NoError(t, err)
	assert.Equal(t, "Added a heading.", result.Reply)
	assert.Equal(t, int32(2), calls.Load())

	content, err := os.ReadFile(filepath.Join(root, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>Hi</h1>", string(content))

	types := make([]EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []EventType{
		EventInferenceStart, EventInferenceStop,
		EventToolCalling, EventToolCalled,
		EventInferenceStart, EventText, EventText, EventInferenceStop,
	}, types)
	assert.Equal(t, "write_file", events[2].ToolName)
	assert.Equal(t, []ToolInput{{Key: "content", Value: "<h1>Hi</h1>"}, {Key: "path", Value: "index.html"}}, events[2].ToolInputs)
	assert.Contains(t, events[3].ToolResult, "updated index.html")
}

func TestOpenAILoop_ToolFailureIsReported(t *testing.T) {
	srv, _ := streamServer(t,
		[]openai.ChatCompletionStreamChoiceDelta{toolCallDelta(0, "call_1", "read_file", `{"path":"../etc/passwd"}`)},
		[]openai.ChatCompletionStreamChoiceDelta{{Content: "I cannot read that file."}},
	)

	var events []Event
	result, err := newTestLoop(srv.URL).Run(context.Background(), &Request{
		Instruction:  "read the password file",
		WorkspaceDir: t.TempDir(),
	}, collect(&events))
	require.NoError(t, err)
	assert.Equal(t, "I cannot read that file.", result.Reply)

	var agentErrors, called int
	for _, e := range events {
		switch e.Type {
		case EventAgentError:
			agentErrors++
		case EventToolCalled:
			called++
			assert.Contains(t, e.ToolResult, "path outside workspace")
		}
	}
	assert.Equal(t, 1, agentErrors)
	assert.Equal(t, 1, called)
}

func TestOpenAILoop_CancelledBeforeTool(t *testing.T) {
	srv, calls := streamServer(t,
		[]openai.ChatCompletionStreamChoiceDelta{toolCallDelta(0, "call_1", "write_file", `{"path":"a.html","content":"x"}`)},
	)

	var checks atomic.Int32
	root := t.TempDir()
	var events []Event
	_, err := newTestLoop(srv.URL).Run(context.Background(), &Request{
		Instruction:  "write a file",
		WorkspaceDir: root,
		// First check passes (before inference), the second one (before the tool) cancels.
		IsCancelled: func(context.Context) bool { return checks.Add(1) > 1 },
	}, collect(&events))
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, int32(1), calls.Load())

	for _, e := range events {
		assert.NotEqual(t, EventToolCalling, e.Type)
	}
	_, statErr := os.Stat(filepath.Join(root, "a.html"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpenAILoop_IterationLimit(t *testing.T) {
	call := []openai.ChatCompletionStreamChoiceDelta{toolCallDelta(0, "call_1", "list_files", `{}`)}
	srv, _ := streamServer(t, call, call, call, call)

	_, err := newTestLoop(srv.URL).Run(context.Background(), &Request{
		Instruction:  "loop forever",
		WorkspaceDir: t.TempDir(),
	}, collect(new([]Event)))
	assert.ErrorIs(t, err, ErrIterationLimit)
}

func TestOpenAILoop_APIError(t *testing.T) {
	srv, _ := streamServer(t)

	_, err := newTestLoop(srv.URL).Run(context.Background(), &Request{
		Instruction:  "anything",
		WorkspaceDir: t.TempDir(),
	}, collect(new([]Event)))
	require.Error(t, err)
	assert.False(t, IsCancelled(err))
}
