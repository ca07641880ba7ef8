package chunklog

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

// EventKind distinguishes the Event chunks an agent turn produces.
type EventKind string

const (
	EventKindInferenceStart EventKind = "inference_start"
	EventKindInferenceStop  EventKind = "inference_stop"
	EventKindToolCalling    EventKind = "tool_calling"
	EventKindToolCalled     EventKind = "tool_called"
	EventKindAgentError     EventKind = "agent_error"
)

// Fixed Done messages. Clients tell cancellations apart from failures by these texts.
const (
	MessageCancelledBeforeStart = "Cancelled before execution started."
	MessageCancelledByUser      = "Cancelled by user."
	MessageInterruptedByRestart = "Interrupted by server restart."
)

type ToolInput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type EventPayload struct {
	Kind         EventKind   `json:"kind"`
	ToolName     string      `json:"toolName,omitempty"`
	ToolInputs   []ToolInput `json:"toolInputs,omitempty"`
	ToolResult   string      `json:"toolResult,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// TextPayload is one fragment of the assistant reply.
type TextPayload struct {
	Content string `json:"content"`
}

// ProgressPayload is informational only.
type ProgressPayload struct {
	Message string `json:"message"`
}

type DonePayload struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Chunk is the wire representation of one chunk log record.
type Chunk struct {
	ID        int64                      `json:"id"`
	ChunkType store.EditSessionChunkType `json:"chunkType"`
	Payload   json.RawMessage            `json:"payload"`
	CreatedTs int64                      `json:"createdTs"`
}

func fromStore(c *store.EditSessionChunk) *Chunk {
	return &Chunk{
		ID:        c.ID,
		ChunkType: c.ChunkType,
		Payload:   json.RawMessage(c.Payload),
		CreatedTs: c.CreatedTs,
	}
}

func (c *Chunk) IsDone() bool {
	return c.ChunkType == store.EditSessionChunkTypeDone
}

func (c *Chunk) decode(want store.EditSessionChunkType, v any) error {
	if c.ChunkType != want {
		return errors.Errorf("chunk %d is %s, not %s", c.ID, c.ChunkType, want)
	}
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return errors.Wrapf(err, "failed to decode %s chunk %d", want, c.ID)
	}
	return nil
}

func (c *Chunk) Event() (*EventPayload, error) {
	p := &EventPayload{}
	return p, c.decode(store.EditSessionChunkTypeEvent, p)
}

func (c *Chunk) Text() (*TextPayload, error) {
	p := &TextPayload{}
	return p, c.decode(store.EditSessionChunkTypeText, p)
}

func (c *Chunk) Progress() (*ProgressPayload, error) {
	p := &ProgressPayload{}
	return p, c.decode(store.EditSessionChunkTypeProgress, p)
}

func (c *Chunk) Done() (*DonePayload, error) {
	p := &DonePayload{}
	return p, c.decode(store.EditSessionChunkTypeDone, p)
}
