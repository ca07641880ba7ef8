// Package render rebuilds what a client shows for an edit session from its
// chunk log, either live while polling or after a reload from a snapshot.
package render

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/chunklog"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/session"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

// Activity is one Event chunk as shown in the activity list.
type Activity struct {
	Kind         chunklog.EventKind
	ToolName     string
	ToolInputs   []chunklog.ToolInput
	ToolResult   string
	ErrorMessage string
}

// Outcome is the decoded Done chunk.
type Outcome struct {
	Success      bool
	ErrorMessage string
}

// Cancelled tells a user cancellation apart from a failure.
func (o *Outcome) Cancelled() bool {
	return !o.Success && (o.ErrorMessage == chunklog.MessageCancelledByUser ||
		o.ErrorMessage == chunklog.MessageCancelledBeforeStart)
}

// State is the rendered view of a session.
type State struct {
	Instruction string
	Reply       string
	Activities  []Activity
	// Progress is the latest progress line; it is cleared once the session is done.
	Progress string
	Outcome  *Outcome
}

func (s *State) Done() bool {
	return s.Outcome != nil
}

var markdown = goldmark.New()

// ReplyHTML renders the reply markdown.
func (s *State) ReplyHTML() (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(s.Reply), &buf); err != nil {
		return "", errors.Wrap(err, "failed to render reply")
	}
	return buf.String(), nil
}

// Renderer folds chunks into a State. Chunks at or below the cursor were
// already applied and are skipped, so overlapping pages are harmless.
type Renderer struct {
	state  State
	cursor int64
}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// NewRendererFromSnapshot replays a resumption snapshot. Polling continues
// from Cursor(), which equals the snapshot's last chunk id.
func NewRendererFromSnapshot(snapshot *session.Snapshot) (*Renderer, error) {
	r := NewRenderer()
	r.state.Instruction = snapshot.Instruction
	if err := r.Apply(snapshot.Chunks); err != nil {
		return nil, err
	}
	if snapshot.LastChunkID > r.cursor {
		r.cursor = snapshot.LastChunkID
	}
	return r, nil
}

func (r *Renderer) Cursor() int64 {
	return r.cursor
}

// State returns a copy of the current state.
func (r *Renderer) State() State {
	s := r.state
	s.Activities = append([]Activity(nil), r.state.Activities...)
	if r.state.Outcome != nil {
		outcome := *r.state.Outcome
		s.Outcome = &outcome
	}
	return s
}

func (r *Renderer) Apply(chunks []*chunklog.Chunk) error {
	for _, c := range chunks {
		if c.ID <= r.cursor {
			continue
		}
		if err := r.apply(c); err != nil {
			return errors.Wrapf(err, "failed to render chunk %d", c.ID)
		}
		r.cursor = c.ID
	}
	return nil
}

func (r *Renderer) apply(c *chunklog.Chunk) error {
	if r.state.Done() {
		return errors.Errorf("chunk %d follows the done chunk", c.ID)
	}
	switch c.ChunkType {
	case store.EditSessionChunkTypeText:
		text, err := c.Text()
		if err != nil {
			return err
		}
		r.state.Reply += text.Content
	case store.EditSessionChunkTypeEvent:
		event, err := c.Event()
		if err != nil {
			return err
		}
		r.state.Activities = append(r.state.Activities, Activity{
			Kind:         event.Kind,
			ToolName:     event.ToolName,
			ToolInputs:   event.ToolInputs,
			ToolResult:   event.ToolResult,
			ErrorMessage: event.ErrorMessage,
		})
	case store.EditSessionChunkTypeProgress:
		progress, err := c.Progress()
		if err != nil {
			return err
		}
		r.state.Progress = progress.Message
	case store.EditSessionChunkTypeDone:
		done, err := c.Done()
		if err != nil {
			return err
		}
		r.state.Outcome = &Outcome{Success: done.Success, ErrorMessage: done.ErrorMessage}
		r.state.Progress = ""
	default:
		return errors.Errorf("unknown chunk type %q", c.ChunkType)
	}
	return nil
}
