package render

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/session"
)

const (
	// DefaultPollInterval matches the polling cadence of the web client.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultHeartbeatInterval matches the server's default heartbeat cadence.
	DefaultHeartbeatInterval = 10 * time.Second
)

// TransportError is a failed poll request. The session on the server is not
// affected and can be resumed from the renderer's cursor later.
type TransportError struct {
	// StatusCode is zero for network failures.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("poll failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("poll failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Follower polls the HTTP API and feeds a Renderer until the session is done.
// While following it sends heartbeats for the owning conversation, so the
// server does not reap a conversation whose only client is this follower.
type Follower struct {
	BaseURL  string
	UserID   int32
	Interval time.Duration
	// ConversationID receives the heartbeats. When it is zero, Resume uses the
	// snapshot's conversation and Follow sends no heartbeats.
	ConversationID    int32
	HeartbeatInterval time.Duration
	Client            *http.Client
}

// Resume loads the session snapshot and follows the session from there.
func (f *Follower) Resume(ctx context.Context, sessionID int32, onUpdate func(State)) (*Renderer, error) {
	var snapshot session.Snapshot
	if err := f.get(ctx, fmt.Sprintf("/api/v1/sessions/%d", sessionID), &snapshot); err != nil {
		return nil, err
	}
	r, err := NewRendererFromSnapshot(&snapshot)
	if err != nil {
		return nil, err
	}
	if onUpdate != nil {
		onUpdate(r.State())
	}
	conversationID := f.ConversationID
	if conversationID == 0 {
		conversationID = snapshot.ConversationID
	}
	return r, f.follow(ctx, sessionID, conversationID, r, onUpdate)
}

// Follow polls from the renderer's cursor until a Done chunk was applied,
// ctx ends, or a poll fails. onUpdate is called after every page with chunks.
func (f *Follower) Follow(ctx context.Context, sessionID int32, r *Renderer, onUpdate func(State)) error {
	return f.follow(ctx, sessionID, f.ConversationID, r, onUpdate)
}

func (f *Follower) follow(ctx context.Context, sessionID, conversationID int32, r *Renderer, onUpdate func(State)) error {
	interval := f.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if r.State().Done() {
		return nil
	}
	if conversationID != 0 {
		stop := f.startHeartbeat(ctx, conversationID)
		defer stop()
	}

	for {
		var result session.PollResult
		path := fmt.Sprintf("/api/v1/poll/%d?after=%s", sessionID, strconv.FormatInt(r.Cursor(), 10))
		if err := f.get(ctx, path, &result); err != nil {
			return err
		}
		if len(result.Chunks) > 0 {
			if err := r.Apply(result.Chunks); err != nil {
				return err
			}
			if onUpdate != nil {
				onUpdate(r.State())
			}
			if r.State().Done() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// startHeartbeat sends one heartbeat right away and then one per interval
// until the returned stop function is called.
func (f *Follower) startHeartbeat(ctx context.Context, conversationID int32) (stop func()) {
	interval := f.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	f.heartbeat(ctx, conversationID)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.heartbeat(ctx, conversationID)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// heartbeat failures are logged only; polling decides whether following goes on.
func (f *Follower) heartbeat(ctx context.Context, conversationID int32) {
	path := fmt.Sprintf("/api/v1/conversation/%d/heartbeat", conversationID)
	if err := f.do(ctx, http.MethodPost, path, nil); err != nil && ctx.Err() == nil {
		slog.Warn("conversation heartbeat failed", "conversation_id", conversationID, "error", err)
	}
}

func (f *Follower) get(ctx context.Context, path string, v any) error {
	return f.do(ctx, http.MethodGet, path, v)
}

// do sends a request and decodes a JSON response into v unless v is nil.
func (f *Follower) do(ctx context.Context, method, path string, v any) error {
	endpoint, err := url.JoinPath(f.BaseURL, "/")
	if err != nil {
		return errors.Wrap(err, "invalid base url")
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(endpoint, "/")+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("X-User-ID", strconv.Itoa(int(f.UserID)))
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransportError{StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &TransportError{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "invalid response body")}
	}
	return nil
}
