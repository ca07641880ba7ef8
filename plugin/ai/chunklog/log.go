// Package chunklog is the append-only per-session record of everything an
// edit session produced. Chunk ids are the polling cursor.
package chunklog

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

type Log struct {
	store *store.Store
	clock clock.Clock
}

func NewLog(s *store.Store, c clock.Clock) *Log {
	return &Log{store: s, clock: c}
}

// Page is the result of reading the log after a cursor.
type Page struct {
	Chunks []*Chunk `json:"chunks"`
	// LastID is the id of the last returned chunk, or the cursor when none were returned.
	LastID int64 `json:"lastId"`
}

func (l *Log) append(ctx context.Context, sessionID int32, chunkType store.EditSessionChunkType, payload any) (*Chunk, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode chunk payload")
	}
	chunk, err := l.store.AppendEditSessionChunk(ctx, &store.EditSessionChunk{
		SessionID: sessionID,
		ChunkType: chunkType,
		Payload:   string(raw),
		CreatedTs: l.clock.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}
	return fromStore(chunk), nil
}

func (l *Log) AppendEvent(ctx context.Context, sessionID int32, payload EventPayload) (*Chunk, error) {
	return l.append(ctx, sessionID, store.EditSessionChunkTypeEvent, payload)
}

func (l *Log) AppendText(ctx context.Context, sessionID int32, content string) (*Chunk, error) {
	return l.append(ctx, sessionID, store.EditSessionChunkTypeText, TextPayload{Content: content})
}

func (l *Log) AppendProgress(ctx context.Context, sessionID int32, message string) (*Chunk, error) {
	return l.append(ctx, sessionID, store.EditSessionChunkTypeProgress, ProgressPayload{Message: message})
}

// Seal appends the Done chunk and moves the session from one of from to the
// terminal status to, atomically.
func (l *Log) Seal(ctx context.Context, sessionID int32, from []store.EditSessionStatus, to store.EditSessionStatus, done DonePayload) (*Chunk, error) {
	raw, err := json.Marshal(done)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode done payload")
	}
	chunk, err := l.store.SealEditSession(ctx, &store.SealEditSession{
		SessionID:      sessionID,
		FromStatusList: from,
		Status:         to,
		Payload:        string(raw),
		Ts:             l.clock.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}
	return fromStore(chunk), nil
}

// Read returns the chunks with id > after in id order. It never holds chunks
// back, so repeating a read with the same cursor is safe.
func (l *Log) Read(ctx context.Context, sessionID int32, after int64) (*Page, error) {
	find := &store.FindEditSessionChunk{SessionID: &sessionID}
	if after > 0 {
		find.AfterID = &after
	}
	list, err := l.store.ListEditSessionChunks(ctx, find)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read chunk log of session %d", sessionID)
	}

	page := &Page{Chunks: make([]*Chunk, 0, len(list)), LastID: after}
	for _, c := range list {
		page.Chunks = append(page.Chunks, fromStore(c))
		page.LastID = c.ID
	}
	return page, nil
}

// All returns the full log of a session.
func (l *Log) All(ctx context.Context, sessionID int32) (*Page, error) {
	return l.Read(ctx, sessionID, 0)
}

// Writer appends to the log of a single session.
type Writer struct {
	log       *Log
	sessionID int32
}

func (l *Log) Writer(sessionID int32) *Writer {
	return &Writer{log: l, sessionID: sessionID}
}

func (w *Writer) SessionID() int32 {
	return w.sessionID
}

func (w *Writer) Event(ctx context.Context, payload EventPayload) error {
	_, err := w.log.AppendEvent(ctx, w.sessionID, payload)
	return err
}

func (w *Writer) Text(ctx context.Context, content string) error {
	_, err := w.log.AppendText(ctx, w.sessionID, content)
	return err
}

func (w *Writer) Progress(ctx context.Context, message string) error {
	_, err := w.log.AppendProgress(ctx, w.sessionID, message)
	return err
}

func (w *Writer) Seal(ctx context.Context, from []store.EditSessionStatus, to store.EditSessionStatus, done DonePayload) (*Chunk, error) {
	return w.log.Seal(ctx, w.sessionID, from, to, done)
}
