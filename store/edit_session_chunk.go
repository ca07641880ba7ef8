package store

import (
	"context"
)

type EditSessionChunkType string

const (
	EditSessionChunkTypeEvent    EditSessionChunkType = "EVENT"
	EditSessionChunkTypeText     EditSessionChunkType = "TEXT"
	EditSessionChunkTypeProgress EditSessionChunkType = "PROGRESS"
	EditSessionChunkTypeDone     EditSessionChunkType = "DONE"
)

// EditSessionChunk is one immutable record of a session's chunk log.
// ID is the polling cursor.
type EditSessionChunk struct {
	ID        int64
	SessionID int32
	ChunkType EditSessionChunkType
	Payload   string // JSON string
	CreatedTs int64
}

type FindEditSessionChunk struct {
	SessionID      *int32
	ConversationID *int32
	// AfterID returns only chunks with id strictly greater than the value.
	AfterID       *int64
	ChunkTypeList []EditSessionChunkType
}

// SealEditSession appends the Done chunk and moves the session to a terminal
// status in one transaction.
type SealEditSession struct {
	SessionID      int32
	FromStatusList []EditSessionStatus
	Status         EditSessionStatus
	Payload        string // JSON string of the Done payload
	Ts             int64
}

// AppendEditSessionChunk appends a non-terminal chunk. It fails with
// ErrChunkLogSealed once the session has a Done chunk.
func (s *Store) AppendEditSessionChunk(ctx context.Context, create *EditSessionChunk) (*EditSessionChunk, error) {
	if create.ChunkType == EditSessionChunkTypeDone {
		return nil, ErrInvalidChunk
	}
	return s.driver.AppendEditSessionChunk(ctx, create)
}

// ListEditSessionChunks returns chunks ordered by id ascending.
func (s *Store) ListEditSessionChunks(ctx context.Context, find *FindEditSessionChunk) ([]*EditSessionChunk, error) {
	return s.driver.ListEditSessionChunks(ctx, find)
}

func (s *Store) SealEditSession(ctx context.Context, seal *SealEditSession) (*EditSessionChunk, error) {
	if !seal.Status.IsTerminal() {
		return nil, ErrInvalidChunk
	}
	return s.driver.SealEditSession(ctx, seal)
}
