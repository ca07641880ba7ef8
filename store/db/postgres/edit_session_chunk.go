package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

func isSealed(ctx context.Context, q queryRower, sessionID int32) (bool, error) {
	var sealed bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM edit_session_chunk WHERE session_id = $1 AND chunk_type = $2)`,
		sessionID, string(store.EditSessionChunkTypeDone)).Scan(&sealed)
	if err != nil {
		return false, errors.Wrap(err, "failed to check chunk log state")
	}
	return sealed, nil
}

func (d *DB) AppendEditSessionChunk(ctx context.Context, create *store.EditSessionChunk) (*store.EditSessionChunk, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	sealed, err := isSealed(ctx, tx, create.SessionID)
	if err != nil {
		return nil, err
	}
	if sealed {
		return nil, errors.Wrapf(store.ErrChunkLogSealed, "edit session %d", create.SessionID)
	}

	if err := insertChunk(ctx, tx, create); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit chunk")
	}
	return create, nil
}

func insertChunk(ctx context.Context, q queryRower, create *store.EditSessionChunk) error {
	fields := []string{"session_id", "chunk_type", "payload", "created_ts"}
	args := []any{create.SessionID, string(create.ChunkType), create.Payload, create.CreatedTs}
	stmt := `INSERT INTO edit_session_chunk (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := q.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return errors.Wrap(err, "failed to append edit session chunk")
	}
	return nil
}

func (d *DB) ListEditSessionChunks(ctx context.Context, find *store.FindEditSessionChunk) ([]*store.EditSessionChunk, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *find.SessionID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "session_id IN (SELECT id FROM edit_session WHERE conversation_id = "+placeholder(len(args)+1)+")"), append(args, *find.ConversationID)
	}
	if find.AfterID != nil {
		where, args = append(where, "id > "+placeholder(len(args)+1)), append(args, *find.AfterID)
	}
	if len(find.ChunkTypeList) > 0 {
		clause, typeArgs := inClause("chunk_type", find.ChunkTypeList, len(args))
		where, args = append(where, clause), append(args, typeArgs...)
	}

	query := `SELECT id, session_id, chunk_type, payload, created_ts FROM edit_session_chunk WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list edit session chunks")
	}
	defer rows.Close()

	list := make([]*store.EditSessionChunk, 0)
	for rows.Next() {
		c := &store.EditSessionChunk{}
		var chunkType string
		if err := rows.Scan(&c.ID, &c.SessionID, &chunkType, &c.Payload, &c.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan edit session chunk")
		}
		c.ChunkType = store.EditSessionChunkType(chunkType)
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate edit session chunks")
	}
	return list, nil
}

func (d *DB) SealEditSession(ctx context.Context, seal *store.SealEditSession) (*store.EditSessionChunk, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	sealed, err := isSealed(ctx, tx, seal.SessionID)
	if err != nil {
		return nil, err
	}
	if sealed {
		return nil, errors.Wrapf(store.ErrChunkLogSealed, "edit session %d", seal.SessionID)
	}

	args := []any{string(seal.Status), seal.Ts, seal.SessionID}
	where := "id = $3"
	if len(seal.FromStatusList) > 0 {
		clause, statusArgs := inClause("status", seal.FromStatusList, len(args))
		where += " AND " + clause
		args = append(args, statusArgs...)
	}
	result, err := tx.ExecContext(ctx, `UPDATE edit_session SET status = $1, updated_ts = $2 WHERE `+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to finish edit session")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, missingOrRejected(ctx, tx, seal.SessionID)
	}

	done := &store.EditSessionChunk{
		SessionID: seal.SessionID,
		ChunkType: store.EditSessionChunkTypeDone,
		Payload:   seal.Payload,
		CreatedTs: seal.Ts,
	}
	if err := insertChunk(ctx, tx, done); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit seal")
	}
	return done, nil
}
