package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE workspace SET status = $1, updated_ts = $2 WHERE id = $3 AND status = $4`,
		string(store.WorkspaceStatusInConversation), create.CreatedTs, create.WorkspaceID, string(store.WorkspaceStatusAvailable))
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim workspace")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, errors.Wrapf(store.ErrConflict, "workspace %d is not available", create.WorkspaceID)
	}

	fields := []string{"uid", "workspace_id", "owner_id", "status", "last_activity_ts", "created_ts", "updated_ts"}
	args := []any{create.UID, create.WorkspaceID, create.OwnerID, string(create.Status), create.LastActivityTs, create.CreatedTs, create.UpdatedTs}
	stmt := `INSERT INTO conversation (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Wrapf(store.ErrConflict, "workspace %d already has an ongoing conversation", create.WorkspaceID)
		}
		return nil, errors.Wrap(err, "failed to create conversation")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit conversation")
	}
	return create, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.WorkspaceID != nil {
		where, args = append(where, "workspace_id = "+placeholder(len(args)+1)), append(args, *find.WorkspaceID)
	}
	if find.OwnerID != nil {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *find.OwnerID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, string(*find.Status))
	}
	if find.ActiveBefore != nil {
		where, args = append(where, "COALESCE(last_activity_ts, created_ts) < "+placeholder(len(args)+1)), append(args, *find.ActiveBefore)
	}

	query := `SELECT id, uid, workspace_id, owner_id, status, last_activity_ts, created_ts, updated_ts FROM conversation WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	list := make([]*store.Conversation, 0)
	for rows.Next() {
		c := &store.Conversation{}
		var status string
		var lastActivityTs sql.NullInt64
		if err := rows.Scan(&c.ID, &c.UID, &c.WorkspaceID, &c.OwnerID, &status, &lastActivityTs, &c.CreatedTs, &c.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		c.Status = store.ConversationStatus(status)
		if lastActivityTs.Valid {
			ts := lastActivityTs.Int64
			c.LastActivityTs = &ts
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate conversations")
	}
	return list, nil
}

func (d *DB) TouchConversation(ctx context.Context, touch *store.TouchConversation) error {
	stmt := `UPDATE conversation SET
		last_activity_ts = GREATEST(COALESCE(last_activity_ts, $1), $1),
		updated_ts = $1
		WHERE id = $2 AND status = $3`
	result, err := d.db.ExecContext(ctx, stmt, touch.ActivityTs, touch.ID, string(store.ConversationStatusOngoing))
	if err != nil {
		return errors.Wrap(err, "failed to touch conversation")
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}
	var count int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation WHERE id = $1`, touch.ID).Scan(&count); err != nil {
		return errors.Wrap(err, "failed to check conversation")
	}
	if count == 0 {
		return errors.Wrapf(store.ErrNotFound, "conversation %d", touch.ID)
	}
	return errors.Wrapf(store.ErrTransitionRejected, "conversation %d is not ongoing", touch.ID)
}

func (d *DB) ReleaseConversation(ctx context.Context, release *store.ReleaseConversation) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	args := []any{string(store.ConversationStatusFinished), release.UpdatedTs, release.ID, string(store.ConversationStatusOngoing)}
	where := "id = $3 AND status = $4"
	if release.StaleBefore != nil {
		where += " AND COALESCE(last_activity_ts, created_ts) < $5"
		args = append(args, *release.StaleBefore)
	}

	var workspaceID int32
	stmt := `UPDATE conversation SET status = $1, updated_ts = $2 WHERE ` + where + ` RETURNING workspace_id`
	if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&workspaceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to finish conversation")
	}

	if _, err := tx.ExecContext(ctx, `UPDATE workspace SET status = $1, updated_ts = $2 WHERE id = $3`,
		string(store.WorkspaceStatusAvailable), release.UpdatedTs, workspaceID); err != nil {
		return false, errors.Wrap(err, "failed to release workspace")
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "failed to commit release")
	}
	return true, nil
}
