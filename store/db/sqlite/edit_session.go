package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

const editSessionColumns = `id, conversation_id, instruction, status, cancel_requested, created_ts, updated_ts`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanEditSession(row rowScanner) (*store.EditSession, error) {
	s := &store.EditSession{}
	var status string
	if err := row.Scan(&s.ID, &s.ConversationID, &s.Instruction, &status, &s.CancelRequested, &s.CreatedTs, &s.UpdatedTs); err != nil {
		return nil, err
	}
	s.Status = store.EditSessionStatus(status)
	return s, nil
}

func (d *DB) CreateEditSession(ctx context.Context, create *store.EditSession) (*store.EditSession, error) {
	fields := []string{"conversation_id", "instruction", "status", "cancel_requested", "created_ts", "updated_ts"}
	args := []any{create.ConversationID, create.Instruction, string(create.Status), create.CancelRequested, create.CreatedTs, create.UpdatedTs}

	stmt := `INSERT INTO edit_session (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Wrapf(store.ErrConflict, "conversation %d already has an active edit session", create.ConversationID)
		}
		return nil, errors.Wrap(err, "failed to create edit session")
	}
	return create, nil
}

func (d *DB) ListEditSessions(ctx context.Context, find *store.FindEditSession) ([]*store.EditSession, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if len(find.StatusList) > 0 {
		clause, statusArgs := inClause("status", find.StatusList, len(args))
		where, args = append(where, clause), append(args, statusArgs...)
	}

	query := `SELECT ` + editSessionColumns + ` FROM edit_session WHERE ` + strings.Join(where, " AND ")
	if find.Latest {
		query += ` ORDER BY id DESC LIMIT 1`
	} else {
		query += ` ORDER BY id ASC`
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list edit sessions")
	}
	defer rows.Close()

	list := make([]*store.EditSession, 0)
	for rows.Next() {
		s, err := scanEditSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan edit session")
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate edit sessions")
	}
	return list, nil
}

func (d *DB) UpdateEditSession(ctx context.Context, update *store.UpdateEditSession) (*store.EditSession, error) {
	set, args := []string{}, []any{}

	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, string(*update.Status))
	}
	if update.CancelRequested != nil {
		set, args = append(set, "cancel_requested = "+placeholder(len(args)+1)), append(args, *update.CancelRequested)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	where := []string{"id = " + placeholder(len(args)+1)}
	args = append(args, update.ID)
	if len(update.FromStatusList) > 0 {
		clause, statusArgs := inClause("status", update.FromStatusList, len(args))
		where, args = append(where, clause), append(args, statusArgs...)
	}

	stmt := `UPDATE edit_session SET ` + strings.Join(set, ", ") + ` WHERE ` + strings.Join(where, " AND ") + ` RETURNING ` + editSessionColumns
	session, err := scanEditSession(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, missingOrRejected(ctx, d.db, update.ID)
		}
		return nil, errors.Wrap(err, "failed to update edit session")
	}
	return session, nil
}

// missingOrRejected tells a compare-and-set miss apart from an unknown session.
func missingOrRejected(ctx context.Context, q queryRower, id int32) error {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM edit_session WHERE id = ?)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "failed to check edit session")
	}
	if !exists {
		return errors.Wrapf(store.ErrNotFound, "edit session %d", id)
	}
	return errors.Wrapf(store.ErrTransitionRejected, "edit session %d", id)
}
