package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

func (d *DB) CreateConversationMessages(ctx context.Context, conversationID int32, creates []*store.ConversationMessage) ([]*store.ConversationMessage, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	// Lock the conversation row so concurrent turns cannot take the same sequence number.
	if _, err := tx.ExecContext(ctx, `SELECT id FROM conversation WHERE id = $1 FOR UPDATE`, conversationID); err != nil {
		return nil, errors.Wrap(err, "failed to lock conversation")
	}

	var sequence int32
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence_no), 0) FROM conversation_message WHERE conversation_id = $1`, conversationID).Scan(&sequence); err != nil {
		return nil, errors.Wrap(err, "failed to read message sequence")
	}

	fields := []string{"uid", "conversation_id", "role", "content", "sequence_no", "created_ts"}
	stmt := `INSERT INTO conversation_message (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(fields)) + `)
		RETURNING id`
	for _, create := range creates {
		sequence++
		create.ConversationID = conversationID
		create.Sequence = sequence
		args := []any{create.UID, create.ConversationID, string(create.Role), create.Content, create.Sequence, create.CreatedTs}
		if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
			return nil, errors.Wrap(err, "failed to create conversation message")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit conversation messages")
	}
	return creates, nil
}

func (d *DB) ListConversationMessages(ctx context.Context, find *store.FindConversationMessage) ([]*store.ConversationMessage, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.Role != nil {
		where, args = append(where, "role = "+placeholder(len(args)+1)), append(args, string(*find.Role))
	}

	query := `SELECT id, uid, conversation_id, role, content, sequence_no, created_ts FROM conversation_message WHERE ` + strings.Join(where, " AND ") + ` ORDER BY conversation_id ASC, sequence_no ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversation messages")
	}
	defer rows.Close()

	list := make([]*store.ConversationMessage, 0)
	for rows.Next() {
		m := &store.ConversationMessage{}
		var role string
		if err := rows.Scan(&m.ID, &m.UID, &m.ConversationID, &role, &m.Content, &m.Sequence, &m.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation message")
		}
		m.Role = store.ConversationMessageRole(role)
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate conversation messages")
	}
	return list, nil
}
