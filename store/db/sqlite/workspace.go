package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
)

func (d *DB) CreateWorkspace(ctx context.Context, create *store.Workspace) (*store.Workspace, error) {
	fields := []string{"name", "status", "created_ts", "updated_ts"}
	args := []any{create.Name, string(create.Status), create.CreatedTs, create.UpdatedTs}

	stmt := `INSERT INTO workspace (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create workspace")
	}
	return create, nil
}

func (d *DB) ListWorkspaces(ctx context.Context, find *store.FindWorkspace) ([]*store.Workspace, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, string(*find.Status))
	}

	query := `SELECT id, name, status, created_ts, updated_ts FROM workspace WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list workspaces")
	}
	defer rows.Close()

	list := make([]*store.Workspace, 0)
	for rows.Next() {
		w := &store.Workspace{}
		var status string
		if err := rows.Scan(&w.ID, &w.Name, &status, &w.CreatedTs, &w.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan workspace")
		}
		w.Status = store.WorkspaceStatus(status)
		list = append(list, w)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate workspaces")
	}
	return list, nil
}
