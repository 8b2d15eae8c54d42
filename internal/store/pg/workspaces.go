package pg

import (
	"context"
	"database/sql"

	"goyais.org/hub/internal/workspace"
)

// Bootstrap writes the first-run seed. An advisory lock serializes concurrent
// attempts and the user count is re-checked inside the transaction.
func (s *Store) Bootstrap(ctx context.Context, seed workspace.Seed) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, int64(bootstrapLockID)); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, `select count(*) from users`).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return workspace.ErrSetupCompleted
		}

		if err := insertUser(ctx, tx, seed.User); err != nil {
			return err
		}
		if err := insertAuthToken(ctx, tx, seed.Token); err != nil {
			return err
		}
		ws := seed.Workspace
		if _, err := tx.ExecContext(ctx, `
			insert into workspaces (id, name, slug, created_at) values ($1, $2, $3, $4)
		`, ws.ID, ws.Name, ws.Slug, ws.CreatedAt.UTC()); err != nil {
			return err
		}
		for _, r := range seed.Roles {
			if err := insertRole(ctx, tx, r); err != nil {
				return err
			}
		}
		m := seed.Membership
		_, err := tx.ExecContext(ctx, `
			insert into memberships (user_id, workspace_id, role_id, status, created_at)
			values ($1, $2, $3, $4, $5)
		`, m.UserID, m.WorkspaceID, m.RoleID, string(m.Status), m.CreatedAt.UTC())
		return err
	})
}

func insertRole(ctx context.Context, tx *sql.Tx, r workspace.Role) error {
	if _, err := tx.ExecContext(ctx, `
		insert into roles (id, workspace_id, name, is_system, created_at) values ($1, $2, $3, $4, $5)
	`, r.ID, r.WorkspaceID, r.Name, r.IsSystem, r.CreatedAt.UTC()); err != nil {
		return err
	}
	for _, p := range r.Permissions {
		if _, err := tx.ExecContext(ctx, `insert into role_permissions (role_id, perm_key) values ($1, $2)`, r.ID, p); err != nil {
			return err
		}
	}
	for _, m := range r.Menus {
		if _, err := tx.ExecContext(ctx, `insert into role_menus (role_id, menu_id) values ($1, $2)`, r.ID, m); err != nil {
			return err
		}
	}
	return nil
}
