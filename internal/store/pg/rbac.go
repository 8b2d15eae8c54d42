package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"goyais.org/hub/internal/workspace"
)

func (s *Store) FindMembership(ctx context.Context, userID, workspaceID string) (workspace.Membership, error) {
	var (
		m      workspace.Membership
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		select m.user_id, m.workspace_id, m.role_id, r.name, m.status, m.created_at
		from memberships m
		join roles r on r.id = m.role_id
		where m.user_id = $1 and m.workspace_id = $2
	`, userID, workspaceID).Scan(&m.UserID, &m.WorkspaceID, &m.RoleID, &m.RoleName, &status, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return workspace.Membership{}, workspace.ErrNotFound
	}
	if err != nil {
		return workspace.Membership{}, err
	}
	m.Status = workspace.MembershipStatus(status)
	return m, nil
}

func (s *Store) ListMemberships(ctx context.Context, userID string) ([]workspace.MembershipView, error) {
	rows, err := s.db.QueryContext(ctx, `
		select w.id, w.name, w.slug, r.id, r.name, m.status
		from memberships m
		join workspaces w on w.id = m.workspace_id
		join roles r on r.id = m.role_id
		where m.user_id = $1
		order by w.name, w.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []workspace.MembershipView
	for rows.Next() {
		var (
			v      workspace.MembershipView
			status string
		)
		if err := rows.Scan(&v.WorkspaceID, &v.WorkspaceName, &v.WorkspaceSlug, &v.RoleID, &v.RoleName, &status); err != nil {
			return nil, err
		}
		v.Status = workspace.MembershipStatus(status)
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *Store) RolePermissions(ctx context.Context, roleID string) ([]string, error) {
	return s.queryStrings(ctx, `select perm_key from role_permissions where role_id = $1 order by perm_key`, roleID)
}

func (s *Store) RoleMenus(ctx context.Context, roleID string) ([]string, error) {
	return s.queryStrings(ctx, `select menu_id from role_menus where role_id = $1 order by menu_id`, roleID)
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) ListRoles(ctx context.Context, workspaceID string) ([]workspace.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, workspace_id, name, is_system, created_at
		from roles
		where workspace_id = $1
		order by name
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		roles []workspace.Role
		index = map[string]int{}
	)
	for rows.Next() {
		var r workspace.Role
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.Name, &r.IsSystem, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Permissions = []string{}
		r.Menus = []string{}
		index[r.ID] = len(roles)
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return roles, nil
	}

	attach := func(query string, add func(r *workspace.Role, v string)) error {
		rows, err := s.db.QueryContext(ctx, query, workspaceID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var roleID, v string
			if err := rows.Scan(&roleID, &v); err != nil {
				return err
			}
			if i, ok := index[roleID]; ok {
				add(&roles[i], v)
			}
		}
		return rows.Err()
	}
	if err := attach(`
		select rp.role_id, rp.perm_key
		from role_permissions rp join roles r on r.id = rp.role_id
		where r.workspace_id = $1
		order by rp.role_id, rp.perm_key
	`, func(r *workspace.Role, v string) { r.Permissions = append(r.Permissions, v) }); err != nil {
		return nil, fmt.Errorf("load role permissions: %w", err)
	}
	if err := attach(`
		select rm.role_id, rm.menu_id
		from role_menus rm join roles r on r.id = rm.role_id
		where r.workspace_id = $1
		order by rm.role_id, rm.menu_id
	`, func(r *workspace.Role, v string) { r.Menus = append(r.Menus, v) }); err != nil {
		return nil, fmt.Errorf("load role menus: %w", err)
	}
	return roles, nil
}

func (s *Store) ReplaceRolePermissions(ctx context.Context, workspaceID, roleID string, keys []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var found string
		err := tx.QueryRowContext(ctx, `select id from roles where id = $1 and workspace_id = $2 for update`,
			roleID, workspaceID).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return workspace.ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `insert into role_permissions (role_id, perm_key) values ($1, $2)`, roleID, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&n)
	return n, err
}
