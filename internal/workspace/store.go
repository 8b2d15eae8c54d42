package workspace

import (
	"context"

	"goyais.org/hub/internal/auth"
)

// Store persists workspaces, roles and memberships.
type Store interface {
	// FindMembership returns ErrNotFound when the user has no membership row.
	FindMembership(ctx context.Context, userID, workspaceID string) (Membership, error)
	ListMemberships(ctx context.Context, userID string) ([]MembershipView, error)
	RolePermissions(ctx context.Context, roleID string) ([]string, error)
	RoleMenus(ctx context.Context, roleID string) ([]string, error)
	ListRoles(ctx context.Context, workspaceID string) ([]Role, error)
	// ReplaceRolePermissions swaps the full permission set of a role atomically.
	ReplaceRolePermissions(ctx context.Context, workspaceID, roleID string, keys []string) error
	CountUsers(ctx context.Context) (int, error)
	// Bootstrap writes the seed in one transaction and returns
	// ErrSetupCompleted if any user already exists.
	Bootstrap(ctx context.Context, seed Seed) error
}

// Seed is the full first-run state written by Bootstrap.
type Seed struct {
	User       auth.User
	Token      auth.AuthToken
	Workspace  Workspace
	Roles      []Role
	Membership Membership
}
