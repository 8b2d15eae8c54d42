package workspace

import (
	"context"
	"errors"
	"sort"

	"goyais.org/hub/internal/apierr"
)

// Gate answers membership and permission questions. It reads the store on
// every call so role changes apply to the next request.
type Gate struct {
	store Store
}

// NewGate constructs a Gate.
func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// RequireMember returns the caller's active membership in workspaceID.
// Unknown workspaces are indistinguishable from foreign ones.
func (g *Gate) RequireMember(ctx context.Context, userID, workspaceID string) (Membership, error) {
	m, err := g.store.FindMembership(ctx, userID, workspaceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Membership{}, notMember()
		}
		return Membership{}, apierr.Internal("membership_lookup", err)
	}
	if m.Status != MembershipActive {
		return Membership{}, notMember()
	}
	return m, nil
}

// RequirePermission fails with FORBIDDEN unless the membership's role holds perm.
func (g *Gate) RequirePermission(ctx context.Context, m Membership, perm string) error {
	perms, err := g.store.RolePermissions(ctx, m.RoleID)
	if err != nil {
		return apierr.Internal("permission_lookup", err)
	}
	for _, p := range perms {
		if p == perm {
			return nil
		}
	}
	return apierr.New(apierr.CodeForbidden, "Missing required permission.",
		apierr.WithCause("permission"),
		apierr.WithDetails(map[string]any{"perm_key": perm, "workspace_id": m.WorkspaceID}))
}

// Memberships lists every workspace the user belongs to.
func (g *Gate) Memberships(ctx context.Context, userID string) ([]MembershipView, error) {
	views, err := g.store.ListMemberships(ctx, userID)
	if err != nil {
		return nil, apierr.Internal("membership_list", err)
	}
	if views == nil {
		views = []MembershipView{}
	}
	return views, nil
}

// Navigation returns the permissions and menus of m's role.
func (g *Gate) Navigation(ctx context.Context, m Membership) (Navigation, error) {
	perms, err := g.store.RolePermissions(ctx, m.RoleID)
	if err != nil {
		return Navigation{}, apierr.Internal("permission_lookup", err)
	}
	menuIDs, err := g.store.RoleMenus(ctx, m.RoleID)
	if err != nil {
		return Navigation{}, apierr.Internal("menu_lookup", err)
	}
	perms = append([]string{}, perms...)
	sort.Strings(perms)
	return Navigation{
		WorkspaceID:  m.WorkspaceID,
		RoleName:     m.RoleName,
		Permissions:  perms,
		Menus:        MenusByID(menuIDs),
		FeatureFlags: map[string]bool{},
	}, nil
}

// ListRoles returns the roles of a workspace.
func (g *Gate) ListRoles(ctx context.Context, workspaceID string) ([]Role, error) {
	roles, err := g.store.ListRoles(ctx, workspaceID)
	if err != nil {
		return nil, apierr.Internal("role_list", err)
	}
	if roles == nil {
		roles = []Role{}
	}
	return roles, nil
}

// SetRolePermissions replaces the permission set of a role.
func (g *Gate) SetRolePermissions(ctx context.Context, workspaceID, roleID string, keys []string) ([]string, error) {
	seen := make(map[string]struct{}, len(keys))
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		if !IsKnownPermission(k) {
			return nil, apierr.Validation("Unknown permission key.", "role_permissions_payload",
				map[string]any{"perm_key": k})
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		clean = append(clean, k)
	}
	sort.Strings(clean)
	if err := g.store.ReplaceRolePermissions(ctx, workspaceID, roleID, clean); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apierr.New(apierr.CodeNotFound, "Role not found.", apierr.WithCause("role_lookup"))
		}
		return nil, apierr.Internal("role_permissions_update", err)
	}
	return clean, nil
}

func notMember() error {
	return apierr.New(apierr.CodeForbidden, "You are not a member of this workspace.",
		apierr.WithCause("workspace_membership"))
}
