package workspace

import "sort"

// Permission keys. Each key is checked on its own; no key implies another.
const (
	PermWorkspaceRead     = "workspace:read"
	PermWorkspaceManage   = "workspace:manage"
	PermProjectRead       = "project:read"
	PermProjectWrite      = "project:write"
	PermModelConfigRead   = "modelconfig:read"
	PermModelConfigManage = "modelconfig:manage"
	PermRunRead           = "run:read"
	PermRunCreate         = "run:create"
	PermConfirmWrite      = "confirm:write"
	PermAuditRead         = "audit:read"
)

// Permissions lists every known permission key.
var Permissions = []string{
	PermWorkspaceRead,
	PermWorkspaceManage,
	PermProjectRead,
	PermProjectWrite,
	PermModelConfigRead,
	PermModelConfigManage,
	PermRunRead,
	PermRunCreate,
	PermConfirmWrite,
	PermAuditRead,
}

// Menus lists every known navigation entry.
var Menus = []Menu{
	{MenuID: "nav_projects", Label: "Projects", Route: "/projects", I18nKey: "nav.projects", SortOrder: 10},
	{MenuID: "nav_run", Label: "Run", Route: "/run", I18nKey: "nav.run", SortOrder: 20},
	{MenuID: "nav_model_configs", Label: "Models", Route: "/models", I18nKey: "nav.models", SortOrder: 30},
	{MenuID: "nav_settings", Label: "Settings", Route: "/settings", I18nKey: "nav.settings", SortOrder: 90},
}

const (
	RoleOwner  = "Owner"
	RoleMember = "Member"
)

// SystemRole is a role template seeded into every new workspace.
type SystemRole struct {
	Name        string
	Permissions []string
	Menus       []string
}

// SystemRoles returns the seeded role templates.
func SystemRoles() []SystemRole {
	allMenus := make([]string, 0, len(Menus))
	for _, m := range Menus {
		allMenus = append(allMenus, m.MenuID)
	}
	return []SystemRole{
		{
			Name:        RoleOwner,
			Permissions: append([]string(nil), Permissions...),
			Menus:       allMenus,
		},
		{
			Name: RoleMember,
			Permissions: []string{
				PermWorkspaceRead,
				PermProjectRead,
				PermProjectWrite,
				PermModelConfigRead,
				PermRunRead,
				PermRunCreate,
				PermConfirmWrite,
			},
			Menus: []string{"nav_projects", "nav_run"},
		},
	}
}

// IsKnownPermission reports whether key is in the catalog.
func IsKnownPermission(key string) bool {
	for _, p := range Permissions {
		if p == key {
			return true
		}
	}
	return false
}

// MenusByID resolves menu ids to catalog entries ordered by SortOrder.
// Unknown ids are skipped.
func MenusByID(ids []string) []Menu {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]Menu, 0, len(ids))
	for _, m := range Menus {
		if _, ok := want[m.MenuID]; ok {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}
