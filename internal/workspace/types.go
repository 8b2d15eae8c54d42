package workspace

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("workspace: not found")
	ErrSetupCompleted = errors.New("workspace: setup already completed")
)

// MembershipStatus gates access; only active memberships grant anything.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipDisabled MembershipStatus = "disabled"
)

// Workspace is the tenant boundary.
type Workspace struct {
	ID        string    `json:"workspace_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// Role is a named permission and menu set scoped to one workspace.
type Role struct {
	ID          string    `json:"role_id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	IsSystem    bool      `json:"is_system"`
	Permissions []string  `json:"permissions"`
	Menus       []string  `json:"menus"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership binds a user to a workspace through a role.
type Membership struct {
	UserID      string
	WorkspaceID string
	RoleID      string
	RoleName    string
	Status      MembershipStatus
	CreatedAt   time.Time
}

// MembershipView joins a membership with its workspace and role names.
type MembershipView struct {
	WorkspaceID   string           `json:"workspace_id"`
	WorkspaceName string           `json:"workspace_name"`
	WorkspaceSlug string           `json:"workspace_slug"`
	RoleID        string           `json:"role_id"`
	RoleName      string           `json:"role_name"`
	Status        MembershipStatus `json:"status"`
}

// Menu is a navigation entry unlocked by a role.
type Menu struct {
	MenuID    string `json:"menu_id"`
	Label     string `json:"label"`
	Route     string `json:"route"`
	I18nKey   string `json:"i18n_key"`
	SortOrder int    `json:"sort_order"`
}

// Navigation is what a member sees in a workspace.
type Navigation struct {
	WorkspaceID  string          `json:"workspace_id"`
	RoleName     string          `json:"role_name"`
	Permissions  []string        `json:"permissions"`
	Menus        []Menu          `json:"menus"`
	FeatureFlags map[string]bool `json:"feature_flags"`
}
