package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Registry when a workspace has no runtime row.
var ErrNotFound = errors.New("gateway: runtime not registered")

// Status is the last observed state of a runtime binding.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Runtime is the registry row binding a workspace to a runtime endpoint.
type Runtime struct {
	WorkspaceID     string     `json:"workspace_id"`
	BaseURL         string     `json:"runtime_base_url"`
	Status          Status     `json:"runtime_status"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Registry stores one runtime row per workspace.
type Registry interface {
	GetRuntime(ctx context.Context, workspaceID string) (Runtime, error)
	// UpsertRuntime inserts or replaces the row in one transaction and
	// returns the stored state.
	UpsertRuntime(ctx context.Context, rt Runtime) (Runtime, error)
	SetRuntimeStatus(ctx context.Context, workspaceID string, status Status, heartbeat *time.Time, at time.Time) error
}
