package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"goyais.org/hub/internal/gateway"
)

func (s *Store) GetRuntime(ctx context.Context, workspaceID string) (gateway.Runtime, error) {
	return scanRuntime(s.db.QueryRowContext(ctx, `
		select workspace_id, runtime_base_url, runtime_status, last_heartbeat_at, created_at, updated_at
		from workspace_runtimes where workspace_id = $1
	`, workspaceID))
}

func scanRuntime(row interface{ Scan(...any) error }) (gateway.Runtime, error) {
	var (
		rt        gateway.Runtime
		status    string
		heartbeat sql.NullTime
	)
	if err := row.Scan(&rt.WorkspaceID, &rt.BaseURL, &status, &heartbeat, &rt.CreatedAt, &rt.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return gateway.Runtime{}, gateway.ErrNotFound
		}
		return gateway.Runtime{}, err
	}
	rt.Status = gateway.Status(status)
	rt.LastHeartbeatAt = timePtr(heartbeat)
	return rt, nil
}

// UpsertRuntime keeps created_at of an existing row.
func (s *Store) UpsertRuntime(ctx context.Context, rt gateway.Runtime) (gateway.Runtime, error) {
	return scanRuntime(s.db.QueryRowContext(ctx, `
		insert into workspace_runtimes (workspace_id, runtime_base_url, runtime_status, last_heartbeat_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (workspace_id) do update
		set runtime_base_url = excluded.runtime_base_url,
		    runtime_status = excluded.runtime_status,
		    last_heartbeat_at = coalesce(excluded.last_heartbeat_at, workspace_runtimes.last_heartbeat_at),
		    updated_at = excluded.updated_at
		returning workspace_id, runtime_base_url, runtime_status, last_heartbeat_at, created_at, updated_at
	`, rt.WorkspaceID, rt.BaseURL, string(rt.Status), nullTime(rt.LastHeartbeatAt), rt.CreatedAt.UTC(), rt.UpdatedAt.UTC()))
}

func (s *Store) SetRuntimeStatus(ctx context.Context, workspaceID string, status gateway.Status, heartbeat *time.Time, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update workspace_runtimes
		set runtime_status = $2,
		    last_heartbeat_at = coalesce($3, last_heartbeat_at),
		    updated_at = $4
		where workspace_id = $1
	`, workspaceID, string(status), nullTime(heartbeat), at.UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gateway.ErrNotFound
	}
	return nil
}
