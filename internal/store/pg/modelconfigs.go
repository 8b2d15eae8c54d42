package pg

import (
	"context"
	"database/sql"
	"errors"

	"goyais.org/hub/internal/modelconfig"
	"goyais.org/hub/internal/secrets"
)

const modelConfigColumns = `id, workspace_id, provider, model, base_url, temperature, max_tokens, secret_ref, created_by, created_at, updated_at`

func (s *Store) FindSecret(ctx context.Context, workspaceID, ref string) (secrets.Secret, error) {
	var sec secrets.Secret
	err := s.db.QueryRowContext(ctx, `
		select ref, workspace_id, kind, envelope, created_by, created_at
		from secrets where workspace_id = $1 and ref = $2
	`, workspaceID, ref).Scan(&sec.Ref, &sec.WorkspaceID, &sec.Kind, &sec.Envelope, &sec.CreatedBy, &sec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return secrets.Secret{}, secrets.ErrNotFound
	}
	return sec, err
}

func scanModelConfig(row interface{ Scan(...any) error }) (modelconfig.ModelConfig, error) {
	var (
		c         modelconfig.ModelConfig
		baseURL   sql.NullString
		maxTokens sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.Provider, &c.Model, &baseURL, &c.Temperature, &maxTokens,
		&c.SecretRef, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return modelconfig.ModelConfig{}, modelconfig.ErrNotFound
		}
		return modelconfig.ModelConfig{}, err
	}
	if baseURL.Valid {
		v := baseURL.String
		c.BaseURL = &v
	}
	if maxTokens.Valid {
		v := int(maxTokens.Int64)
		c.MaxTokens = &v
	}
	return c, nil
}

func (s *Store) ListModelConfigs(ctx context.Context, workspaceID string) ([]modelconfig.ModelConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+modelConfigColumns+`
		from model_configs where workspace_id = $1
		order by created_at, id
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []modelconfig.ModelConfig
	for rows.Next() {
		c, err := scanModelConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetModelConfig(ctx context.Context, workspaceID, id string) (modelconfig.ModelConfig, error) {
	return scanModelConfig(s.db.QueryRowContext(ctx, `
		select `+modelConfigColumns+` from model_configs where workspace_id = $1 and id = $2
	`, workspaceID, id))
}

func insertSecret(ctx context.Context, tx *sql.Tx, sec secrets.Secret) error {
	_, err := tx.ExecContext(ctx, `
		insert into secrets (ref, workspace_id, kind, envelope, created_by, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, sec.Ref, sec.WorkspaceID, sec.Kind, sec.Envelope, sec.CreatedBy, sec.CreatedAt.UTC())
	return err
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func (s *Store) CreateModelConfig(ctx context.Context, c modelconfig.ModelConfig, sec secrets.Secret) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertSecret(ctx, tx, sec); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			insert into model_configs (`+modelConfigColumns+`)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, c.ID, c.WorkspaceID, c.Provider, c.Model, nullString(c.BaseURL), c.Temperature, nullInt(c.MaxTokens),
			c.SecretRef, c.CreatedBy, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
		return err
	})
}

func (s *Store) UpdateModelConfig(ctx context.Context, c modelconfig.ModelConfig, rotated *secrets.Secret) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var oldRef string
		err := tx.QueryRowContext(ctx, `
			select secret_ref from model_configs where workspace_id = $1 and id = $2 for update
		`, c.WorkspaceID, c.ID).Scan(&oldRef)
		if errors.Is(err, sql.ErrNoRows) {
			return modelconfig.ErrNotFound
		}
		if err != nil {
			return err
		}
		ref := oldRef
		if rotated != nil {
			if err := insertSecret(ctx, tx, *rotated); err != nil {
				return err
			}
			ref = rotated.Ref
		}
		if _, err := tx.ExecContext(ctx, `
			update model_configs
			set provider = $3, model = $4, base_url = $5, temperature = $6, max_tokens = $7,
			    secret_ref = $8, updated_at = $9
			where workspace_id = $1 and id = $2
		`, c.WorkspaceID, c.ID, c.Provider, c.Model, nullString(c.BaseURL), c.Temperature, nullInt(c.MaxTokens),
			ref, c.UpdatedAt.UTC()); err != nil {
			return err
		}
		if ref != oldRef {
			if _, err := tx.ExecContext(ctx, `delete from secrets where workspace_id = $1 and ref = $2`,
				c.WorkspaceID, oldRef); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteModelConfig(ctx context.Context, workspaceID, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var ref string
		err := tx.QueryRowContext(ctx, `
			delete from model_configs where workspace_id = $1 and id = $2 returning secret_ref
		`, workspaceID, id).Scan(&ref)
		if errors.Is(err, sql.ErrNoRows) {
			return modelconfig.ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `delete from secrets where workspace_id = $1 and ref = $2`, workspaceID, ref)
		return err
	})
}
