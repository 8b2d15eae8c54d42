package main

import (
	"context"
	"errors"
	"strings"

	"goyais.org/hub/internal/auth"
	"goyais.org/hub/internal/config"
	"goyais.org/hub/internal/gateway"
	"goyais.org/hub/internal/modelconfig"
	"goyais.org/hub/internal/secrets"
	"goyais.org/hub/internal/store/memory"
	"goyais.org/hub/internal/store/pg"
	"goyais.org/hub/internal/workspace"
)

// hubStore is the persistence surface every hub component shares.
type hubStore interface {
	auth.Store
	workspace.Store
	secrets.Store
	modelconfig.Store
	gateway.Registry
	Ping(ctx context.Context) error
}

// openStore opens the configured backend. The returned close func is never nil.
func openStore(cfg *config.Config) (hubStore, func() error, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), func() error { return nil }, nil
	case config.StorePostgres:
		if strings.TrimSpace(cfg.PGDSN) == "" {
			return nil, nil, errors.New(config.EnvKey("pg_dsn") + " is required for the postgres store")
		}
		st, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, errors.New("unknown store backend " + cfg.Store)
	}
}
