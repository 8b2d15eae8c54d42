package auth

import (
	"context"
	"time"
)

// Store persists users and bearer tokens. Lookups return ErrNotFound when no
// row matches.
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUser(ctx context.Context, id string) (User, error)
	CreateAuthToken(ctx context.Context, token AuthToken) error
	FindAuthTokenByHash(ctx context.Context, tokenHash string) (AuthToken, error)
	TouchAuthToken(ctx context.Context, tokenID string, at time.Time) error
}
