package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/obs"
)

const defaultTokenTTL = 7 * 24 * time.Hour

// Service authenticates users by password and by bearer token.
type Service struct {
	store    Store
	now      func() time.Time
	tokenTTL time.Duration
	verify   func(password, encoded string) bool
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenTTL configures bearer token lifetime.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:    store,
		now:      time.Now,
		tokenTTL: defaultTokenTTL,
		verify:   VerifyPassword,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration { return s.tokenTTL }

// Now exposes the service clock so collaborators mint consistent timestamps.
func (s *Service) Now() time.Time { return s.now().UTC() }

// LoginResult is returned by Login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// Login verifies email and password and persists a new bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = NormalizeEmail(email)
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.verify(password, dummyPasswordHash)
			return LoginResult{}, invalidLogin()
		}
		return LoginResult{}, apierr.Internal("user_lookup", err)
	}
	if !s.verify(password, user.PasswordHash) {
		return LoginResult{}, invalidLogin()
	}
	if user.Status != UserActive {
		return LoginResult{}, apierr.New(apierr.CodeAuthInvalid, "User is disabled.", apierr.WithCause("user_disabled"))
	}

	issued, err := IssueToken(user.ID, s.tokenTTL, s.now())
	if err != nil {
		return LoginResult{}, apierr.Internal("token_issue", err)
	}
	if err := s.store.CreateAuthToken(ctx, issued.Record); err != nil {
		return LoginResult{}, apierr.Internal("token_persist", err)
	}
	return LoginResult{Token: issued.Token, ExpiresAt: issued.Record.ExpiresAt, User: user}, nil
}

// Authenticate resolves an Authorization header value to an Identity.
func (s *Service) Authenticate(ctx context.Context, header string) (Identity, error) {
	raw, err := ExtractBearer(header)
	if err != nil {
		return Identity{}, err
	}
	hash := HashToken(raw)
	record, err := s.store.FindAuthTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, invalidBearer()
		}
		return Identity{}, apierr.Internal("token_lookup", err)
	}
	if !subtleCompare(record.TokenHash, hash) {
		return Identity{}, invalidBearer()
	}
	now := s.now()
	if !now.Before(record.ExpiresAt) {
		return Identity{}, apierr.New(apierr.CodeAuthExpired, "Bearer token has expired.", apierr.WithCause("expired_bearer"))
	}
	user, err := s.store.FindUser(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, invalidBearer()
		}
		return Identity{}, apierr.Internal("user_lookup", err)
	}
	if user.Status != UserActive {
		return Identity{}, apierr.New(apierr.CodeAuthInvalid, "User is disabled.", apierr.WithCause("user_disabled"))
	}

	if err := s.store.TouchAuthToken(ctx, record.ID, now.UTC()); err != nil {
		obs.Logger().Warn().Err(err).Str("token_id", record.ID).Msg("touch auth token failed")
	}
	return Identity{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		TokenID:     record.ID,
	}, nil
}

// ExtractBearer returns the token of a "Bearer <token>" header value.
func ExtractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", apierr.New(apierr.CodeAuthRequired, "Authentication is required.", apierr.WithCause("missing_bearer"))
	}
	const scheme = "bearer "
	if len(header) < len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		if strings.EqualFold(header, "bearer") {
			return "", apierr.New(apierr.CodeAuthRequired, "Bearer token is empty.", apierr.WithCause("empty_bearer"))
		}
		return "", apierr.New(apierr.CodeAuthRequired, "Authentication is required.", apierr.WithCause("missing_bearer"))
	}
	token := strings.TrimSpace(header[len(scheme):])
	if token == "" {
		return "", apierr.New(apierr.CodeAuthRequired, "Bearer token is empty.", apierr.WithCause("empty_bearer"))
	}
	return token, nil
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func invalidLogin() error {
	return apierr.New(apierr.CodeAuthInvalid, "Invalid email or password.", apierr.WithCause("invalid_login"))
}

func invalidBearer() error {
	return apierr.New(apierr.CodeAuthInvalid, "Bearer token is invalid.", apierr.WithCause("invalid_bearer"))
}
