package workspace

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/mail"
	"strings"
	"time"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/auth"
	"goyais.org/hub/internal/ids"
)

const (
	DefaultWorkspaceName = "Default"
	DefaultWorkspaceSlug = "default"

	minPasswordLen = 8
)

// Bootstrapper performs first-run setup.
type Bootstrapper struct {
	store             Store
	token             string
	allowPublicSignup bool
	tokenTTL          time.Duration
	now               func() time.Time
}

// BootstrapOption configures a Bootstrapper.
type BootstrapOption func(*Bootstrapper)

// WithAllowPublicSignup is reported by Status.
func WithAllowPublicSignup(allow bool) BootstrapOption {
	return func(b *Bootstrapper) { b.allowPublicSignup = allow }
}

// WithBootstrapClock overrides time source.
func WithBootstrapClock(fn func() time.Time) BootstrapOption {
	return func(b *Bootstrapper) {
		if fn != nil {
			b.now = fn
		}
	}
}

// NewBootstrapper constructs a Bootstrapper. An empty token disables the
// HTTP bootstrap flow.
func NewBootstrapper(store Store, bootstrapToken string, tokenTTL time.Duration, opts ...BootstrapOption) *Bootstrapper {
	b := &Bootstrapper{
		store:    store,
		token:    strings.TrimSpace(bootstrapToken),
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetupStatus is reported before any user exists.
type SetupStatus struct {
	SetupMode         bool   `json:"setup_mode"`
	AllowPublicSignup bool   `json:"allow_public_signup"`
	Message           string `json:"message"`
}

// Status reports whether setup is still required.
func (b *Bootstrapper) Status(ctx context.Context) (SetupStatus, error) {
	n, err := b.store.CountUsers(ctx)
	if err != nil {
		return SetupStatus{}, apierr.Internal("setup_status", err)
	}
	st := SetupStatus{SetupMode: n == 0, AllowPublicSignup: b.allowPublicSignup, Message: "ok"}
	if st.SetupMode {
		st.Message = "setup required"
	}
	return st, nil
}

// AdminInput is the bootstrap admin request.
type AdminInput struct {
	BootstrapToken string `json:"bootstrap_token"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	DisplayName    string `json:"display_name"`
}

// AdminResult is returned after a successful bootstrap.
type AdminResult struct {
	Token     string        `json:"token"`
	User      auth.UserView `json:"user"`
	Workspace Workspace     `json:"workspace"`
}

// Validate checks the input shape.
func (in AdminInput) Validate() error {
	var issues []string
	if strings.TrimSpace(in.BootstrapToken) == "" {
		issues = append(issues, "bootstrap_token is required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(in.Email)); err != nil {
		issues = append(issues, "email must be a valid address")
	}
	if len(in.Password) < minPasswordLen {
		issues = append(issues, "password must be at least 8 characters")
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		issues = append(issues, "display_name is required")
	}
	if len(issues) > 0 {
		return apierr.Validation("Invalid bootstrap payload.", "bootstrap_payload", map[string]any{"issues": issues})
	}
	return nil
}

// CreateAdmin seeds the first admin, the default workspace, the system roles
// and an Owner membership, and returns a bearer token for the admin.
func (b *Bootstrapper) CreateAdmin(ctx context.Context, in AdminInput) (AdminResult, error) {
	if err := in.Validate(); err != nil {
		return AdminResult{}, err
	}
	st, err := b.Status(ctx)
	if err != nil {
		return AdminResult{}, err
	}
	if !st.SetupMode {
		return AdminResult{}, setupCompleted()
	}
	if b.token == "" || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(in.BootstrapToken)), []byte(b.token)) != 1 {
		return AdminResult{}, apierr.New(apierr.CodeBootstrapTokenInvalid, "Invalid bootstrap token.",
			apierr.WithCause("bootstrap_token"))
	}
	return b.seed(ctx, in)
}

// CreateAdminLocal seeds like CreateAdmin but skips the bootstrap token. It
// backs the operator CLI.
func (b *Bootstrapper) CreateAdminLocal(ctx context.Context, in AdminInput) (AdminResult, error) {
	in.BootstrapToken = "local"
	if err := in.Validate(); err != nil {
		return AdminResult{}, err
	}
	return b.seed(ctx, in)
}

func (b *Bootstrapper) seed(ctx context.Context, in AdminInput) (AdminResult, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return AdminResult{}, apierr.Internal("password_hash", err)
	}
	now := b.now().UTC()
	user := auth.User{
		ID:           ids.Prefixed("usr"),
		Email:        auth.NormalizeEmail(in.Email),
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PasswordHash: hash,
		Status:       auth.UserActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	issued, err := auth.IssueToken(user.ID, b.tokenTTL, now)
	if err != nil {
		return AdminResult{}, apierr.Internal("token_issue", err)
	}
	ws := Workspace{ID: ids.Prefixed("ws"), Name: DefaultWorkspaceName, Slug: DefaultWorkspaceSlug, CreatedAt: now}

	var (
		roles   []Role
		ownerID string
	)
	for _, tpl := range SystemRoles() {
		r := Role{
			ID:          ids.Prefixed("role"),
			WorkspaceID: ws.ID,
			Name:        tpl.Name,
			IsSystem:    true,
			Permissions: tpl.Permissions,
			Menus:       tpl.Menus,
			CreatedAt:   now,
		}
		if tpl.Name == RoleOwner {
			ownerID = r.ID
		}
		roles = append(roles, r)
	}

	seed := Seed{
		User:      user,
		Token:     issued.Record,
		Workspace: ws,
		Roles:     roles,
		Membership: Membership{
			UserID:      user.ID,
			WorkspaceID: ws.ID,
			RoleID:      ownerID,
			RoleName:    RoleOwner,
			Status:      MembershipActive,
			CreatedAt:   now,
		},
	}
	if err := b.store.Bootstrap(ctx, seed); err != nil {
		if errors.Is(err, ErrSetupCompleted) {
			return AdminResult{}, setupCompleted()
		}
		return AdminResult{}, apierr.Internal("bootstrap_persist", err)
	}
	return AdminResult{Token: issued.Token, User: user.View(), Workspace: ws}, nil
}

func setupCompleted() error {
	return apierr.New(apierr.CodeSetupCompleted, "Bootstrap has already been completed.",
		apierr.WithCause("setup_completed"))
}
