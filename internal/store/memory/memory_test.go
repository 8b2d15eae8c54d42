package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goyais.org/hub/internal/auth"
	"goyais.org/hub/internal/gateway"
	"goyais.org/hub/internal/modelconfig"
	"goyais.org/hub/internal/secrets"
	"goyais.org/hub/internal/workspace"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed() workspace.Seed {
	return workspace.Seed{
		User:      auth.User{ID: "usr_1", Email: "admin@example.com", Status: auth.UserActive},
		Token:     auth.AuthToken{ID: "tok_1", UserID: "usr_1", TokenHash: "h1", ExpiresAt: t0.Add(time.Hour)},
		Workspace: workspace.Workspace{ID: "ws_1", Name: "Default", Slug: "default"},
		Roles: []workspace.Role{
			{ID: "role_owner", WorkspaceID: "ws_1", Name: workspace.RoleOwner, Permissions: []string{"b", "a"}, Menus: []string{"nav_run"}},
			{ID: "role_member", WorkspaceID: "ws_1", Name: workspace.RoleMember, Permissions: []string{"a"}},
		},
		Membership: workspace.Membership{UserID: "usr_1", WorkspaceID: "ws_1", RoleID: "role_owner", Status: workspace.MembershipActive},
	}
}

func TestBootstrapOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Bootstrap(ctx, seed()))
	assert.ErrorIs(t, s.Bootstrap(ctx, seed()), workspace.ErrSetupCompleted)

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m, err := s.FindMembership(ctx, "usr_1", "ws_1")
	require.NoError(t, err)
	assert.Equal(t, workspace.RoleOwner, m.RoleName)

	_, err = s.FindMembership(ctx, "usr_1", "ws_other")
	assert.ErrorIs(t, err, workspace.ErrNotFound)

	views, err := s.ListMemberships(ctx, "usr_1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "default", views[0].WorkspaceSlug)

	u, err := s.FindUserByEmail(ctx, "ADMIN@example.com")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", u.ID)
}

func TestRolePermissionsReplace(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Bootstrap(ctx, seed()))

	roles, err := s.ListRoles(ctx, "ws_1")
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, []string{"a", "b"}, roles[1].Permissions)

	require.NoError(t, s.ReplaceRolePermissions(ctx, "ws_1", "role_member", []string{"x"}))
	perms, err := s.RolePermissions(ctx, "role_member")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, perms)

	assert.ErrorIs(t, s.ReplaceRolePermissions(ctx, "ws_2", "role_member", nil), workspace.ErrNotFound)
	assert.ErrorIs(t, s.ReplaceRolePermissions(ctx, "ws_1", "role_missing", nil), workspace.ErrNotFound)
}

func TestTokens(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Bootstrap(ctx, seed()))

	require.NoError(t, s.TouchAuthToken(ctx, "tok_1", t0))
	tok, err := s.FindAuthTokenByHash(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, tok.LastUsedAt)
	assert.True(t, tok.LastUsedAt.Equal(t0))

	assert.ErrorIs(t, s.CreateAuthToken(ctx, tok), auth.ErrConflict)
	assert.ErrorIs(t, s.TouchAuthToken(ctx, "nope", t0), auth.ErrNotFound)
}

func TestModelConfigRotationDropsOldSecret(t *testing.T) {
	ctx := context.Background()
	s := New()
	first := secrets.Secret{Ref: "secret_a", WorkspaceID: "ws_1", Envelope: "enc:v1:a"}
	cfg := modelconfig.ModelConfig{ID: "mc_1", WorkspaceID: "ws_1", SecretRef: first.Ref}
	require.NoError(t, s.CreateModelConfig(ctx, cfg, first))

	second := secrets.Secret{Ref: "secret_b", WorkspaceID: "ws_1", Envelope: "enc:v1:b"}
	cfg.Model = "m2"
	require.NoError(t, s.UpdateModelConfig(ctx, cfg, &second))

	got, err := s.GetModelConfig(ctx, "ws_1", "mc_1")
	require.NoError(t, err)
	assert.Equal(t, "secret_b", got.SecretRef)
	_, err = s.FindSecret(ctx, "ws_1", "secret_a")
	assert.ErrorIs(t, err, secrets.ErrNotFound)

	_, err = s.GetModelConfig(ctx, "ws_2", "mc_1")
	assert.ErrorIs(t, err, modelconfig.ErrNotFound)

	require.NoError(t, s.DeleteModelConfig(ctx, "ws_1", "mc_1"))
	_, err = s.FindSecret(ctx, "ws_1", "secret_b")
	assert.ErrorIs(t, err, secrets.ErrNotFound)
	assert.ErrorIs(t, s.DeleteModelConfig(ctx, "ws_1", "mc_1"), modelconfig.ErrNotFound)
}

func TestUpdateWithoutKeyKeepsCurrentSecretRef(t *testing.T) {
	ctx := context.Background()
	s := New()
	old := secrets.Secret{Ref: "secret_old", WorkspaceID: "ws_1", Envelope: "enc:v1:old"}
	require.NoError(t, s.CreateModelConfig(ctx, modelconfig.ModelConfig{ID: "mc_1", WorkspaceID: "ws_1", SecretRef: old.Ref}, old))

	stale, err := s.GetModelConfig(ctx, "ws_1", "mc_1")
	require.NoError(t, err)

	fresh := stale
	rotated := secrets.Secret{Ref: "secret_new", WorkspaceID: "ws_1", Envelope: "enc:v1:new"}
	require.NoError(t, s.UpdateModelConfig(ctx, fresh, &rotated))

	stale.Model = "renamed"
	require.NoError(t, s.UpdateModelConfig(ctx, stale, nil))

	got, err := s.GetModelConfig(ctx, "ws_1", "mc_1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Model)
	assert.Equal(t, "secret_new", got.SecretRef)
	_, err = s.FindSecret(ctx, "ws_1", got.SecretRef)
	require.NoError(t, err)
	_, err = s.FindSecret(ctx, "ws_1", "secret_old")
	assert.ErrorIs(t, err, secrets.ErrNotFound)
}

func TestRuntimeUpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.GetRuntime(ctx, "ws_1")
	assert.ErrorIs(t, err, gateway.ErrNotFound)

	_, err = s.UpsertRuntime(ctx, gateway.Runtime{WorkspaceID: "ws_1", BaseURL: "http://a", CreatedAt: t0})
	require.NoError(t, err)
	rt, err := s.UpsertRuntime(ctx, gateway.Runtime{WorkspaceID: "ws_1", BaseURL: "http://b", CreatedAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, t0, rt.CreatedAt)
	assert.Equal(t, "http://b", rt.BaseURL)

	hb := t0.Add(2 * time.Hour)
	require.NoError(t, s.SetRuntimeStatus(ctx, "ws_1", gateway.StatusOnline, &hb, hb))
	require.NoError(t, s.SetRuntimeStatus(ctx, "ws_1", gateway.StatusOffline, nil, hb.Add(time.Minute)))
	rt, err = s.GetRuntime(ctx, "ws_1")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusOffline, rt.Status)
	require.NotNil(t, rt.LastHeartbeatAt)
	assert.Equal(t, hb, *rt.LastHeartbeatAt)

	assert.ErrorIs(t, s.SetRuntimeStatus(ctx, "ws_9", gateway.StatusOnline, nil, t0), gateway.ErrNotFound)
}
