package workspace_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/auth"
	"goyais.org/hub/internal/store/memory"
	"goyais.org/hub/internal/workspace"
)

const bootstrapToken = "bootstrap-secret"

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func adminInput() workspace.AdminInput {
	return workspace.AdminInput{
		BootstrapToken: bootstrapToken,
		Email:          " Admin@Example.com ",
		Password:       "correct horse",
		DisplayName:    "Admin",
	}
}

func bootstrapped(t *testing.T) (*memory.Store, workspace.AdminResult) {
	t.Helper()
	store := memory.New()
	b := workspace.NewBootstrapper(store, bootstrapToken, time.Hour, workspace.WithBootstrapClock(func() time.Time { return now }))
	res, err := b.CreateAdmin(context.Background(), adminInput())
	require.NoError(t, err)
	return store, res
}

func addMember(t *testing.T, store *memory.Store, wsID string) string {
	t.Helper()
	ctx := context.Background()
	roles, err := store.ListRoles(ctx, wsID)
	require.NoError(t, err)
	var memberRole string
	for _, r := range roles {
		if r.Name == workspace.RoleMember {
			memberRole = r.ID
		}
	}
	require.NotEmpty(t, memberRole)
	require.NoError(t, store.PutUser(ctx, auth.User{ID: "usr_member", Email: "member@example.com", Status: auth.UserActive}))
	require.NoError(t, store.PutMembership(ctx, workspace.Membership{
		UserID: "usr_member", WorkspaceID: wsID, RoleID: memberRole, Status: workspace.MembershipActive,
	}))
	return memberRole
}

func requireCode(t *testing.T, err error, code apierr.Code) *apierr.Error {
	t.Helper()
	require.Error(t, err)
	var e *apierr.Error
	require.True(t, errors.As(err, &e), "expected *apierr.Error, got %T", err)
	require.Equal(t, code, e.Code)
	return e
}

func TestBootstrapStatus(t *testing.T) {
	store := memory.New()
	b := workspace.NewBootstrapper(store, bootstrapToken, time.Hour, workspace.WithAllowPublicSignup(true))

	st, err := b.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, workspace.SetupStatus{SetupMode: true, AllowPublicSignup: true, Message: "setup required"}, st)

	_, err = b.CreateAdmin(context.Background(), adminInput())
	require.NoError(t, err)

	st, err = b.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.SetupMode)
	assert.Equal(t, "ok", st.Message)
}

func TestBootstrapCreateAdmin(t *testing.T) {
	store, res := bootstrapped(t)
	ctx := context.Background()

	assert.Contains(t, res.Token, "hub_")
	assert.Equal(t, "admin@example.com", res.User.Email)
	assert.Equal(t, workspace.DefaultWorkspaceSlug, res.Workspace.Slug)

	svc, err := auth.NewService(store, auth.WithClock(func() time.Time { return now.Add(time.Minute) }))
	require.NoError(t, err)
	id, err := svc.Authenticate(ctx, "Bearer "+res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.UserID, id.UserID)

	gate := workspace.NewGate(store)
	m, err := gate.RequireMember(ctx, res.User.UserID, res.Workspace.ID)
	require.NoError(t, err)
	assert.Equal(t, workspace.RoleOwner, m.RoleName)
	for _, p := range workspace.Permissions {
		assert.NoError(t, gate.RequirePermission(ctx, m, p), p)
	}
}

func TestBootstrapFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("payload checked first", func(t *testing.T) {
		store, _ := bootstrapped(t)
		b := workspace.NewBootstrapper(store, bootstrapToken, time.Hour)
		in := adminInput()
		in.Password = "short"
		e := requireCode(t, mustFail(b.CreateAdmin(ctx, in)), apierr.CodeValidation)
		assert.Equal(t, "bootstrap_payload", e.Cause)
	})

	t.Run("setup completed before token check", func(t *testing.T) {
		store, _ := bootstrapped(t)
		b := workspace.NewBootstrapper(store, bootstrapToken, time.Hour)
		in := adminInput()
		in.BootstrapToken = "wrong"
		e := requireCode(t, mustFail(b.CreateAdmin(ctx, in)), apierr.CodeSetupCompleted)
		assert.Equal(t, 409, e.Status())
	})

	t.Run("wrong token", func(t *testing.T) {
		b := workspace.NewBootstrapper(memory.New(), bootstrapToken, time.Hour)
		in := adminInput()
		in.BootstrapToken = "wrong"
		e := requireCode(t, mustFail(b.CreateAdmin(ctx, in)), apierr.CodeBootstrapTokenInvalid)
		assert.Equal(t, 401, e.Status())
	})

	t.Run("token not configured", func(t *testing.T) {
		b := workspace.NewBootstrapper(memory.New(), "", time.Hour)
		requireCode(t, mustFail(b.CreateAdmin(ctx, adminInput())), apierr.CodeBootstrapTokenInvalid)
	})

	t.Run("local bootstrap ignores token", func(t *testing.T) {
		b := workspace.NewBootstrapper(memory.New(), "", time.Hour)
		in := adminInput()
		in.BootstrapToken = ""
		res, err := b.CreateAdminLocal(ctx, in)
		require.NoError(t, err)
		assert.NotEmpty(t, res.Token)
	})
}

func mustFail(_ workspace.AdminResult, err error) error { return err }

func TestGateMembership(t *testing.T) {
	store, res := bootstrapped(t)
	ctx := context.Background()
	gate := workspace.NewGate(store)

	e := requireCode(t, mustFailMember(gate.RequireMember(ctx, res.User.UserID, "ws_unknown")), apierr.CodeForbidden)
	assert.Equal(t, "workspace_membership", e.Cause)

	memberRole := addMember(t, store, res.Workspace.ID)
	require.NoError(t, store.PutMembership(ctx, workspace.Membership{
		UserID: "usr_member", WorkspaceID: res.Workspace.ID, RoleID: memberRole, Status: workspace.MembershipDisabled,
	}))
	requireCode(t, mustFailMember(gate.RequireMember(ctx, "usr_member", res.Workspace.ID)), apierr.CodeForbidden)
}

func mustFailMember(_ workspace.Membership, err error) error { return err }

func TestGatePermissionsAreIndependent(t *testing.T) {
	store, res := bootstrapped(t)
	ctx := context.Background()
	gate := workspace.NewGate(store)
	addMember(t, store, res.Workspace.ID)

	m, err := gate.RequireMember(ctx, "usr_member", res.Workspace.ID)
	require.NoError(t, err)
	assert.NoError(t, gate.RequirePermission(ctx, m, workspace.PermModelConfigRead))

	e := requireCode(t, gate.RequirePermission(ctx, m, workspace.PermModelConfigManage), apierr.CodeForbidden)
	assert.Equal(t, "permission", e.Cause)
	assert.Equal(t, workspace.PermModelConfigManage, e.Details["perm_key"])
	assert.Equal(t, res.Workspace.ID, e.Details["workspace_id"])

	requireCode(t, gate.RequirePermission(ctx, m, workspace.PermWorkspaceManage), apierr.CodeForbidden)
	requireCode(t, gate.RequirePermission(ctx, m, workspace.PermAuditRead), apierr.CodeForbidden)
}

func TestNavigation(t *testing.T) {
	store, res := bootstrapped(t)
	ctx := context.Background()
	gate := workspace.NewGate(store)
	addMember(t, store, res.Workspace.ID)

	m, err := gate.RequireMember(ctx, "usr_member", res.Workspace.ID)
	require.NoError(t, err)
	nav, err := gate.Navigation(ctx, m)
	require.NoError(t, err)

	assert.Equal(t, res.Workspace.ID, nav.WorkspaceID)
	assert.Equal(t, workspace.RoleMember, nav.RoleName)
	assert.NotContains(t, nav.Permissions, workspace.PermModelConfigManage)
	require.Len(t, nav.Menus, 2)
	assert.Equal(t, "nav_projects", nav.Menus[0].MenuID)
	assert.Equal(t, "nav_run", nav.Menus[1].MenuID)
	assert.NotNil(t, nav.FeatureFlags)

	owner, err := gate.RequireMember(ctx, res.User.UserID, res.Workspace.ID)
	require.NoError(t, err)
	nav, err = gate.Navigation(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, nav.Menus, len(workspace.Menus))
	assert.Len(t, nav.Permissions, len(workspace.Permissions))
}

func TestSetRolePermissions(t *testing.T) {
	store, res := bootstrapped(t)
	ctx := context.Background()
	gate := workspace.NewGate(store)
	memberRole := addMember(t, store, res.Workspace.ID)

	got, err := gate.SetRolePermissions(ctx, res.Workspace.ID, memberRole,
		[]string{workspace.PermRunRead, workspace.PermModelConfigManage, workspace.PermRunRead})
	require.NoError(t, err)
	assert.Equal(t, []string{workspace.PermModelConfigManage, workspace.PermRunRead}, got)

	m, err := gate.RequireMember(ctx, "usr_member", res.Workspace.ID)
	require.NoError(t, err)
	assert.NoError(t, gate.RequirePermission(ctx, m, workspace.PermModelConfigManage))
	requireCode(t, gate.RequirePermission(ctx, m, workspace.PermRunCreate), apierr.CodeForbidden)

	e := requireCode(t, mustFailKeys(gate.SetRolePermissions(ctx, res.Workspace.ID, memberRole, []string{"run:*"})), apierr.CodeValidation)
	assert.Equal(t, "run:*", e.Details["perm_key"])

	e = requireCode(t, mustFailKeys(gate.SetRolePermissions(ctx, "ws_other", memberRole, nil)), apierr.CodeNotFound)
	assert.Equal(t, "role_lookup", e.Cause)
}

func mustFailKeys(_ []string, err error) error { return err }

func TestMemberships(t *testing.T) {
	store, res := bootstrapped(t)
	gate := workspace.NewGate(store)

	views, err := gate.Memberships(context.Background(), res.User.UserID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, res.Workspace.ID, views[0].WorkspaceID)
	assert.Equal(t, workspace.RoleOwner, views[0].RoleName)

	views, err = gate.Memberships(context.Background(), "usr_nobody")
	require.NoError(t, err)
	assert.Empty(t, views)
	assert.NotNil(t, views)
}
