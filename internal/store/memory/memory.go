// Package memory is an in-process store for development and tests. It
// implements every store interface of the hub.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"goyais.org/hub/internal/auth"
	"goyais.org/hub/internal/gateway"
	"goyais.org/hub/internal/modelconfig"
	"goyais.org/hub/internal/secrets"
	"goyais.org/hub/internal/workspace"
)

var (
	_ auth.Store        = (*Store)(nil)
	_ workspace.Store   = (*Store)(nil)
	_ secrets.Store     = (*Store)(nil)
	_ modelconfig.Store = (*Store)(nil)
	_ gateway.Registry  = (*Store)(nil)
)

type roleRow struct {
	role  workspace.Role
	perms []string
	menus []string
}

// Store keeps all rows in maps guarded by one lock.
type Store struct {
	mu          sync.RWMutex
	users       map[string]auth.User
	tokens      map[string]auth.AuthToken // by hash
	workspaces  map[string]workspace.Workspace
	roles       map[string]*roleRow
	memberships map[string]workspace.Membership // userID|workspaceID
	secrets     map[string]secrets.Secret       // workspaceID|ref
	configs     map[string]modelconfig.ModelConfig
	runtimes    map[string]gateway.Runtime
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]auth.User),
		tokens:      make(map[string]auth.AuthToken),
		workspaces:  make(map[string]workspace.Workspace),
		roles:       make(map[string]*roleRow),
		memberships: make(map[string]workspace.Membership),
		secrets:     make(map[string]secrets.Secret),
		configs:     make(map[string]modelconfig.ModelConfig),
		runtimes:    make(map[string]gateway.Runtime),
	}
}

func key(a, b string) string { return a + "|" + b }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// ---- users & tokens ----

func (s *Store) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s *Store) FindUser(_ context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

// PutUser inserts or replaces a user. Emails are unique.
func (s *Store) PutUser(_ context.Context, u auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.users {
		if id != u.ID && strings.EqualFold(existing.Email, u.Email) {
			return auth.ErrConflict
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) CreateAuthToken(_ context.Context, t auth.AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tokens[t.TokenHash]; dup {
		return auth.ErrConflict
	}
	s.tokens[t.TokenHash] = t
	return nil
}

func (s *Store) FindAuthTokenByHash(_ context.Context, hash string) (auth.AuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[hash]
	if !ok {
		return auth.AuthToken{}, auth.ErrNotFound
	}
	return t, nil
}

func (s *Store) TouchAuthToken(_ context.Context, tokenID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, t := range s.tokens {
		if t.ID == tokenID {
			ts := at
			t.LastUsedAt = &ts
			s.tokens[h] = t
			return nil
		}
	}
	return auth.ErrNotFound
}

// ---- workspaces, roles, memberships ----

func (s *Store) FindMembership(_ context.Context, userID, workspaceID string) (workspace.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[key(userID, workspaceID)]
	if !ok {
		return workspace.Membership{}, workspace.ErrNotFound
	}
	if r, ok := s.roles[m.RoleID]; ok {
		m.RoleName = r.role.Name
	}
	return m, nil
}

func (s *Store) ListMemberships(_ context.Context, userID string) ([]workspace.MembershipView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []workspace.MembershipView
	for _, m := range s.memberships {
		if m.UserID != userID {
			continue
		}
		ws := s.workspaces[m.WorkspaceID]
		v := workspace.MembershipView{
			WorkspaceID:   ws.ID,
			WorkspaceName: ws.Name,
			WorkspaceSlug: ws.Slug,
			RoleID:        m.RoleID,
			Status:        m.Status,
		}
		if r, ok := s.roles[m.RoleID]; ok {
			v.RoleName = r.role.Name
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkspaceName < out[j].WorkspaceName })
	return out, nil
}

func (s *Store) RolePermissions(_ context.Context, roleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), r.perms...), nil
}

func (s *Store) RoleMenus(_ context.Context, roleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), r.menus...), nil
}

func (s *Store) ListRoles(_ context.Context, workspaceID string) ([]workspace.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []workspace.Role
	for _, r := range s.roles {
		if r.role.WorkspaceID != workspaceID {
			continue
		}
		role := r.role
		role.Permissions = sortedCopy(r.perms)
		role.Menus = append([]string(nil), r.menus...)
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ReplaceRolePermissions(_ context.Context, workspaceID, roleID string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok || r.role.WorkspaceID != workspaceID {
		return workspace.ErrNotFound
	}
	r.perms = append([]string(nil), keys...)
	return nil
}

func (s *Store) CountUsers(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *Store) Bootstrap(_ context.Context, seed workspace.Seed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.users) > 0 {
		return workspace.ErrSetupCompleted
	}
	s.users[seed.User.ID] = seed.User
	s.tokens[seed.Token.TokenHash] = seed.Token
	s.workspaces[seed.Workspace.ID] = seed.Workspace
	for _, r := range seed.Roles {
		s.putRoleLocked(r)
	}
	s.memberships[key(seed.Membership.UserID, seed.Membership.WorkspaceID)] = seed.Membership
	return nil
}

// PutWorkspace inserts a workspace with its roles.
func (s *Store) PutWorkspace(_ context.Context, ws workspace.Workspace, roles ...workspace.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[ws.ID] = ws
	for _, r := range roles {
		s.putRoleLocked(r)
	}
	return nil
}

// PutMembership inserts or replaces a membership.
func (s *Store) PutMembership(_ context.Context, m workspace.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[m.WorkspaceID]; !ok {
		return workspace.ErrNotFound
	}
	if r, ok := s.roles[m.RoleID]; !ok || r.role.WorkspaceID != m.WorkspaceID {
		return workspace.ErrNotFound
	}
	s.memberships[key(m.UserID, m.WorkspaceID)] = m
	return nil
}

func (s *Store) putRoleLocked(r workspace.Role) {
	row := &roleRow{
		role:  r,
		perms: append([]string(nil), r.Permissions...),
		menus: append([]string(nil), r.Menus...),
	}
	row.role.Permissions = nil
	row.role.Menus = nil
	s.roles[r.ID] = row
}

// ---- secrets & model configs ----

func (s *Store) FindSecret(_ context.Context, workspaceID, ref string) (secrets.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.secrets[key(workspaceID, ref)]
	if !ok {
		return secrets.Secret{}, secrets.ErrNotFound
	}
	return sec, nil
}

func (s *Store) ListModelConfigs(_ context.Context, workspaceID string) ([]modelconfig.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []modelconfig.ModelConfig
	for _, c := range s.configs {
		if c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetModelConfig(_ context.Context, workspaceID, id string) (modelconfig.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[id]
	if !ok || c.WorkspaceID != workspaceID {
		return modelconfig.ModelConfig{}, modelconfig.ErrNotFound
	}
	return c, nil
}

func (s *Store) CreateModelConfig(_ context.Context, cfg modelconfig.ModelConfig, sec secrets.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key(sec.WorkspaceID, sec.Ref)] = sec
	s.configs[cfg.ID] = cfg
	return nil
}

func (s *Store) UpdateModelConfig(_ context.Context, cfg modelconfig.ModelConfig, rotated *secrets.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.configs[cfg.ID]
	if !ok || prev.WorkspaceID != cfg.WorkspaceID {
		return modelconfig.ErrNotFound
	}
	// The stored ref wins over the caller's copy, which may predate a
	// concurrent rotation.
	cfg.SecretRef = prev.SecretRef
	if rotated != nil {
		s.secrets[key(rotated.WorkspaceID, rotated.Ref)] = *rotated
		cfg.SecretRef = rotated.Ref
		if prev.SecretRef != rotated.Ref {
			delete(s.secrets, key(prev.WorkspaceID, prev.SecretRef))
		}
	}
	s.configs[cfg.ID] = cfg
	return nil
}

func (s *Store) DeleteModelConfig(_ context.Context, workspaceID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[id]
	if !ok || c.WorkspaceID != workspaceID {
		return modelconfig.ErrNotFound
	}
	delete(s.configs, id)
	delete(s.secrets, key(workspaceID, c.SecretRef))
	return nil
}

// ---- runtime registry ----

func (s *Store) GetRuntime(_ context.Context, workspaceID string) (gateway.Runtime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.runtimes[workspaceID]
	if !ok {
		return gateway.Runtime{}, gateway.ErrNotFound
	}
	return rt, nil
}

func (s *Store) UpsertRuntime(_ context.Context, rt gateway.Runtime) (gateway.Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.runtimes[rt.WorkspaceID]; ok {
		rt.CreatedAt = prev.CreatedAt
		if rt.LastHeartbeatAt == nil {
			rt.LastHeartbeatAt = prev.LastHeartbeatAt
		}
	}
	s.runtimes[rt.WorkspaceID] = rt
	return rt, nil
}

func (s *Store) SetRuntimeStatus(_ context.Context, workspaceID string, status gateway.Status, heartbeat *time.Time, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[workspaceID]
	if !ok {
		return gateway.ErrNotFound
	}
	rt.Status = status
	if heartbeat != nil {
		hb := *heartbeat
		rt.LastHeartbeatAt = &hb
	}
	rt.UpdatedAt = at
	s.runtimes[workspaceID] = rt
	return nil
}

func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}
