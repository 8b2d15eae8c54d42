package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/auth"
	"goyais.org/hub/internal/gateway"
	"goyais.org/hub/internal/modelconfig"
	"goyais.org/hub/internal/obs"
	"goyais.org/hub/internal/secrets"
	"goyais.org/hub/internal/store/memory"
	"goyais.org/hub/internal/vault"
	"goyais.org/hub/internal/workspace"
)

const (
	testBootstrapToken = "bootstrap-123"
	testSharedSecret   = "runtime-shared-secret"
	testAdminEmail     = "admin@example.com"
	testAdminPassword  = "Passw0rd!"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t       *testing.T
	store   *memory.Store
	clock   *fakeClock
	api     *API
	handler http.Handler
	logs    *bytes.Buffer
}

type harnessOption func(*Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	logs := &bytes.Buffer{}
	restore := obs.SetOutput(logs)
	t.Cleanup(restore)

	store := memory.New()
	clock := &fakeClock{now: time.Now().UTC()}
	authSvc, err := auth.NewService(store, auth.WithClock(clock.Now))
	require.NoError(t, err)
	v, err := vault.New(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	require.NoError(t, err)
	gw, err := gateway.New(store, testSharedSecret, gateway.WithProbeTimeout(time.Second))
	require.NoError(t, err)

	deps := Deps{
		Auth:       authSvc,
		Gate:       workspace.NewGate(store),
		Bootstrap:  workspace.NewBootstrapper(store, testBootstrapToken, authSvc.TokenTTL(), workspace.WithBootstrapClock(clock.Now)),
		Models:     modelconfig.NewService(store, v),
		Secrets:    secrets.NewResolver(store, v),
		Gateway:    gw,
		Ready:      store,
		Version:    "test",
		LoginRate:  1000,
		LoginBurst: 1000,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	api := New(deps)
	return &harness{t: t, store: store, clock: clock, api: api, handler: api.Handler(), logs: logs}
}

func (h *harness) request(method, path, token string, body any, header map[string]string) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(h.t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.request(method, path, token, body, nil)
}

// bootstrapAdmin seeds the admin and returns its bearer and workspace id.
func (h *harness) bootstrapAdmin() (string, string) {
	h.t.Helper()
	rr := h.do(http.MethodPost, "/v1/auth/bootstrap/admin", "", map[string]any{
		"bootstrap_token": testBootstrapToken,
		"email":           testAdminEmail,
		"password":        testAdminPassword,
		"display_name":    "Admin",
	})
	require.Equal(h.t, http.StatusOK, rr.Code, rr.Body.String())
	var res struct {
		Token     string `json:"token"`
		Workspace struct {
			ID string `json:"workspace_id"`
		} `json:"workspace"`
	}
	decode(h.t, rr, &res)
	require.NotEmpty(h.t, res.Token)
	require.NotEmpty(h.t, res.Workspace.ID)
	return res.Token, res.Workspace.ID
}

// addMember creates an active user holding roleName in wsID and returns a
// bearer obtained through login.
func (h *harness) addMember(wsID, email, roleName string) string {
	h.t.Helper()
	ctx := context.Background()
	roles, err := h.store.ListRoles(ctx, wsID)
	require.NoError(h.t, err)
	var roleID string
	for _, r := range roles {
		if r.Name == roleName {
			roleID = r.ID
		}
	}
	require.NotEmpty(h.t, roleID, "role %s", roleName)

	hash, err := auth.HashPassword(testAdminPassword)
	require.NoError(h.t, err)
	now := h.clock.Now()
	userID := "usr_" + strings.Split(email, "@")[0]
	require.NoError(h.t, h.store.PutUser(ctx, auth.User{
		ID: userID, Email: email, DisplayName: email, PasswordHash: hash,
		Status: auth.UserActive, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(h.t, h.store.PutMembership(ctx, workspace.Membership{
		UserID: userID, WorkspaceID: wsID, RoleID: roleID, RoleName: roleName,
		Status: workspace.MembershipActive, CreatedAt: now,
	}))

	rr := h.do(http.MethodPost, "/v1/auth/login", "", map[string]any{"email": email, "password": testAdminPassword})
	require.Equal(h.t, http.StatusOK, rr.Code, rr.Body.String())
	var res struct {
		Token string `json:"token"`
	}
	decode(h.t, rr, &res)
	return res.Token
}

func (h *harness) roleID(wsID, name string) string {
	h.t.Helper()
	roles, err := h.store.ListRoles(context.Background(), wsID)
	require.NoError(h.t, err)
	for _, r := range roles {
		if r.Name == name {
			return r.ID
		}
	}
	h.t.Fatalf("role %s not found", name)
	return ""
}

func (h *harness) registerRuntime(token, wsID, baseURL string) gateway.Runtime {
	h.t.Helper()
	rr := h.do(http.MethodPost, "/v1/admin/workspaces/"+wsID+"/runtime", token,
		map[string]any{"runtime_base_url": baseURL})
	require.Equal(h.t, http.StatusOK, rr.Code, rr.Body.String())
	var rt gateway.Runtime
	decode(h.t, rr, &rt)
	return rt
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func errorOf(t *testing.T, rr *httptest.ResponseRecorder) apierr.Payload {
	t.Helper()
	var env apierr.Envelope
	decode(t, rr, &env)
	require.NotEmpty(t, env.Error.Code, rr.Body.String())
	return env.Error
}

func requireError(t *testing.T, rr *httptest.ResponseRecorder, status int, code apierr.Code) apierr.Payload {
	t.Helper()
	require.Equal(t, status, rr.Code, rr.Body.String())
	p := errorOf(t, rr)
	require.Equal(t, code, p.Code)
	require.Equal(t, rr.Header().Get(headerTraceID), p.TraceID)
	return p
}

// runtimeStub is a fake workspace runtime.
type runtimeStub struct {
	mu          sync.Mutex
	workspaceID string
	requests    []recordedRequest
	srv         *httptest.Server
}

type recordedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

func newRuntimeStub(t *testing.T, workspaceID string) *runtimeStub {
	t.Helper()
	s := &runtimeStub{workspaceID: workspaceID}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		stubJSON(w, http.StatusOK, map[string]any{"status": "ok", "workspace_id": s.workspace()})
	})
	mux.HandleFunc("GET /v1/version", func(w http.ResponseWriter, r *http.Request) {
		stubJSON(w, http.StatusOK, map[string]any{"version": "runtime-1.0"})
	})
	mux.HandleFunc("GET /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		stubJSON(w, http.StatusOK, map[string]any{"sessions": []any{}, "project_id": r.URL.Query().Get("project_id")})
	})
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		stubJSON(w, http.StatusCreated, map[string]any{"session_id": "sess_1"})
	})
	mux.HandleFunc("PATCH /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		stubJSON(w, http.StatusOK, map[string]any{"session_id": r.PathValue("id"), "updated": true})
	})
	mux.HandleFunc("GET /v1/runs", func(w http.ResponseWriter, r *http.Request) {
		stubJSON(w, http.StatusOK, map[string]any{"runs": []any{}, "session_id": r.URL.Query().Get("session_id")})
	})
	mux.HandleFunc("POST /v1/runs", func(w http.ResponseWriter, r *http.Request) {
		stubJSON(w, http.StatusOK, map[string]any{"run_id": "run_1", "status": "running"})
	})
	mux.HandleFunc("GET /v1/runs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for i := 1; i <= 2; i++ {
			_, _ = fmt.Fprintf(w, "event: delta\ndata: {\"seq\":%d}\n\n", i)
			flusher.Flush()
		}
	})
	mux.HandleFunc("GET /v1/runs/{id}/events/replay", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "run_fail" {
			stubJSON(w, http.StatusInternalServerError, map[string]any{"error": "boom"})
			return
		}
		stubJSON(w, http.StatusOK, map[string]any{"events": []any{map[string]any{"seq": 1}}})
	})
	mux.HandleFunc("POST /v1/tool-confirmations", func(w http.ResponseWriter, r *http.Request) {
		stubJSON(w, http.StatusOK, map[string]any{"accepted": true})
	})
	mux.HandleFunc("GET /v1/model-configs/{id}/models", func(w http.ResponseWriter, r *http.Request) {
		stubJSON(w, http.StatusOK, map[string]any{
			"models":     []string{"gpt-4o"},
			"secret_ref": r.Header.Get("X-Secret-Ref"),
		})
	})

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{
			Method: r.Method, Path: r.URL.Path, RawQuery: r.URL.RawQuery, Header: r.Header.Clone(), Body: body,
		})
		s.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *runtimeStub) URL() string { return s.srv.URL }

func (s *runtimeStub) workspace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspaceID
}

func (s *runtimeStub) setWorkspace(id string) {
	s.mu.Lock()
	s.workspaceID = id
	s.mu.Unlock()
}

// last returns the most recent request to path.
func (s *runtimeStub) last(path string) (recordedRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Path == path {
			return s.requests[i], true
		}
	}
	return recordedRequest{}, false
}

func stubJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
