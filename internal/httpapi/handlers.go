package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/audit"
	"goyais.org/hub/internal/auth"
	"goyais.org/hub/internal/gateway"
	"goyais.org/hub/internal/modelconfig"
	"goyais.org/hub/internal/obs"
	"goyais.org/hub/internal/secrets"
	"goyais.org/hub/internal/workspace"
)

const serviceName = "goyais-hub"

// ReadyProbe checks the backing store.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Auth      *auth.Service
	Gate      *workspace.Gate
	Bootstrap *workspace.Bootstrapper
	Models    *modelconfig.Service
	Secrets   *secrets.Resolver
	Gateway   *gateway.Gateway
	Ready     ReadyProbe
	Version   string

	AllowedOrigins []string
	MaxBodyBytes   int64
	LoginRate      float64
	LoginBurst     int

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a reverse proxy that sets them.
	TrustProxyHeaders bool
}

// API is the HTTP surface of the hub.
type API struct {
	auth      *auth.Service
	gate      *workspace.Gate
	bootstrap *workspace.Bootstrapper
	models    *modelconfig.Service
	secrets   *secrets.Resolver
	gateway   *gateway.Gateway
	ready     ReadyProbe
	version   string

	allowedOrigins    []string
	maxBodyBytes      int64
	loginLimiter      *rateLimiter
	trustProxyHeaders bool

	router *mux.Router
}

// New wires the routes.
func New(d Deps) *API {
	a := &API{
		auth:              d.Auth,
		gate:              d.Gate,
		bootstrap:         d.Bootstrap,
		models:            d.Models,
		secrets:           d.Secrets,
		gateway:           d.Gateway,
		ready:             d.Ready,
		version:           d.Version,
		allowedOrigins:    d.AllowedOrigins,
		maxBodyBytes:      d.MaxBodyBytes,
		trustProxyHeaders: d.TrustProxyHeaders,
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	perSec, burst := d.LoginRate, d.LoginBurst
	if perSec <= 0 {
		perSec = 5
	}
	if burst <= 0 {
		burst = 10
	}
	a.loginLimiter = newRateLimiter(rate.Limit(perSec), burst)
	a.router = a.routes()
	return a
}

func (a *API) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(captureRoute)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, apierr.New(apierr.CodeNotFound, "Route not found.", apierr.WithCause("route_missing")))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		allowed := allowedMethods(r, req)
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		writeError(w, req, apierr.New(apierr.CodeMethodNotAllowed, "Method is not supported on this route.",
			apierr.WithCause("route_method"),
			apierr.WithDetails(map[string]any{"method": req.Method, "allowed": allowed})))
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/internal/secrets/resolve", a.resolveSecret).Methods(http.MethodPost)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/auth/bootstrap/status", a.bootstrapStatus).Methods(http.MethodGet)
	v1.HandleFunc("/auth/bootstrap/admin", a.bootstrapAdmin).Methods(http.MethodPost)
	v1.Handle("/auth/login", a.loginLimiter.Middleware(http.HandlerFunc(a.login))).Methods(http.MethodPost)
	v1.HandleFunc("/me", a.me).Methods(http.MethodGet)
	v1.HandleFunc("/workspaces", a.listWorkspaces).Methods(http.MethodGet)
	v1.Handle("/me/navigation", a.scoped(a.navigation)).Methods(http.MethodGet)

	v1.Handle("/model-configs", a.scoped(a.listModelConfigs)).Methods(http.MethodGet)
	v1.Handle("/model-configs", a.scoped(a.createModelConfig)).Methods(http.MethodPost)
	v1.Handle("/model-configs/{model_config_id}", a.scoped(a.updateModelConfig)).Methods(http.MethodPut)
	v1.Handle("/model-configs/{model_config_id}", a.scoped(a.deleteModelConfig)).Methods(http.MethodDelete)

	admin := v1.PathPrefix("/admin/workspaces/{workspace_id}").Subrouter()
	admin.Handle("/runtime", a.scoped(a.registerRuntime)).Methods(http.MethodPost)
	admin.Handle("/roles", a.scoped(a.listRoles)).Methods(http.MethodGet)
	admin.Handle("/roles/{role_id}/permissions", a.scoped(a.setRolePermissions)).Methods(http.MethodPut)

	rt := v1.PathPrefix("/runtime").Subrouter()
	rt.Handle("/health", a.scoped(a.runtimeHealth)).Methods(http.MethodGet)
	rt.Handle("/version", a.scoped(a.runtimeVersion)).Methods(http.MethodGet)
	rt.Handle("/sessions", a.scoped(a.listSessions)).Methods(http.MethodGet)
	rt.Handle("/sessions", a.scoped(a.createSession)).Methods(http.MethodPost)
	rt.Handle("/sessions/{session_id}", a.scoped(a.updateSession)).Methods(http.MethodPatch)
	rt.Handle("/runs", a.scoped(a.listRuns)).Methods(http.MethodGet)
	rt.Handle("/runs", a.scoped(a.createRun)).Methods(http.MethodPost)
	rt.Handle("/runs/{run_id}/events", a.scoped(a.streamRunEvents)).Methods(http.MethodGet)
	rt.Handle("/runs/{run_id}/events/replay", a.scoped(a.replayRunEvents)).Methods(http.MethodGet)
	rt.Handle("/tool-confirmations", a.scoped(a.confirmTool)).Methods(http.MethodPost)
	rt.Handle("/model-configs/{model_config_id}/models", a.scoped(a.listModels)).Methods(http.MethodGet)

	return r
}

// allowedMethods lists the methods registered for the request path.
func allowedMethods(router *mux.Router, r *http.Request) []string {
	seen := map[string]bool{}
	_ = router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		methods, err := route.GetMethods()
		if err != nil {
			return nil
		}
		for _, m := range methods {
			req := r.Clone(r.Context())
			req.Method = m
			var match mux.RouteMatch
			if route.Match(req, &match) {
				seen[m] = true
			}
		}
		return nil
	})
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Handler returns the router wrapped in the middleware chain. Trace runs
// first so every later layer, including logging and metrics, sees the trace
// id and the captured route template.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.maxBodyBytes)
	if len(a.allowedOrigins) > 0 {
		h = CORS(a.allowedOrigins)(h)
	}
	h = SecurityHeaders(h)
	h = Recover(h)
	h = LogRequests(h)
	h = obs.Instrument(h, routeLabel)
	if a.trustProxyHeaders {
		h = ProxyHeaders(h)
	}
	return Trace(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.checkReady(r.Context()); err != nil {
		obs.Logger().Warn().Err(err).Str("trace_id", traceID(r)).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) checkReady(ctx context.Context) error {
	if a.ready == nil {
		obs.SetReady(true)
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.ready.Ping(ctx); err != nil {
		obs.SetReady(false)
		return err
	}
	obs.SetReady(true)
	return nil
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as the error envelope and records its code for the
// request log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apierr.From(err)
	if st := stateFrom(r.Context()); st != nil {
		st.errCode = string(e.Code)
		if e.Err != nil {
			st.err = e.Err
		}
	}
	writeJSON(w, e.Status(), e.ToEnvelope(traceID(r), time.Now()))
}

func traceID(r *http.Request) string {
	return audit.TraceIDFromContext(r.Context())
}

// decodeJSON reads a required JSON body into v.
func decodeJSON(r *http.Request, v any, cause string) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return bodyError(err, cause)
	}
	return nil
}

// decodeOptionalJSON reads an arbitrary JSON body. An empty body yields nil.
func decodeOptionalJSON(r *http.Request, cause string) (any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, bodyError(err, cause)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, bodyError(err, cause)
	}
	return v, nil
}

func bodyError(err error, cause string) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return apierr.Validation("Request body is too large.", "request_body_size",
			map[string]any{"limit_bytes": tooLarge.Limit})
	case errors.Is(err, io.EOF):
		return apierr.Validation("Request body is required.", cause, nil)
	default:
		return apierr.Validation("Malformed JSON body.", cause, map[string]any{"issues": []string{err.Error()}})
	}
}
