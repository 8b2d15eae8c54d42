// Package gateway binds workspaces to their runtimes. Every gateway call
// re-probes the runtime, verifies it reports the expected workspace identity
// and records the outcome in the registry before forwarding anything.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/obs"
)

const (
	HeaderHubAuth = "X-Hub-Auth"
	HeaderUserID  = "X-User-Id"
	HeaderTraceID = "X-Trace-Id"

	// SharedSecretConfigKey names the environment variable of the shared secret.
	SharedSecretConfigKey = "HUB_RUNTIME_SHARED_SECRET"

	healthPath = "/v1/health"

	defaultProbeTimeout   = 2500 * time.Millisecond
	defaultForwardTimeout = 30 * time.Second
	defaultStreamTimeout  = 5 * time.Minute

	maxProbeBody   = 1 << 20
	maxForwardBody = 16 << 20
)

// Gateway resolves, probes and forwards to workspace runtimes.
type Gateway struct {
	registry       Registry
	client         *http.Client
	secret         string
	probeTimeout   time.Duration
	forwardTimeout time.Duration
	streamTimeout  time.Duration
	maxBody        int64
	now            func() time.Time
	log            zerolog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the outbound client. Timeouts are applied per call
// through the request context, so the client should not set its own.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.client = c
		}
	}
}

// WithProbeTimeout bounds each health probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.probeTimeout = d
		}
	}
}

// WithForwardTimeout bounds buffered forwards that do not set their own.
func WithForwardTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.forwardTimeout = d
		}
	}
}

// WithStreamTimeout bounds streaming forwards.
func WithStreamTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.streamTimeout = d
		}
	}
}

// WithClock overrides time source.
func WithClock(fn func() time.Time) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.now = fn
		}
	}
}

// New constructs a Gateway. A blank shared secret is a configuration error.
func New(registry Registry, sharedSecret string, opts ...Option) (*Gateway, error) {
	secret := strings.TrimSpace(sharedSecret)
	if secret == "" {
		return nil, apierr.Config("Runtime gateway shared secret is not configured.", SharedSecretConfigKey, nil)
	}
	if registry == nil {
		return nil, errors.New("gateway: registry is required")
	}
	g := &Gateway{
		registry:       registry,
		client:         &http.Client{},
		secret:         secret,
		probeTimeout:   defaultProbeTimeout,
		forwardTimeout: defaultForwardTimeout,
		streamTimeout:  defaultStreamTimeout,
		maxBody:        maxForwardBody,
		now:            time.Now,
		log:            obs.WithComponent("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// SharedSecretMatches compares a presented internal credential in constant time.
func (g *Gateway) SharedSecretMatches(presented string) bool {
	return secretsEqual(g.secret, strings.TrimSpace(presented))
}

// NormalizeBaseURL trims whitespace and trailing slashes and requires an
// absolute http(s) URL.
func NormalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(trimmed)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apierr.Validation("Invalid runtime registry payload.", "runtime_registry_payload",
			map[string]any{"issues": []string{"runtime_base_url must be an absolute http(s) URL"}})
	}
	return trimmed, nil
}

// Target is a verified runtime endpoint.
type Target struct {
	WorkspaceID string
	BaseURL     string
	Health      map[string]any
}

// Resolve loads the workspace's runtime, probes it and verifies its identity.
// The registry row is updated with the probe outcome in every branch.
func (g *Gateway) Resolve(ctx context.Context, workspaceID, traceID string) (Target, error) {
	rt, err := g.registry.GetRuntime(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Target{}, apierr.New(apierr.CodeRuntimeNotConfigured, "Runtime is not configured for this workspace.",
				apierr.WithCause("runtime_registry_missing"))
		}
		return Target{}, apierr.Internal("runtime_registry_lookup", err)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(rt.BaseURL), "/")

	payload, err := g.probe(ctx, baseURL, traceID)
	if err != nil {
		obs.ObserveProbe("offline")
		g.markOffline(ctx, workspaceID)
		return Target{}, err
	}
	if got := reportedWorkspace(payload); got == "" || got != workspaceID {
		obs.ObserveProbe("misconfigured")
		g.markOffline(ctx, workspaceID)
		var upstream any
		if got != "" {
			upstream = got
		}
		return Target{}, apierr.New(apierr.CodeRuntimeMisconfigured, "Runtime workspace binding mismatch.",
			apierr.WithCause("runtime_workspace_mismatch"),
			apierr.WithDetails(map[string]any{
				"expected_workspace_id": workspaceID,
				"upstream_workspace_id": upstream,
			}))
	}

	obs.ObserveProbe("online")
	now := g.now().UTC()
	if err := g.registry.SetRuntimeStatus(ctx, workspaceID, StatusOnline, &now, now); err != nil {
		return Target{}, apierr.Internal("runtime_registry_update", err)
	}
	return Target{WorkspaceID: workspaceID, BaseURL: baseURL, Health: payload}, nil
}

// Register binds workspaceID to rawBaseURL after an immediate probe. An
// unreachable or mismatched runtime is stored as offline rather than rejected.
func (g *Gateway) Register(ctx context.Context, workspaceID, rawBaseURL, traceID string) (Runtime, error) {
	baseURL, err := NormalizeBaseURL(rawBaseURL)
	if err != nil {
		return Runtime{}, err
	}
	rt := Runtime{WorkspaceID: workspaceID, BaseURL: baseURL, Status: StatusOffline}

	payload, probeErr := g.probe(ctx, baseURL, traceID)
	switch {
	case probeErr != nil:
		obs.ObserveProbe("offline")
		g.log.Info().Err(probeErr).Str("workspace_id", workspaceID).Str("trace_id", traceID).
			Msg("registered runtime is offline")
	case reportedWorkspace(payload) != workspaceID:
		obs.ObserveProbe("misconfigured")
		g.log.Warn().Str("workspace_id", workspaceID).Str("upstream_workspace_id", reportedWorkspace(payload)).
			Str("trace_id", traceID).Msg("registered runtime reports a different workspace")
	default:
		obs.ObserveProbe("online")
		now := g.now().UTC()
		rt.Status = StatusOnline
		rt.LastHeartbeatAt = &now
	}

	rt.UpdatedAt = g.now().UTC()
	rt.CreatedAt = rt.UpdatedAt
	stored, err := g.registry.UpsertRuntime(ctx, rt)
	if err != nil {
		return Runtime{}, apierr.Internal("runtime_registry_upsert", err)
	}
	return stored, nil
}

func (g *Gateway) markOffline(ctx context.Context, workspaceID string) {
	if err := g.registry.SetRuntimeStatus(ctx, workspaceID, StatusOffline, nil, g.now().UTC()); err != nil {
		g.log.Error().Err(err).Str("workspace_id", workspaceID).Msg("mark runtime offline failed")
	}
}

// probe performs GET {base}/v1/health. Any failure is RUNTIME_OFFLINE.
func (g *Gateway) probe(ctx context.Context, baseURL, traceID string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+healthPath, nil)
	if err != nil {
		return nil, offline("runtime_health_unreachable", nil, err)
	}
	req.Header.Set(HeaderTraceID, traceID)
	req.Header.Set(HeaderHubAuth, g.secret)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, offline("runtime_health_unreachable", nil, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProbeBody))
		return nil, offline("runtime_health_status", map[string]any{"upstream_status": resp.StatusCode}, nil)
	}
	var payload map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProbeBody)).Decode(&payload); err != nil {
		return nil, offline("runtime_health_payload", map[string]any{"upstream_status": resp.StatusCode}, err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

func reportedWorkspace(payload map[string]any) string {
	s, _ := payload["workspace_id"].(string)
	return strings.TrimSpace(s)
}

func offline(cause string, details map[string]any, err error) error {
	return apierr.New(apierr.CodeRuntimeOffline, "Runtime is offline.",
		apierr.WithCause(cause), apierr.WithDetails(details), apierr.WithErr(err))
}

func secretsEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return constantTimeEqual(a, b)
}

func upstreamURL(base, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s%s", base, path)
}
