package httpapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/obs"
)

func TestTraceIDEchoedAndGenerated(t *testing.T) {
	h := newHarness(t)

	rr := h.request(http.MethodGet, "/healthz", "", nil, map[string]string{headerTraceID: "  trace-abc "})
	assert.Equal(t, "trace-abc", rr.Header().Get(headerTraceID))

	rr = h.do(http.MethodGet, "/healthz", "", nil)
	generated := rr.Header().Get(headerTraceID)
	require.NotEmpty(t, generated)

	rr = h.request(http.MethodGet, "/healthz", "", nil, map[string]string{headerTraceID: strings.Repeat("x", maxTraceIDLen+1)})
	assert.NotEqual(t, strings.Repeat("x", maxTraceIDLen+1), rr.Header().Get(headerTraceID))
	assert.NotEmpty(t, rr.Header().Get(headerTraceID))

	rr = h.request(http.MethodGet, "/v1/me", "", nil, map[string]string{headerTraceID: "trace-err"})
	p := requireError(t, rr, http.StatusUnauthorized, apierr.CodeAuthRequired)
	assert.Equal(t, "trace-err", p.TraceID)
	assert.NotEmpty(t, p.TS)
}

func TestLoginRateLimited(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.LoginRate = 0.01
		d.LoginBurst = 1
	})
	body := map[string]any{"email": "nobody@example.com", "password": "irrelevant"}

	requireError(t, h.do(http.MethodPost, "/v1/auth/login", "", body), http.StatusUnauthorized, apierr.CodeAuthInvalid)

	rr := h.do(http.MethodPost, "/v1/auth/login", "", body)
	p := requireError(t, rr, http.StatusTooManyRequests, apierr.CodeRateLimited)
	assert.True(t, p.Retryable)
	assert.Equal(t, "rate_limit", p.Cause)
	assert.Equal(t, "100", rr.Header().Get("Retry-After"))
	assert.EqualValues(t, 100, p.Details["retry_after_seconds"])

	// Another socket peer has its own bucket.
	rr = loginFrom(h, "198.51.100.7:4000", nil, body)
	requireError(t, rr, http.StatusUnauthorized, apierr.CodeAuthInvalid)
}

func loginFrom(h *harness, remoteAddr string, header map[string]string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	data, err := json.Marshal(body)
	require.NoError(h.t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(data))
	req.RemoteAddr = remoteAddr
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func TestLoginRateLimitIgnoresForwardedHeadersByDefault(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.LoginRate = 0.01
		d.LoginBurst = 1
	})
	body := map[string]any{"email": "nobody@example.com", "password": "irrelevant"}

	admitted := 0
	for i := 0; i < 20; i++ {
		rr := loginFrom(h, "192.0.2.10:5000", map[string]string{
			"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i),
			"X-Real-IP":       fmt.Sprintf("198.51.100.%d", i),
		}, body)
		if rr.Code != http.StatusTooManyRequests {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
}

func TestLoginRateLimitBehindTrustedProxy(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.LoginRate = 0.01
		d.LoginBurst = 1
		d.TrustProxyHeaders = true
	})
	body := map[string]any{"email": "nobody@example.com", "password": "irrelevant"}
	const proxy = "10.0.0.2:443"

	rr := loginFrom(h, proxy, map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, body)
	requireError(t, rr, http.StatusUnauthorized, apierr.CodeAuthInvalid)
	rr = loginFrom(h, proxy, map[string]string{"X-Forwarded-For": "203.0.113.9"}, body)
	requireError(t, rr, http.StatusTooManyRequests, apierr.CodeRateLimited)

	rr = loginFrom(h, proxy, map[string]string{"X-Forwarded-For": "203.0.113.10"}, body)
	requireError(t, rr, http.StatusUnauthorized, apierr.CodeAuthInvalid)
}

func TestRateLimiterSweepsIdleBuckets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	ok, _ := l.reserve("a")
	require.True(t, ok)
	ok, wait := l.reserve("a")
	require.False(t, ok)
	assert.Equal(t, time.Second, wait)

	now = now.Add(10 * time.Minute)
	ok, _ = l.reserve("b")
	require.True(t, ok)
	l.mu.Lock()
	_, kept := l.buckets["a"]
	l.mu.Unlock()
	assert.False(t, kept)
}

func TestRequestLogCarriesRouteTemplate(t *testing.T) {
	h := newHarness(t)
	_, wsID := h.bootstrapAdmin()
	h.logs.Reset()

	rr := h.request(http.MethodGet, "/v1/model-configs/"+"cfg_1"+"?workspace_id="+wsID, "", nil,
		map[string]string{headerTraceID: "trace-log"})
	require.Equal(t, http.StatusNotFound, rr.Code)
	h.do(http.MethodPut, "/v1/model-configs/cfg_1?workspace_id="+wsID, "", map[string]any{})

	lines := logLines(t, h.logs)
	var found bool
	for _, line := range lines {
		if line["message"] != "request_complete" || line["method"] != http.MethodPut {
			continue
		}
		found = true
		assert.Equal(t, "/v1/model-configs/{model_config_id}", line["route"])
		assert.Equal(t, "/v1/model-configs/cfg_1", line["path"])
		assert.Equal(t, string(apierr.CodeUnauthorized), line["error_code"])
		assert.EqualValues(t, http.StatusUnauthorized, line["status"])
		assert.Equal(t, "warn", line["level"])
	}
	require.True(t, found, "no request_complete line for PUT")

	for _, line := range lines {
		if line["trace_id"] == "trace-log" && line["message"] == "request_complete" {
			assert.Equal(t, unmatched, line["route"])
		}
	}
}

func TestMetricsUseRouteTemplate(t *testing.T) {
	obs.Init()
	h := newHarness(t)

	h.do(http.MethodGet, "/v1/model-configs?workspace_id=ws_metrics", "", nil)
	h.do(http.MethodGet, "/v1/does-not-exist/abc", "", nil)

	rr := h.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `path="/v1/model-configs",status="401"`)
	assert.Contains(t, body, `path="unmatched",status="404"`)
	assert.NotContains(t, body, `path="/v1/does-not-exist/abc"`)
}

func TestSecurityHeaders(t *testing.T) {
	h := newHarness(t)
	rr := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rr.Header().Get("Referrer-Policy"))
	assert.Contains(t, rr.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestCORSAllowsConfiguredOriginsOnly(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.AllowedOrigins = []string{"https://app.example.com"} })

	rr := h.request(http.MethodGet, "/healthz", "", nil, map[string]string{"Origin": "https://app.example.com"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = h.request(http.MethodGet, "/healthz", "", nil, map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	plain := newHarness(t)
	rr = plain.request(http.MethodGet, "/healthz", "", nil, map[string]string{"Origin": "https://app.example.com"})
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestBodyTooLarge(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.MaxBodyBytes = 32 })
	payload := `{"email":"` + strings.Repeat("a", 64) + `@example.com","password":"x"}`

	p := requireError(t, h.do(http.MethodPost, "/v1/auth/login", "", payload), http.StatusBadRequest, apierr.CodeValidation)
	assert.Equal(t, "request_body_size", p.Cause)
	assert.EqualValues(t, 32, p.Details["limit_bytes"])
}

func TestEmptyBodyIsValidation(t *testing.T) {
	h := newHarness(t)
	p := requireError(t, h.do(http.MethodPost, "/v1/auth/login", "", ""), http.StatusBadRequest, apierr.CodeValidation)
	assert.Equal(t, "login_payload", p.Cause)
	assert.Equal(t, "Request body is required.", p.Message)
}

func TestRecoverReturns500(t *testing.T) {
	logs := &bytes.Buffer{}
	t.Cleanup(obs.SetOutput(logs))

	h := Trace(Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerTraceID, "trace-panic")
	require.NotPanics(t, func() { h.ServeHTTP(rr, req) })

	p := requireError(t, rr, http.StatusInternalServerError, apierr.CodeInternal)
	assert.Equal(t, "panic", p.Cause)
	assert.Equal(t, "trace-panic", p.TraceID)
	assert.False(t, p.Retryable)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.NotContains(t, rr.Body.String(), "boom")

	var logged bool
	for _, line := range logLines(t, logs) {
		if line["message"] == "handler panic" {
			logged = true
			assert.Equal(t, "trace-panic", line["trace_id"])
			assert.Equal(t, "boom", line["panic"])
		}
	}
	assert.True(t, logged)
}

func TestRecoverLetsAbortHandlerThrough(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) }))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRouteLabelWithoutState(t *testing.T) {
	assert.Equal(t, unmatched, routeLabel(httptest.NewRequest(http.MethodGet, "/x", nil)))
}

func logLines(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}
