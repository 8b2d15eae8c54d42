package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestInstrumentUsesRouteLabel(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), func(*http.Request) string { return "/v1/things/{id}" })

	for _, p := range []string{"/v1/things/a", "/v1/things/b"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
	body := scrape(t)
	want := `http_requests_total{method="GET",path="/v1/things/{id}",status="418"} 2`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in metrics output", want)
	}
	if strings.Contains(body, `path="/v1/things/a"`) {
		t.Fatal("raw path leaked into metric labels")
	}
}

func TestObserveProbe(t *testing.T) {
	Init()
	ObserveProbe("test_result")
	if body := scrape(t); !strings.Contains(body, `hub_runtime_probe_total{result="test_result"} 1`) {
		t.Fatal("probe counter not exported")
	}
}

func TestLogRequest(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	LogRequest(RequestLog{
		TraceID:   "trace-9",
		Method:    http.MethodGet,
		Route:     "/v1/me",
		Path:      "/v1/me",
		Status:    http.StatusUnauthorized,
		Latency:   1500 * time.Microsecond,
		ErrorCode: "AUTH_REQUIRED",
	})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["message"] != "request_complete" || entry["level"] != "warn" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["trace_id"] != "trace-9" || entry["error_code"] != "AUTH_REQUIRED" {
		t.Fatalf("unexpected fields: %v", entry)
	}
	if entry["latency_ms"] != 1.5 {
		t.Fatalf("latency_ms = %v", entry["latency_ms"])
	}
}
