package httpapi

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/audit"
	"goyais.org/hub/internal/ids"
	"goyais.org/hub/internal/obs"
)

const (
	headerTraceID = "X-Trace-Id"
	maxTraceIDLen = 128
	unmatched     = "unmatched"
)

// requestState is filled in while a request travels down the chain and read
// back by the outer logging and metrics layers.
type requestState struct {
	route   string
	errCode string
	err     error
}

type stateKey struct{}

func stateFrom(ctx context.Context) *requestState {
	st, _ := ctx.Value(stateKey{}).(*requestState)
	return st
}

func routeLabel(r *http.Request) string {
	if st := stateFrom(r.Context()); st != nil && st.route != "" {
		return st.route
	}
	return unmatched
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Trace echoes the caller's X-Trace-Id or mints one, and sets it on the
// response before anything else can write.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerTraceID))
		if id == "" || len(id) > maxTraceIDLen {
			id = ids.NewTraceID()
		}
		w.Header().Set(headerTraceID, id)
		ctx := audit.WithTraceID(r.Context(), id)
		ctx = context.WithValue(ctx, stateKey{}, &requestState{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// captureRoute runs inside the router and records the matched template.
func captureRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				if st := stateFrom(r.Context()); st != nil {
					st.route = tpl
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// LogRequests writes one request_complete line per request.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		entry := obs.RequestLog{
			TraceID: traceID(r),
			Method:  r.Method,
			Route:   routeLabel(r),
			Path:    r.URL.Path,
			Status:  sw.code,
			Latency: time.Since(start),
		}
		if st := stateFrom(r.Context()); st != nil {
			entry.ErrorCode = st.errCode
			entry.Err = st.err
		}
		obs.LogRequest(entry)
	})
}

// Recover turns handler panics into an INTERNAL envelope and logs them.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			obs.Logger().Error().
				Str("trace_id", traceID(r)).
				Str("route", routeLabel(r)).
				Interface("panic", rec).
				Msg("handler panic")
			writeError(w, r, apierr.Internal("panic", fmt.Errorf("panic: %v", rec)))
		}()
		next.ServeHTTP(w, r)
	})
}

// ProxyHeaders rewrites RemoteAddr, scheme and host from X-Forwarded-For,
// X-Real-IP and friends. Only mount it behind a trusted reverse proxy.
func ProxyHeaders(next http.Handler) http.Handler {
	return handlers.ProxyHeaders(next)
}

// SecurityHeaders hardens every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// CORS allows the configured origins only.
func CORS(origins []string) func(http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions,
		}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", headerTraceID}),
		handlers.ExposedHeaders([]string{headerTraceID}),
		handlers.MaxAge(600),
	)
}

// MaxBodyBytes limits request body size.
func MaxBodyBytes(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a token bucket per client IP.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newRateLimiter(limit rate.Limit, burst int) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		ttl:     5 * time.Minute,
		now:     time.Now,
	}
}

// reserve reports whether the client may proceed, and otherwise how long it
// should wait.
func (l *rateLimiter) reserve(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	if b.lim.AllowN(now, 1) {
		return true, 0
	}
	wait := time.Second
	if l.limit > 0 {
		wait = time.Duration(float64(time.Second) / float64(l.limit))
	}
	return false, wait
}

// Middleware rejects over-limit clients with RATE_LIMITED.
func (l *rateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		ok, wait := l.reserve(ip)
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, r, apierr.New(apierr.CodeRateLimited, "Too many requests.",
				apierr.WithCause("rate_limit"),
				apierr.WithDetails(map[string]any{"retry_after_seconds": secs})))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the socket peer. Forwarded headers count only once
// ProxyHeaders has rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
