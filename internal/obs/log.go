package obs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// LogConfig selects level and output format of the shared logger.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output io.Writer
}

// InitLogger replaces the shared logger.
func InitLogger(cfg LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(out).Level(level).With().Timestamp().Logger()

	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := logger
	return &l
}

// WithComponent returns a child logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return Logger().With().Str("component", component).Logger()
}

// SetOutput redirects the shared logger (JSON, debug level) and returns a
// function restoring the previous one. Intended for tests.
func SetOutput(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	logger = zerolog.New(w).With().Timestamp().Logger()
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		logger = prev
		loggerMu.Unlock()
	}
}

// RequestLog carries the fields of a completed HTTP request.
type RequestLog struct {
	TraceID   string
	Method    string
	Route     string
	Path      string
	Status    int
	Latency   time.Duration
	ErrorCode string
	Err       error
}

// LogRequest emits the request_complete line.
func LogRequest(entry RequestLog) {
	l := Logger()
	ev := l.Info()
	switch {
	case entry.Status >= 500:
		ev = l.Error()
	case entry.Status >= 400:
		ev = l.Warn()
	}
	ev = ev.Str("trace_id", entry.TraceID).
		Str("method", entry.Method).
		Str("route", entry.Route).
		Str("path", entry.Path).
		Int("status", entry.Status).
		Float64("latency_ms", float64(entry.Latency.Microseconds())/1000)
	if entry.ErrorCode != "" {
		ev = ev.Str("error_code", entry.ErrorCode)
	}
	if entry.Err != nil {
		ev = ev.Err(entry.Err)
	}
	ev.Msg("request_complete")
}
