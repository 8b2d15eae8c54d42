// Package audit emits structured audit events for security relevant actions.
package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"goyais.org/hub/internal/auth"
	"goyais.org/hub/internal/obs"
)

type ctxKey string

const traceIDKey ctxKey = "audit_trace_id"

// WithTraceID attaches the request trace id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the trace id set by WithTraceID.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with trace and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}

	e := obs.Logger().WithLevel(zerolog.InfoLevel).
		Str("type", "audit").
		Str("event", event)
	if tid := TraceIDFromContext(ctx); tid != "" {
		e = e.Str("trace_id", tid)
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		e = e.Str("user_id", userID)
	}
	e.Dict("fields", zerolog.Dict().Fields(copyFields)).Msg("audit")
	return nil
}
