// Package audit emits structured records of security-relevant operations:
// logins, logouts, renewals, rotations, tier changes. Entries go through
// the shared logger with a stable shape so they can be filtered downstream.
package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"authgrid.org/internal/obs"
	"authgrid.org/internal/token"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit
// correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}

	zfields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		zfields = append(zfields, zap.String("request_id", rid))
	}
	if claims, ok := token.ClaimsFromContext(ctx); ok {
		zfields = append(zfields, zap.String("account_id", claims.Subject))
	}
	if len(fields) > 0 {
		zfields = append(zfields, zap.Any("fields", fields))
	}

	obs.Logger().Info(event, zfields...)
	return nil
}
