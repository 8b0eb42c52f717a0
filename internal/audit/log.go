// Package audit writes business events (points earned, burned, refunded) to
// the structured log, tagged with the request and the caller.
package audit

import (
	"context"
	"errors"
	"maps"
	"strings"

	"aldar.app/internal/auth"
	"aldar.app/internal/obs"
	"aldar.app/internal/session"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
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

// LogEvent writes an audit entry enriched with the request id, the app user
// and the callback partner found in ctx.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	copyFields := make(map[string]any, len(fields))
	maps.Copy(copyFields, fields)

	ev := obs.Logger().Info().Str("type", "audit").Str("event", event)
	if rid := requestIDFromContext(ctx); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if p, ok := session.PrincipalFromContext(ctx); ok && p.LoggedIn {
		ev = ev.Int64("user_id", p.UserID).Str("company", p.Company)
	}
	if partner, ok := auth.PartnerFromContext(ctx); ok {
		ev = ev.Str("partner", partner)
	}
	ev.Interface("fields", copyFields).Send()
	return nil
}
