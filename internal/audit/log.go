// Package audit records security-relevant account and session events.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"sesame.dev/internal/obs"
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

// Event is one audit record. Actor is the id of the authenticated user, empty
// for anonymous actions such as sign-up or a failed login.
type Event struct {
	Name   string
	Actor  string
	Target string
	Fields map[string]any
}

// LogEvent writes an audit log entry enriched with the request id.
func LogEvent(ctx context.Context, ev Event) error {
	name := strings.TrimSpace(ev.Name)
	if name == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": name,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if ev.Actor != "" {
		entry["actor_id"] = ev.Actor
	}
	if ev.Target != "" {
		entry["target"] = ev.Target
	}
	fields := make(map[string]any, len(ev.Fields))
	for k, v := range ev.Fields {
		fields[k] = v
	}
	entry["fields"] = fields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
