package logging

import (
	"context"
	"log/slog"
)

// AuditEvent describes a security relevant action.
// Token material must never be placed in any of its fields.
type AuditEvent struct {
	// Action is what happened, e.g. "grant_approved" or "credential_saved".
	Action string
	// Outcome is "success", "failure" or "rejected".
	Outcome string
	// Subject identifies who acted (user id), truncated where sensitive.
	Subject string
	// Target identifies what was acted upon (user code, client id, file).
	Target string
	// Details carries an optional free-form reason.
	Details string
}

// Audit logs an audit event at INFO level with an [AUDIT] prefix.
func Audit(event AuditEvent) {
	l := logger()
	if l == nil {
		l = slog.Default()
	}

	attrs := []slog.Attr{
		slog.String("subsystem", "Audit"),
		slog.String("action", event.Action),
		slog.String("outcome", event.Outcome),
	}
	if event.Subject != "" {
		attrs = append(attrs, slog.String("subject", event.Subject))
	}
	if event.Target != "" {
		attrs = append(attrs, slog.String("target", event.Target))
	}
	if event.Details != "" {
		attrs = append(attrs, slog.String("details", event.Details))
	}

	l.LogAttrs(context.Background(), slog.LevelInfo, "[AUDIT] "+event.Action, attrs...)
}

// TruncateID shortens an opaque identifier for logging, keeping only a prefix.
func TruncateID(id string) string {
	const keep = 8
	if len(id) <= keep {
		return id
	}
	return id[:keep] + "..."
}
