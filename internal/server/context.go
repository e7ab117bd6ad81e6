package server

import (
	"context"

	"devauth/internal/config"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const userKey contextKey = "devauth_user"

// ContextWithUser returns a context carrying the authenticated end user.
func ContextWithUser(ctx context.Context, user config.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the end user set by the session middleware.
func UserFromContext(ctx context.Context) (config.User, bool) {
	user, ok := ctx.Value(userKey).(config.User)
	return user, ok
}
