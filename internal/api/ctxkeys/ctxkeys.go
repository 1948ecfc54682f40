// Package ctxkeys holds the request context keys shared by middleware and handlers.
// It is a leaf package so api and api/handlers can both import it.
package ctxkeys

import "context"

// Key is the named type for all API context keys.
// context.Value compares type and value, so string keys from other packages never collide.
type Key string

const (
	// Token is the access token presented in the configured header.
	// Injected by middleware.Token, read by the chat handler.
	Token Key = "access_token"
)

// WithValue adds a ctxkeys.Key value to the context.
func WithValue(ctx context.Context, key Key, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// String returns the string stored under key, or "" when absent.
func String(ctx context.Context, key Key) string {
	v, _ := ctx.Value(key).(string)
	return v
}
