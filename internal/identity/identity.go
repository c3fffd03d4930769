// Package identity carries the authenticated caller through a request. The
// core performs no authentication itself: callers arrive pre-authenticated
// and the upstream gateway supplies these fields.
package identity

import "context"

// Caller is the authenticated principal initiating a payment operation.
type Caller struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	OrganizationID string `json:"organizationId"`
}

type contextKey struct{}

var callerKey contextKey

// WithCaller attaches the caller to the context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// FromContext retrieves the caller, reporting whether one was attached.
func FromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey).(Caller)
	return caller, ok
}
