// Package session carries the resolved caller identity through request
// context. The quota and streaming logic never cares where identity was
// established; it only needs a resolved tenant ID.
package session

import "context"

// Session is the resolved identity for one chat caller.
type Session struct {
	TenantID  string
	SessionID string
}

type contextKey struct{}

// NewContext returns a context carrying the session.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext extracts the session, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}
