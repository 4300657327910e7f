package auth

import (
	"context"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/auth/token"
)

// Session is the resolved identity of an authenticated request: the
// account that presented the token, the tenant it belongs to, and the
// verified claims. Tenant carries the subscription, limits, and usage
// snapshot the gates check against.
type Session struct {
	Account *account.Account
	Tenant  *account.Tenant
	Claims  *token.Claims
}

// sessionKey is a private type for the session context key.
type sessionKey struct{}

// WithSession stores the session in the context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext retrieves the session. Returns false if the request
// did not pass through the Authenticator middleware.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok
}

// MustSession retrieves the session and panics if it is absent. Only for
// handlers registered behind the Authenticator middleware, where a missing
// session is a wiring bug.
func MustSession(ctx context.Context) *Session {
	s, ok := SessionFromContext(ctx)
	if !ok {
		panic("auth: no session in context")
	}
	return s
}
