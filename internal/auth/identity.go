package auth

import "context"

// Identity is the authenticated caller attached to a request's context by
// Middleware. UserID is nil for service-token callers.
type Identity struct {
	Subject  string // token subject: user ID for session tokens, service name for service tokens
	Username string
	Email    string
	Role     string
	UserID   *string
	Service  bool
	Method   string // "session", "service", "oidc", "dev"
}

const (
	MethodSession = "session"
	MethodService = "service"
	MethodOIDC    = "oidc"
	MethodDev     = "dev"
)

type identityContextKey struct{}

// NewContext returns a context carrying id.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext extracts the Identity stored by Middleware, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}
