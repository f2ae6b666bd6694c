package auth

import (
	"context"
	"errors"
	"slices"
)

// Scopes
const (
	ScopeResearchRead  = "research:read"
	ScopeResearchWrite = "research:write"
	ScopeSessionsRead  = "sessions:read"
	ScopeSessionsWrite = "sessions:write"
)

// AllScopes is granted to tokens minted without explicit scopes.
var AllScopes = []string{ScopeResearchRead, ScopeResearchWrite, ScopeSessionsRead, ScopeSessionsWrite}

var (
	ErrMissingToken  = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrInsufficient  = errors.New("insufficient scope")
	ErrInvalidHeader = errors.New("invalid authorization header")
)

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	Subject string
	Scopes  []string
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return p != nil && slices.Contains(p.Scopes, scope)
}

// ContextKey is the key type for context values
type ContextKey string

// PrincipalContextKey is the context key for the authenticated caller
const PrincipalContextKey ContextKey = "principal"

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

// FromContext returns the principal, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return p, ok
}
