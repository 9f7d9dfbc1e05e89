// Package auth provides user identity resolution and one-time-password issuance.
//
// The HTTP layer authenticates a bearer credential through the Authenticator
// interface and stores the resulting Identity in the request context; tools
// and stores read the acting user from there. JWT issuance and email delivery
// stay behind collaborator interfaces.
package auth

import (
	"context"
	"errors"
)

// ErrInvalidCredential indicates the presented credential resolved to no user.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// Authenticator resolves a bearer credential to an Identity.
// Implementations must be safe for concurrent use.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

// identityKey is the context key type for the authenticated identity
// (unexported to prevent collisions).
type identityKey struct{}

// WithIdentity returns a context carrying the authenticated identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// StaticTokens is an Authenticator backed by a fixed token → identity map.
// Suitable for development deployments and tests; production would put a
// JWT-validating implementation behind the same interface.
type StaticTokens struct {
	tokens map[string]Identity
}

// NewStaticTokens builds a StaticTokens authenticator.
// The map is copied; later mutation of the argument has no effect.
func NewStaticTokens(tokens map[string]Identity) *StaticTokens {
	cp := make(map[string]Identity, len(tokens))
	for tok, id := range tokens {
		cp[tok] = id
	}
	return &StaticTokens{tokens: cp}
}

// Authenticate implements Authenticator.
func (s *StaticTokens) Authenticate(_ context.Context, credential string) (Identity, error) {
	id, ok := s.tokens[credential]
	if !ok {
		return Identity{}, ErrInvalidCredential
	}
	return id, nil
}
