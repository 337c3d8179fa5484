// Package authz resolves inbound credentials to actors and carries them
// through request context. Every operation that touches a specific domain
// re-checks scope against the actor.
package authz

import (
	"context"

	"mailgate/internal/domain"
)

// Actor is a resolved credential: an API key or an interactive admin session.
type Actor struct {
	Type      string
	KeyID     *domain.APIKeyID
	KeyPrefix string
	IsAdmin   bool
	// DomainIDs is the allow-list for non-admin keys. Admin actors ignore it.
	DomainIDs []domain.DomainID
}

// AllowedDomain reports whether the actor may act on the domain. Admins may
// act on any; non-admin keys only on allow-listed ones.
func (a *Actor) AllowedDomain(id domain.DomainID) bool {
	if a.IsAdmin {
		return true
	}
	for _, d := range a.DomainIDs {
		if d == id {
			return true
		}
	}
	return false
}

// ActorID returns the audit identifier: the key prefix for API keys, empty
// for admin sessions.
func (a *Actor) ActorID() string {
	return a.KeyPrefix
}

type ctxKey struct{}

func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func ActorFromContext(ctx context.Context) (*Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(*Actor)
	return a, ok
}
