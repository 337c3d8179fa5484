package authz

import (
	"context"
	"net/http"
	"strings"

	"mailgate/internal/domain"
)

// KeyAuthenticator resolves a raw bearer secret to its stored key and domain
// scopes. Implemented by the API key service.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, rawKey, ip string) (*domain.APIKey, []domain.DomainID, error)
}

// Gate turns an inbound request into an actor. Bearer keys win over session
// cookies; a request carrying both is authenticated as the key.
type Gate struct {
	Keys     KeyAuthenticator
	Sessions *Sessions
}

func NewGate(keys KeyAuthenticator, sessions *Sessions) *Gate {
	return &Gate{Keys: keys, Sessions: sessions}
}

func (g *Gate) Resolve(r *http.Request, ip string) (*Actor, error) {
	if raw := r.Header.Get("Authorization"); raw != "" {
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			return nil, domain.ErrUnauthorized
		}
		secret := strings.TrimSpace(raw[len("bearer "):])
		if secret == "" {
			return nil, domain.ErrUnauthorized
		}
		key, scopes, err := g.Keys.Authenticate(r.Context(), secret, ip)
		if err != nil {
			return nil, err
		}
		return &Actor{
			Type:      domain.ActorAPIKey,
			KeyID:     &key.ID,
			KeyPrefix: key.KeyPrefix,
			IsAdmin:   key.IsAdmin,
			DomainIDs: scopes,
		}, nil
	}

	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		if err := g.Sessions.Verify(c.Value); err != nil {
			return nil, domain.ErrUnauthorized
		}
		return &Actor{Type: domain.ActorAdmin, IsAdmin: true}, nil
	}

	return nil, domain.ErrUnauthorized
}
