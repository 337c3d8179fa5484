package service

import (
	"context"

	"mailgate/internal/authz"
	"mailgate/internal/domain"
	"mailgate/internal/dto"
)

// APIKeyService manages credentials and authenticates bearer secrets.
// Authenticate satisfies the authorization gate's KeyAuthenticator.
// ArchiveExpired is the retention job body moving long-revoked keys to the
// archive table.
type APIKeyService interface {
	Create(ctx context.Context, actor *authz.Actor, req dto.CreateAPIKeyRequest, ip string) (*dto.CreateAPIKeyResponse, error)
	List(ctx context.Context) (*dto.APIKeyListResponse, error)
	ListRevoked(ctx context.Context) (*dto.APIKeyListResponse, error)
	Revoke(ctx context.Context, actor *authz.Actor, id domain.APIKeyID, ip string) error
	Authenticate(ctx context.Context, rawKey, ip string) (*domain.APIKey, []domain.DomainID, error)

	ArchiveExpired(ctx context.Context) error
}
