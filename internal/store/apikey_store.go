package store

import (
	"context"
	"time"

	"mailgate/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type APIKeyStore struct{ db *gorm.DB }

func (s *Store) APIKeys() *APIKeyStore { return &APIKeyStore{db: s.DB} }

func (a *APIKeyStore) Create(ctx context.Context, key *domain.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	return a.db.WithContext(ctx).Create(key).Error
}

func (a *APIKeyStore) GetByID(ctx context.Context, id domain.APIKeyID) (*domain.APIKey, error) {
	var key domain.APIKey
	if err := a.db.WithContext(ctx).First(&key, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrAPIKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

// ActiveByPrefix returns the non-revoked candidate keys sharing a display
// prefix. The caller resolves the real match by constant-time hash compare.
func (a *APIKeyStore) ActiveByPrefix(ctx context.Context, prefix string) ([]domain.APIKey, error) {
	var keys []domain.APIKey
	err := a.db.WithContext(ctx).
		Where("key_prefix = ? AND revoked_at IS NULL", prefix).
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (a *APIKeyStore) ListActive(ctx context.Context) ([]domain.APIKey, error) {
	var keys []domain.APIKey
	err := a.db.WithContext(ctx).
		Where("revoked_at IS NULL").
		Order("created_at desc").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (a *APIKeyStore) ListRevoked(ctx context.Context) ([]domain.APIKey, error) {
	var keys []domain.APIKey
	err := a.db.WithContext(ctx).
		Where("revoked_at IS NOT NULL").
		Order("revoked_at desc").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (a *APIKeyStore) Revoke(ctx context.Context, id domain.APIKeyID, at time.Time) (bool, error) {
	tx := a.db.WithContext(ctx).Model(&domain.APIKey{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at)
	return tx.RowsAffected > 0, tx.Error
}

// TouchUsed stamps last use. Best-effort by contract: callers ignore errors.
func (a *APIKeyStore) TouchUsed(ctx context.Context, id domain.APIKeyID, at time.Time, ip string) error {
	return a.db.WithContext(ctx).Model(&domain.APIKey{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_used_at": at, "last_used_ip": ip}).Error
}

// AddDomains grants domain scopes to a key. Existing grants are kept.
func (a *APIKeyStore) AddDomains(ctx context.Context, keyID domain.APIKeyID, domainIDs []domain.DomainID, at time.Time) error {
	if len(domainIDs) == 0 {
		return nil
	}
	rows := make([]domain.APIKeyDomain, 0, len(domainIDs))
	for _, did := range domainIDs {
		rows = append(rows, domain.APIKeyDomain{APIKeyID: keyID, DomainID: did, CreatedAt: at})
	}
	return a.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// DomainIDs returns the key's allow-list, oldest grant first.
func (a *APIKeyStore) DomainIDs(ctx context.Context, keyID domain.APIKeyID) ([]domain.DomainID, error) {
	var ids []domain.DomainID
	err := a.db.WithContext(ctx).
		Model(&domain.APIKeyDomain{}).
		Where("api_key_id = ?", keyID).
		Order("created_at asc").
		Pluck("domain_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListRevokedBefore returns keys revoked at or before the cutoff, the archive
// sweep's candidate set, bounded for chunked processing.
func (a *APIKeyStore) ListRevokedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.APIKey, error) {
	var keys []domain.APIKey
	err := a.db.WithContext(ctx).
		Where("revoked_at IS NOT NULL AND revoked_at <= ?", cutoff).
		Order("revoked_at asc").
		Limit(limit).
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (a *APIKeyStore) CreateArchived(ctx context.Context, snap *domain.ArchivedAPIKey) error {
	return a.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(snap).Error
}

// HardDelete removes the live row and its scope grants. Only the archive
// sweep calls this, inside a transaction with CreateArchived.
func (a *APIKeyStore) HardDelete(ctx context.Context, id domain.APIKeyID) error {
	if err := a.db.WithContext(ctx).Where("api_key_id = ?", id).Delete(&domain.APIKeyDomain{}).Error; err != nil {
		return err
	}
	return a.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.APIKey{}).Error
}
