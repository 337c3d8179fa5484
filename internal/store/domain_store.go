package store

import (
	"context"
	"errors"
	"time"

	"mailgate/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DomainStore struct{ db *gorm.DB }

func (s *Store) Domains() *DomainStore { return &DomainStore{db: s.DB} }

// Create inserts a pending domain row. Name uniqueness is enforced by the
// database, not by a prior lookup, so concurrent creates of the same name
// collapse to one row and one ErrDomainExists.
func (d *DomainStore) Create(ctx context.Context, dom *domain.Domain) error {
	if dom.ID == uuid.Nil {
		dom.ID = uuid.New()
	}
	if err := d.db.WithContext(ctx).Create(dom).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDomainExists
		}
		return err
	}
	return nil
}

func (d *DomainStore) GetByID(ctx context.Context, id domain.DomainID) (*domain.Domain, error) {
	var dom domain.Domain
	if err := d.db.WithContext(ctx).First(&dom, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrDomainNotFound
		}
		return nil, err
	}
	return &dom, nil
}

func (d *DomainStore) GetByName(ctx context.Context, name string) (*domain.Domain, error) {
	var dom domain.Domain
	if err := d.db.WithContext(ctx).First(&dom, "name = ?", name).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrDomainNotFound
		}
		return nil, err
	}
	return &dom, nil
}

// List pages newest-first. A non-nil ids slice restricts to those domains,
// which is how scoped keys see only their allow-list.
func (d *DomainStore) List(ctx context.Context, ids []domain.DomainID, page, limit int) ([]domain.Domain, int64, error) {
	q := func() *gorm.DB {
		tx := d.db.WithContext(ctx).Model(&domain.Domain{})
		if ids != nil {
			tx = tx.Where("id IN ?", ids)
		}
		return tx
	}

	var total int64
	if err := q().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var doms []domain.Domain
	err := q().
		Order("created_at desc, id desc").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&doms).Error
	if err != nil {
		return nil, 0, err
	}
	return doms, total, nil
}

// ListByStatus returns all domains in the given status, oldest first, so that
// the poll scheduler services long-waiting domains before fresh ones.
func (d *DomainStore) ListByStatus(ctx context.Context, status domain.DomainStatus) ([]domain.Domain, error) {
	var doms []domain.Domain
	err := d.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at asc, id asc").
		Find(&doms).Error
	if err != nil {
		return nil, err
	}
	return doms, nil
}

// BeginVerification moves a pending domain into verifying, recording the
// provider identity reference and the DNS record set in the same update. The
// status guard makes a re-run of the setup job a no-op.
func (d *DomainStore) BeginVerification(ctx context.Context, id domain.DomainID, ref string, records []domain.DNSRecord, at time.Time) (bool, error) {
	raw, err := domain.EncodeDNSRecords(records)
	if err != nil {
		return false, err
	}
	tx := d.db.WithContext(ctx).Model(&domain.Domain{}).
		Where("id = ? AND status = ?", id, domain.DomainStatusPending).
		Updates(map[string]any{
			"status":                  domain.DomainStatusVerifying,
			"provider_identity_ref":   ref,
			"records":                 raw,
			"verification_started_at": at,
		})
	return tx.RowsAffected > 0, tx.Error
}

// MarkVerified transitions verifying -> verified. Returns false when the
// domain is no longer verifying, which a racing check treats as already done.
func (d *DomainStore) MarkVerified(ctx context.Context, id domain.DomainID, at time.Time) (bool, error) {
	tx := d.db.WithContext(ctx).Model(&domain.Domain{}).
		Where("id = ? AND status = ?", id, domain.DomainStatusVerifying).
		Updates(map[string]any{
			"status":      domain.DomainStatusVerified,
			"verified_at": at,
		})
	return tx.RowsAffected > 0, tx.Error
}

// MarkFailed transitions a non-terminal domain to failed with a reason. The
// reason is never cleared afterwards.
func (d *DomainStore) MarkFailed(ctx context.Context, id domain.DomainID, reason string) (bool, error) {
	tx := d.db.WithContext(ctx).Model(&domain.Domain{}).
		Where("id = ? AND status IN ?", id, []domain.DomainStatus{domain.DomainStatusPending, domain.DomainStatusVerifying}).
		Updates(map[string]any{
			"status":         domain.DomainStatusFailed,
			"failure_reason": reason,
		})
	return tx.RowsAffected > 0, tx.Error
}

// TouchChecked stamps a poll attempt, whether or not it changed status.
func (d *DomainStore) TouchChecked(ctx context.Context, id domain.DomainID, at time.Time) error {
	return d.db.WithContext(ctx).Model(&domain.Domain{}).
		Where("id = ?", id).
		Update("last_checked_at", at).Error
}

// UpdateRecords replaces the stored record set, used to persist advisory
// verified annotations from a direct DNS check.
func (d *DomainStore) UpdateRecords(ctx context.Context, id domain.DomainID, records []domain.DNSRecord) error {
	raw, err := domain.EncodeDNSRecords(records)
	if err != nil {
		return err
	}
	return d.db.WithContext(ctx).Model(&domain.Domain{}).
		Where("id = ?", id).
		Update("records", raw).Error
}

// Delete removes a domain unless a live API key still references it through
// the scope join. Callers run this inside WithTx so the reference check and
// the delete see the same state.
func (d *DomainStore) Delete(ctx context.Context, id domain.DomainID) error {
	var refs int64
	err := d.db.WithContext(ctx).
		Table("api_key_domains").
		Joins("JOIN api_keys ON api_keys.id = api_key_domains.api_key_id").
		Where("api_key_domains.domain_id = ? AND api_keys.revoked_at IS NULL", id).
		Count(&refs).Error
	if err != nil {
		return err
	}
	if refs > 0 {
		return domain.ErrDomainInUse
	}
	tx := d.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Domain{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrDomainNotFound
	}
	return nil
}
