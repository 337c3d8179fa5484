package store

import (
	"context"
	"time"

	"mailgate/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EmailStore struct{ db *gorm.DB }

func (s *Store) Emails() *EmailStore { return &EmailStore{db: s.DB} }

func (e *EmailStore) Create(ctx context.Context, em *domain.Email) error {
	if em.ID == uuid.Nil {
		em.ID = uuid.New()
	}
	return e.db.WithContext(ctx).Create(em).Error
}

func (e *EmailStore) GetByID(ctx context.Context, id domain.EmailID) (*domain.Email, error) {
	var em domain.Email
	if err := e.db.WithContext(ctx).First(&em, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrEmailNotFound
		}
		return nil, err
	}
	return &em, nil
}

// List pages newest-first with a (createdAt, id) cursor. Bodies are not
// selected; detail fetches go through GetByID.
func (e *EmailStore) List(ctx context.Context, domainIDs []domain.DomainID, before time.Time, beforeID domain.EmailID, limit int) ([]domain.Email, error) {
	tx := e.db.WithContext(ctx).
		Model(&domain.Email{}).
		Omit("html", "text")
	if domainIDs != nil {
		tx = tx.Where("domain_id IN ?", domainIDs)
	}
	if !before.IsZero() {
		tx = tx.Where("created_at < ? OR (created_at = ? AND id < ?)", before, before, beforeID)
	}
	var emails []domain.Email
	err := tx.Order("created_at desc, id desc").Limit(limit).Find(&emails).Error
	if err != nil {
		return nil, err
	}
	return emails, nil
}

// ExpiredIDs returns ids of rows older than the cutoff, oldest first, bounded
// to one retention chunk.
func (e *EmailStore) ExpiredIDs(ctx context.Context, cutoff time.Time, limit int) ([]domain.EmailID, error) {
	var ids []domain.EmailID
	err := e.db.WithContext(ctx).
		Model(&domain.Email{}).
		Where("created_at < ?", cutoff).
		Order("created_at asc").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *EmailStore) DeleteByIDs(ctx context.Context, ids []domain.EmailID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := e.db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Email{})
	return tx.RowsAffected, tx.Error
}
