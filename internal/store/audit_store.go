package store

import (
	"context"

	"mailgate/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditStore struct{ db *gorm.DB }

func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.DB} }

func (a *AuditStore) Create(ctx context.Context, entry *domain.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return a.db.WithContext(ctx).Create(entry).Error
}

func (a *AuditStore) List(ctx context.Context, page, limit int) ([]domain.AuditLog, int64, error) {
	var total int64
	if err := a.db.WithContext(ctx).Model(&domain.AuditLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []domain.AuditLog
	err := a.db.WithContext(ctx).
		Order("created_at desc, id desc").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
