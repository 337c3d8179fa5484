package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Email is one accepted send. The id handed back to clients is this row's id,
// not the provider's message id. Bodies are retained until the retention
// sweep removes the row.
type Email struct {
	ID                EmailID        `gorm:"type:uuid;primaryKey"`
	DomainID          DomainID       `gorm:"type:uuid;not null;index"`
	APIKeyID          *APIKeyID      `gorm:"type:uuid;index"`
	ProviderMessageID string         `gorm:"type:text"`
	FromAddress       string         `gorm:"type:text;not null"`
	To                datatypes.JSON `gorm:"type:jsonb;not null"`
	Cc                datatypes.JSON `gorm:"type:jsonb"`
	Bcc               datatypes.JSON `gorm:"type:jsonb"`
	ReplyTo           string         `gorm:"type:text"`
	Subject           string         `gorm:"type:text;not null"`
	HTML              string         `gorm:"type:text"`
	Text              string         `gorm:"type:text"`
	Headers           datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt         time.Time      `gorm:"not null;index"`
}

func (Email) TableName() string { return "emails" }
