package domain

import "time"

// APIKey is a stored credential. The raw secret is returned exactly once at
// creation; only a salted SHA-256 digest is persisted. KeyPrefix is a short
// non-secret fragment of the raw secret kept for display and candidate lookup.
type APIKey struct {
	ID         APIKeyID  `gorm:"type:uuid;primaryKey"`
	Name       string    `gorm:"type:text;not null"`
	KeyHash    []byte    `gorm:"type:bytea;not null"`
	KeySalt    []byte    `gorm:"type:bytea;not null"`
	KeyPrefix  string    `gorm:"type:text;not null;index:ix_api_keys_prefix"`
	IsAdmin    bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
	RevokedAt  *time.Time
	LastUsedAt *time.Time
	LastUsedIP string `gorm:"type:text"`
}

func (APIKey) TableName() string { return "api_keys" }

// Active reports whether the key may authenticate requests.
func (k *APIKey) Active() bool { return k.RevokedAt == nil }

// APIKeyDomain scopes a non-admin key to one domain. A key with no rows may
// not act on any domain; scope rows are granted explicitly at creation or
// later by an admin.
type APIKeyDomain struct {
	APIKeyID  APIKeyID  `gorm:"type:uuid;not null;uniqueIndex:ux_api_key_domains;index"`
	DomainID  DomainID  `gorm:"type:uuid;not null;uniqueIndex:ux_api_key_domains;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (APIKeyDomain) TableName() string { return "api_key_domains" }

// ArchivedAPIKey is a snapshot of a revoked key moved out of the live table
// after the retention window. It keeps enough for audit reconstruction but
// never the hash material.
type ArchivedAPIKey struct {
	ID         APIKeyID  `gorm:"type:uuid;primaryKey"`
	Name       string    `gorm:"type:text;not null"`
	KeyPrefix  string    `gorm:"type:text;not null"`
	IsAdmin    bool      `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	RevokedAt  time.Time `gorm:"not null"`
	ArchivedAt time.Time `gorm:"not null"`
	LastUsedAt *time.Time
}

func (ArchivedAPIKey) TableName() string { return "archived_api_keys" }
