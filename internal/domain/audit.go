package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Actor types recorded on audit entries.
const (
	ActorAPIKey = "api_key"
	ActorAdmin  = "admin"
	ActorSystem = "system"
)

// AuditLog is an append-only record of one security-relevant operation. Rows
// are written asynchronously and may be dropped under pressure; they are never
// a correctness dependency.
type AuditLog struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Action       string         `gorm:"type:text;not null;index"`
	ActorType    string         `gorm:"type:text;not null"`
	ActorID      string         `gorm:"type:text"`
	ResourceType string         `gorm:"type:text;not null"`
	ResourceID   string         `gorm:"type:text;index"`
	Status       int            `gorm:"not null"`
	Error        string         `gorm:"type:text"`
	Detail       datatypes.JSON `gorm:"type:jsonb"`
	IP           string         `gorm:"type:text"`
	UserAgent    string         `gorm:"type:text"`
	CreatedAt    time.Time      `gorm:"not null;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Audit action names, one per state-changing operation.
const (
	AuditDomainCreate   = "domain.create"
	AuditDomainSetup    = "domain.setup"
	AuditDomainVerify   = "domain.verify"
	AuditDomainVerified = "domain.verified"
	AuditDomainFailed   = "domain.failed"
	AuditDomainDelete   = "domain.delete"
	AuditDomainTestSend = "domain.test_email"
	AuditEmailSend      = "email.send"
	AuditKeyCreate      = "api_key.create"
	AuditKeyRevoke      = "api_key.revoke"
	AuditKeyArchive     = "api_key.archive"
	AuditLogin          = "auth.login"
	AuditLogout         = "auth.logout"
)
