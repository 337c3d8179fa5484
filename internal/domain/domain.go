package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// DomainStatus is the verification state of a sending domain. Transitions
// only move forward: pending -> verifying -> verified|failed. Verified and
// failed are terminal; a failed domain is never resurrected, a new row is
// created instead.
type DomainStatus string

const (
	DomainStatusPending   DomainStatus = "pending"
	DomainStatusVerifying DomainStatus = "verifying"
	DomainStatusVerified  DomainStatus = "verified"
	DomainStatusFailed    DomainStatus = "failed"
)

// Terminal reports whether no further automatic transition can occur.
func (s DomainStatus) Terminal() bool {
	return s == DomainStatusVerified || s == DomainStatusFailed
}

// DNSRecord is one record the domain owner must publish to prove ownership.
// Verified is an advisory annotation from the last direct-DNS check; the
// identity provider remains the source of truth for sending eligibility.
type DNSRecord struct {
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	TTL      int     `json:"ttl,omitempty"`
	Priority *uint16 `json:"priority,omitempty"`
	Verified bool    `json:"verified"`
}

type Domain struct {
	ID                    DomainID       `gorm:"type:uuid;primaryKey"`
	Name                  string         `gorm:"type:text;not null;uniqueIndex:ux_domains_name"`
	Status                DomainStatus   `gorm:"type:text;not null;default:'pending';index"`
	FailureReason         string         `gorm:"type:text"`
	ProviderIdentityRef   string         `gorm:"type:text"`
	Records               datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt             time.Time      `gorm:"not null"`
	UpdatedAt             time.Time      `gorm:"not null"`
	VerificationStartedAt *time.Time
	VerifiedAt            *time.Time
	LastCheckedAt         *time.Time
}

func (Domain) TableName() string { return "domains" }

// EncodeDNSRecords serializes a record set, preserving order.
func EncodeDNSRecords(recs []DNSRecord) (datatypes.JSON, error) {
	raw, err := json.Marshal(recs)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// DecodeDNSRecords decodes a serialized record set. A nil slice means the
// domain has not been provisioned yet.
func DecodeDNSRecords(raw datatypes.JSON) ([]DNSRecord, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var recs []DNSRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// DNSRecords decodes the row's serialized record set.
func (d *Domain) DNSRecords() ([]DNSRecord, error) {
	return DecodeDNSRecords(d.Records)
}
