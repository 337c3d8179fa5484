package dto

import "time"

type CreateDomainRequest struct {
	Name string `json:"name"`
}

type DNSRecord struct {
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	TTL      int     `json:"ttl,omitempty"`
	Priority *uint16 `json:"priority,omitempty"`
	Verified bool    `json:"verified"`
}

type DomainResponse struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	Status                string      `json:"status"`
	CreatedAt             time.Time   `json:"createdAt"`
	VerificationStartedAt *time.Time  `json:"verificationStartedAt,omitempty"`
	VerifiedAt            *time.Time  `json:"verifiedAt,omitempty"`
	LastCheckedAt         *time.Time  `json:"lastCheckedAt,omitempty"`
	NextCheckAt           *time.Time  `json:"nextCheckAt,omitempty"`
	FailureReason         string      `json:"failureReason,omitempty"`
	DNSRecords            []DNSRecord `json:"dnsRecords,omitempty"`
}

type DomainListResponse struct {
	Domains []DomainResponse `json:"domains"`
	Total   int64            `json:"total"`
	Page    int              `json:"page"`
	Limit   int              `json:"limit"`
}

type TestEmailRequest struct {
	To string `json:"to"`
}
