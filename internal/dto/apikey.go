package dto

import "time"

type CreateAPIKeyRequest struct {
	Name      string   `json:"name"`
	IsAdmin   bool     `json:"isAdmin,omitempty"`
	DomainIDs []string `json:"domainIds,omitempty"`
}

// CreateAPIKeyResponse carries the raw key exactly once; it is never
// retrievable again.
type CreateAPIKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"keyPrefix"`
	IsAdmin   bool      `json:"isAdmin"`
	DomainIDs []string  `json:"domainIds,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type APIKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"keyPrefix"`
	IsAdmin    bool       `json:"isAdmin"`
	DomainIDs  []string   `json:"domainIds,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	LastUsedIP string     `json:"lastUsedIp,omitempty"`
}

type APIKeyListResponse struct {
	APIKeys []APIKeyResponse `json:"apiKeys"`
}
