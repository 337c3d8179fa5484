package dto

import "time"

type LoginRequest struct {
	Password string `json:"password"`
}

type LoginResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

type MeResponse struct {
	ActorType string   `json:"actorType"`
	ActorID   string   `json:"actorId,omitempty"`
	IsAdmin   bool     `json:"isAdmin"`
	DomainIDs []string `json:"domainIds,omitempty"`
}
