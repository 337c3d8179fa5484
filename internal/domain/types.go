package domain

import "github.com/google/uuid"

type DomainID = uuid.UUID
type APIKeyID = uuid.UUID
type EmailID = uuid.UUID
