package service

import (
	"context"

	"mailgate/internal/authz"
	"mailgate/internal/domain"
	"mailgate/internal/dto"
)

// DomainService owns the domain lifecycle: creation, the async setup and
// poll transitions, and deletion. Setup and PollDue are job bodies invoked
// by the dispatcher and scheduler, not by HTTP callers.
type DomainService interface {
	Create(ctx context.Context, actor *authz.Actor, req dto.CreateDomainRequest, ip string) (*dto.DomainResponse, error)
	Get(ctx context.Context, actor *authz.Actor, id domain.DomainID) (*dto.DomainResponse, error)
	List(ctx context.Context, actor *authz.Actor, page, limit int) (*dto.DomainListResponse, error)
	Delete(ctx context.Context, actor *authz.Actor, id domain.DomainID, ip string) error
	// Verify runs the poll once, now, for one domain. Domains not currently
	// verifying are skipped without error.
	Verify(ctx context.Context, actor *authz.Actor, id domain.DomainID, ip string) (*dto.DomainResponse, error)

	// Setup provisions the sender identity and publishes DNS records. Safe to
	// re-run for the same id.
	Setup(ctx context.Context, id domain.DomainID) error
	// PollDue checks every verifying domain once.
	PollDue(ctx context.Context) error
}

// SetupDispatcher submits a domain setup job for background execution.
// Submit reports false when the queue is full; the domain then stays pending
// until an operator re-triggers setup.
type SetupDispatcher interface {
	SubmitSetup(id domain.DomainID) bool
}
