package service

import (
	"context"

	"mailgate/internal/authz"
	"mailgate/internal/domain"
	"mailgate/internal/dto"
)

// EmailService validates and dispatches sends. Sending requires the owning
// domain to be verified and in the caller's scope; validation happens before
// any provider call. SweepExpired is the retention job body.
type EmailService interface {
	Send(ctx context.Context, actor *authz.Actor, req dto.SendEmailRequest, ip string) (*dto.SendEmailResponse, error)
	SendBatch(ctx context.Context, actor *authz.Actor, reqs []dto.SendEmailRequest, ip string) (*dto.BatchSendResponse, error)
	SendTest(ctx context.Context, actor *authz.Actor, domainID domain.DomainID, req dto.TestEmailRequest, ip string) (*dto.SendEmailResponse, error)
	Get(ctx context.Context, actor *authz.Actor, id domain.EmailID) (*dto.EmailResponse, error)
	List(ctx context.Context, actor *authz.Actor, cursor string, limit int) (*dto.EmailListResponse, error)

	SweepExpired(ctx context.Context) error
}
