// Package provider defines the contracts for the external collaborators the
// gateway depends on: the managed email service, the DNS hosting API, and a
// direct DNS resolver. One method set each, so tests can swap in doubles that
// simulate propagation delay, partial failure, and timeouts.
package provider

import (
	"context"

	"mailgate/internal/domain"
)

// IdentityProvider provisions sender identities with the email service.
type IdentityProvider interface {
	// CreateIdentity registers the domain and returns an opaque identity
	// reference plus the DNS records the owner must publish. Safe to call
	// again for an already-registered domain.
	CreateIdentity(ctx context.Context, domainName string) (ref string, records []domain.DNSRecord, err error)
	// IsVerified reports whether the provider's own polling has confirmed
	// the domain's records.
	IsVerified(ctx context.Context, domainName string) (bool, error)
	DeleteIdentity(ctx context.Context, domainName string) error
}

// Message is one outbound email handed to the mail sender.
type Message struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// MailSender dispatches messages through the email service.
type MailSender interface {
	Send(ctx context.Context, msg *Message) (providerMessageID string, err error)
}

// DNSPublisher creates records at the DNS hosting provider. Errors are
// per-record; callers continue the batch on failure.
type DNSPublisher interface {
	CreateRecord(ctx context.Context, rec domain.DNSRecord) error
}

// CheckResult is the outcome of one direct DNS lookup.
type CheckResult struct {
	Found       bool
	ActualValue string
	Verified    bool
}

// DNSResolver checks record visibility against public DNS, independent of the
// identity provider's own polling.
type DNSResolver interface {
	CheckRecord(ctx context.Context, rec domain.DNSRecord) (CheckResult, error)
}
