package impl

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"mailgate/internal/authz"
	"mailgate/internal/domain"
	"mailgate/internal/dto"
	"mailgate/internal/observability/metrics"
	"mailgate/internal/provider"
	"mailgate/internal/service"
	"mailgate/internal/store"

	"github.com/google/uuid"
)

// RFC 1035 labels, lowercased, at least one dot.
var domainNameRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

type DomainOptions struct {
	// PollInterval is how often the scheduler re-checks verifying domains,
	// used here only to report the next expected check time.
	PollInterval time.Duration
	// VerifyTimeout bounds how long a domain may stay verifying before it
	// fails permanently.
	VerifyTimeout time.Duration
}

type DomainServiceImpl struct {
	store      *store.Store
	identity   provider.IdentityProvider
	publisher  provider.DNSPublisher
	resolver   provider.DNSResolver
	dispatcher service.SetupDispatcher
	audit      service.AuditRecorder
	log        *slog.Logger
	opts       DomainOptions
}

var _ service.DomainService = (*DomainServiceImpl)(nil)

// NewDomainServiceImpl wires the domain lifecycle service. publisher may be
// nil when automatic DNS publishing is disabled; records are then only
// reported to the caller for manual creation.
func NewDomainServiceImpl(
	st *store.Store,
	identity provider.IdentityProvider,
	publisher provider.DNSPublisher,
	resolver provider.DNSResolver,
	dispatcher service.SetupDispatcher,
	audit service.AuditRecorder,
	log *slog.Logger,
	opts DomainOptions,
) *DomainServiceImpl {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Minute
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 72 * time.Hour
	}
	return &DomainServiceImpl{
		store:      st,
		identity:   identity,
		publisher:  publisher,
		resolver:   resolver,
		dispatcher: dispatcher,
		audit:      audit,
		log:        log,
		opts:       opts,
	}
}

func (s *DomainServiceImpl) Create(ctx context.Context, actor *authz.Actor, req dto.CreateDomainRequest, ip string) (*dto.DomainResponse, error) {
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if name == "" || len(name) > 253 || !domainNameRE.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidDomainName, req.Name)
	}

	now := time.Now().UTC()
	dom := &domain.Domain{
		ID:        uuid.New(),
		Name:      name,
		Status:    domain.DomainStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Domains().Create(ctx, dom); err != nil {
		return nil, err
	}

	if s.dispatcher == nil || !s.dispatcher.SubmitSetup(dom.ID) {
		s.log.Warn("setup not queued, domain stays pending", "domain", name, "id", dom.ID)
	}

	metrics.DomainTransitionsTotal.WithLabelValues(string(domain.DomainStatusPending)).Inc()
	e := auditEntry(domain.AuditDomainCreate, actor, "domain", dom.ID.String(), ip)
	e.Status = http.StatusCreated
	e.Detail = toJSON(map[string]string{"name": name})
	s.audit.Record(e)
	s.log.Info("domain created", "domain", name, "id", dom.ID)

	return s.toResponse(dom), nil
}

func (s *DomainServiceImpl) Get(ctx context.Context, actor *authz.Actor, id domain.DomainID) (*dto.DomainResponse, error) {
	dom, err := s.store.Domains().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.AllowedDomain(dom.ID) {
		return nil, domain.ErrForbidden
	}
	return s.toResponse(dom), nil
}

func (s *DomainServiceImpl) List(ctx context.Context, actor *authz.Actor, page, limit int) (*dto.DomainListResponse, error) {
	page, limit = normalizePage(page, limit, 20, 100)

	var ids []domain.DomainID
	if !actor.IsAdmin {
		ids = actor.DomainIDs
		if ids == nil {
			ids = []domain.DomainID{}
		}
	}
	doms, total, err := s.store.Domains().List(ctx, ids, page, limit)
	if err != nil {
		return nil, err
	}

	resp := &dto.DomainListResponse{
		Domains: make([]dto.DomainResponse, 0, len(doms)),
		Total:   total,
		Page:    page,
		Limit:   limit,
	}
	for i := range doms {
		resp.Domains = append(resp.Domains, *s.toResponse(&doms[i]))
	}
	return resp, nil
}

func (s *DomainServiceImpl) Delete(ctx context.Context, actor *authz.Actor, id domain.DomainID, ip string) error {
	dom, err := s.store.Domains().GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.AllowedDomain(dom.ID) {
		return domain.ErrForbidden
	}

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		return tx.Domains().Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	// The row is gone either way; a dangling provider identity only costs a
	// warning and can be cleaned up by hand.
	if dom.ProviderIdentityRef != "" {
		if err := s.identity.DeleteIdentity(ctx, dom.Name); err != nil {
			s.log.Warn("provider identity delete failed", "domain", dom.Name, "error", err)
		}
	}

	e := auditEntry(domain.AuditDomainDelete, actor, "domain", id.String(), ip)
	e.Status = http.StatusNoContent
	e.Detail = toJSON(map[string]string{"name": dom.Name})
	s.audit.Record(e)
	s.log.Info("domain deleted", "domain", dom.Name, "id", id)
	return nil
}

// Verify runs one check immediately for a verifying domain. Domains in any
// other status are returned untouched.
func (s *DomainServiceImpl) Verify(ctx context.Context, actor *authz.Actor, id domain.DomainID, ip string) (*dto.DomainResponse, error) {
	dom, err := s.store.Domains().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.AllowedDomain(dom.ID) {
		return nil, domain.ErrForbidden
	}

	if dom.Status != domain.DomainStatusVerifying {
		s.log.Info("manual verify skipped", "domain", dom.Name, "status", dom.Status)
		return s.toResponse(dom), nil
	}

	if _, err := s.pollOne(ctx, dom); err != nil {
		return nil, err
	}
	e := auditEntry(domain.AuditDomainVerify, actor, "domain", id.String(), ip)
	e.Status = http.StatusOK
	s.audit.Record(e)

	dom, err = s.store.Domains().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.toResponse(dom), nil
}

// Setup provisions the provider identity for a pending domain, publishes its
// DNS records and moves it into verifying. Re-runs and races collapse on the
// status guards, so the dispatcher may deliver the job more than once.
func (s *DomainServiceImpl) Setup(ctx context.Context, id domain.DomainID) error {
	dom, err := s.store.Domains().GetByID(ctx, id)
	if err != nil {
		return err
	}
	if dom.Status != domain.DomainStatusPending {
		s.log.Debug("setup skipped, domain not pending", "domain", dom.Name, "status", dom.Status)
		return nil
	}

	ref, records, err := s.identity.CreateIdentity(ctx, dom.Name)
	if err != nil {
		// Identity creation is the one step setup cannot proceed without.
		s.log.Error("identity provisioning failed", "domain", dom.Name, "error", err)
		changed, mErr := s.store.Domains().MarkFailed(ctx, id, fmt.Sprintf("identity provisioning failed: %v", err))
		if mErr != nil {
			return mErr
		}
		if changed {
			metrics.DomainTransitionsTotal.WithLabelValues(string(domain.DomainStatusFailed)).Inc()
			e := auditEntry(domain.AuditDomainFailed, nil, "domain", id.String(), "")
			e.Error = err.Error()
			s.audit.Record(e)
		}
		return nil
	}

	if s.publisher != nil {
		for _, rec := range records {
			if err := s.publisher.CreateRecord(ctx, rec); err != nil {
				metrics.DNSPublishTotal.WithLabelValues("error").Inc()
				s.log.Warn("dns record publish failed",
					"domain", dom.Name, "record", rec.Name, "type", rec.Type, "error", err)
				continue
			}
			metrics.DNSPublishTotal.WithLabelValues("ok").Inc()
		}
	}

	changed, err := s.store.Domains().BeginVerification(ctx, id, ref, records, time.Now().UTC())
	if err != nil {
		return err
	}
	if !changed {
		s.log.Debug("verification already started elsewhere", "domain", dom.Name)
		return nil
	}

	metrics.DomainTransitionsTotal.WithLabelValues(string(domain.DomainStatusVerifying)).Inc()
	e := auditEntry(domain.AuditDomainSetup, nil, "domain", id.String(), "")
	e.Detail = toJSON(map[string]any{"records": len(records)})
	s.audit.Record(e)
	s.log.Info("domain setup complete", "domain", dom.Name, "records", len(records))
	return nil
}

// PollDue checks every verifying domain once, oldest first. Individual check
// failures are logged and do not stop the rest of the batch.
func (s *DomainServiceImpl) PollDue(ctx context.Context) error {
	doms, err := s.store.Domains().ListByStatus(ctx, domain.DomainStatusVerifying)
	if err != nil {
		return fmt.Errorf("list verifying domains: %w", err)
	}

	var checked, failed int
	for i := range doms {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.pollOne(ctx, &doms[i]); err != nil {
			failed++
			s.log.Error("verification check failed", "domain", doms[i].Name, "error", err)
			continue
		}
		checked++
	}
	if len(doms) > 0 {
		s.log.Info("verification poll finished", "checked", checked, "errors", failed)
	}
	return nil
}

// pollOne is one verification check for one verifying domain. External calls
// happen first; the check timestamp and any transition then commit in a
// single transaction. The verification deadline is enforced before anything
// else so an expired domain costs no provider calls.
func (s *DomainServiceImpl) pollOne(ctx context.Context, dom *domain.Domain) (domain.DomainStatus, error) {
	now := time.Now().UTC()

	if dom.VerificationStartedAt != nil && now.Sub(*dom.VerificationStartedAt) >= s.opts.VerifyTimeout {
		var changed bool
		err := s.store.WithTx(ctx, func(tx *store.Store) error {
			if err := tx.Domains().TouchChecked(ctx, dom.ID, now); err != nil {
				return err
			}
			var err error
			changed, err = tx.Domains().MarkFailed(ctx, dom.ID, "verification timed out")
			return err
		})
		if err != nil {
			return dom.Status, err
		}
		metrics.DomainChecksTotal.WithLabelValues("timeout").Inc()
		if changed {
			metrics.DomainTransitionsTotal.WithLabelValues(string(domain.DomainStatusFailed)).Inc()
			e := auditEntry(domain.AuditDomainFailed, nil, "domain", dom.ID.String(), "")
			e.Error = "verification timed out"
			s.audit.Record(e)
			s.log.Info("domain verification timed out", "domain", dom.Name)
		}
		return domain.DomainStatusFailed, nil
	}

	verified, err := s.identity.IsVerified(ctx, dom.Name)
	if err != nil {
		// A provider hiccup reads as not-yet-verified; the next poll retries.
		metrics.DomainChecksTotal.WithLabelValues("error").Inc()
		s.log.Warn("provider verification check failed", "domain", dom.Name, "error", err)
		verified = false
	}

	if verified {
		var changed bool
		err := s.store.WithTx(ctx, func(tx *store.Store) error {
			if err := tx.Domains().TouchChecked(ctx, dom.ID, now); err != nil {
				return err
			}
			var err error
			changed, err = tx.Domains().MarkVerified(ctx, dom.ID, now)
			return err
		})
		if err != nil {
			return dom.Status, err
		}
		metrics.DomainChecksTotal.WithLabelValues("verified").Inc()
		if changed {
			metrics.DomainTransitionsTotal.WithLabelValues(string(domain.DomainStatusVerified)).Inc()
			s.audit.Record(auditEntry(domain.AuditDomainVerified, nil, "domain", dom.ID.String(), ""))
			s.log.Info("domain verified", "domain", dom.Name)
		}
		return domain.DomainStatusVerified, nil
	}

	// Not confirmed yet. Annotate per-record visibility from a direct DNS
	// pass; the flags are advisory for operators and never drive the
	// transition, the provider's own verdict does.
	records, decErr := dom.DNSRecords()
	if decErr != nil {
		s.log.Warn("stored dns records unreadable", "domain", dom.Name, "error", decErr)
	}
	live := 0
	for i := range records {
		res, rerr := s.resolver.CheckRecord(ctx, records[i])
		if rerr != nil {
			s.log.Debug("dns lookup failed", "domain", dom.Name, "record", records[i].Name, "error", rerr)
		}
		records[i].Verified = res.Verified
		if res.Verified {
			live++
		}
	}

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Domains().TouchChecked(ctx, dom.ID, now); err != nil {
			return err
		}
		if decErr != nil {
			return nil
		}
		return tx.Domains().UpdateRecords(ctx, dom.ID, records)
	})
	if err != nil {
		return dom.Status, err
	}
	metrics.DomainChecksTotal.WithLabelValues("pending").Inc()
	s.log.Debug("domain still verifying", "domain", dom.Name, "records_live", live, "records_total", len(records))
	return domain.DomainStatusVerifying, nil
}

func (s *DomainServiceImpl) toResponse(dom *domain.Domain) *dto.DomainResponse {
	resp := &dto.DomainResponse{
		ID:                    dom.ID.String(),
		Name:                  dom.Name,
		Status:                string(dom.Status),
		CreatedAt:             dom.CreatedAt,
		VerificationStartedAt: dom.VerificationStartedAt,
		VerifiedAt:            dom.VerifiedAt,
		LastCheckedAt:         dom.LastCheckedAt,
		FailureReason:         dom.FailureReason,
	}
	if recs, err := dom.DNSRecords(); err == nil {
		for _, r := range recs {
			resp.DNSRecords = append(resp.DNSRecords, dto.DNSRecord{
				Type:     r.Type,
				Name:     r.Name,
				Value:    r.Value,
				TTL:      r.TTL,
				Priority: r.Priority,
				Verified: r.Verified,
			})
		}
	}
	if dom.Status == domain.DomainStatusVerifying {
		base := dom.CreatedAt
		if dom.LastCheckedAt != nil {
			base = *dom.LastCheckedAt
		} else if dom.VerificationStartedAt != nil {
			base = *dom.VerificationStartedAt
		}
		next := base.Add(s.opts.PollInterval)
		resp.NextCheckAt = &next
	}
	return resp
}
