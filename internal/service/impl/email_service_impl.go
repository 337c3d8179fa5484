package impl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strconv"
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
	"gorm.io/datatypes"
)

const (
	maxRecipients = 50
	maxBatchSize  = 100

	minSweepChunk = 50
	maxSweepChunk = 5000
)

// Local parts are restricted to the unquoted dot-atom subset; anything
// fancier gets rejected before it reaches the provider.
var senderLocalRE = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+$`)

type EmailOptions struct {
	// Retention is how long sent-email rows are kept. Zero disables the
	// sweep entirely.
	Retention time.Duration
	// SweepChunk is the starting delete batch size; the sweep adapts it up
	// and down from observed latency.
	SweepChunk int
	// SweepMaxChunks caps how many chunks one sweep run may delete.
	SweepMaxChunks int
}

type EmailServiceImpl struct {
	store  *store.Store
	sender provider.MailSender
	audit  service.AuditRecorder
	log    *slog.Logger
	opts   EmailOptions
}

var _ service.EmailService = (*EmailServiceImpl)(nil)

func NewEmailServiceImpl(st *store.Store, sender provider.MailSender, audit service.AuditRecorder, log *slog.Logger, opts EmailOptions) *EmailServiceImpl {
	if opts.SweepChunk <= 0 {
		opts.SweepChunk = 500
	}
	if opts.SweepMaxChunks <= 0 {
		opts.SweepMaxChunks = 20
	}
	return &EmailServiceImpl{store: st, sender: sender, audit: audit, log: log, opts: opts}
}

func (s *EmailServiceImpl) Send(ctx context.Context, actor *authz.Actor, req dto.SendEmailRequest, ip string) (*dto.SendEmailResponse, error) {
	em, err := s.send(ctx, actor, &req)
	if err != nil {
		return nil, err
	}

	e := auditEntry(domain.AuditEmailSend, actor, "email", em.ID.String(), ip)
	e.Status = http.StatusOK
	e.Detail = toJSON(map[string]any{"from": em.FromAddress, "recipients": len(req.To) + len(req.Cc) + len(req.Bcc)})
	s.audit.Record(e)
	return &dto.SendEmailResponse{ID: em.ID.String()}, nil
}

// SendBatch validates every message up front and rejects the whole batch on
// the first malformed one. Dispatch is then per-message: a failure on one
// leaves the others' outcomes untouched.
func (s *EmailServiceImpl) SendBatch(ctx context.Context, actor *authz.Actor, reqs []dto.SendEmailRequest, ip string) (*dto.BatchSendResponse, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", domain.ErrInvalidRequest)
	}
	if len(reqs) > maxBatchSize {
		return nil, fmt.Errorf("%w: batch exceeds %d messages", domain.ErrInvalidRequest, maxBatchSize)
	}
	for i := range reqs {
		if _, err := validateSendRequest(&reqs[i]); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}

	resp := &dto.BatchSendResponse{Data: make([]dto.BatchItemResponse, 0, len(reqs))}
	sent := 0
	for i := range reqs {
		em, err := s.send(ctx, actor, &reqs[i])
		if err != nil {
			_, info := dto.ErrorInfoFor(err)
			resp.Data = append(resp.Data, dto.BatchItemResponse{Error: &info})
			continue
		}
		sent++
		e := auditEntry(domain.AuditEmailSend, actor, "email", em.ID.String(), ip)
		e.Status = http.StatusOK
		e.Detail = toJSON(map[string]any{"from": em.FromAddress, "batch": true})
		s.audit.Record(e)
		resp.Data = append(resp.Data, dto.BatchItemResponse{ID: em.ID.String()})
	}
	s.log.Info("batch send finished", "messages", len(reqs), "sent", sent)
	return resp, nil
}

// SendTest dispatches a short canned message from the domain's own mailbox,
// proving end to end that the verified domain can deliver.
func (s *EmailServiceImpl) SendTest(ctx context.Context, actor *authz.Actor, domainID domain.DomainID, req dto.TestEmailRequest, ip string) (*dto.SendEmailResponse, error) {
	to := strings.TrimSpace(req.To)
	if to == "" {
		return nil, fmt.Errorf("%w: to is required", domain.ErrInvalidRequest)
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidRecipient, req.To)
	}

	dom, err := s.store.Domains().GetByID(ctx, domainID)
	if err != nil {
		return nil, err
	}
	if !actor.AllowedDomain(dom.ID) {
		return nil, domain.ErrForbidden
	}

	sendReq := dto.SendEmailRequest{
		From:    "mailgate@" + dom.Name,
		To:      []string{to},
		Subject: "Test email for " + dom.Name,
		Text: fmt.Sprintf("This is a test message confirming that %s is verified and able to send email.\n",
			dom.Name),
	}
	em, err := s.send(ctx, actor, &sendReq)
	if err != nil {
		return nil, err
	}

	e := auditEntry(domain.AuditDomainTestSend, actor, "domain", dom.ID.String(), ip)
	e.Status = http.StatusOK
	e.Detail = toJSON(map[string]string{"to": to, "email": em.ID.String()})
	s.audit.Record(e)
	return &dto.SendEmailResponse{ID: em.ID.String()}, nil
}

// send runs the full pipeline for one message: syntax, sender domain
// resolution, scope, verified status, provider dispatch, persistence. No
// provider call is made unless every local check passed.
func (s *EmailServiceImpl) send(ctx context.Context, actor *authz.Actor, req *dto.SendEmailRequest) (*domain.Email, error) {
	senderDomain, err := validateSendRequest(req)
	if err != nil {
		metrics.EmailsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	dom, err := s.store.Domains().GetByName(ctx, senderDomain)
	if err != nil {
		if errors.Is(err, domain.ErrDomainNotFound) {
			// Unknown sender domains read the same as unverified ones so a
			// key cannot probe which domains exist.
			metrics.EmailsTotal.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("%w: %s", domain.ErrDomainNotVerified, senderDomain)
		}
		return nil, err
	}
	if !actor.AllowedDomain(dom.ID) {
		metrics.EmailsTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrForbidden
	}
	if dom.Status != domain.DomainStatusVerified {
		metrics.EmailsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s", domain.ErrDomainNotVerified, senderDomain)
	}

	providerID, err := s.sender.Send(ctx, &provider.Message{
		From:    req.From,
		To:      req.To,
		Cc:      req.Cc,
		Bcc:     req.Bcc,
		ReplyTo: req.ReplyTo,
		Subject: req.Subject,
		HTML:    req.HTML,
		Text:    req.Text,
		Headers: req.Headers,
	})
	if err != nil {
		metrics.EmailsTotal.WithLabelValues("error").Inc()
		s.log.Error("provider send failed", "domain", senderDomain, "error", err)
		return nil, fmt.Errorf("provider send: %w", err)
	}

	em := &domain.Email{
		ID:                uuid.New(),
		DomainID:          dom.ID,
		APIKeyID:          actor.KeyID,
		ProviderMessageID: providerID,
		FromAddress:       req.From,
		To:                toJSON(req.To),
		Cc:                jsonList(req.Cc),
		Bcc:               jsonList(req.Bcc),
		ReplyTo:           req.ReplyTo,
		Subject:           req.Subject,
		HTML:              req.HTML,
		Text:              req.Text,
		Headers:           jsonMap(req.Headers),
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.Emails().Create(ctx, em); err != nil {
		// The message is already out. A failed insert must not surface as a
		// send failure or the caller will retry and double-send.
		s.log.Error("sent email not persisted", "provider_message_id", providerID, "error", err)
	}

	metrics.EmailsTotal.WithLabelValues("sent").Inc()
	s.log.Info("email sent", "domain", senderDomain, "id", em.ID, "provider_message_id", providerID)
	return em, nil
}

func (s *EmailServiceImpl) Get(ctx context.Context, actor *authz.Actor, id domain.EmailID) (*dto.EmailResponse, error) {
	em, err := s.store.Emails().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.AllowedDomain(em.DomainID) {
		return nil, domain.ErrForbidden
	}
	return toEmailResponse(em), nil
}

func (s *EmailServiceImpl) List(ctx context.Context, actor *authz.Actor, cursor string, limit int) (*dto.EmailListResponse, error) {
	if limit < 1 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	before, beforeID, err := decodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrInvalidRequest)
	}

	var ids []domain.DomainID
	if !actor.IsAdmin {
		ids = actor.DomainIDs
		if ids == nil {
			ids = []domain.DomainID{}
		}
	}
	emails, err := s.store.Emails().List(ctx, ids, before, beforeID, limit)
	if err != nil {
		return nil, err
	}

	resp := &dto.EmailListResponse{Emails: make([]dto.EmailResponse, 0, len(emails))}
	for i := range emails {
		resp.Emails = append(resp.Emails, *toEmailResponse(&emails[i]))
	}
	if len(emails) == limit {
		last := emails[len(emails)-1]
		resp.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return resp, nil
}

// SweepExpired deletes sent-email rows past retention in bounded chunks. The
// chunk size adapts to observed delete latency so a large backlog clears
// quickly without long row locks, and one run never deletes more than
// SweepMaxChunks chunks.
func (s *EmailServiceImpl) SweepExpired(ctx context.Context) error {
	if s.opts.Retention <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-s.opts.Retention)

	chunk := s.opts.SweepChunk
	var total int64
	for i := 0; i < s.opts.SweepMaxChunks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		var deleted int64
		err := s.store.WithTx(ctx, func(tx *store.Store) error {
			ids, err := tx.Emails().ExpiredIDs(ctx, cutoff, chunk)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return nil
			}
			deleted, err = tx.Emails().DeleteByIDs(ctx, ids)
			return err
		})
		if err != nil {
			return err
		}
		total += deleted
		if deleted < int64(chunk) {
			break
		}

		switch took := time.Since(start); {
		case took < 100*time.Millisecond && chunk < maxSweepChunk:
			chunk *= 2
			if chunk > maxSweepChunk {
				chunk = maxSweepChunk
			}
		case took > time.Second && chunk > minSweepChunk:
			chunk /= 2
			if chunk < minSweepChunk {
				chunk = minSweepChunk
			}
		}
	}
	if total > 0 {
		s.log.Info("email retention sweep finished", "deleted", total, "cutoff", cutoff)
	}
	return nil
}

// validateSendRequest checks one message without touching the database and
// returns the lowercased sender domain.
func validateSendRequest(req *dto.SendEmailRequest) (string, error) {
	from := strings.TrimSpace(req.From)
	if from == "" {
		return "", fmt.Errorf("%w: from is required", domain.ErrInvalidRequest)
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidSender, req.From)
	}
	at := strings.LastIndex(addr.Address, "@")
	local, senderDomain := addr.Address[:at], strings.ToLower(addr.Address[at+1:])
	if !senderLocalRE.MatchString(local) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidSender, local)
	}

	if len(req.To) == 0 {
		return "", fmt.Errorf("%w: to is required", domain.ErrInvalidRequest)
	}
	if len(req.To)+len(req.Cc)+len(req.Bcc) > maxRecipients {
		return "", fmt.Errorf("%w: more than %d recipients", domain.ErrInvalidRequest, maxRecipients)
	}
	if strings.TrimSpace(req.Subject) == "" {
		return "", fmt.Errorf("%w: subject is required", domain.ErrInvalidRequest)
	}
	if req.HTML == "" && req.Text == "" {
		return "", fmt.Errorf("%w: an html or text body is required", domain.ErrInvalidRequest)
	}

	for _, list := range [][]string{req.To, req.Cc, req.Bcc} {
		for _, rcpt := range list {
			if _, err := mail.ParseAddress(rcpt); err != nil {
				return "", fmt.Errorf("%w: %q", domain.ErrInvalidRecipient, rcpt)
			}
		}
	}
	if req.ReplyTo != "" {
		if _, err := mail.ParseAddress(req.ReplyTo); err != nil {
			return "", fmt.Errorf("%w: %q", domain.ErrInvalidRecipient, req.ReplyTo)
		}
	}
	return senderDomain, nil
}

func toEmailResponse(em *domain.Email) *dto.EmailResponse {
	resp := &dto.EmailResponse{
		ID:        em.ID.String(),
		From:      em.FromAddress,
		ReplyTo:   em.ReplyTo,
		Subject:   em.Subject,
		HTML:      em.HTML,
		Text:      em.Text,
		CreatedAt: em.CreatedAt,
	}
	decodeJSON(em.To, &resp.To)
	decodeJSON(em.Cc, &resp.Cc)
	decodeJSON(em.Bcc, &resp.Bcc)
	decodeJSON(em.Headers, &resp.Headers)
	return resp
}

func decodeJSON(raw datatypes.JSON, out any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, out)
}

func jsonList(xs []string) datatypes.JSON {
	if len(xs) == 0 {
		return nil
	}
	return toJSON(xs)
}

func jsonMap(m map[string]string) datatypes.JSON {
	if len(m) == 0 {
		return nil
	}
	return toJSON(m)
}

func encodeCursor(t time.Time, id domain.EmailID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("%d:%s", t.UnixNano(), id)))
}

func decodeCursor(cursor string) (time.Time, domain.EmailID, error) {
	if cursor == "" {
		return time.Time{}, uuid.Nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, errors.New("malformed cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	return time.Unix(0, nanos).UTC(), id, nil
}
