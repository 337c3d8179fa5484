package impl_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"mailgate/internal/authz"
	"mailgate/internal/domain"
	"mailgate/internal/dto"
	"mailgate/internal/observability/metrics"
	"mailgate/internal/provider"
	"mailgate/internal/store"
	"mailgate/pkg/db"

	"github.com/google/uuid"
)

// Metric vectors are curried with the service label at registration; the
// services under test increment them, so the currying has to happen here too.
func TestMain(m *testing.M) {
	metrics.MustRegister("test")
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.OpenGorm(db.Config{DSN: "file:" + name + "?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	st := store.New(gdb)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return st
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func adminActor() *authz.Actor {
	return &authz.Actor{Type: domain.ActorAdmin, IsAdmin: true}
}

func keyActor(keyID domain.APIKeyID, scopes ...domain.DomainID) *authz.Actor {
	if scopes == nil {
		scopes = []domain.DomainID{}
	}
	return &authz.Actor{
		Type:      domain.ActorAPIKey,
		KeyID:     &keyID,
		KeyPrefix: "mg_testkey",
		DomainIDs: scopes,
	}
}

// seedDomain inserts a domain row directly, bypassing the service lifecycle.
func seedDomain(t *testing.T, st *store.Store, name string, status domain.DomainStatus) *domain.Domain {
	t.Helper()
	now := time.Now().UTC()
	dom := &domain.Domain{
		ID:        uuid.New(),
		Name:      name,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == domain.DomainStatusVerifying || status == domain.DomainStatusVerified {
		started := now.Add(-time.Minute)
		dom.VerificationStartedAt = &started
		dom.ProviderIdentityRef = "identity/" + name
	}
	if status == domain.DomainStatusVerified {
		dom.VerifiedAt = &now
	}
	if err := st.Domains().Create(context.Background(), dom); err != nil {
		t.Fatalf("seed domain %s: %v", name, err)
	}
	return dom
}

// seedAPIKey inserts a key row directly with placeholder hash material.
func seedAPIKey(t *testing.T, st *store.Store, name string, isAdmin bool, scopes ...domain.DomainID) *domain.APIKey {
	t.Helper()
	now := time.Now().UTC()
	key := &domain.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   []byte("hash-" + name),
		KeySalt:   []byte("salt"),
		KeyPrefix: "mg_" + name,
		IsAdmin:   isAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.APIKeys().Create(context.Background(), key); err != nil {
		t.Fatalf("seed api key %s: %v", name, err)
	}
	if err := st.APIKeys().AddDomains(context.Background(), key.ID, scopes, now); err != nil {
		t.Fatalf("seed api key scopes: %v", err)
	}
	return key
}

type stubIdentity struct {
	mu        sync.Mutex
	createErr error
	verifyErr error
	verified  map[string]bool
	records   []domain.DNSRecord

	created      []string
	deleted      []string
	verifyCalls  int
	createdCalls int
}

func (s *stubIdentity) CreateIdentity(_ context.Context, name string) (string, []domain.DNSRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createdCalls++
	if s.createErr != nil {
		return "", nil, s.createErr
	}
	s.created = append(s.created, name)
	recs := s.records
	if recs == nil {
		recs = []domain.DNSRecord{
			{Type: "CNAME", Name: "tok1._domainkey." + name, Value: "tok1.dkim.amazonses.com"},
			{Type: "CNAME", Name: "tok2._domainkey." + name, Value: "tok2.dkim.amazonses.com"},
			{Type: "TXT", Name: "_dmarc." + name, Value: "v=DMARC1; p=none;"},
		}
	}
	return "identity/" + name, recs, nil
}

func (s *stubIdentity) IsVerified(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyCalls++
	if s.verifyErr != nil {
		return false, s.verifyErr
	}
	return s.verified[name], nil
}

func (s *stubIdentity) DeleteIdentity(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, name)
	return nil
}

type stubPublisher struct {
	mu      sync.Mutex
	err     error
	created []domain.DNSRecord
}

func (s *stubPublisher) CreateRecord(_ context.Context, rec domain.DNSRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, rec)
	return nil
}

// stubResolver answers by record name; unknown names read as absent.
type stubResolver struct {
	mu      sync.Mutex
	err     error
	results map[string]provider.CheckResult
	checked []string
}

func (s *stubResolver) CheckRecord(_ context.Context, rec domain.DNSRecord) (provider.CheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checked = append(s.checked, rec.Name)
	if s.err != nil {
		return provider.CheckResult{}, s.err
	}
	return s.results[rec.Name], nil
}

type stubSender struct {
	mu   sync.Mutex
	err  error
	sent []provider.Message
}

func (s *stubSender) Send(_ context.Context, msg *provider.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, *msg)
	return "provider-msg-" + uuid.NewString()[:8], nil
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type stubDispatcher struct {
	mu        sync.Mutex
	reject    bool
	submitted []domain.DomainID
}

func (s *stubDispatcher) SubmitSetup(id domain.DomainID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.submitted = append(s.submitted, id)
	return true
}

// captureAudit collects entries synchronously so tests can assert on them
// without racing a background writer.
type captureAudit struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func (c *captureAudit) Record(entry domain.AuditLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureAudit) List(context.Context, int, int) (*dto.AuditListResponse, error) {
	return &dto.AuditListResponse{}, nil
}

func (c *captureAudit) Close() {}

func (c *captureAudit) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Action)
	}
	return out
}

func hasAction(c *captureAudit, action string) bool {
	for _, a := range c.actions() {
		if a == action {
			return true
		}
	}
	return false
}
