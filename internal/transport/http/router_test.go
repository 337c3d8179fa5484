package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"mailgate/internal/authz"
	"mailgate/internal/domain"
	"mailgate/internal/dto"
	"mailgate/internal/observability/metrics"
	"mailgate/internal/ratelimit"
	"mailgate/internal/store"
	transport "mailgate/internal/transport/http"
	"mailgate/pkg/db"

	"github.com/google/uuid"
)

// Metric vectors are curried with the service label at registration; the
// middleware under test increments them, so the currying has to happen here
// too.
func TestMain(m *testing.M) {
	metrics.MustRegister("test")
	os.Exit(m.Run())
}

type stubDomains struct {
	domain *dto.DomainResponse
	list   *dto.DomainListResponse
	err    error

	created []dto.CreateDomainRequest
	deleted []domain.DomainID
}

func (s *stubDomains) Create(_ context.Context, _ *authz.Actor, req dto.CreateDomainRequest, _ string) (*dto.DomainResponse, error) {
	s.created = append(s.created, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.domain, nil
}

func (s *stubDomains) Get(_ context.Context, _ *authz.Actor, _ domain.DomainID) (*dto.DomainResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.domain, nil
}

func (s *stubDomains) List(_ context.Context, _ *authz.Actor, _, _ int) (*dto.DomainListResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.list, nil
}

func (s *stubDomains) Delete(_ context.Context, _ *authz.Actor, id domain.DomainID, _ string) error {
	s.deleted = append(s.deleted, id)
	return s.err
}

func (s *stubDomains) Verify(_ context.Context, _ *authz.Actor, _ domain.DomainID, _ string) (*dto.DomainResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.domain, nil
}

func (s *stubDomains) Setup(context.Context, domain.DomainID) error { return nil }
func (s *stubDomains) PollDue(context.Context) error                { return nil }

type stubEmails struct {
	send  *dto.SendEmailResponse
	batch *dto.BatchSendResponse
	email *dto.EmailResponse
	list  *dto.EmailListResponse
	err   error

	sent []dto.SendEmailRequest
}

func (s *stubEmails) Send(_ context.Context, _ *authz.Actor, req dto.SendEmailRequest, _ string) (*dto.SendEmailResponse, error) {
	s.sent = append(s.sent, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.send, nil
}

func (s *stubEmails) SendBatch(_ context.Context, _ *authz.Actor, reqs []dto.SendEmailRequest, _ string) (*dto.BatchSendResponse, error) {
	s.sent = append(s.sent, reqs...)
	if s.err != nil {
		return nil, s.err
	}
	return s.batch, nil
}

func (s *stubEmails) SendTest(_ context.Context, _ *authz.Actor, _ domain.DomainID, _ dto.TestEmailRequest, _ string) (*dto.SendEmailResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.send, nil
}

func (s *stubEmails) Get(_ context.Context, _ *authz.Actor, _ domain.EmailID) (*dto.EmailResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.email, nil
}

func (s *stubEmails) List(_ context.Context, _ *authz.Actor, _ string, _ int) (*dto.EmailListResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.list, nil
}

func (s *stubEmails) SweepExpired(context.Context) error { return nil }

type keyEntry struct {
	key    *domain.APIKey
	scopes []domain.DomainID
}

type stubKeys struct {
	bySecret map[string]keyEntry
	created  *dto.CreateAPIKeyResponse
	list     *dto.APIKeyListResponse
	revoked  *dto.APIKeyListResponse
	err      error

	revokedIDs []domain.APIKeyID
}

func (s *stubKeys) Create(_ context.Context, _ *authz.Actor, _ dto.CreateAPIKeyRequest, _ string) (*dto.CreateAPIKeyResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.created, nil
}

func (s *stubKeys) List(context.Context) (*dto.APIKeyListResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.list, nil
}

func (s *stubKeys) ListRevoked(context.Context) (*dto.APIKeyListResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.revoked, nil
}

func (s *stubKeys) Revoke(_ context.Context, _ *authz.Actor, id domain.APIKeyID, _ string) error {
	s.revokedIDs = append(s.revokedIDs, id)
	return s.err
}

func (s *stubKeys) Authenticate(_ context.Context, rawKey, _ string) (*domain.APIKey, []domain.DomainID, error) {
	if e, ok := s.bySecret[rawKey]; ok {
		return e.key, e.scopes, nil
	}
	return nil, nil, domain.ErrUnauthorized
}

func (s *stubKeys) ArchiveExpired(context.Context) error { return nil }

type stubAudit struct {
	entries []domain.AuditLog
}

func (s *stubAudit) Record(entry domain.AuditLog) { s.entries = append(s.entries, entry) }

func (s *stubAudit) List(_ context.Context, page, limit int) (*dto.AuditListResponse, error) {
	return &dto.AuditListResponse{Entries: []dto.AuditEntryResponse{}, Page: page, Limit: limit}, nil
}

func (s *stubAudit) Close() {}

func (s *stubAudit) actions() []string {
	var out []string
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

const (
	adminSecret  = "mg_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	scopedSecret = "mg_bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	adminPass    = "orange-battery-staple"
)

type routerFixture struct {
	api     *transport.API
	handler http.Handler

	domains *stubDomains
	emails  *stubEmails
	keys    *stubKeys
	audit   *stubAudit
	scopeID domain.DomainID
}

func newRouterFixture(t *testing.T, cfg transport.Config) *routerFixture {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.OpenGorm(db.Config{DSN: "file:" + name + "?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	scopeID := uuid.New()
	keys := &stubKeys{
		bySecret: map[string]keyEntry{
			adminSecret: {key: &domain.APIKey{
				ID:        uuid.New(),
				Name:      "root",
				KeyPrefix: adminSecret[:10],
				IsAdmin:   true,
				CreatedAt: time.Now().UTC(),
			}},
			scopedSecret: {
				key: &domain.APIKey{
					ID:        uuid.New(),
					Name:      "newsletter",
					KeyPrefix: scopedSecret[:10],
					CreatedAt: time.Now().UTC(),
				},
				scopes: []domain.DomainID{scopeID},
			},
		},
		list:    &dto.APIKeyListResponse{APIKeys: []dto.APIKeyResponse{{Name: "root"}}},
		revoked: &dto.APIKeyListResponse{APIKeys: []dto.APIKeyResponse{}},
	}

	domains := &stubDomains{
		domain: &dto.DomainResponse{ID: scopeID.String(), Name: "news.example.com", Status: "verified"},
		list: &dto.DomainListResponse{
			Domains: []dto.DomainResponse{{ID: scopeID.String(), Name: "news.example.com", Status: "verified"}},
			Total:   1, Page: 1, Limit: 20,
		},
	}

	emails := &stubEmails{
		send:  &dto.SendEmailResponse{ID: uuid.NewString()},
		batch: &dto.BatchSendResponse{Data: []dto.BatchItemResponse{{ID: uuid.NewString()}}},
		email: &dto.EmailResponse{ID: uuid.NewString(), Subject: "hello"},
		list:  &dto.EmailListResponse{Emails: []dto.EmailResponse{}},
	}

	sessions, err := authz.NewSessions("", "mailgate", time.Hour)
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}
	adminPW, err := authz.NewAdminPasswordFromPlain(adminPass)
	if err != nil {
		t.Fatalf("new admin password: %v", err)
	}

	audit := &stubAudit{}
	api := &transport.API{
		Domains:  domains,
		Emails:   emails,
		Keys:     keys,
		Audit:    audit,
		Gate:     authz.NewGate(keys, sessions),
		Sessions: sessions,
		AdminPW:  adminPW,
		Login:    ratelimit.NewLocal(10, time.Minute),
		Store:    store.New(gdb),
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	return &routerFixture{
		api:     api,
		handler: transport.NewRouter(api, cfg),
		domains: domains,
		emails:  emails,
		keys:    keys,
		audit:   audit,
		scopeID: scopeID,
	}
}

func (f *routerFixture) do(t *testing.T, method, path, bearer string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var e dto.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return e
}

func TestHealthEndpointsNeedNoAuth(t *testing.T) {
	f := newRouterFixture(t, transport.Config{})

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q, want 200 ok", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", rec.Code)
	}
}

func TestMissingOrUnknownCredentialIs401(t *testing.T) {
	f := newRouterFixture(t, transport.Config{})

	cases := []struct {
		name  string
		apply func(r *http.Request)
	}{
		{"no credential", func(*http.Request) {}},
		{"unknown bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer mg_nope") }},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic Zm9vOmJhcg==") }},
		{"garbage cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: authz.SessionCookie, Value: "not-a-jwt"})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/domains", nil)
			tc.apply(req)
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			env := decodeEnvelope(t, rec)
			if env.Error.Code != dto.CodeUnauthorized {
				t.Fatalf("code = %q, want %q", env.Error.Code, dto.CodeUnauthorized)
			}
			if strings.Contains(env.Error.Message, "mg_") {
				t.Fatalf("error message leaks credential material: %q", env.Error.Message)
			}
		})
	}
}

func TestBearerKeyRoutesToDomainHandlers(t *testing.T) {
	f := newRouterFixture(t, transport.Config{})

	rec := f.do(t, http.MethodGet, "/v1/domains", adminSecret, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var list dto.DomainListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 || len(list.Domains) != 1 {
		t.Fatalf("list = %+v, want one domain", list)
	}

	rec = f.do(t, http.MethodPost, "/v1/domains", adminSecret, dto.CreateDomainRequest{Name: "news.example.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if len(f.domains.created) != 1 || f.domains.created[0].Name != "news.example.com" {
		t.Fatalf("create passed %+v to the service", f.domains.created)
	}

	id := uuid.New()
	rec = f.do(t, http.MethodDelete, "/v1/domains/"+id.String(), adminSecret, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}
	if len(f.domains.deleted) != 1 || f.domains.deleted[0] != id {
		t.Fatalf("delete passed %v to the service, want %v", f.domains.deleted, id)
	}
}

func TestMalformedIDRejectedBeforeService(t *testing.T) {
	f := newRouterFixture(t, transport.Config{})

	rec := f.do(t, http.MethodGet, "/v1/domains/not-a-uuid", adminSecret, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error.Code != dto.CodeInvalidRequest {
		t.Fatalf("code = %q, want %q", env.Error.Code, dto.CodeInvalidRequest)
	}
}

func TestServiceErrorsMapToEnvelope(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{domain.ErrDomainNotFound, http.StatusNotFound, dto.CodeNotFound},
		{domain.ErrForbidden, http.StatusForbidden, dto.CodeForbidden},
		{domain.ErrDomainExists, http.StatusConflict, dto.CodeDomainExists},
		{domain.ErrDomainInUse, http.StatusConflict, dto.CodeDomainInUse},
	}
	for _, tc := range cases {
		t.Run(tc.wantCode, func(t *testing.T) {
			f := newRouterFixture(t, transport.Config{})
			f.domains.err = tc.err

			rec := f.do(t, http.MethodGet, "/v1/domains/"+uuid.NewString(), adminSecret, nil)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			env := decodeEnvelope(t, rec)
			if env.Error.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", env.Error.Code, tc.wantCode)
			}
		})
	}
}

func TestAdminGateOnKeyAndAuditRoutes(t *testing.T) {
	f := newRouterFixture(t, transport.Config{})

	for _, path := range []string{"/v1/api-keys", "/v1/api-keys/revoked", "/v1/audit"} {
		rec := f.do(t, http.MethodGet, path, scopedSecret, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("GET %s with scoped key = %d, want 403", path, rec.Code)
		}
		env := decodeEnvelope(t, rec)
		if env.Error.Code != dto.CodeForbidden {
			t.Fatalf("code = %q, want %q", env.Error.Code, dto.CodeForbidden)
		}
	}

	rec := f.do(t, http.MethodGet, "/v1/api-keys", adminSecret, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/api-keys with admin key = %d, want 200", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/audit", adminSecret, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/audit with admin key = %d, want 200", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/api-keys/revoked", adminSecret, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET revoked keys = %d, want 200", rec.Code)
	}
	var list dto.APIKeyListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode revoked list: %v", err)
	}
	if len(list.APIKeys) != 0 {
		t.Fatalf("revoked list = %+v, want the empty revoked set", list.APIKeys)
	}
}

func TestLoginIssuesSessionCookie(t *testing.T) {
	f := newRouterFixture(t, transport.Config{})

	rec := f.do(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{Password: adminPass})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var login dto.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&login); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if !login.ExpiresAt.After(time.Now()) {
		t.Fatalf("session expires in the past: %v", login.ExpiresAt)
	}

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == authz.SessionCookie {
			session = c
		}
	}
	if session == nil || session.Value == "" {
		t.Fatal("login did not set the session cookie")
	}
	if !session.HttpOnly {
		t.Fatal("session cookie must be http-only")
	}

	rec = f.do(t, http.MethodGet, "/v1/auth/me", "", nil, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d, want 200", rec.Code)
	}
	var me dto.MeResponse
	if err := json.NewDecoder(rec.Body).Decode(&me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.ActorType != domain.ActorAdmin || !me.IsAdmin {
		t.Fatalf("me = %+v, want admin actor", me)
	}

	rec = f.do(t, http.MethodPost, "/v1/auth/logout", "", nil, session)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", rec.Code)
	}
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == authz.SessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("logout did not clear the session cookie")
	}

	actions := f.audit.actions()
	var sawLogin, sawLogout bool
	for _, a := range actions {
		switch a {
		case domain.AuditLogin:
			sawLogin = true
		case domain.AuditLogout:
			sawLogout = true
		}
	}
	if !sawLogin || !sawLogout {
		t.Fatalf("audit actions = %v, want login and logout recorded", actions)
	}
}

func TestLoginAttemptsAreWindowed(t *testing.T) {
	f := newRouterFixture(t, transport.Config{})
	f.api.Login = ratelimit.NewLocal(1, time.Minute)

	rec := f.do(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("first attempt = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{Password: "wrong"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second attempt = %d, want 429", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error.Code != dto.CodeRateLimited {
		t.Fatalf("code = %q, want %q", env.Error.Code, dto.CodeRateLimited)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 response carries no Retry-After")
	}
}

func TestRouterLimitBucketsByCredential(t *testing.T) {
	f := newRouterFixture(t, transport.Config{RequestsPerMinute: 2})

	for i := 0; i < 2; i++ {
		if rec := f.do(t, http.MethodGet, "/v1/domains", adminSecret, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d, want 200", i+1, rec.Code)
		}
	}
	rec := f.do(t, http.MethodGet, "/v1/domains", adminSecret, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error.Code != dto.CodeRateLimited {
		t.Fatalf("code = %q, want %q", env.Error.Code, dto.CodeRateLimited)
	}

	// A different credential gets its own window.
	if rec := f.do(t, http.MethodGet, "/v1/domains", scopedSecret, nil); rec.Code != http.StatusOK {
		t.Fatalf("other key = %d, want 200", rec.Code)
	}
}

func TestEmailRoutes(t *testing.T) {
	f := newRouterFixture(t, transport.Config{})

	req := dto.SendEmailRequest{
		From:    "news@news.example.com",
		To:      []string{"reader@example.org"},
		Subject: "hi",
		Text:    "hello",
	}
	rec := f.do(t, http.MethodPost, "/v1/emails", scopedSecret, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(f.emails.sent) != 1 || f.emails.sent[0].From != req.From {
		t.Fatalf("send passed %+v to the service", f.emails.sent)
	}

	rec = f.do(t, http.MethodPost, "/v1/emails/batch", scopedSecret, []dto.SendEmailRequest{req, req})
	if rec.Code != http.StatusOK {
		t.Fatalf("batch status = %d, want 200", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/emails?limit=5", scopedSecret, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/emails/"+uuid.NewString(), scopedSecret, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	body := bytes.NewReader([]byte("{not json"))
	raw := httptest.NewRequest(http.MethodPost, "/v1/emails", body)
	raw.Header.Set("Authorization", "Bearer "+scopedSecret)
	malformed := httptest.NewRecorder()
	f.handler.ServeHTTP(malformed, raw)
	if malformed.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", malformed.Code)
	}
	env := decodeEnvelope(t, malformed)
	if env.Error.Code != dto.CodeInvalidRequest {
		t.Fatalf("code = %q, want %q", env.Error.Code, dto.CodeInvalidRequest)
	}
}
