package impl_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mailgate/internal/domain"
	"mailgate/internal/dto"
	"mailgate/internal/service/impl"
	"mailgate/internal/store"

	"github.com/google/uuid"
)

type keyFixture struct {
	st    *store.Store
	audit *captureAudit
	svc   *impl.APIKeyServiceImpl
}

func newKeyFixture(t *testing.T, opts impl.KeyOptions) *keyFixture {
	t.Helper()
	f := &keyFixture{st: newTestStore(t), audit: &captureAudit{}}
	f.svc = impl.NewAPIKeyServiceImpl(f.st, f.audit, testLogger(), opts)
	return f
}

func TestCreateKeyAndAuthenticate(t *testing.T) {
	f := newKeyFixture(t, impl.KeyOptions{})
	ctx := context.Background()
	dom := seedDomain(t, f.st, "scoped.example.com", domain.DomainStatusVerified)

	resp, err := f.svc.Create(ctx, adminActor(), dto.CreateAPIKeyRequest{
		Name:      "ci sender",
		DomainIDs: []string{dom.ID.String()},
	}, "10.1.1.1")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !strings.HasPrefix(resp.Key, "mg_") {
		t.Errorf("raw key %q missing scheme", resp.Key)
	}
	if resp.KeyPrefix != resp.Key[:len(resp.KeyPrefix)] {
		t.Errorf("prefix %q is not a prefix of the raw key", resp.KeyPrefix)
	}

	key, scopes, err := f.svc.Authenticate(ctx, resp.Key, "10.2.2.2")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if key.ID.String() != resp.ID {
		t.Errorf("authenticated key id = %s, want %s", key.ID, resp.ID)
	}
	if len(scopes) != 1 || scopes[0] != dom.ID {
		t.Errorf("scopes = %v, want [%s]", scopes, dom.ID)
	}

	// Last use is stamped best-effort on every admission.
	row, err := f.st.APIKeys().GetByID(ctx, key.ID)
	if err != nil {
		t.Fatalf("reload key: %v", err)
	}
	if row.LastUsedAt == nil || row.LastUsedIP != "10.2.2.2" {
		t.Errorf("last use not stamped: at=%v ip=%q", row.LastUsedAt, row.LastUsedIP)
	}

	// Second authentication goes through the digest cache.
	again, _, err := f.svc.Authenticate(ctx, resp.Key, "10.2.2.3")
	if err != nil {
		t.Fatalf("cached authenticate: %v", err)
	}
	if again.ID != key.ID {
		t.Errorf("cached path resolved a different key")
	}
}

func TestAuthenticateRejectsUnknownSecrets(t *testing.T) {
	f := newKeyFixture(t, impl.KeyOptions{})
	ctx := context.Background()

	for _, raw := range []string{
		"",
		"mg_",
		"nope_0123456789abcdef0123456789abcdef",
		"mg_00000000000000000000000000000000000000000000000000",
	} {
		if _, _, err := f.svc.Authenticate(ctx, raw, ""); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("Authenticate(%q) err = %v, want ErrUnauthorized", raw, err)
		}
	}
}

func TestRevokedKeyFailsImmediately(t *testing.T) {
	f := newKeyFixture(t, impl.KeyOptions{})
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, adminActor(), dto.CreateAPIKeyRequest{Name: "victim", IsAdmin: true}, "")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if _, _, err := f.svc.Authenticate(ctx, resp.Key, ""); err != nil {
		t.Fatalf("authenticate before revoke: %v", err)
	}

	id := uuid.MustParse(resp.ID)
	if err := f.svc.Revoke(ctx, adminActor(), id, ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := f.svc.Authenticate(ctx, resp.Key, ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("authenticate after revoke err = %v, want ErrUnauthorized", err)
	}

	// Idempotent re-revoke, and unknown ids are distinguishable.
	if err := f.svc.Revoke(ctx, adminActor(), id, ""); err != nil {
		t.Errorf("second revoke err = %v, want nil", err)
	}
	if err := f.svc.Revoke(ctx, adminActor(), uuid.New(), ""); !errors.Is(err, domain.ErrAPIKeyNotFound) {
		t.Errorf("revoke unknown err = %v, want ErrAPIKeyNotFound", err)
	}
}

func TestCreateKeyValidation(t *testing.T) {
	f := newKeyFixture(t, impl.KeyOptions{})
	ctx := context.Background()
	dom := seedDomain(t, f.st, "real.example.com", domain.DomainStatusVerified)

	cases := []struct {
		name string
		req  dto.CreateAPIKeyRequest
	}{
		{"empty name", dto.CreateAPIKeyRequest{}},
		{"admin with scopes", dto.CreateAPIKeyRequest{Name: "x", IsAdmin: true, DomainIDs: []string{dom.ID.String()}}},
		{"malformed domain id", dto.CreateAPIKeyRequest{Name: "x", DomainIDs: []string{"not-a-uuid"}}},
		{"unknown domain id", dto.CreateAPIKeyRequest{Name: "x", DomainIDs: []string{uuid.NewString()}}},
	}
	for _, tc := range cases {
		if _, err := f.svc.Create(ctx, adminActor(), tc.req, ""); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("%s: err = %v, want ErrInvalidRequest", tc.name, err)
		}
	}

	keys, err := f.st.APIKeys().ListActive(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("%d keys created by invalid requests", len(keys))
	}
}

func TestListSplitsActiveAndRevoked(t *testing.T) {
	f := newKeyFixture(t, impl.KeyOptions{})
	ctx := context.Background()

	live, err := f.svc.Create(ctx, adminActor(), dto.CreateAPIKeyRequest{Name: "live", IsAdmin: true}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gone, err := f.svc.Create(ctx, adminActor(), dto.CreateAPIKeyRequest{Name: "gone", IsAdmin: true}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.Revoke(ctx, adminActor(), uuid.MustParse(gone.ID), ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	active, err := f.svc.List(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active.APIKeys) != 1 || active.APIKeys[0].ID != live.ID {
		t.Errorf("active list = %+v, want only %s", active.APIKeys, live.ID)
	}

	revoked, err := f.svc.ListRevoked(ctx)
	if err != nil {
		t.Fatalf("list revoked: %v", err)
	}
	if len(revoked.APIKeys) != 1 || revoked.APIKeys[0].ID != gone.ID {
		t.Errorf("revoked list = %+v, want only %s", revoked.APIKeys, gone.ID)
	}
	if revoked.APIKeys[0].RevokedAt == nil {
		t.Error("revoked entry missing revocation time")
	}
}

func TestArchiveExpiredMovesLongRevokedKeys(t *testing.T) {
	f := newKeyFixture(t, impl.KeyOptions{RevokedRetention: 30 * 24 * time.Hour})
	ctx := context.Background()

	oldKey, err := f.svc.Create(ctx, adminActor(), dto.CreateAPIKeyRequest{Name: "ancient", IsAdmin: true}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	recentKey, err := f.svc.Create(ctx, adminActor(), dto.CreateAPIKeyRequest{Name: "recent", IsAdmin: true}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, id := range []string{oldKey.ID, recentKey.ID} {
		if err := f.svc.Revoke(ctx, adminActor(), uuid.MustParse(id), ""); err != nil {
			t.Fatalf("revoke: %v", err)
		}
	}

	// Backdate one revocation past the retention window.
	backdated := time.Now().UTC().Add(-31 * 24 * time.Hour)
	err = f.st.DB.Model(&domain.APIKey{}).
		Where("id = ?", oldKey.ID).
		Update("revoked_at", backdated).Error
	if err != nil {
		t.Fatalf("backdate revocation: %v", err)
	}

	if err := f.svc.ArchiveExpired(ctx); err != nil {
		t.Fatalf("archive sweep: %v", err)
	}

	if _, err := f.st.APIKeys().GetByID(ctx, uuid.MustParse(oldKey.ID)); !errors.Is(err, domain.ErrAPIKeyNotFound) {
		t.Errorf("archived key still in live table, err = %v", err)
	}
	if _, err := f.st.APIKeys().GetByID(ctx, uuid.MustParse(recentKey.ID)); err != nil {
		t.Errorf("recently revoked key swept early: %v", err)
	}

	var snaps []domain.ArchivedAPIKey
	if err := f.st.DB.Find(&snaps).Error; err != nil {
		t.Fatalf("load archive: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("archive rows = %d, want 1", len(snaps))
	}
	if snaps[0].ID.String() != oldKey.ID || snaps[0].KeyPrefix != oldKey.KeyPrefix {
		t.Errorf("archive snapshot = %+v", snaps[0])
	}
	if !hasAction(f.audit, domain.AuditKeyArchive) {
		t.Error("no api_key.archive audit entry")
	}
}
