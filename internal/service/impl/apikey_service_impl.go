package impl

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mailgate/internal/authz"
	"mailgate/internal/domain"
	"mailgate/internal/dto"
	"mailgate/internal/observability/metrics"
	"mailgate/internal/service"
	"mailgate/internal/store"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	keyScheme     = "mg_"
	keySecretLen  = 24 // random bytes, hex encoded
	keyPrefixLen  = 10 // scheme plus seven hex chars, kept for display and lookup
	keySaltLen    = 16
	authCacheSize = 1024
)

type KeyOptions struct {
	// RevokedRetention is how long revoked keys stay in the live table
	// before the archive sweep moves them. Zero disables the sweep.
	RevokedRetention time.Duration
	ArchiveChunk     int
	ArchiveMaxChunks int
}

type APIKeyServiceImpl struct {
	store *store.Store
	audit service.AuditRecorder
	log   *slog.Logger
	// cache maps sha256(raw secret) to the key id, skipping the per-request
	// candidate scan. Entries are dropped on revocation, and a hit still
	// re-reads the live row, so a stale entry can never admit a revoked key.
	cache *lru.Cache[string, domain.APIKeyID]
	opts  KeyOptions
}

var (
	_ service.APIKeyService  = (*APIKeyServiceImpl)(nil)
	_ authz.KeyAuthenticator = (*APIKeyServiceImpl)(nil)
)

func NewAPIKeyServiceImpl(st *store.Store, audit service.AuditRecorder, log *slog.Logger, opts KeyOptions) *APIKeyServiceImpl {
	cache, err := lru.New[string, domain.APIKeyID](authCacheSize)
	if err != nil {
		panic(err) // only reachable with a non-positive size
	}
	if opts.ArchiveChunk <= 0 {
		opts.ArchiveChunk = 100
	}
	if opts.ArchiveMaxChunks <= 0 {
		opts.ArchiveMaxChunks = 20
	}
	return &APIKeyServiceImpl{store: st, audit: audit, log: log, cache: cache, opts: opts}
}

func (s *APIKeyServiceImpl) Create(ctx context.Context, actor *authz.Actor, req dto.CreateAPIKeyRequest, ip string) (*dto.CreateAPIKeyResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidRequest)
	}
	if req.IsAdmin && len(req.DomainIDs) > 0 {
		return nil, fmt.Errorf("%w: admin keys take no domain scopes", domain.ErrInvalidRequest)
	}
	domainIDs := make([]domain.DomainID, 0, len(req.DomainIDs))
	for _, raw := range req.DomainIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed domain id %q", domain.ErrInvalidRequest, raw)
		}
		domainIDs = append(domainIDs, id)
	}

	rawKey, prefix, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	salt := make([]byte, keySaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	now := time.Now().UTC()
	key := &domain.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   digestKey(salt, rawKey),
		KeySalt:   salt,
		KeyPrefix: prefix,
		IsAdmin:   req.IsAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		for _, did := range domainIDs {
			if _, err := tx.Domains().GetByID(ctx, did); err != nil {
				if errors.Is(err, domain.ErrDomainNotFound) {
					return fmt.Errorf("%w: unknown domain %s", domain.ErrInvalidRequest, did)
				}
				return err
			}
		}
		if err := tx.APIKeys().Create(ctx, key); err != nil {
			return err
		}
		return tx.APIKeys().AddDomains(ctx, key.ID, domainIDs, now)
	})
	if err != nil {
		return nil, err
	}

	e := auditEntry(domain.AuditKeyCreate, actor, "api_key", key.ID.String(), ip)
	e.Status = http.StatusCreated
	e.Detail = toJSON(map[string]any{"name": name, "isAdmin": key.IsAdmin, "domains": len(domainIDs)})
	s.audit.Record(e)
	s.log.Info("api key created", "id", key.ID, "prefix", prefix, "admin", key.IsAdmin)

	return &dto.CreateAPIKeyResponse{
		ID:        key.ID.String(),
		Name:      name,
		Key:       rawKey,
		KeyPrefix: prefix,
		IsAdmin:   key.IsAdmin,
		DomainIDs: idsToStrings(domainIDs),
		CreatedAt: now,
	}, nil
}

func (s *APIKeyServiceImpl) List(ctx context.Context) (*dto.APIKeyListResponse, error) {
	keys, err := s.store.APIKeys().ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return s.toListResponse(ctx, keys)
}

func (s *APIKeyServiceImpl) ListRevoked(ctx context.Context) (*dto.APIKeyListResponse, error) {
	keys, err := s.store.APIKeys().ListRevoked(ctx)
	if err != nil {
		return nil, err
	}
	return s.toListResponse(ctx, keys)
}

// Revoke is a soft delete and idempotent: revoking an already-revoked key
// reports success without a second audit entry.
func (s *APIKeyServiceImpl) Revoke(ctx context.Context, actor *authz.Actor, id domain.APIKeyID, ip string) error {
	key, err := s.store.APIKeys().GetByID(ctx, id)
	if err != nil {
		return err
	}
	changed, err := s.store.APIKeys().Revoke(ctx, id, time.Now().UTC())
	if err != nil {
		return err
	}
	s.invalidate(id)
	if !changed {
		return nil
	}

	e := auditEntry(domain.AuditKeyRevoke, actor, "api_key", id.String(), ip)
	e.Status = http.StatusNoContent
	e.Detail = toJSON(map[string]string{"prefix": key.KeyPrefix})
	s.audit.Record(e)
	s.log.Info("api key revoked", "id", id, "prefix", key.KeyPrefix)
	return nil
}

// Authenticate resolves a raw bearer secret. The digest cache only shortcuts
// the candidate scan; every admission re-reads the live row, so revocation
// takes effect on the next request regardless of cache state.
func (s *APIKeyServiceImpl) Authenticate(ctx context.Context, rawKey, ip string) (*domain.APIKey, []domain.DomainID, error) {
	rawKey = strings.TrimSpace(rawKey)
	if len(rawKey) < keyPrefixLen || len(rawKey) > 128 || !strings.HasPrefix(rawKey, keyScheme) {
		metrics.AuthAttemptsTotal.WithLabelValues("invalid").Inc()
		return nil, nil, domain.ErrUnauthorized
	}

	digest := hex.EncodeToString(digestKey(nil, rawKey))
	if id, ok := s.cache.Get(digest); ok {
		key, err := s.store.APIKeys().GetByID(ctx, id)
		if err == nil && key.Active() {
			return s.admit(ctx, key, ip)
		}
		s.cache.Remove(digest)
		if err != nil && !errors.Is(err, domain.ErrAPIKeyNotFound) {
			return nil, nil, err
		}
		metrics.AuthAttemptsTotal.WithLabelValues("invalid").Inc()
		return nil, nil, domain.ErrUnauthorized
	}

	candidates, err := s.store.APIKeys().ActiveByPrefix(ctx, rawKey[:keyPrefixLen])
	if err != nil {
		return nil, nil, err
	}
	var matched *domain.APIKey
	for i := range candidates {
		if subtle.ConstantTimeCompare(digestKey(candidates[i].KeySalt, rawKey), candidates[i].KeyHash) == 1 {
			matched = &candidates[i]
			break
		}
	}
	if matched == nil {
		metrics.AuthAttemptsTotal.WithLabelValues("invalid").Inc()
		return nil, nil, domain.ErrUnauthorized
	}

	s.cache.Add(digest, matched.ID)
	return s.admit(ctx, matched, ip)
}

func (s *APIKeyServiceImpl) admit(ctx context.Context, key *domain.APIKey, ip string) (*domain.APIKey, []domain.DomainID, error) {
	scopes, err := s.store.APIKeys().DomainIDs(ctx, key.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.APIKeys().TouchUsed(ctx, key.ID, time.Now().UTC(), ip); err != nil {
		s.log.Debug("last-used stamp failed", "key", key.KeyPrefix, "error", err)
	}
	metrics.AuthAttemptsTotal.WithLabelValues("ok").Inc()
	return key, scopes, nil
}

// ArchiveExpired moves keys revoked longer ago than the retention window
// into the archive table, one key per transaction so a crash mid-sweep
// leaves no key half-moved.
func (s *APIKeyServiceImpl) ArchiveExpired(ctx context.Context) error {
	if s.opts.RevokedRetention <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-s.opts.RevokedRetention)

	archived := 0
	for chunk := 0; chunk < s.opts.ArchiveMaxChunks; chunk++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		keys, err := s.store.APIKeys().ListRevokedBefore(ctx, cutoff, s.opts.ArchiveChunk)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			break
		}

		now := time.Now().UTC()
		for i := range keys {
			k := keys[i]
			err := s.store.WithTx(ctx, func(tx *store.Store) error {
				snap := &domain.ArchivedAPIKey{
					ID:         k.ID,
					Name:       k.Name,
					KeyPrefix:  k.KeyPrefix,
					IsAdmin:    k.IsAdmin,
					CreatedAt:  k.CreatedAt,
					RevokedAt:  *k.RevokedAt,
					ArchivedAt: now,
					LastUsedAt: k.LastUsedAt,
				}
				if err := tx.APIKeys().CreateArchived(ctx, snap); err != nil {
					return err
				}
				return tx.APIKeys().HardDelete(ctx, k.ID)
			})
			if err != nil {
				return err
			}
			archived++
			s.audit.Record(auditEntry(domain.AuditKeyArchive, nil, "api_key", k.ID.String(), ""))
		}
		if len(keys) < s.opts.ArchiveChunk {
			break
		}
	}
	if archived > 0 {
		s.log.Info("api key archive sweep finished", "archived", archived, "cutoff", cutoff)
	}
	return nil
}

func (s *APIKeyServiceImpl) invalidate(id domain.APIKeyID) {
	for _, k := range s.cache.Keys() {
		if v, ok := s.cache.Peek(k); ok && v == id {
			s.cache.Remove(k)
		}
	}
}

func (s *APIKeyServiceImpl) toListResponse(ctx context.Context, keys []domain.APIKey) (*dto.APIKeyListResponse, error) {
	resp := &dto.APIKeyListResponse{APIKeys: make([]dto.APIKeyResponse, 0, len(keys))}
	for i := range keys {
		scopes, err := s.store.APIKeys().DomainIDs(ctx, keys[i].ID)
		if err != nil {
			return nil, err
		}
		resp.APIKeys = append(resp.APIKeys, dto.APIKeyResponse{
			ID:         keys[i].ID.String(),
			Name:       keys[i].Name,
			KeyPrefix:  keys[i].KeyPrefix,
			IsAdmin:    keys[i].IsAdmin,
			DomainIDs:  idsToStrings(scopes),
			CreatedAt:  keys[i].CreatedAt,
			RevokedAt:  keys[i].RevokedAt,
			LastUsedAt: keys[i].LastUsedAt,
			LastUsedIP: keys[i].LastUsedIP,
		})
	}
	return resp, nil
}

func generateSecret() (raw, prefix string, err error) {
	buf := make([]byte, keySecretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = keyScheme + hex.EncodeToString(buf)
	return raw, raw[:keyPrefixLen], nil
}

// digestKey hashes salt||raw. A nil salt yields the unsalted digest used as
// the cache key, never the stored one.
func digestKey(salt []byte, raw string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(raw))
	return h.Sum(nil)
}

func idsToStrings(ids []domain.DomainID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
