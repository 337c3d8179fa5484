package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mailgate/internal/authz"
	"mailgate/internal/observability/middleware"
	"mailgate/internal/ratelimit"
	"mailgate/internal/service"
	"mailgate/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API bundles everything the HTTP surface needs. Login is the only
// credential-issuing route and carries its own limiter; all other throttling
// is the router-level sliding window.
type API struct {
	Domains  service.DomainService
	Emails   service.EmailService
	Keys     service.APIKeyService
	Audit    service.AuditRecorder
	Gate     *authz.Gate
	Sessions *authz.Sessions
	AdminPW  *authz.AdminPassword
	Login    ratelimit.Limiter
	Store    *store.Store
	Log      *slog.Logger
}

type Config struct {
	CORSOrigins       []string
	RequestsPerMinute int
}

func NewRouter(api *API, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(recoverPanics(api.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.WithRequestAndTrace)
	r.Use(middleware.WithMetrics)
	if cfg.RequestsPerMinute > 0 {
		r.Use(httprate.Limit(
			cfg.RequestsPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(keyByCredentialOrIP),
			httprate.WithLimitHandler(rateLimited),
		))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", api.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", api.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(api.requireAuth)

			r.Post("/auth/logout", api.handleLogout)
			r.Get("/auth/me", api.handleMe)

			r.Route("/domains", func(r chi.Router) {
				r.Post("/", api.handleCreateDomain)
				r.Get("/", api.handleListDomains)
				r.Get("/{id}", api.handleGetDomain)
				r.Delete("/{id}", api.handleDeleteDomain)
				r.Post("/{id}/verify", api.handleVerifyDomain)
				r.Post("/{id}/test-email", api.handleSendTestEmail)
			})

			r.Route("/emails", func(r chi.Router) {
				r.Post("/", api.handleSendEmail)
				r.Post("/batch", api.handleSendBatch)
				r.Get("/", api.handleListEmails)
				r.Get("/{id}", api.handleGetEmail)
			})

			r.Group(func(r chi.Router) {
				r.Use(api.requireAdmin)
				r.Route("/api-keys", func(r chi.Router) {
					r.Post("/", api.handleCreateAPIKey)
					r.Get("/", api.handleListAPIKeys)
					r.Get("/revoked", api.handleListRevokedAPIKeys)
					r.Delete("/{id}", api.handleRevokeAPIKey)
				})
				r.Get("/audit", api.handleListAuditLogs)
			})
		})
	})

	return r
}

// keyByCredentialOrIP buckets authenticated traffic by key prefix, which is
// non-secret, and everything else by client IP.
func keyByCredentialOrIP(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(h), "bearer ") {
		if tok := strings.TrimSpace(h[len("bearer "):]); len(tok) >= 10 {
			return "key:" + tok[:10], nil
		}
	}
	return httprate.KeyByIP(r)
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.Store.Ping(ctx); err != nil {
		a.Log.Warn("readiness probe failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("db unreachable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
