package http

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"mailgate/internal/authz"
	"mailgate/internal/domain"
	"mailgate/internal/observability/metrics"
)

// requireAuth resolves the request's credential to an actor and stores it in
// the context. Everything under it can assume an actor is present.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.Gate.Resolve(r, clientIP(r))
		if err != nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(authz.WithActor(r.Context(), actor)))
	})
}

func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.ActorFromContext(r.Context())
		if !ok || !actor.IsAdmin {
			writeError(w, domain.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorFrom(r *http.Request) *authz.Actor {
	actor, _ := authz.ActorFromContext(r.Context())
	return actor
}

// recoverPanics converts a handler panic into the standard 500 envelope so
// clients never see a bare connection reset or an empty body.
func recoverPanics(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("handler panic",
						"panic", rec, "method", r.Method, "path", r.URL.Path,
						"stack", string(debug.Stack()))
					writeError(w, errors.New("panic recovered"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimited is the shared 429 responder for the general API limiter.
func rateLimited(w http.ResponseWriter, _ *http.Request) {
	metrics.RateLimitedTotal.WithLabelValues("api").Inc()
	if w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "60")
	}
	writeError(w, domain.ErrRateLimited)
}
