package http

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"mailgate/internal/authz"
	"mailgate/internal/domain"
	"mailgate/internal/dto"
	"mailgate/internal/netutil"
	"mailgate/internal/observability/metrics"
)

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	// The limiter itself failing must not lock operators out.
	ok, retryAfter, err := a.Login.Allow(r.Context(), "login:"+ip)
	if err != nil {
		a.Log.Warn("login limiter unavailable", "error", err)
		ok = true
	}
	if !ok {
		metrics.RateLimitedTotal.WithLabelValues("login").Inc()
		if secs := int(math.Ceil(retryAfter.Seconds())); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeError(w, domain.ErrRateLimited)
		return
	}

	var req dto.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if a.AdminPW == nil || !a.AdminPW.Verify(req.Password) {
		metrics.AuthAttemptsTotal.WithLabelValues("invalid").Inc()
		a.Audit.Record(domain.AuditLog{
			Action:    domain.AuditLogin,
			ActorType: domain.ActorAdmin,
			Status:    http.StatusUnauthorized,
			Error:     "invalid password",
			IP:        ip,
			UserAgent: netutil.TruncateUserAgent(r.UserAgent()),
		})
		writeError(w, domain.ErrInvalidCredentials)
		return
	}

	token, expires, err := a.Sessions.Issue(time.Now().UTC())
	if err != nil {
		a.Log.Error("issue session token", "error", err)
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authz.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	metrics.AuthAttemptsTotal.WithLabelValues("ok").Inc()
	a.Audit.Record(domain.AuditLog{
		Action:    domain.AuditLogin,
		ActorType: domain.ActorAdmin,
		Status:    http.StatusOK,
		IP:        ip,
		UserAgent: netutil.TruncateUserAgent(r.UserAgent()),
	})
	writeJSON(w, http.StatusOK, dto.LoginResponse{ExpiresAt: expires})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     authz.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	actor := actorFrom(r)
	a.Audit.Record(domain.AuditLog{
		Action:    domain.AuditLogout,
		ActorType: actor.Type,
		ActorID:   actor.ActorID(),
		Status:    http.StatusNoContent,
		IP:        clientIP(r),
		UserAgent: netutil.TruncateUserAgent(r.UserAgent()),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	resp := dto.MeResponse{
		ActorType: actor.Type,
		ActorID:   actor.ActorID(),
		IsAdmin:   actor.IsAdmin,
	}
	for _, id := range actor.DomainIDs {
		resp.DomainIDs = append(resp.DomainIDs, id.String())
	}
	writeJSON(w, http.StatusOK, resp)
}
