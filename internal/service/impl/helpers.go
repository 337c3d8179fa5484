// Package impl contains the concrete service implementations wired together
// in cmd/mailgate. Each service owns its validation and scope checks; stores
// stay mechanical.
package impl

import (
	"encoding/json"
	"time"

	"mailgate/internal/authz"
	"mailgate/internal/domain"

	"gorm.io/datatypes"
)

// auditEntry builds the common fields of an audit record. A nil actor means
// the system itself acted (setup jobs, pollers, sweeps).
func auditEntry(action string, actor *authz.Actor, resourceType, resourceID, ip string) domain.AuditLog {
	e := domain.AuditLog{
		Action:       action,
		ActorType:    domain.ActorSystem,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IP:           ip,
		CreatedAt:    time.Now().UTC(),
	}
	if actor != nil {
		if actor.Type != "" {
			e.ActorType = actor.Type
		}
		e.ActorID = actor.ActorID()
	}
	return e
}

// toJSON marshals v for a jsonb column. Marshal failures yield a null
// payload rather than failing the operation.
func toJSON(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// normalizePage clamps paging parameters to sane bounds.
func normalizePage(page, limit, defaultLimit, maxLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}
