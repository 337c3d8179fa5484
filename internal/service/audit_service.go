package service

import (
	"context"

	"mailgate/internal/domain"
	"mailgate/internal/dto"
)

// AuditRecorder accepts entries without blocking and writes them out on a
// background loop. Entries may be dropped under pressure; recording never
// fails a request.
type AuditRecorder interface {
	Record(entry domain.AuditLog)
	List(ctx context.Context, page, limit int) (*dto.AuditListResponse, error)
	// Close stops the writer after draining queued entries.
	Close()
}
