package impl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mailgate/internal/domain"
	"mailgate/internal/dto"
	"mailgate/internal/observability/metrics"
	"mailgate/internal/service"
	"mailgate/internal/store"

	"github.com/google/uuid"
)

const auditWriteTimeout = 5 * time.Second

// AuditRecorderImpl queues entries on a bounded channel and writes them from
// a single background goroutine. Record never blocks a request: when the
// queue is full the entry is dropped, counted and logged.
type AuditRecorderImpl struct {
	store *store.Store
	log   *slog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan domain.AuditLog
	done   chan struct{}
}

var _ service.AuditRecorder = (*AuditRecorderImpl)(nil)

func NewAuditRecorderImpl(st *store.Store, log *slog.Logger, queueSize int) *AuditRecorderImpl {
	if queueSize <= 0 {
		queueSize = 1024
	}
	r := &AuditRecorderImpl{
		store: st,
		log:   log,
		ch:    make(chan domain.AuditLog, queueSize),
		done:  make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

func (r *AuditRecorderImpl) Record(entry domain.AuditLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		metrics.AuditDroppedTotal.WithLabelValues().Inc()
		return
	}
	select {
	case r.ch <- entry:
	default:
		metrics.AuditDroppedTotal.WithLabelValues().Inc()
		r.log.Warn("audit queue full, entry dropped", "action", entry.Action)
	}
}

func (r *AuditRecorderImpl) List(ctx context.Context, page, limit int) (*dto.AuditListResponse, error) {
	page, limit = normalizePage(page, limit, 50, 200)
	entries, total, err := r.store.Audit().List(ctx, page, limit)
	if err != nil {
		return nil, err
	}

	resp := &dto.AuditListResponse{
		Entries: make([]dto.AuditEntryResponse, 0, len(entries)),
		Total:   total,
		Page:    page,
		Limit:   limit,
	}
	for i := range entries {
		e := entries[i]
		resp.Entries = append(resp.Entries, dto.AuditEntryResponse{
			ID:           e.ID.String(),
			Action:       e.Action,
			ActorType:    e.ActorType,
			ActorID:      e.ActorID,
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Status:       e.Status,
			Error:        e.Error,
			Detail:       []byte(e.Detail),
			IP:           e.IP,
			UserAgent:    e.UserAgent,
			CreatedAt:    e.CreatedAt,
		})
	}
	return resp, nil
}

// Close stops accepting entries, drains what is queued and waits for the
// writer to finish.
func (r *AuditRecorderImpl) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	<-r.done
}

func (r *AuditRecorderImpl) writeLoop() {
	defer close(r.done)
	for entry := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		if err := r.store.Audit().Create(ctx, &entry); err != nil {
			metrics.AuditDroppedTotal.WithLabelValues().Inc()
			r.log.Warn("audit write failed, entry dropped", "action", entry.Action, "error", err)
		}
		cancel()
	}
}
