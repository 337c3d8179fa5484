// Package jobs runs the gateway's background work: the domain setup queue
// and the periodic poll and retention tasks.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mailgate/internal/domain"
	"mailgate/internal/observability/metrics"
)

// SetupHandler executes one domain setup job.
type SetupHandler func(ctx context.Context, id domain.DomainID) error

// Dispatcher feeds submitted setup jobs to a fixed worker pool over a
// bounded queue. Submission never blocks; a full queue reports false and the
// pending-domain requeue job retries later.
type Dispatcher struct {
	log     *slog.Logger
	handler SetupHandler
	queue   chan domain.DomainID
	workers int
	wg      sync.WaitGroup
}

func NewDispatcher(workers, queueSize int, handler SetupHandler, log *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		log:     log,
		handler: handler,
		queue:   make(chan domain.DomainID, queueSize),
		workers: workers,
	}
}

// Start launches the workers. They drain until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
	d.log.Info("setup dispatcher started", "workers", d.workers, "queue", cap(d.queue))
}

func (d *Dispatcher) SubmitSetup(id domain.DomainID) bool {
	select {
	case d.queue <- id:
		return true
	default:
		return false
	}
}

// Wait blocks until every worker has exited after cancellation.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.queue:
			start := time.Now()
			err := d.handler(ctx, id)
			metrics.JobDurationSeconds.WithLabelValues("domain_setup").Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.JobRunsTotal.WithLabelValues("domain_setup", "error").Inc()
				d.log.Error("setup job failed", "domain_id", id, "error", err)
				continue
			}
			metrics.JobRunsTotal.WithLabelValues("domain_setup", "ok").Inc()
		}
	}
}
