package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mailgate/internal/observability/metrics"
)

// Job is one named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives each job on its own ticker goroutine. Runs are
// synchronous within a job's loop, so a slow run can never overlap the next
// tick of the same job; missed ticks are simply dropped.
type Scheduler struct {
	log  *slog.Logger
	jobs []Job
	wg   sync.WaitGroup
}

func NewScheduler(log *slog.Logger) *Scheduler {
	return &Scheduler{log: log}
}

func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start runs every job once immediately and then on its interval, until ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.log.Warn("job has no interval, not scheduled", "job", job.Name)
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.log.Info("scheduler started", "jobs", len(s.jobs))
}

// Wait blocks until all job loops have exited after cancellation.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	s.run(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, job)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	start := time.Now()
	err := job.Run(ctx)
	metrics.JobDurationSeconds.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		metrics.JobRunsTotal.WithLabelValues(job.Name, "error").Inc()
		s.log.Error("job run failed", "job", job.Name, "error", err)
		return
	}
	metrics.JobRunsTotal.WithLabelValues(job.Name, "ok").Inc()
	s.log.Debug("job run finished", "job", job.Name, "took", time.Since(start))
}
