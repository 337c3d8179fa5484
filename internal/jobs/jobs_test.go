package jobs_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"mailgate/internal/domain"
	"mailgate/internal/jobs"
	"mailgate/internal/observability/metrics"

	"github.com/google/uuid"
)

// The dispatcher and scheduler record run metrics; the vectors need their
// service label curried before use.
func TestMain(m *testing.M) {
	metrics.MustRegister("test")
	os.Exit(m.Run())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherRunsSubmittedJobs(t *testing.T) {
	done := make(chan domain.DomainID, 8)
	d := jobs.NewDispatcher(2, 8, func(_ context.Context, id domain.DomainID) error {
		done <- id
		return nil
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	want := map[domain.DomainID]bool{}
	for i := 0; i < 3; i++ {
		id := uuid.New()
		want[id] = true
		if !d.SubmitSetup(id) {
			t.Fatalf("submit %d rejected", i)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case id := <-done:
			if !want[id] {
				t.Errorf("unexpected job id %s", id)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs to run")
		}
	}

	cancel()
	d.Wait()
}

func TestDispatcherRejectsWhenQueueFull(t *testing.T) {
	// Never started, so the queue only drains by capacity.
	d := jobs.NewDispatcher(1, 1, func(context.Context, domain.DomainID) error { return nil }, testLogger())

	if !d.SubmitSetup(uuid.New()) {
		t.Fatal("first submit rejected")
	}
	if d.SubmitSetup(uuid.New()) {
		t.Fatal("second submit accepted past queue capacity")
	}
}

func TestSchedulerRunsImmediatelyAndOnInterval(t *testing.T) {
	var runs atomic.Int32
	s := jobs.NewScheduler(testLogger())
	s.Add(jobs.Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("job ran %d times, want at least 3", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	s.Wait()
}

func TestSchedulerNeverOverlapsRunsOfOneJob(t *testing.T) {
	var inFlight, worst atomic.Int32
	s := jobs.NewScheduler(testLogger())
	s.Add(jobs.Job{
		Name:     "slow",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			n := inFlight.Add(1)
			if n > worst.Load() {
				worst.Store(n)
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()
	s.Wait()

	if worst.Load() > 1 {
		t.Errorf("job overlapped itself, max in flight = %d", worst.Load())
	}
}
