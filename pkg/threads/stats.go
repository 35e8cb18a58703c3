package threads

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultStatsSchedule refreshes thread statistics every minute.
const DefaultStatsSchedule = "* * * * *"

// Gauge receives the known-thread count.
type Gauge interface {
	SetThreadsKnown(n int64)
}

// StatsJob periodically reports how many threads the registry knows.
type StatsJob struct {
	registry *Registry
	gauge    Gauge
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	mu       sync.Mutex
	running  bool
}

// NewStatsJob creates a job reporting registry's size to gauge on schedule
// (standard five-field cron syntax).
func NewStatsJob(registry *Registry, gauge Gauge, schedule string) *StatsJob {
	if schedule == "" {
		schedule = DefaultStatsSchedule
	}
	return &StatsJob{
		registry: registry,
		gauge:    gauge,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "threads.stats"),
	}
}

// Start schedules the job and runs it once immediately. The job stops when
// ctx is cancelled.
func (j *StatsJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := cron.ParseStandard(j.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", j.schedule, err)
	}
	if _, err := j.cron.AddFunc(j.schedule, func() { j.Run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule thread stats: %w", err)
	}

	j.Run(ctx)
	j.cron.Start()
	j.running = true
	j.logger.Info("thread stats job started", "schedule", j.schedule)

	go func() {
		<-ctx.Done()
		j.Stop()
	}()
	return nil
}

// Run refreshes the gauge once.
func (j *StatsJob) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	n, err := j.registry.Count(ctx)
	if err != nil {
		j.logger.Warn("thread count failed", "error", err)
		return
	}
	if j.gauge != nil {
		j.gauge.SetThreadsKnown(n)
	}
	j.logger.Debug("thread stats refreshed", "threads_known", n)
}

// Stop stops the scheduler and waits for a running job to finish.
func (j *StatsJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		<-j.cron.Stop().Done()
		j.running = false
		j.logger.Info("thread stats job stopped")
	}
}

// NextRun returns the next scheduled refresh, or nil when not running.
func (j *StatsJob) NextRun() *time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return nil
	}
	entries := j.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
