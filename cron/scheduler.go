package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Task is one unit of periodic maintenance.
type Task func(ctx context.Context) error

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTaskTimeout bounds every task run. Zero means no bound.
func WithTaskTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.taskTimeout = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler runs registered tasks on their schedules.
type Scheduler struct {
	cron        *cronlib.Cron
	logger      *slog.Logger
	taskTimeout time.Duration

	mu      sync.Mutex
	entries map[string]cronlib.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a Scheduler.
func NewScheduler(logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		logger:  logger,
		entries: make(map[string]cronlib.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cronlib.New(
		cronlib.WithParser(cronParser),
		cronlib.WithChain(
			cronlib.Recover(cronLogger{logger}),
			cronlib.SkipIfStillRunning(cronLogger{logger}),
		),
	)
	return s
}

// Register schedules task under name. Registering an existing name
// replaces its schedule.
func (s *Scheduler) Register(name, expr string, task Task) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("genqueue/cron: invalid schedule %q for %s: %w", expr, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[name]; ok {
		s.cron.Remove(prev)
	}
	s.entries[name] = s.cron.Schedule(sched, cronlib.FuncJob(func() {
		s.run(name, task)
	}))

	s.logger.Info("maintenance task registered",
		slog.String("task", name),
		slog.String("schedule", expr),
	)
	return nil
}

// Tasks returns the registered task names and their next run times.
func (s *Scheduler) Tasks() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.entries))
	for name, eid := range s.entries {
		out[name] = s.cron.Entry(eid).Next
	}
	return out
}

// Start begins firing tasks. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started")
	return nil
}

// Stop stops scheduling and waits for running tasks until ctx is done,
// after which they are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
	}
	s.cancel()
	s.logger.Info("maintenance scheduler stopped")
	return nil
}

func (s *Scheduler) run(name string, task Task) {
	ctx := s.ctx
	if s.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.taskTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := task(ctx); err != nil {
		s.logger.Error("maintenance task failed",
			slog.String("task", name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("maintenance task finished",
		slog.String("task", name),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// cronLogger adapts slog to cronlib.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
