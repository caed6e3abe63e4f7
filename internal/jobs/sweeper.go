package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the idle sweep twice a minute.
const DefaultSweepSchedule = "@every 30s"

var sweepParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper periodically removes idle jobs from a Registry on a cron
// schedule. It is the cleanup path for jobs nobody subscribes to.
type Sweeper struct {
	registry *Registry
	maxIdle  time.Duration
	schedule cron.Schedule
	cronExpr string
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper parses schedule (standard cron, optional seconds field, or a
// descriptor such as "@every 1m").
func NewSweeper(reg *Registry, schedule string, maxIdle time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	sched, err := sweepParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	if maxIdle <= 0 {
		return nil, fmt.Errorf("sweep max idle must be positive, got %s", maxIdle)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{registry: reg, maxIdle: maxIdle, schedule: sched, cronExpr: schedule, logger: logger}, nil
}

// NextRun returns the next sweep time after from.
func (s *Sweeper) NextRun(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// SweepNow runs one sweep immediately.
func (s *Sweeper) SweepNow() []string {
	return s.registry.Sweep(s.maxIdle)
}

// Start launches the cron loop.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	c := cron.New(cron.WithParser(sweepParser))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.SweepNow() }))
	c.Start()
	s.cron = c
	s.logger.Info("job sweeper started", slog.String("schedule", s.cronExpr), slog.Duration("max_idle", s.maxIdle))
	return nil
}

// Stop halts the cron loop and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("job sweeper stopped")
}

// Run starts the sweeper and blocks until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}
