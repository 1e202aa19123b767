package finops

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/cortexos/kernel/internal/bus"
)

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// SchedulerConfig configures a ReportScheduler. Exactly one of CronExpr or
// Interval should be set; CronExpr takes precedence if both are (see
// DESIGN.md "FinOps report scheduling modes" for why the two are mutually
// exclusive).
type SchedulerConfig struct {
	CronExpr string
	Interval time.Duration
	Logger   *slog.Logger
}

// ReportScheduler periodically calls Engine.GenerateReport and publishes
// the result, in the style of the teacher's cron scheduler loop: parse
// once, then drive a time.Timer reset to each next fire time rather than
// calling into a running cron.Cron instance.
type ReportScheduler struct {
	engine   *Engine
	bus      *bus.Bus
	logger   *slog.Logger
	interval time.Duration
	cronExpr string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReportScheduler builds a scheduler for engine. An invalid CronExpr is
// returned as an error at construction time rather than surfacing only on
// the first tick.
func NewReportScheduler(engine *Engine, eventBus *bus.Bus, cfg SchedulerConfig) (*ReportScheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &ReportScheduler{engine: engine, bus: eventBus, logger: logger}

	if cfg.CronExpr != "" {
		if _, err := cronParser.Parse(cfg.CronExpr); err != nil {
			return nil, fmt.Errorf("finops: invalid report cron expression: %w", err)
		}
		s.cronExpr = cfg.CronExpr
	} else {
		interval := cfg.Interval
		if interval <= 0 {
			interval = time.Duration(DefaultConfig().ReportIntervalMs) * time.Millisecond
		}
		s.interval = interval
	}
	return s, nil
}

// Start begins the timer loop in a background goroutine.
func (s *ReportScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("finops report scheduler started", "cron", s.cronExpr, "interval", s.interval)
}

// Stop cancels the loop and waits for it to exit.
func (s *ReportScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *ReportScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	next := s.nextTick(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C:
			s.fire(now)
			next = s.nextTick(now)
			timer.Reset(time.Until(next))
		}
	}
}

// nextTick computes the next fire time from either the cron expression or
// the fixed interval, whichever mode this scheduler was built with.
func (s *ReportScheduler) nextTick(after time.Time) time.Time {
	if s.cronExpr != "" {
		sched, err := cronParser.Parse(s.cronExpr)
		if err != nil {
			return after.Add(time.Minute)
		}
		return sched.Next(after)
	}
	return after.Add(s.interval)
}

func (s *ReportScheduler) fire(now time.Time) {
	start := now.Add(-s.windowSince(now))
	report := s.engine.GenerateReport(start, now)
	if s.bus != nil {
		s.bus.Publish(bus.TopicReportGenerated, report)
	}
	s.logger.Info("finops report generated", "start", report.Start, "end", report.End, "agents", len(report.ByAgent))
}

// windowSince returns how far back a generated report should look: one
// full period for cron mode (approximated as 24h, reports are informational
// rather than billing-accurate) or exactly the fixed interval.
func (s *ReportScheduler) windowSince(now time.Time) time.Duration {
	if s.cronExpr != "" {
		return 24 * time.Hour
	}
	return s.interval
}
