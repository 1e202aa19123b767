package federation

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// syncScheduler drives Federation.syncAll on a fixed interval, in the
// same shape as the teacher's internal/cron.Scheduler and
// internal/finops.ReportScheduler: parse once, then drive a time.Timer
// reset to each next fire time rather than a running cron.Cron instance. SPEC_FULL.md §4.6 allows an
// optional cron-expression override of the plain millisecond interval.
type syncScheduler struct {
	f        *Federation
	interval time.Duration
	cronExpr string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newSyncScheduler builds a scheduler for f. An invalid cronExpr is
// rejected at construction rather than surfacing only on the first tick.
func newSyncScheduler(f *Federation, intervalMs int64, cronExpr string) (*syncScheduler, error) {
	s := &syncScheduler{f: f}
	if cronExpr != "" {
		if _, err := cronParser.Parse(cronExpr); err != nil {
			return nil, fmt.Errorf("federation: invalid sync cron expression: %w", err)
		}
		s.cronExpr = cronExpr
		return s, nil
	}
	if intervalMs <= 0 {
		intervalMs = 60000
	}
	s.interval = time.Duration(intervalMs) * time.Millisecond
	return s, nil
}

// Start begins the timer loop. Syncing fires once immediately (mirroring
// the teacher's cron scheduler startup behavior) and then on each tick.
func (s *syncScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.f.logger.Info("federation sync scheduler started", "cron", s.cronExpr, "interval", s.interval)
}

// Stop cancels the loop and waits for it to exit.
func (s *syncScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *syncScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.f.syncAll(ctx)

	next := s.nextTick(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C:
			s.f.syncAll(ctx)
			next = s.nextTick(now)
			timer.Reset(time.Until(next))
		}
	}
}

func (s *syncScheduler) nextTick(after time.Time) time.Time {
	if s.cronExpr != "" {
		sched, err := cronParser.Parse(s.cronExpr)
		if err != nil {
			return after.Add(time.Minute)
		}
		return sched.Next(after)
	}
	return after.Add(s.interval)
}

// StartSync builds and starts the periodic sync scheduler for f, using
// either a cron expression override or the configured millisecond
// interval (spec.md §4.6 "startSync").
func (f *Federation) StartSync(ctx context.Context, cronExpr string) error {
	sched, err := newSyncScheduler(f, f.cfg.SyncIntervalMs, cronExpr)
	if err != nil {
		return err
	}
	f.scheduler = sched
	sched.Start(ctx)
	return nil
}

// StopSync stops the periodic sync scheduler, if running.
func (f *Federation) StopSync() {
	if f.scheduler != nil {
		f.scheduler.Stop()
	}
}
