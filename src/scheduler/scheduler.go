package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Prober refreshes provider liveness ahead of routing.
type Prober interface {
	Refresh(ctx context.Context)
}

// Sweeper drops expired entries from an in-process TTL store.
type Sweeper interface {
	Sweep() int
}

// Scheduler runs the background maintenance jobs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func NewScheduler(log zerolog.Logger) *Scheduler {
	cl := cronLogger{log}
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		log:  log,
	}
}

// cronLogger adapts zerolog to cron.Logger. Recovered job panics arrive
// through Error.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Schedule runs job on spec. A panicking job is logged and the scheduler
// keeps running.
func (s *Scheduler) Schedule(spec, name string, job func()) error {
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	return nil
}

// ScheduleProbe refreshes liveness on spec, a cron expression or "@every 30s".
func (s *Scheduler) ScheduleProbe(ctx context.Context, spec string, prober Prober, timeout time.Duration) error {
	return s.Schedule(spec, "probe", func() {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		prober.Refresh(pctx)
		s.log.Debug().Msg("provider liveness refreshed")
	})
}

func (s *Scheduler) ScheduleSweep(spec string, name string, sweeper Sweeper) error {
	return s.Schedule(spec, "sweep", func() {
		if n := sweeper.Sweep(); n > 0 {
			s.log.Debug().Str("store", name).Int("expired", n).Msg("swept expired entries")
		}
	})
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
