// Package scheduler runs the wait/dispatch cycle over a fixed job registry.
//
// Each cycle sleeps until the earliest due time, re-reads the clock, fires
// every job that is due and plans its next run from that fresh instant.
// A late wake therefore fires each overdue job once and never replays missed
// occurrences. Cancellation is observed only while sleeping.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/iddaa-lens/cronrunner/pkg/clock"
	"github.com/iddaa-lens/cronrunner/pkg/jobs"
	"github.com/iddaa-lens/cronrunner/pkg/logger"
)

// ErrNoSchedulableJobs is returned when every job has been retired.
var ErrNoSchedulableJobs = errors.New("no schedulable jobs left")

// Evaluator computes the next occurrence of a cron expression.
type Evaluator interface {
	Next(expression string, after time.Time) (time.Time, error)
}

// Dispatcher starts a job without waiting for it.
type Dispatcher interface {
	Dispatch(job jobs.Job)
}

// Loop is the scheduling control flow. It is the only writer of due times.
type Loop struct {
	registry   *jobs.Registry
	evaluator  Evaluator
	dispatcher Dispatcher
	clock      clock.Clock
	logger     *logger.Logger
	loc        *time.Location
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithLogger sets the loop logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Loop) { l.logger = log }
}

// WithLocation sets the zone used for human-readable log times.
func WithLocation(loc *time.Location) Option {
	return func(l *Loop) { l.loc = loc }
}

// New creates a loop over registry.
func New(registry *jobs.Registry, evaluator Evaluator, dispatcher Dispatcher, opts ...Option) *Loop {
	l := &Loop{
		registry:   registry,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		clock:      clock.New(),
		loc:        time.Local,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.New("scheduler")
	}
	return l
}

// Run schedules jobs until ctx is cancelled. It returns the cancellation
// cause, or ErrNoSchedulableJobs if no job has a future occurrence.
func (l *Loop) Run(ctx context.Context) error {
	now := l.clock.Now()
	for _, job := range l.registry.Jobs() {
		l.plan(job, now)
	}
	l.announce("First execution will be")

	for {
		_, due, ok := l.registry.Earliest()
		if !ok {
			l.logger.Error().
				Str("action", "scheduler_idle").
				Msg("No job has an upcoming occurrence")
			return ErrNoSchedulableJobs
		}

		if err := l.sleep(ctx, due); err != nil {
			l.logger.Info().
				Str("action", "scheduler_stopped").
				AnErr("cause", err).
				Msg("Scheduler stopped")
			return err
		}

		if l.tick(l.clock.Now()) > 0 {
			l.announce("Next execution will be")
		}
	}
}

// sleep waits until due or until ctx is done. A context cancelled at the
// same time the timer fires still wins.
func (l *Loop) sleep(ctx context.Context, due time.Time) error {
	wait := due.Sub(l.clock.Now())
	if wait < 0 {
		wait = 0
	}

	timer := l.clock.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C():
	}

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

// tick dispatches every job due at now and plans its next run from now.
func (l *Loop) tick(now time.Time) int {
	due := l.registry.Due(now)
	for _, job := range due {
		l.logger.Info().
			Str("action", "job_dispatch").
			Str("job_name", job.Name).
			Time("now", now).
			Msg("Dispatching job")

		l.dispatcher.Dispatch(job)
		l.plan(job, now)
	}
	return len(due)
}

func (l *Loop) plan(job jobs.Job, now time.Time) {
	next, err := l.evaluator.Next(job.Schedule, now)
	if err != nil {
		l.logger.Error().
			Err(err).
			Str("action", "job_retired").
			Str("job_name", job.Name).
			Str("schedule", job.Schedule).
			Msg("Job has no further occurrence and is taken out of rotation")
		_ = l.registry.Retire(job.Name)
		return
	}

	_ = l.registry.Schedule(job.Name, next)
	l.logger.WithJob(job.Name).LogNextDue(job.Name, next.In(l.loc))
}

func (l *Loop) announce(prefix string) {
	job, due, ok := l.registry.Earliest()
	if !ok {
		return
	}
	l.logger.Info().
		Str("action", "next_execution").
		Str("job_name", job.Name).
		Time("next_due", due).
		Msgf("%s %s on: %s", prefix, job.Name, due.In(l.loc).Format(logger.HumanTimeFormat))
}
