// Package dispatch starts job commands without blocking the scheduler.
//
// Every invocation runs on its own goroutine with a fresh run ID. Failures
// are logged and recorded as the job's last outcome; nothing is returned to
// the caller and nothing is retried. Overlapping runs of the same job are
// allowed unless the skip overlap policy is configured, in which case a
// JobLockManager guards each invocation.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iddaa-lens/cronrunner/pkg/jobs"
	"github.com/iddaa-lens/cronrunner/pkg/logger"
)

// OverlapPolicy decides whether a job may start while a previous run of the
// same job is still going.
type OverlapPolicy string

const (
	OverlapAllow OverlapPolicy = "allow"
	OverlapSkip  OverlapPolicy = "skip"
)

// ParseOverlapPolicy parses a policy name, defaulting to OverlapAllow.
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch OverlapPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OverlapAllow:
		return OverlapAllow, nil
	case OverlapSkip:
		return OverlapSkip, nil
	default:
		return "", fmt.Errorf("unknown overlap policy %q (use allow or skip)", s)
	}
}

// OutcomeRecorder receives the outcome of each invocation.
type OutcomeRecorder interface {
	RecordOutcome(name string, outcome jobs.Outcome)
}

// Options configures a Dispatcher.
type Options struct {
	Runner   Runner
	Overlap  OverlapPolicy
	Locks    jobs.JobLockManager
	Timeout  time.Duration
	Recorder OutcomeRecorder
	Logger   *logger.Logger

	// LockTimeout bounds acquiring and releasing the overlap lock. Zero
	// means DefaultLockTimeout.
	LockTimeout time.Duration
}

// DefaultLockTimeout is used when Options.LockTimeout is zero.
const DefaultLockTimeout = 30 * time.Second

// Dispatcher runs jobs asynchronously.
type Dispatcher struct {
	runner   Runner
	overlap  OverlapPolicy
	locks    jobs.JobLockManager
	timeout  time.Duration
	recorder OutcomeRecorder
	logger   *logger.Logger
	now      func() time.Time

	lockTimeout time.Duration

	wg sync.WaitGroup
}

// New creates a dispatcher. The skip policy without a lock manager gets an
// in-process one.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		runner:   opts.Runner,
		overlap:  opts.Overlap,
		locks:    opts.Locks,
		timeout:  opts.Timeout,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		now:      time.Now,

		lockTimeout: opts.LockTimeout,
	}
	if d.lockTimeout <= 0 {
		d.lockTimeout = DefaultLockTimeout
	}
	if d.runner == nil {
		d.runner = NewExecRunner()
	}
	if d.overlap == "" {
		d.overlap = OverlapAllow
	}
	if d.overlap == OverlapSkip && d.locks == nil {
		d.locks = jobs.NewMemoryLockManager()
	}
	if d.logger == nil {
		d.logger = logger.New("dispatcher")
	}
	return d
}

// Dispatch starts job in the background and returns immediately.
func (d *Dispatcher) Dispatch(job jobs.Job) {
	runID := uuid.New().String()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(context.Background(), job, runID)
	}()
}

// Run executes job synchronously and returns its outcome.
func (d *Dispatcher) Run(ctx context.Context, job jobs.Job) jobs.Outcome {
	return d.run(ctx, job, uuid.New().String())
}

// Wait blocks until every dispatched run has finished. The scheduler never
// calls it; shutdown is abrupt.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, job jobs.Job, runID string) jobs.Outcome {
	jobLogger := d.logger.WithRunID(runID).WithJob(job.Name)
	outcome := jobs.Outcome{RunID: runID, StartedAt: d.now()}

	if d.overlap == OverlapSkip {
		guard := jobs.NewLockGuard(d.locks, job.Key)
		lockCtx, cancelLock := context.WithTimeout(ctx, d.lockTimeout)
		acquired, err := guard.Acquire(lockCtx)
		cancelLock()
		if err != nil {
			derr := &DispatchError{Job: job.Name, RunID: runID, ExitCode: -1, Launch: true, Err: err}
			jobLogger.Error().
				Err(derr).
				Str("action", "job_failed").
				Msg("Could not check for an overlapping run")
			outcome.ExitCode = -1
			outcome.Error = derr.Error()
			return d.finish(job, outcome)
		}
		if !acquired {
			jobLogger.Info().
				Str("action", "job_skipped_locked").
				Msg("Job skipped - previous run still in progress")
			outcome.Skipped = true
			return d.finish(job, outcome)
		}
		defer func() {
			releaseCtx, cancelRelease := context.WithTimeout(context.Background(), d.lockTimeout)
			defer cancelRelease()
			if err := guard.Release(releaseCtx); err != nil {
				jobLogger.WithError(err).Error().
					Str("action", "lock_release_error").
					Msg("Failed to release job lock")
			}
		}()
	}

	jobLogger.LogJobStart(job.Name, job.Schedule, job.Command.Argv())

	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	code, launched, err := d.runner.Run(jobLogger.ToContext(runCtx), job.Command)
	finished := d.now()
	outcome.FinishedAt = &finished
	outcome.ExitCode = code
	duration := finished.Sub(outcome.StartedAt)

	if err != nil {
		derr := &DispatchError{Job: job.Name, RunID: runID, ExitCode: code, Launch: !launched, Err: err}
		outcome.Error = derr.Error()
		jobLogger.Error().
			Err(derr).
			Str("action", "job_failed").
			Int("exit_code", code).
			Bool("launched", launched).
			Dur("duration", duration).
			Msg("Job execution failed")
		return d.finish(job, outcome)
	}

	jobLogger.LogJobComplete(job.Name, duration, code)
	return d.finish(job, outcome)
}

func (d *Dispatcher) finish(job jobs.Job, outcome jobs.Outcome) jobs.Outcome {
	if d.recorder != nil {
		d.recorder.RecordOutcome(job.Name, outcome)
	}
	return outcome
}
