// Package app wires configuration, job loading, the registry, the dispatcher
// and the scheduling loop into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iddaa-lens/cronrunner/internal/config"
	"github.com/iddaa-lens/cronrunner/pkg/cronexpr"
	"github.com/iddaa-lens/cronrunner/pkg/database/pool"
	"github.com/iddaa-lens/cronrunner/pkg/dispatch"
	"github.com/iddaa-lens/cronrunner/pkg/jobs"
	"github.com/iddaa-lens/cronrunner/pkg/loader"
	"github.com/iddaa-lens/cronrunner/pkg/logger"
	"github.com/iddaa-lens/cronrunner/pkg/scheduler"
	"github.com/iddaa-lens/cronrunner/pkg/server"
)

// Settings is the validated form of the configuration.
type Settings struct {
	Location      *time.Location
	Source        loader.Source
	InvalidJobs   jobs.InvalidJobPolicy
	Overlap       dispatch.OverlapPolicy
	LockBackend   jobs.LockBackend
	JobTimeout    time.Duration
	StatusAddr    string
	LoaderOptions loader.Options
}

// ParseSettings checks every enumerated configuration value up front.
func ParseSettings(cfg *config.Config) (Settings, error) {
	var (
		s    Settings
		errs []error
		err  error
	)

	if s.Location, err = cronexpr.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		errs = append(errs, err)
	}
	if s.Source, err = loader.ParseSource(cfg.Jobs.Source); err != nil {
		errs = append(errs, err)
	}
	if s.InvalidJobs, err = jobs.ParseInvalidJobPolicy(cfg.Scheduler.InvalidJobPolicy); err != nil {
		errs = append(errs, err)
	}
	if s.Overlap, err = dispatch.ParseOverlapPolicy(cfg.Scheduler.OverlapPolicy); err != nil {
		errs = append(errs, err)
	}
	if s.LockBackend, err = jobs.ParseLockBackend(cfg.Scheduler.LockBackend); err != nil {
		errs = append(errs, err)
	}
	if cfg.Scheduler.JobTimeout < 0 {
		errs = append(errs, fmt.Errorf("job timeout must not be negative, got %v", cfg.Scheduler.JobTimeout))
	}
	if len(errs) > 0 {
		return Settings{}, &jobs.ConfigurationError{Reason: "invalid settings", Problems: errs}
	}

	s.JobTimeout = cfg.Scheduler.JobTimeout
	s.StatusAddr = cfg.Status.Addr
	s.LoaderOptions = loader.Options{
		Source:     s.Source,
		Prefix:     cfg.Jobs.Prefix,
		ScriptsDir: cfg.Jobs.ScriptsDir,
		JobsFile:   cfg.Jobs.File,
		JobsTable:  cfg.Jobs.Table,
	}
	return s, nil
}

// NeedsDatabase reports whether any component talks to PostgreSQL.
func (s Settings) NeedsDatabase() bool {
	return s.Source == loader.FromDatabase ||
		(s.Overlap == dispatch.OverlapSkip && s.LockBackend == jobs.LockBackendPostgres)
}

// App is a configured scheduler, ready to run.
type App struct {
	settings   Settings
	logger     *logger.Logger
	db         *pgxpool.Pool
	evaluator  *cronexpr.Evaluator
	registry   *jobs.Registry
	dispatcher *dispatch.Dispatcher
}

// Option customizes New, mainly for tests.
type Option func(*buildOptions)

type buildOptions struct {
	runner  dispatch.Runner
	environ []string
	db      loader.Querier
	locks   jobs.JobLockManager
}

// WithRunner replaces the process runner.
func WithRunner(r dispatch.Runner) Option {
	return func(o *buildOptions) { o.runner = r }
}

// WithEnviron replaces os.Environ for the env source.
func WithEnviron(environ []string) Option {
	return func(o *buildOptions) { o.environ = environ }
}

// WithQuerier supplies the database used by the postgres source.
func WithQuerier(db loader.Querier) Option {
	return func(o *buildOptions) { o.db = db }
}

// WithLockManager replaces the lock manager used by the skip overlap policy.
func WithLockManager(l jobs.JobLockManager) Option {
	return func(o *buildOptions) { o.locks = l }
}

// New loads job definitions and builds the registry and the dispatcher.
// Invalid definitions abort startup with a *jobs.ConfigurationError unless
// the skip policy is configured.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	settings, err := ParseSettings(cfg)
	if err != nil {
		return nil, err
	}

	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	a := &App{settings: settings, logger: log}

	needPool := (settings.Source == loader.FromDatabase && bo.db == nil) ||
		(settings.Overlap == dispatch.OverlapSkip && settings.LockBackend == jobs.LockBackendPostgres && bo.locks == nil)
	if needPool {
		a.db, err = pool.New(ctx, cfg.DatabaseURL(), pool.DefaultConfig(), log)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if bo.db == nil {
			bo.db = a.db
		}
	}

	a.evaluator = cronexpr.New(settings.Location)

	loadOpts := settings.LoaderOptions
	loadOpts.Environ = bo.environ
	loadOpts.DB = bo.db

	res, err := loader.Load(ctx, loadOpts)
	if err != nil {
		a.Close()
		return nil, &jobs.ConfigurationError{Reason: "cannot load jobs", Problems: []error{err}}
	}

	for _, p := range res.Problems {
		log.Error().
			Err(p).
			Str("action", "job_invalid").
			Str("source", string(settings.Source)).
			Msg("Job definition rejected")
	}

	a.registry, err = jobs.NewRegistry(res.Definitions, a.evaluator, jobs.RegistryOptions{
		Policy: settings.InvalidJobs,
		Logger: log,
	})
	if err == nil && len(res.Problems) > 0 && settings.InvalidJobs == jobs.PolicyAbort {
		err = &jobs.ConfigurationError{Reason: "invalid job definitions"}
	}
	if err != nil {
		a.Close()
		return nil, mergeProblems(err, res.Problems)
	}

	locks := bo.locks
	if settings.Overlap == dispatch.OverlapSkip && locks == nil {
		switch settings.LockBackend {
		case jobs.LockBackendPostgres:
			locks = jobs.NewPostgreSQLLockManager(jobs.PoolSessions(a.db), log)
		default:
			locks = jobs.NewMemoryLockManager()
		}
	}

	a.dispatcher = dispatch.New(dispatch.Options{
		Runner:   bo.runner,
		Overlap:  settings.Overlap,
		Locks:    locks,
		Timeout:  settings.JobTimeout,
		Recorder: a.registry,
		Logger:   log,
	})

	log.Info().
		Str("action", "startup").
		Int("jobs", a.registry.Len()).
		Str("source", string(settings.Source)).
		Str("timezone", settings.Location.String()).
		Str("overlap_policy", string(settings.Overlap)).
		Msg("Scheduler configured")

	return a, nil
}

// mergeProblems puts loader problems in front of the registry's own.
func mergeProblems(err error, loaderProblems []error) error {
	var cfgErr *jobs.ConfigurationError
	if !errors.As(err, &cfgErr) || len(loaderProblems) == 0 {
		return err
	}
	problems := append(append([]error(nil), loaderProblems...), cfgErr.Problems...)
	reason := cfgErr.Reason
	if reason == "no valid jobs" {
		reason = "invalid job definitions"
	}
	return &jobs.ConfigurationError{Reason: reason, Problems: problems}
}

// Registry returns the job registry.
func (a *App) Registry() *jobs.Registry { return a.registry }

// Evaluator returns the cron evaluator bound to the configured location.
func (a *App) Evaluator() *cronexpr.Evaluator { return a.evaluator }

// Location returns the evaluation location.
func (a *App) Location() *time.Location { return a.settings.Location }

// Run schedules jobs until ctx is cancelled and returns the loop's error,
// normally the context's cancellation cause. The status server, when
// configured, runs for the same lifetime.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	serverDone := make(chan struct{})
	if a.settings.StatusAddr != "" {
		srv := server.New(a.settings.StatusAddr, a.registry, a.settings.Location, a.logger)
		go func() {
			defer close(serverDone)
			if err := srv.Start(ctx); err != nil {
				a.logger.Error().
					Err(err).
					Str("action", "server_failed").
					Msg("Status server stopped with error")
			}
		}()
	} else {
		close(serverDone)
	}

	loop := scheduler.New(a.registry, a.evaluator, a.dispatcher,
		scheduler.WithLogger(a.logger),
		scheduler.WithLocation(a.settings.Location),
	)
	err := loop.Run(ctx)

	// the server stops on ctx; wait for it to finish shutting down
	cancel(nil)
	<-serverDone
	return err
}

// RunOnce executes the named job synchronously, looked up by name or key.
func (a *App) RunOnce(ctx context.Context, name string) (jobs.Outcome, error) {
	job, ok := a.registry.Get(name)
	if !ok {
		status, found := a.registry.Lookup(name)
		if !found {
			return jobs.Outcome{}, fmt.Errorf("unknown job %q", name)
		}
		job = status.Job
	}
	return a.dispatcher.Run(ctx, job), nil
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.db != nil {
		stats := pool.GetStats(a.db)
		a.logger.Info().
			Str("action", "db_close").
			Int64("acquire_count", stats.AcquireCount).
			Int32("acquired_conns", stats.AcquiredConns).
			Int32("total_conns", stats.TotalConns).
			Msg("Closing database connection pool")
		a.db.Close()
		a.db = nil
	}
}
