package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iddaa-lens/cronrunner/pkg/logger"
)

// Config represents database connection pool settings
type Config struct {
	// MaxConns is the maximum number of connections in the pool.
	// Each held advisory lock keeps one connection checked out.
	MaxConns int32
	// MinConns is the minimum number of connections in the pool
	MinConns int32
	// MaxConnLifetime is the maximum lifetime of a connection
	MaxConnLifetime time.Duration
	// MaxConnIdleTime is the maximum idle time for a connection
	MaxConnIdleTime time.Duration
	// HealthCheckPeriod is the interval between health checks
	HealthCheckPeriod time.Duration
	// ConnectTimeout is the timeout for establishing new connections
	ConnectTimeout time.Duration
	// PingRetries is how many times New pings before giving up
	PingRetries int
	// PingBackoff is the wait between ping attempts
	PingBackoff time.Duration
}

// DefaultConfig returns pool settings for a scheduler: few queries, but one
// connection per concurrently locked job.
func DefaultConfig() *Config {
	return &Config{
		MaxConns:          20,
		MinConns:          1,
		MaxConnLifetime:   30 * time.Minute,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		PingRetries:       3,
		PingBackoff:       2 * time.Second,
	}
}

// New creates a new database connection pool and verifies it with retries
func New(ctx context.Context, databaseURL string, cfg *Config, log *logger.Logger) (*pgxpool.Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	config, err := ParseConfig(databaseURL, cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := ping(ctx, pool, cfg, log); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("action", "db_connected").
		Int32("max_conns", cfg.MaxConns).
		Msg("Database connection pool established")

	return pool, nil
}

// ParseConfig applies cfg on top of the connection string settings
func ParseConfig(databaseURL string, cfg *Config) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = cfg.MaxConns
	config.MinConns = cfg.MinConns
	config.MaxConnLifetime = cfg.MaxConnLifetime
	config.MaxConnIdleTime = cfg.MaxConnIdleTime
	config.HealthCheckPeriod = cfg.HealthCheckPeriod
	config.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	config.ConnConfig.RuntimeParams["application_name"] = "cronrunner"

	return config, nil
}

func ping(ctx context.Context, pool *pgxpool.Pool, cfg *Config, log *logger.Logger) error {
	retries := cfg.PingRetries
	if retries < 1 {
		retries = 1
	}

	for i := 0; i < retries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := pool.Ping(pingCtx)
		cancel()

		if err == nil {
			return nil
		}

		if i == retries-1 {
			return fmt.Errorf("failed to ping database after %d retries: %w", retries, err)
		}

		log.Warn().
			Err(err).
			Int("attempt", i+1).
			Str("action", "db_ping_retry").
			Msg("Retrying database connection")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PingBackoff):
		}
	}

	return nil
}

// Stats returns current pool statistics for monitoring
type Stats struct {
	AcquireCount         int64
	AcquiredConns        int32
	CanceledAcquireCount int64
	EmptyAcquireCount    int64
	IdleConns            int32
	MaxConns             int32
	TotalConns           int32
}

// GetStats returns current pool statistics
func GetStats(pool *pgxpool.Pool) Stats {
	stats := pool.Stat()
	return Stats{
		AcquireCount:         stats.AcquireCount(),
		AcquiredConns:        stats.AcquiredConns(),
		CanceledAcquireCount: stats.CanceledAcquireCount(),
		EmptyAcquireCount:    stats.EmptyAcquireCount(),
		IdleConns:            stats.IdleConns(),
		MaxConns:             stats.MaxConns(),
		TotalConns:           stats.TotalConns(),
	}
}
