package jobs

import (
	"context"
	"crypto/md5"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iddaa-lens/cronrunner/pkg/logger"
)

// JobLockManager prevents overlapping runs of the same job
type JobLockManager interface {
	// AcquireLock attempts to acquire the lock for the given job key
	// Returns true if lock was acquired, false if already held
	AcquireLock(ctx context.Context, jobKey string) (bool, error)

	// ReleaseLock releases the lock for the given job key
	ReleaseLock(ctx context.Context, jobKey string) error

	// IsLocked checks if a job is currently locked
	IsLocked(ctx context.Context, jobKey string) (bool, error)
}

// LockBackend selects a JobLockManager implementation.
type LockBackend string

const (
	LockBackendMemory   LockBackend = "memory"
	LockBackendPostgres LockBackend = "postgres"
)

// ParseLockBackend parses a backend name, defaulting to memory.
func ParseLockBackend(s string) (LockBackend, error) {
	switch LockBackend(strings.ToLower(strings.TrimSpace(s))) {
	case "", LockBackendMemory:
		return LockBackendMemory, nil
	case LockBackendPostgres:
		return LockBackendPostgres, nil
	default:
		return "", fmt.Errorf("unknown lock backend %q (use memory or postgres)", s)
	}
}

// MemoryLockManager locks jobs within a single process
type MemoryLockManager struct {
	mu    sync.Mutex
	locks map[string]bool
}

// NewMemoryLockManager creates an in-process lock manager
func NewMemoryLockManager() *MemoryLockManager {
	return &MemoryLockManager{locks: make(map[string]bool)}
}

func (m *MemoryLockManager) AcquireLock(_ context.Context, jobKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks[jobKey] {
		return false, nil
	}
	m.locks[jobKey] = true
	return true, nil
}

func (m *MemoryLockManager) ReleaseLock(_ context.Context, jobKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, jobKey)
	return nil
}

func (m *MemoryLockManager) IsLocked(_ context.Context, jobKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[jobKey], nil
}

// Session is a single database connection. Advisory locks belong to the
// session that took them, so a held lock keeps its session checked out.
type Session interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

// SessionPool hands out dedicated sessions
type SessionPool interface {
	AcquireSession(ctx context.Context) (Session, error)
}

type pgxSessions struct {
	pool *pgxpool.Pool
}

// PoolSessions adapts a pgx pool to SessionPool
func PoolSessions(pool *pgxpool.Pool) SessionPool {
	return pgxSessions{pool: pool}
}

func (p pgxSessions) AcquireSession(ctx context.Context) (Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// PostgreSQLLockManager implements cross-instance locking using PostgreSQL advisory locks
type PostgreSQLLockManager struct {
	sessions SessionPool
	logger   *logger.Logger

	// mu guards held only; it is never held across database calls. A key
	// mapped to a nil session is being acquired.
	mu   sync.Mutex
	held map[string]Session
}

// NewPostgreSQLLockManager creates a new PostgreSQL-based lock manager
func NewPostgreSQLLockManager(sessions SessionPool, log *logger.Logger) *PostgreSQLLockManager {
	if log == nil {
		log = logger.New("job-lock-manager")
	}
	return &PostgreSQLLockManager{
		sessions: sessions,
		logger:   log,
		held:     make(map[string]Session),
	}
}

// generateLockID creates a consistent numeric lock ID from job key
// PostgreSQL advisory locks require int64 keys
func (p *PostgreSQLLockManager) generateLockID(jobKey string) int64 {
	hash := md5.Sum([]byte(jobKey))

	lockID := int64(0)
	for i := 0; i < 8; i++ {
		lockID = lockID<<8 + int64(hash[i])
	}

	if lockID < 0 {
		lockID = -lockID
	}

	return lockID
}

// reserve marks jobKey as being acquired. It fails if this instance already
// holds or is acquiring the key.
func (p *PostgreSQLLockManager) reserve(jobKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.held[jobKey]; ok {
		return false
	}
	p.held[jobKey] = nil
	return true
}

func (p *PostgreSQLLockManager) commit(jobKey string, session Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held[jobKey] = session
}

func (p *PostgreSQLLockManager) rollback(jobKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.held, jobKey)
}

// AcquireLock attempts to acquire the advisory lock for the given job
func (p *PostgreSQLLockManager) AcquireLock(ctx context.Context, jobKey string) (bool, error) {
	lockID := p.generateLockID(jobKey)
	if !p.reserve(jobKey) {
		p.logger.Debug().
			Str("job_key", jobKey).
			Int64("lock_id", lockID).
			Str("action", "lock_already_held").
			Msg("Lock already held by this instance")
		return false, nil
	}

	session, err := p.sessions.AcquireSession(ctx)
	if err != nil {
		p.rollback(jobKey)
		return false, fmt.Errorf("failed to acquire session for job %s: %w", jobKey, err)
	}

	// pg_try_advisory_lock returns immediately
	var acquired bool
	if err := session.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		session.Release()
		p.rollback(jobKey)
		p.logger.Error().
			Err(err).
			Str("job_key", jobKey).
			Int64("lock_id", lockID).
			Str("action", "acquire_lock_failed").
			Msg("Failed to acquire advisory lock")
		return false, fmt.Errorf("failed to acquire lock for job %s: %w", jobKey, err)
	}

	if !acquired {
		session.Release()
		p.rollback(jobKey)
		p.logger.Debug().
			Str("job_key", jobKey).
			Int64("lock_id", lockID).
			Str("action", "lock_already_held").
			Msg("Lock already held by another instance")
		return false, nil
	}

	p.commit(jobKey, session)
	p.logger.Debug().
		Str("job_key", jobKey).
		Int64("lock_id", lockID).
		Str("action", "lock_acquired").
		Msg("Acquired advisory lock")
	return true, nil
}

// ReleaseLock releases the advisory lock and returns its session to the pool
func (p *PostgreSQLLockManager) ReleaseLock(ctx context.Context, jobKey string) error {
	p.mu.Lock()
	session, ok := p.held[jobKey]
	if ok && session != nil {
		delete(p.held, jobKey)
	}
	p.mu.Unlock()

	lockID := p.generateLockID(jobKey)
	if !ok || session == nil {
		p.logger.Warn().
			Str("job_key", jobKey).
			Int64("lock_id", lockID).
			Str("action", "lock_not_held").
			Msg("Attempted to release lock that was not held")
		return nil
	}
	defer session.Release()

	var released bool
	if err := session.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", lockID).Scan(&released); err != nil {
		p.logger.Error().
			Err(err).
			Str("job_key", jobKey).
			Int64("lock_id", lockID).
			Str("action", "release_lock_failed").
			Msg("Failed to release advisory lock")
		return fmt.Errorf("failed to release lock for job %s: %w", jobKey, err)
	}

	if !released {
		p.logger.Warn().
			Str("job_key", jobKey).
			Int64("lock_id", lockID).
			Str("action", "lock_not_held").
			Msg("Database reported the lock as not held")
	}
	return nil
}

// IsLocked checks if a job is currently locked by this or another instance
func (p *PostgreSQLLockManager) IsLocked(ctx context.Context, jobKey string) (bool, error) {
	p.mu.Lock()
	_, mine := p.held[jobKey]
	p.mu.Unlock()
	if mine {
		return true, nil
	}

	session, err := p.sessions.AcquireSession(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire session for job %s: %w", jobKey, err)
	}
	defer session.Release()

	lockID := p.generateLockID(jobKey)
	var canAcquire bool
	if err := session.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&canAcquire); err != nil {
		return false, fmt.Errorf("failed to check lock status for job %s: %w", jobKey, err)
	}
	if !canAcquire {
		return true, nil
	}

	var released bool
	if err := session.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", lockID).Scan(&released); err != nil {
		p.logger.Warn().
			Err(err).
			Str("job_key", jobKey).
			Msg("Failed to release lock after check")
	}
	return false, nil
}

// LockGuard releases a lock it acquired exactly once
type LockGuard struct {
	lockManager JobLockManager
	jobKey      string
	acquired    bool
}

// NewLockGuard creates a new lock guard that automatically releases on defer
func NewLockGuard(lockManager JobLockManager, jobKey string) *LockGuard {
	return &LockGuard{
		lockManager: lockManager,
		jobKey:      jobKey,
	}
}

// Acquire attempts to acquire the lock
func (lg *LockGuard) Acquire(ctx context.Context) (bool, error) {
	acquired, err := lg.lockManager.AcquireLock(ctx, lg.jobKey)
	if err != nil {
		return false, err
	}
	lg.acquired = acquired
	return acquired, nil
}

// Release releases the lock if it was acquired
func (lg *LockGuard) Release(ctx context.Context) error {
	if !lg.acquired {
		return nil
	}

	if err := lg.lockManager.ReleaseLock(ctx, lg.jobKey); err != nil {
		return err
	}

	lg.acquired = false
	return nil
}

// IsAcquired returns whether the lock is currently held by this guard
func (lg *LockGuard) IsAcquired() bool {
	return lg.acquired
}
