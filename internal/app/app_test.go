package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/iddaa-lens/cronrunner/internal/config"
	"github.com/iddaa-lens/cronrunner/pkg/dispatch"
	"github.com/iddaa-lens/cronrunner/pkg/jobs"
	"github.com/iddaa-lens/cronrunner/pkg/loader"
	"github.com/iddaa-lens/cronrunner/pkg/logger"
)

type stubRunner struct {
	mu    sync.Mutex
	calls []jobs.Command
	code  int
	err   error
}

func (r *stubRunner) Run(_ context.Context, cmd jobs.Command) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd)
	return r.code, true, r.err
}

func testConfig(scriptsDir string) *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{
			Timezone:         "UTC",
			InvalidJobPolicy: "abort",
			OverlapPolicy:    "allow",
			LockBackend:      "memory",
		},
		Jobs: config.JobsConfig{
			Source:     "env",
			Prefix:     "RS_",
			ScriptsDir: scriptsDir,
		},
	}
}

func scriptsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("#!/bin/bash\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestNew_EnvSource(t *testing.T) {
	dir := scriptsDir(t, "ping.sh", "BACKUP/daily.py")
	runner := &stubRunner{}

	a, err := New(context.Background(), testConfig(dir), logger.Nop(),
		WithRunner(runner),
		WithEnviron([]string{"RS_PING=*/5 * * * *", "RS_BACKUP_DAILY=0 3 * * *"}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Registry().Len() != 2 {
		t.Fatalf("expected 2 jobs, got %d", a.Registry().Len())
	}
	if a.Location().String() != "UTC" {
		t.Errorf("Location = %s", a.Location())
	}

	outcome, err := a.RunOnce(context.Background(), "backup-daily")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !outcome.Succeeded() {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(runner.calls) != 1 || runner.calls[0].Path != "python3" {
		t.Fatalf("unexpected runner calls %+v", runner.calls)
	}

	status, _ := a.Registry().Lookup("backup-daily")
	if status.LastOutcome == nil || status.LastOutcome.RunID != outcome.RunID {
		t.Error("RunOnce outcome must be recorded in the registry")
	}

	if _, err := a.RunOnce(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestNew_InvalidDefinitions(t *testing.T) {
	dir := scriptsDir(t, "ping.sh", "bad.sh")
	environ := []string{"RS_PING=* * * * *", "RS_MISSING=* * * * *", "RS_BAD=70 * * * *"}

	_, err := New(context.Background(), testConfig(dir), logger.Nop(), WithEnviron(environ))
	var cfgErr *jobs.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	if len(cfgErr.Problems) != 2 {
		t.Fatalf("expected loader and cron problems to be reported together, got %v", cfgErr.Problems)
	}
	if !errors.Is(err, loader.ErrScriptNotFound) {
		t.Error("missing script should be reachable through errors.Is")
	}

	cfg := testConfig(dir)
	cfg.Scheduler.InvalidJobPolicy = "skip"
	a, err := New(context.Background(), cfg, logger.Nop(), WithEnviron(environ))
	if err != nil {
		t.Fatalf("skip policy: %v", err)
	}
	if a.Registry().Len() != 1 {
		t.Fatalf("expected only the valid job, got %d", a.Registry().Len())
	}
}

func TestNew_NoJobs(t *testing.T) {
	_, err := New(context.Background(), testConfig(t.TempDir()), logger.Nop(), WithEnviron([]string{}))
	var cfgErr *jobs.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
}

func TestParseSettings(t *testing.T) {
	cfg := testConfig("")
	cfg.Scheduler.Timezone = "Mars/Olympus"
	cfg.Scheduler.OverlapPolicy = "queue"
	cfg.Jobs.Source = "consul"

	_, err := ParseSettings(cfg)
	var cfgErr *jobs.ConfigurationError
	if !errors.As(err, &cfgErr) || len(cfgErr.Problems) != 3 {
		t.Fatalf("expected three problems, got %v", err)
	}

	cfg = testConfig("")
	cfg.Scheduler.OverlapPolicy = "skip"
	cfg.Scheduler.LockBackend = "postgres"
	s, err := ParseSettings(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !s.NeedsDatabase() {
		t.Error("postgres locks need a database")
	}
	if s.Overlap != dispatch.OverlapSkip {
		t.Errorf("Overlap = %q", s.Overlap)
	}
}

func TestRun_ReturnsCancelCause(t *testing.T) {
	dir := scriptsDir(t, "ping.sh")
	a, err := New(context.Background(), testConfig(dir), logger.Nop(),
		WithRunner(&stubRunner{}),
		WithEnviron([]string{"RS_PING=* * * * *"}),
	)
	if err != nil {
		t.Fatal(err)
	}

	cause := errors.New("terminated")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	if err := a.Run(ctx); !errors.Is(err, cause) {
		t.Fatalf("Run returned %v", err)
	}
}

// lockedBuffer lets the test read log output written by other goroutines
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_WaitsForStatusServer(t *testing.T) {
	dir := scriptsDir(t, "ping.sh")
	cfg := testConfig(dir)
	cfg.Status.Addr = "127.0.0.1:0"

	var out lockedBuffer
	a, err := New(context.Background(), cfg, logger.NewWithWriter("app-test", &out),
		WithRunner(&stubRunner{}),
		WithEnviron([]string{"RS_PING=* * * * *"}),
	)
	if err != nil {
		t.Fatal(err)
	}

	cause := errors.New("terminated")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	if err := a.Run(ctx); !errors.Is(err, cause) {
		t.Fatalf("Run returned %v", err)
	}
	logs := out.String()
	if !strings.Contains(logs, `"action":"server_stop"`) && !strings.Contains(logs, `"action":"server_failed"`) {
		t.Fatalf("Run returned before the status server finished:\n%s", logs)
	}
}
