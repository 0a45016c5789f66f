package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iddaa-lens/cronrunner/pkg/jobs"
	"github.com/iddaa-lens/cronrunner/pkg/logger"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    []jobs.Command
	release  chan struct{}
	started  chan struct{}
	exitCode int
	launched bool
	err      error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{launched: true, started: make(chan struct{}, 16)}
}

func (f *fakeRunner) Run(ctx context.Context, cmd jobs.Command) (int, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	release := f.release
	f.mu.Unlock()

	f.started <- struct{}{}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return -1, true, ctx.Err()
		}
	}
	return f.exitCode, f.launched, f.err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recorder struct {
	mu       sync.Mutex
	outcomes map[string][]jobs.Outcome
}

func newRecorder() *recorder {
	return &recorder{outcomes: make(map[string][]jobs.Outcome)}
}

func (r *recorder) RecordOutcome(name string, o jobs.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[name] = append(r.outcomes[name], o)
}

func (r *recorder) get(name string) []jobs.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]jobs.Outcome(nil), r.outcomes[name]...)
}

func testJob(name string) jobs.Job {
	return jobs.Job{
		Name:     name,
		Key:      name,
		Schedule: "* * * * *",
		Command:  jobs.Command{Path: "/bin/bash", Args: []string{"/code/scripts/" + name + ".sh"}},
	}
}

func TestDispatch_DoesNotBlock(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	rec := newRecorder()
	d := New(Options{Runner: runner, Recorder: rec, Logger: logger.Nop()})

	done := make(chan struct{})
	go func() {
		d.Dispatch(testJob("slow"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a running job")
	}

	<-runner.started
	close(runner.release)
	d.Wait()

	got := rec.get("slow")
	if len(got) != 1 || !got[0].Succeeded() {
		t.Fatalf("unexpected outcomes %+v", got)
	}
	if got[0].RunID == "" {
		t.Fatal("expected a run ID")
	}
}

func TestDispatch_OverlapAllowed(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	d := New(Options{Runner: runner, Logger: logger.Nop()})

	job := testJob("overlap")
	d.Dispatch(job)
	d.Dispatch(job)

	<-runner.started
	<-runner.started
	if runner.callCount() != 2 {
		t.Fatalf("expected two concurrent runs, got %d", runner.callCount())
	}

	close(runner.release)
	d.Wait()
}

func TestDispatch_OverlapSkipped(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	rec := newRecorder()
	d := New(Options{Runner: runner, Overlap: OverlapSkip, Recorder: rec, Logger: logger.Nop()})

	job := testJob("exclusive")
	d.Dispatch(job)
	<-runner.started

	second := d.Run(context.Background(), job)
	if !second.Skipped {
		t.Fatalf("expected overlapping run to be skipped, got %+v", second)
	}
	if second.FinishedAt != nil {
		t.Fatalf("skipped run must not carry a finish time, got %v", second.FinishedAt)
	}
	encoded, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal outcome: %v", err)
	}
	if strings.Contains(string(encoded), "finished_at") {
		t.Fatalf("skipped outcome should omit finished_at, got %s", encoded)
	}

	close(runner.release)
	d.Wait()

	third := d.Run(context.Background(), job)
	if third.Skipped {
		t.Fatal("lock should be released after the first run finished")
	}
	if third.FinishedAt == nil || third.FinishedAt.Before(third.StartedAt) {
		t.Fatalf("completed run needs a finish time after its start, got %+v", third)
	}
	if runner.callCount() != 2 {
		t.Fatalf("expected 2 runner calls, got %d", runner.callCount())
	}
}

// stuckLocks never answers until the caller gives up
type stuckLocks struct{}

func (stuckLocks) AcquireLock(ctx context.Context, jobKey string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (stuckLocks) ReleaseLock(ctx context.Context, jobKey string) error { return nil }

func (stuckLocks) IsLocked(ctx context.Context, jobKey string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestRun_LockAcquireIsBounded(t *testing.T) {
	runner := newFakeRunner()
	d := New(Options{
		Runner:      runner,
		Overlap:     OverlapSkip,
		Locks:       stuckLocks{},
		LockTimeout: 50 * time.Millisecond,
		Logger:      logger.Nop(),
	})

	done := make(chan jobs.Outcome, 1)
	go func() { done <- d.Run(context.Background(), testJob("stuck")) }()

	select {
	case outcome := <-done:
		if outcome.ExitCode != -1 || !strings.Contains(outcome.Error, "deadline") {
			t.Fatalf("expected a lock timeout failure, got %+v", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lock acquire was not bounded")
	}
	if runner.callCount() != 0 {
		t.Fatal("job must not run without the lock")
	}
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name       string
		exitCode   int
		launched   bool
		err        error
		wantLaunch bool
	}{
		{name: "non-zero exit", exitCode: 3, launched: true, err: errors.New("exit status 3")},
		{name: "launch failure", exitCode: -1, launched: false, err: errors.New("no such file"), wantLaunch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			runner.exitCode, runner.launched, runner.err = tt.exitCode, tt.launched, tt.err

			var buf bytes.Buffer
			rec := newRecorder()
			d := New(Options{Runner: runner, Recorder: rec, Logger: logger.NewWithWriter("test", &buf)})

			outcome := d.Run(context.Background(), testJob("failing"))
			if outcome.Succeeded() {
				t.Fatal("expected failure outcome")
			}
			if outcome.ExitCode != tt.exitCode {
				t.Errorf("ExitCode = %d, want %d", outcome.ExitCode, tt.exitCode)
			}
			if tt.wantLaunch && !strings.Contains(outcome.Error, "failed to launch") {
				t.Errorf("expected launch failure message, got %q", outcome.Error)
			}
			if !strings.Contains(buf.String(), `"action":"job_failed"`) {
				t.Errorf("expected job_failed log line, got %s", buf.String())
			}
			if len(rec.get("failing")) != 1 {
				t.Fatal("failure must still be recorded")
			}
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	d := New(Options{Runner: runner, Timeout: 20 * time.Millisecond, Logger: logger.Nop()})

	outcome := d.Run(context.Background(), testJob("hang"))
	if outcome.Succeeded() {
		t.Fatal("timed out run must not succeed")
	}
	if !strings.Contains(outcome.Error, context.DeadlineExceeded.Error()) {
		t.Errorf("expected deadline error, got %q", outcome.Error)
	}
}

func TestExecRunner(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	var out bytes.Buffer
	r := &ExecRunner{Stdout: &out, Stderr: &out}

	code, launched, err := r.Run(context.Background(), jobs.Command{Path: "/bin/sh", Args: []string{"-c", "echo hello"}})
	if err != nil || code != 0 || !launched {
		t.Fatalf("Run = %d, %v, %v", code, launched, err)
	}
	if strings.TrimSpace(out.String()) != "hello" {
		t.Errorf("unexpected output %q", out.String())
	}

	code, launched, err = r.Run(context.Background(), jobs.Command{Path: "/bin/sh", Args: []string{"-c", "exit 3"}})
	if err == nil || code != 3 || !launched {
		t.Fatalf("Run = %d, %v, %v; want exit 3", code, launched, err)
	}

	_, launched, err = r.Run(context.Background(), jobs.Command{Path: "/definitely/not/here"})
	if err == nil || launched {
		t.Fatalf("expected launch failure, got launched=%v err=%v", launched, err)
	}
}

func TestParseOverlapPolicy(t *testing.T) {
	if p, err := ParseOverlapPolicy(""); err != nil || p != OverlapAllow {
		t.Fatalf("default = %q, %v", p, err)
	}
	if p, err := ParseOverlapPolicy("Skip"); err != nil || p != OverlapSkip {
		t.Fatalf("skip = %q, %v", p, err)
	}
	if _, err := ParseOverlapPolicy("queue"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
