package dispatch

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"

	"github.com/iddaa-lens/cronrunner/pkg/jobs"
	"github.com/iddaa-lens/cronrunner/pkg/logger"
)

// Runner executes a resolved command and waits for it.
type Runner interface {
	// Run returns the exit code of the process. launched is false when the
	// process never started.
	Run(ctx context.Context, cmd jobs.Command) (exitCode int, launched bool, err error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	// Env is appended to the parent environment
	Env []string
}

// NewExecRunner returns a runner whose children inherit stdout and stderr.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}
}

func (r *ExecRunner) Run(ctx context.Context, cmd jobs.Command) (int, bool, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Stdout = r.Stdout
	c.Stderr = r.Stderr
	if len(r.Env) > 0 {
		c.Env = append(os.Environ(), r.Env...)
	}

	if err := c.Start(); err != nil {
		return -1, false, err
	}
	logger.WithContext(ctx, "dispatcher").Debug().
		Str("action", "process_started").
		Int("pid", c.Process.Pid).
		Msg("Job process started")

	err := c.Wait()
	if err == nil {
		return 0, true, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true, err
	}
	return -1, true, err
}
