package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/iddaa-lens/cronrunner/pkg/shutdown"
)

// exitError carries a specific process status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(exitCode(newRootCmd().ExecuteContext(context.Background())))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var terminated *shutdown.TerminatedError
	if errors.As(err, &terminated) {
		return shutdown.ExitCode
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var exit *exitError
	if errors.As(err, &exit) && exit.code > 0 {
		return exit.code
	}
	return 1
}
