//go:build unix

package shutdown

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/iddaa-lens/cronrunner/pkg/logger"
)

func TestCoordinator_RealSignal(t *testing.T) {
	c := New(logger.Nop())
	ctx, stop := c.Watch(context.Background())
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Skipf("cannot signal self: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("SIGINT did not cancel the context")
	}
	var terminated *TerminatedError
	if !errors.As(context.Cause(ctx), &terminated) || terminated.Signal != os.Interrupt {
		t.Fatalf("cause = %v, want interrupt", context.Cause(ctx))
	}
}
