// Package shutdown turns termination signals into context cancellation.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/iddaa-lens/cronrunner/pkg/logger"
)

// ExitCode is the process status after a termination signal.
const ExitCode = 1

// TerminatedError is the cancellation cause set when a signal arrives.
type TerminatedError struct {
	Signal os.Signal
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("received signal %v", e.Signal)
}

// Coordinator cancels a context on SIGINT or SIGTERM. It does not wait for
// running jobs.
type Coordinator struct {
	logger  *logger.Logger
	signals []os.Signal
	notify  func(c chan<- os.Signal, sig ...os.Signal)
	stop    func(c chan<- os.Signal)

	once sync.Once
	ch   chan os.Signal
	done chan struct{}
}

// New creates a coordinator for SIGINT and SIGTERM.
func New(log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.New("shutdown")
	}
	return &Coordinator{
		logger:  log,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
		notify:  signal.Notify,
		stop:    signal.Stop,
		ch:      make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
}

// Watch returns a context that is cancelled with a *TerminatedError cause
// when a signal is received. Calling stop releases the signal handler.
func (c *Coordinator) Watch(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	c.notify(c.ch, c.signals...)

	go func() {
		select {
		case sig := <-c.ch:
			c.logger.Info().
				Str("action", "shutdown").
				Str("signal", sig.String()).
				Msgf("Received signal %v. Exiting...", sig)
			cancel(&TerminatedError{Signal: sig})
		case <-ctx.Done():
		case <-c.done:
		}
	}()

	return ctx, func() {
		c.once.Do(func() {
			c.stop(c.ch)
			close(c.done)
		})
		cancel(context.Canceled)
	}
}
