package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iddaa-lens/cronrunner/pkg/shutdown"
)

func (c *cli) newOnceCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "once <job>",
		Short: "Run a single job now and exit with its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := shutdown.New(c.log).Watch(cmd.Context())
			defer stop()

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			c.log.Info().
				Str("action", "run_once").
				Str("job_name", args[0]).
				Msgf("Running %s once...", args[0])

			outcome, err := a.RunOnce(ctx, args[0])
			if err != nil {
				return err
			}
			if cause := context.Cause(ctx); cause != nil {
				var terminated *shutdown.TerminatedError
				if errors.As(cause, &terminated) {
					return cause
				}
			}
			if outcome.Skipped {
				return &exitError{code: 1, err: fmt.Errorf("job %s skipped: previous run still in progress", args[0])}
			}
			if !outcome.Succeeded() {
				return &exitError{code: outcome.ExitCode, err: errors.New(outcome.Error)}
			}

			c.log.Info().
				Str("action", "run_once_complete").
				Str("job_name", args[0]).
				Msgf("%s completed successfully", args[0])
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "maximum run time, 0 disables")
	return cmd
}
