package main

import (
	"github.com/spf13/cobra"

	"github.com/iddaa-lens/cronrunner/pkg/shutdown"
)

func (c *cli) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load jobs and run them on schedule until terminated",
		Args:  cobra.NoArgs,
		RunE:  c.runScheduler,
	}
}

// runScheduler only returns on error: a termination signal surfaces as a
// *shutdown.TerminatedError.
func (c *cli) runScheduler(cmd *cobra.Command, _ []string) error {
	a, err := c.newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := shutdown.New(c.log).Watch(cmd.Context())
	defer stop()

	return a.Run(ctx)
}
