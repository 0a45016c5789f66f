package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iddaa-lens/cronrunner/pkg/logger"
)

func (c *cli) newValidateCmd() *cobra.Command {
	var next int

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate jobs, print upcoming runs, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if next < 1 {
				return fmt.Errorf("--next must be at least 1, got %d", next)
			}
			a, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			now := time.Now()
			loc := a.Location()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "JOB\tSCHEDULE\tCOMMAND\tNEXT (%s)\n", loc)
			for _, job := range a.Registry().Jobs() {
				times, err := a.Evaluator().Upcoming(job.Schedule, now, next)
				if err != nil {
					return fmt.Errorf("job %q: %w", job.Name, err)
				}
				formatted := make([]string, 0, len(times))
				for _, t := range times {
					formatted = append(formatted, t.In(loc).Format(logger.HumanTimeFormat))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", job.Name, job.Schedule, job.Command, strings.Join(formatted, "; "))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&next, "next", "n", 1, "number of upcoming run times to print per job")
	return cmd
}
