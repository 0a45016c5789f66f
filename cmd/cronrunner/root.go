package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/iddaa-lens/cronrunner/internal/app"
	"github.com/iddaa-lens/cronrunner/internal/config"
	"github.com/iddaa-lens/cronrunner/pkg/logger"
)

const serviceName = "cronrunner"

type cli struct {
	cfg *config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   serviceName,
		Short: "cronrunner - run scripts on cron schedules",
		Long: `cronrunner loads job definitions (environment variables, a YAML file or a
PostgreSQL table), validates their cron expressions and runs each job's
command whenever it is due. Without a subcommand it behaves like "run".`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Args:              cobra.NoArgs,
		PersistentPreRunE: c.setup,
		RunE:              c.runScheduler,
	}

	root.AddCommand(c.newRunCmd(), c.newValidateCmd(), c.newOnceCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Pretty, logger.Meta{
		Environment: cfg.Logging.Environment,
		Version:     cfg.Logging.Version,
	})

	c.cfg = cfg
	c.log = logger.New(serviceName)
	return nil
}

func (c *cli) newApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, c.cfg, c.log)
	if err != nil {
		c.log.Error().
			Err(err).
			Str("action", "startup_failed").
			Msg("Failed to configure scheduler")
		return nil, err
	}
	return a, nil
}
