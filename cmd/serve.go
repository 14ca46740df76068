package cmd

import (
	"context"
	"fmt"

	"chronicle/bootstrap"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the alerting service",
		Long: `Start the HTTP API, the event worker pool and notification dispatch.

Configuration is read from config.yaml and CHRONICLE_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configFile != "" {
				viper.SetConfigFile(opts.configFile)
			}
			return runServer(cmd.Context())
		},
	}
}

// runServer initializes and runs the service until a shutdown signal
func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	waitErr := app.WaitForShutdown()
	app.Shutdown()
	if waitErr != nil {
		return fmt.Errorf("API server stopped: %w", waitErr)
	}
	return nil
}
