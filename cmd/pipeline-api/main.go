package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go-etl-pipeline/internal/api"
	"go-etl-pipeline/internal/config"
	"go-etl-pipeline/internal/logger"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "pipeline-api",
		Short:         "Serve the pipeline run API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
				return err
			}
			defer logger.Cleanup()
			// Starts server on cfg.Server.Addr, :8080 by default
			return api.Serve(cmd.Context(), cfg, logger.ComponentLogger("api"))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (toml, yaml or json)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline-api: %v\n", err)
		os.Exit(1)
	}
}
