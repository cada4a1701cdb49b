package main

import (
	"context"
	"os"

	"github.com/epimonitor/manager/internal/app"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the manager HTTP service",
	Long: `Run the manager HTTP service until SIGINT or SIGTERM.

Examples:
  manager serve
  manager serve --addr :9000 --data-dir /var/lib/manager
  MANAGER_STORAGE_TYPE=s3 MANAGER_S3_ENDPOINT=http://minio:9000 manager serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}

	logger := app.NewLogger(cfg.Log, os.Stderr)
	logger.Info("starting manager",
		"version", version,
		"addr", cfg.HTTP.Addr,
		"data_dir", cfg.DataDir,
		"storage", cfg.Storage.Type,
	)

	application, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		return err
	}
	return application.Wait(ctx)
}
