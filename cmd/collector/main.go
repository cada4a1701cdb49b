// Package main implements the collector binary: lab record intake and relay
// of spooled files to the manager.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/epimonitor/manager/internal/app"
	"github.com/epimonitor/manager/internal/config"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configFile string
	spoolDir   string
	managerURL string
)

var rootCmd = &cobra.Command{
	Use:           "collector",
	Short:         "Lab record intake and relay",
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept lab records over HTTP and spool them by date",
	Long: `Accept POST /data/{lab}/ with {"data": [...]} and write one JSON file
per lab and date to the spool directory.

Examples:
  collector serve
  collector serve --addr :8001 --spool-dir /var/spool/collector`,
	RunE: runServe,
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Upload pending spool files to the manager",
	Long: `Upload every pending spool file to the manager, one session per lab.
Uploaded files move to {spool}/{lab}/sent; failed files stay pending.

Examples:
  collector relay --manager-url http://manager:8000`,
	RunE: runRelay,
}

var serveAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&spoolDir, "spool-dir", "", "Spool directory (overrides config)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	relayCmd.Flags().StringVar(&managerURL, "manager-url", "", "Manager base URL (overrides config)")
	rootCmd.AddCommand(serveCmd, relayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadCollector() (*app.Collector, *config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if spoolDir != "" {
		cfg.Collector.SpoolDir = spoolDir
	}
	if serveAddr != "" {
		cfg.Collector.Addr = serveAddr
	}
	if managerURL != "" {
		cfg.Collector.ManagerURL = managerURL
	}

	coll, err := app.NewCollector(cfg, app.NewLogger(cfg.Log, os.Stderr))
	if err != nil {
		return nil, nil, err
	}
	return coll, cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	coll, _, err := loadCollector()
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := coll.Start(ctx); err != nil {
		return err
	}
	return coll.Wait(ctx)
}

func runRelay(cmd *cobra.Command, args []string) error {
	coll, cfg, err := loadCollector()
	if err != nil {
		return err
	}

	results, err := coll.Relay(cmd.Context())
	out := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintf(out, "%-10s sent=%d failed=%d session=%s\n", r.Lab, r.Sent, r.Failed, r.SessionID)
	}
	if len(results) == 0 && err == nil {
		fmt.Fprintf(out, "Nothing to relay in %s\n", cfg.Collector.SpoolDir)
	}
	return err
}
