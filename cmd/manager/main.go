// Package main implements the manager binary: the tracking HTTP service and
// operator commands over its database.
package main

import (
	"fmt"
	"os"

	"github.com/epimonitor/manager/internal/config"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configFile string
	dataDir    string
)

var rootCmd = &cobra.Command{
	Use:   "manager",
	Short: "Extractor run tracking service",
	Long: `manager - tracks extractor sessions, their logs and uploaded files

Extractors open a session, stream log events, upload artifacts to the data
bucket and close the session with a final status. Operators query sessions
and the weekly upload report.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.Storage.Path = ""
		cfg.Collector.SpoolDir = ""
		cfg.Resolve()
	}
	return cfg, nil
}
