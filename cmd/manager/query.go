package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/epimonitor/manager/internal/app"
	"github.com/epimonitor/manager/internal/config"
	"github.com/epimonitor/manager/pkg/types"
	"github.com/spf13/cobra"
)

var (
	sessionsApp   string
	sessionsLimit int
	reportJSON    bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "List sessions, or show one session with its logs and files",
	Long: `List recent sessions newest first, or show one session in detail.

Examples:
  manager sessions
  manager sessions --app sivep-extractor --limit 10
  manager sessions sivep-extractor-20260306101500-0421337`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show which organizations uploaded since the last report weekday",
	RunE:  runReport,
}

var matricesCmd = &cobra.Command{
	Use:   "matrices",
	Short: "List published matrices in the public bucket",
	RunE:  runMatrices,
}

func init() {
	rootCmd.AddCommand(sessionsCmd, reportCmd, matricesCmd)
	sessionsCmd.Flags().StringVar(&sessionsApp, "app", "", "Filter by app name")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions to display")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the report as JSON")
}

// openApp opens the service without starting the HTTP server. Logs go to
// stderr at warn so command output stays readable.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(config.LogConfig{Level: "warn", Format: cfg.Log.Format}, os.Stderr)

	application, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := application.Open(ctx); err != nil {
		application.Stop(ctx)
		return nil, err
	}
	return application, nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Stop(ctx)

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		return showSession(ctx, out, application, args[0])
	}

	sessions, err := application.Service().ListSessions(ctx, sessionsApp, sessionsLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	fmt.Fprintf(out, "Showing %d session(s)\n\n", len(sessions))
	for _, s := range sessions {
		printSession(out, s)
	}
	return nil
}

func printSession(out io.Writer, s *types.Session) {
	fmt.Fprintf(out, "%s\n", s.SessionID)
	fmt.Fprintf(out, "    App:     %s\n", s.AppName)
	fmt.Fprintf(out, "    Status:  %s\n", s.Status)
	fmt.Fprintf(out, "    Started: %s (%s)\n", s.Start.Format("2006-01-02 15:04:05"), humanize.Time(s.Start))
	if s.End != nil {
		fmt.Fprintf(out, "    Ended:   %s (took %s)\n", s.End.Format("2006-01-02 15:04:05"),
			strings.TrimSpace(humanize.RelTime(s.Start, *s.End, "", "")))
	}
	fmt.Fprintln(out)
}

func showSession(ctx context.Context, out io.Writer, application *app.App, sessionID string) error {
	svc := application.Service()
	session, err := svc.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	printSession(out, session)

	logs, err := svc.ListLogs(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Logs (%d):\n", len(logs))
	for _, l := range logs {
		fmt.Fprintf(out, "  %s %-8s %s\n", l.Timestamp.Format("15:04:05"), l.Level, l.Message)
	}

	files, err := svc.ListFiles(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nFiles (%d):\n", len(files))
	for _, f := range files {
		fmt.Fprintf(out, "  %s  %s/%s  %s\n", humanize.Time(f.UploadTS), f.Project, f.Organization, f.Filename)
	}
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Stop(ctx)

	report, err := application.Service().ListRecentUploads(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if reportJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "Uploads since %s (%s, %s)\n\n",
		report.WindowStart.Format("Mon 2006-01-02"), report.Weekday, humanize.Time(report.WindowStart))
	for _, p := range report.Projects {
		fmt.Fprintf(out, "%s\n", strings.ToUpper(p.Project))
		for _, o := range p.Organizations {
			fmt.Fprintf(out, "  %-10s %-15s %s\n", o.Organization, o.State, strings.Join(o.Files, ", "))
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runMatrices(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Stop(ctx)

	matrices, err := application.Service().ListMatrices(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(matrices) == 0 {
		fmt.Fprintln(out, "No matrices published.")
		return nil
	}
	for _, m := range matrices {
		fmt.Fprintf(out, "%-8s %-40s %8s  %s\n", m.Project, m.Name, humanize.Bytes(uint64(m.Size)), humanize.Time(m.LastModified))
		if m.URL != "" {
			fmt.Fprintf(out, "         %s\n", m.URL)
		}
	}
	return nil
}
