package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/glacioclim/snowobs/internal/missing"
)

var (
	cleanupDays   int
	cleanupDryRun bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old entries from the missing-observation registry",
	Long: `Drop registry entries older than the retention window, resolved or
not. Gaps beyond the window are accepted instead of retried forever.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention in days (default MISSING_RETENTION_DAYS)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be purged without rewriting the registry")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := newApp()
	if err != nil {
		return err
	}

	days := cleanupDays
	if days <= 0 {
		days = cfg.RetentionDays
	}

	reg := missing.NewRegistry(cfg.MissingFile)
	report, err := reg.Cleanup(days, cleanupDryRun)
	if err != nil {
		return err
	}

	slog.Info("cleanup finished",
		"path", report.Path,
		"keep_days", report.KeepDays,
		"cutoff", report.Cutoff,
		"before", report.Before,
		"after", report.After,
		"removed_old", report.RemovedOld,
		"removed_bad", report.RemovedBad,
		"dry_run", report.DryRun)
	return nil
}
