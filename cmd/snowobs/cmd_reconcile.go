package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/glacioclim/snowobs/internal/snow"
)

var (
	reconcileMaxDates int
	reconcileDryRun   bool
	reconcileOut      string
	reconcileSoftExit bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Retry the missing-observation registry",
	Long: `Re-run the full acquisition path for every (station, day) pair in the
registry, emit observations that now resolve, and remove them from the
registry. Entries that stay empty are left for the next run.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().IntVar(&reconcileMaxDates, "max-dates-per-station", 0, "skip stations with more outstanding dates than this (0 = no limit)")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "report what would resolve without touching the registry")
	reconcileCmd.Flags().StringVar(&reconcileOut, "out", "", "output CSV path (default stdout)")
	reconcileCmd.Flags().BoolVar(&reconcileSoftExit, "soft-exit", false, "exit 0 even when entries remain outstanding")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()

	cfg, err := newApp()
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}

	if len(eng.registry.Load()) == 0 {
		slog.Info("registry empty, nothing to reconcile", "path", eng.registry.Path())
		return nil
	}

	stations, err := eng.stations(0)
	if err != nil {
		return err
	}
	if err := eng.mintToken(ctx); err != nil {
		return err
	}

	out, closeOut, err := openOutput(reconcileOut)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeOut(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := snow.NewWriter(out)
	outstanding, err := eng.fetcher.Reconcile(ctx, stations, eng.registry, w, snow.ReconcileOptions{
		MaxDatesPerStation: reconcileMaxDates,
		DryRun:             reconcileDryRun,
	})
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	slog.Info("reconcile finished", "outstanding", outstanding, "dry_run", reconcileDryRun)
	if outstanding > 0 && !reconcileSoftExit {
		return fmt.Errorf("%d entries still unresolved: %w", outstanding, errIncomplete)
	}
	return nil
}
