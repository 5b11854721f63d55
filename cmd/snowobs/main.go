package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// errIncomplete marks a run that finished cleanly but left work
// outstanding. The scheduler reads the exit code and retries on its
// next cycle; convergence happens across runs, not within one.
var errIncomplete = errors.New("entries remain outstanding")

var rootCmd = &cobra.Command{
	Use:   "snowobs",
	Short: "Snow observation acquisition from the Météo-France DPClim API",
	Long: `snowobs drives the DPClim asynchronous export protocol to collect one
snow observation per station and day, records the (station, day) pairs
that produced nothing, and resolves them on later runs.

Exit codes: 0 when everything resolved, 1 when entries remain
outstanding, 2 on fatal errors.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errIncomplete) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}
