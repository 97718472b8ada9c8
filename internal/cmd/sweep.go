package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	sweepOnce     bool
	sweepInterval time.Duration
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Cancel pending reservations that were never started",
	Long: `Cancel pending reservations whose start plus the grace window has passed.
By default the sweep repeats on an interval until interrupted; use --once
to run a single pass, for example from an external scheduler.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "run a single pass and exit")
	sweepCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "override SWEEP_INTERVAL")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	if sweepInterval > 0 {
		rt.cfg.SweepInterval = sweepInterval
	}

	c, err := rt.buildCore()
	if err != nil {
		return err
	}

	if sweepOnce {
		res, err := c.jobs.CancelExpiredReservations(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired: %d cancelled: %d failed: %d\n", res.Found, res.Cancelled, res.Failed)
		return nil
	}

	if err := c.jobs.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	c.jobs.Stop()
	return nil
}
