package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/provtrack/fieldsync/internal/daemon"
	"github.com/provtrack/fieldsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the long-lived sync process: watch connectivity, drain the queue
with per-type schedules, pick up new captures from the watch folders,
and serve the live dashboard.

The daemon runs until interrupted. Captures recorded by other fieldsync
commands while it runs are picked up immediately.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, dir, st := openEnv()
		defer st.Close()

		if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
			cfg.Dashboard.Port = port
		}
		if cmd.Flags().Changed("no-dashboard") {
			cfg.Dashboard.Enabled = false
		}

		d := daemon.New(cfg, st)

		fmt.Printf("%s fieldsync daemon started (%s)\n", ui.RenderPass("✓"), dir)
		if cfg.Dashboard.Enabled {
			fmt.Printf("  Dashboard: %s\n",
				ui.RenderAccent(fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port)))
		}
		if cfg.Watch.Enabled {
			if cfg.Watch.MediaDir != "" {
				fmt.Printf("  Watching media:  %s\n", cfg.Watch.MediaDir)
			}
			if cfg.Watch.TrackDir != "" {
				fmt.Printf("  Watching tracks: %s\n", cfg.Watch.TrackDir)
			}
		}
		fmt.Println("  Press Ctrl+C to stop")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			_ = st.Close()
			os.Exit(1)
		}
		fmt.Println("\nDaemon stopped")
	},
}

func init() {
	daemonCmd.Flags().Int("port", 0, "Dashboard port (overrides config)")
	daemonCmd.Flags().Bool("no-dashboard", false, "Disable the dashboard server")
	rootCmd.AddCommand(daemonCmd)
}
