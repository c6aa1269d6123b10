package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/provtrack/fieldsync/internal/engine"
	"github.com/provtrack/fieldsync/internal/remote"
	"github.com/provtrack/fieldsync/internal/schema"
	"github.com/provtrack/fieldsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local capture counts and sync backlog",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, st := openEnv()
		defer st.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		eng := engine.New(st, nil, nil)
		summary, err := eng.StatusSummary(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Println(ui.RenderBold("Sync status"))
		statuses := []schema.SyncStatus{
			schema.StatusPending, schema.StatusSyncing, schema.StatusSynced, schema.StatusFailed,
		}
		for _, t := range schema.EntityTypes() {
			counts := summary[t]
			total := 0
			for _, n := range counts {
				total += n
			}
			fmt.Printf("  %-8s %d total", t, total)
			for _, s := range statuses {
				if n := counts[s]; n > 0 {
					fmt.Printf("  %s %d %s", ui.StatusGlyph(string(s)), n, s)
				}
			}
			fmt.Println()
		}

		// Connectivity is informational; the engine works without it.
		probeCtx, probeCancel := context.WithTimeout(ctx, 3*time.Second)
		defer probeCancel()
		client := remote.New(cfg.ServerURL)
		if err := client.Health(probeCtx); err == nil {
			fmt.Printf("\n%s Backend reachable at %s\n", ui.RenderPass("●"), cfg.ServerURL)
		} else {
			fmt.Printf("\n%s Offline (backend %s unreachable)\n", ui.RenderWarn("○"), cfg.ServerURL)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
