package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/provtrack/fieldsync/internal/outbox"
	"github.com/provtrack/fieldsync/internal/remote"
	"github.com/provtrack/fieldsync/internal/schema"
	"github.com/provtrack/fieldsync/internal/syncer"
	"github.com/provtrack/fieldsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync pass now",
	Long: `Run a single sync pass for every entity type and report the outcome.

This is the foreground alternative to the daemon: claim the eligible
queued entities, transmit them, and apply retry/failure bookkeeping.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, st := openEnv()
		defer st.Close()

		verbose, _ := cmd.Flags().GetBool("verbose")
		logger := log.New(io.Discard, "", 0)
		if verbose {
			logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
		}

		client := remote.NewWithToken(cfg.ServerURL, cfg.Auth.Token, cfg.Auth.RefreshToken)

		caps := map[schema.EntityType]time.Duration{
			schema.EntityProgress: cfg.Sync.ProgressInterval,
			schema.EntityMedia:    cfg.Sync.MediaInterval,
			schema.EntityTrack:    cfg.Sync.TrackInterval,
		}
		ob := outbox.New(st, cfg.Sync.BackoffBase, caps, logger)

		submitters := []syncer.Submitter{
			syncer.NewProgressSubmitter(st, client),
			syncer.NewMediaSubmitter(st, client),
			syncer.NewTrackSubmitter(st, client),
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		exitCode := 0
		for _, sub := range submitters {
			w := syncer.NewWorker(ob, sub, client,
				syncer.WorkerConfig{StaleAfter: cfg.Sync.StaleAfter}, nil, logger)
			stats, err := w.RunPass(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error syncing %s: %v\n", sub.EntityType(), err)
				exitCode = 1
				continue
			}
			renderPassStats(sub.EntityType(), stats)
			if stats.Failed > 0 {
				exitCode = 1
			}
		}
		if exitCode != 0 {
			_ = st.Close()
			os.Exit(exitCode)
		}
	},
}

func renderPassStats(t schema.EntityType, stats syncer.PassStats) {
	if stats.Eligible == 0 {
		fmt.Printf("%s %-8s nothing to sync\n", ui.RenderDim("-"), t)
		return
	}
	line := fmt.Sprintf("%-8s %d synced", t, stats.Synced)
	if stats.Retried > 0 {
		line += fmt.Sprintf(", %d rescheduled", stats.Retried)
	}
	if stats.Failed > 0 {
		line += fmt.Sprintf(", %d failed", stats.Failed)
	}
	glyph := ui.RenderPass("✓")
	if stats.Failed > 0 {
		glyph = ui.RenderErr("✗")
	} else if stats.Retried > 0 {
		glyph = ui.RenderWarn("!")
	}
	fmt.Printf("%s %s\n", glyph, line)
}

func init() {
	syncCmd.Flags().BoolP("verbose", "v", false, "Log sync details")
	rootCmd.AddCommand(syncCmd)
}
