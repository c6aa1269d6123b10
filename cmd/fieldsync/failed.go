package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/provtrack/fieldsync/internal/engine"
	"github.com/provtrack/fieldsync/internal/schema"
	"github.com/provtrack/fieldsync/internal/ui"
)

var failedCmd = &cobra.Command{
	Use:     "failed",
	GroupID: "sync",
	Short:   "List permanently failed captures awaiting manual remediation",
	Long: `List every capture that exhausted its retries or was rejected by the
backend. Failed captures never sync again on their own; inspect the
error, then use 'fieldsync resubmit' to return one to the queue.`,
	Run: func(cmd *cobra.Command, args []string) {
		_, _, st := openEnv()
		defer st.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		entries, err := st.ListFailedProgress(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		media, err := st.ListFailedMedia(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		tracks, err := st.ListFailedTracks(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(entries)+len(media)+len(tracks) == 0 {
			fmt.Printf("%s No failed captures\n", ui.RenderPass("✓"))
			return
		}

		for _, e := range entries {
			fmt.Printf("%s progress %s  %s %d%%\n", ui.RenderErr("✗"),
				ui.RenderAccent(e.LocalID), e.ProjectID, e.Percent)
			fmt.Printf("    %s\n", ui.RenderDim(e.SyncError))
		}
		for _, a := range media {
			fmt.Printf("%s media    %s  %s\n", ui.RenderErr("✗"),
				ui.RenderAccent(a.LocalID), filepath.Base(a.FilePath))
			fmt.Printf("    %s\n", ui.RenderDim(a.SyncError))
		}
		for _, tr := range tracks {
			fmt.Printf("%s track    %s  %s\n", ui.RenderErr("✗"),
				ui.RenderAccent(tr.LocalID), filepath.Base(tr.FilePath))
			fmt.Printf("    %s\n", ui.RenderDim(tr.SyncError))
		}

		fmt.Printf("\nResubmit with: fieldsync resubmit <type> <local-id>\n")
	},
}

var resubmitCmd = &cobra.Command{
	Use:     "resubmit <type> <local-id>",
	GroupID: "sync",
	Short:   "Return a failed capture to the sync queue",
	Long: `Return a permanently failed capture to the sync queue with a fresh
retry budget. Type is one of: progress, media, track.

Progress entries are immutable, so a failed one is not edited: a new
entry with the same content is created against the current chain head
(fetched from the server when reachable) and the failed entry stays
visible with its error.

Example:
  fieldsync resubmit progress 4f1c0d2e-9a31-4a7e-bb1f-8e2d6c1f0a55`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, st := openEnv()
		defer st.Close()

		t := schema.EntityType(args[0])
		if !t.Valid() {
			fmt.Fprintf(os.Stderr, "Error: unknown type %q (progress, media, track)\n", args[0])
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client := remoteClientFromConfig(cfg)
		eng := engine.New(st, client, nil)
		newID, err := eng.Resubmit(ctx, t, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if newID != args[1] {
			fmt.Printf("%s Created replacement entry %s\n", ui.RenderPass("✓"), ui.RenderAccent(newID))
			fmt.Printf("  Failed entry %s stays visible with its error.\n", args[1])
		} else {
			fmt.Printf("%s Requeued %s %s\n", ui.RenderPass("✓"), t, ui.RenderAccent(args[1]))
		}
		fmt.Println("  Run 'fieldsync sync' to transmit now.")
	},
}

func init() {
	rootCmd.AddCommand(failedCmd)
	rootCmd.AddCommand(resubmitCmd)
}
