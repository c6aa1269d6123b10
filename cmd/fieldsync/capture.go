package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/provtrack/fieldsync/internal/engine"
	"github.com/provtrack/fieldsync/internal/ui"
)

var mediaCmd = &cobra.Command{
	Use:     "media <file>",
	GroupID: "capture",
	Short:   "Record a photo or video for upload",
	Long: `Record a local media file for background upload.

Only metadata is stored now; the file itself is uploaded by the sync
daemon through a presigned object-store URL.

Example:
  fieldsync media IMG_0042.jpg --entry 4f1c0d2e-...`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, st := openEnv()
		defer st.Close()

		project, _ := cmd.Flags().GetString("project")
		entryID, _ := cmd.Flags().GetString("entry")
		if project == "" {
			project = cfg.ProjectID
		}
		if project == "" {
			fmt.Fprintf(os.Stderr, "Error: no project given (use --project or set project_id in config)\n")
			os.Exit(1)
		}

		eng := engine.New(st, nil, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		asset, err := eng.AddMediaAsset(ctx, project, entryID, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Recorded %s for %s (%d bytes, %s)\n",
			ui.RenderPass("✓"), filepath.Base(asset.FilePath), ui.RenderAccent(project),
			asset.SizeBytes, asset.MimeType)
		fmt.Println("  Saved locally; will upload when connectivity allows.")
	},
}

var trackCmd = &cobra.Command{
	Use:     "track <file.gpx>",
	GroupID: "capture",
	Short:   "Record a GPS track file for upload",
	Long: `Record a local GPS track (GPX) file for background upload.

Example:
  fieldsync track inspection-route.gpx`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, st := openEnv()
		defer st.Close()

		project, _ := cmd.Flags().GetString("project")
		entryID, _ := cmd.Flags().GetString("entry")
		if project == "" {
			project = cfg.ProjectID
		}
		if project == "" {
			fmt.Fprintf(os.Stderr, "Error: no project given (use --project or set project_id in config)\n")
			os.Exit(1)
		}

		eng := engine.New(st, nil, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		track, err := eng.AddGpsTrack(ctx, project, entryID, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Recorded %s for %s (%d points)\n",
			ui.RenderPass("✓"), filepath.Base(track.FilePath), ui.RenderAccent(project), track.PointCount)
		fmt.Println("  Saved locally; will upload when connectivity allows.")
	},
}

func init() {
	for _, c := range []*cobra.Command{mediaCmd, trackCmd} {
		c.Flags().StringP("project", "p", "", "Project ID (defaults to config project_id)")
		c.Flags().String("entry", "", "Progress entry local ID to link this capture to")
	}
	rootCmd.AddCommand(mediaCmd)
	rootCmd.AddCommand(trackCmd)
}
