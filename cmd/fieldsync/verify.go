package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/provtrack/fieldsync/internal/engine"
	"github.com/provtrack/fieldsync/internal/ui"
)

var verifyCmd = &cobra.Command{
	Use:     "verify [project-id]",
	GroupID: "admin",
	Short:   "Verify a project's local hash chain",
	Long: `Recompute the hash chain over a project's local progress entries and
report the first broken link, if any.

A broken chain means an entry's content or linkage was altered after
creation. Exit status is non-zero when verification fails.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, st := openEnv()
		defer st.Close()

		project := cfg.ProjectID
		if len(args) > 0 {
			project = args[0]
		}
		if project == "" {
			fmt.Fprintf(os.Stderr, "Error: no project given\n")
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		eng := engine.New(st, nil, nil)
		res, entries, err := eng.VerifyProject(ctx, project)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(entries) == 0 {
			fmt.Printf("%s No entries for %s\n", ui.RenderDim("-"), project)
			return
		}

		if res.Valid {
			fmt.Printf("%s Chain valid: %d entries for %s\n",
				ui.RenderPass("✓"), len(entries), ui.RenderAccent(project))
			head := entries[len(entries)-1]
			fmt.Printf("  Head: %s (%d%%, %s)\n",
				ui.RenderDim(head.CurrentHash[:16]+"…"), head.Percent,
				head.CreatedAt.Local().Format(time.RFC3339))
			return
		}

		broken := entries[res.BrokenAt]
		fmt.Printf("%s Chain BROKEN at entry %d of %d for %s\n",
			ui.RenderErr("✗"), res.BrokenAt+1, len(entries), ui.RenderAccent(project))
		fmt.Printf("  Entry:   %s\n", broken.LocalID)
		fmt.Printf("  Created: %s\n", broken.CreatedAt.Local().Format(time.RFC3339))
		fmt.Println("  The entry content or linkage was altered after creation.")
		_ = st.Close()
		os.Exit(1)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
