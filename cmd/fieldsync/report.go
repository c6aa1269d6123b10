package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/provtrack/fieldsync/internal/engine"
	"github.com/provtrack/fieldsync/internal/schema"
	"github.com/provtrack/fieldsync/internal/ui"
)

var reportCmd = &cobra.Command{
	Use:     "report",
	GroupID: "capture",
	Short:   "Record a progress report (works fully offline)",
	Long: `Record a percent-complete progress report for a project.

The report is written to local storage and linked into the project's
hash chain before this command returns; synchronization happens in the
background. Run without flags for an interactive form.

Examples:
  fieldsync report -m "Piling complete on north span" --percent 40
  fieldsync report --project road-upgrade-07 -m "Surfacing started" --percent 65 --lat -6.21 --lon 106.85`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, st := openEnv()
		defer st.Close()

		project, _ := cmd.Flags().GetString("project")
		description, _ := cmd.Flags().GetString("message")
		percent, _ := cmd.Flags().GetInt("percent")
		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		accuracy, _ := cmd.Flags().GetFloat64("accuracy")

		if project == "" {
			project = cfg.ProjectID
		}

		if description == "" || !cmd.Flags().Changed("percent") {
			var err error
			project, description, percent, err = promptReport(project, description, percent)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		if project == "" {
			fmt.Fprintf(os.Stderr, "Error: no project given (use --project or set project_id in config)\n")
			os.Exit(1)
		}

		var loc *schema.Location
		if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
			loc = &schema.Location{Latitude: lat, Longitude: lon, Accuracy: accuracy}
		}

		eng := engine.New(st, nil, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		entry, err := eng.CreateProgressEntry(ctx, project, description, percent, loc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Recorded %d%% for %s\n", ui.RenderPass("✓"), entry.Percent, ui.RenderAccent(project))
		fmt.Printf("  Entry: %s\n", entry.LocalID)
		fmt.Printf("  Hash:  %s\n", ui.RenderDim(entry.CurrentHash[:16]+"…"))
		fmt.Println("  Saved locally; will sync when connectivity allows.")
	},
}

// promptReport collects missing report fields interactively.
func promptReport(project, description string, percent int) (string, string, int, error) {
	percentStr := ""
	if percent > 0 {
		percentStr = strconv.Itoa(percent)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Project ID").
				Value(&project).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("project is required")
					}
					return nil
				}),
			huh.NewText().
				Title("Progress description").
				CharLimit(2000).
				Value(&description).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("description is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Percent complete (0-100)").
				Value(&percentStr).
				Validate(func(s string) error {
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil {
						return fmt.Errorf("enter a number")
					}
					if n < 0 || n > 100 {
						return fmt.Errorf("must be between 0 and 100")
					}
					return nil
				}),
		),
	)

	if err := form.Run(); err != nil {
		return "", "", 0, err
	}

	n, err := strconv.Atoi(strings.TrimSpace(percentStr))
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid percent: %w", err)
	}
	return strings.TrimSpace(project), description, n, nil
}

func init() {
	reportCmd.Flags().StringP("project", "p", "", "Project ID (defaults to config project_id)")
	reportCmd.Flags().StringP("message", "m", "", "Progress description")
	reportCmd.Flags().Int("percent", 0, "Percent complete (0-100)")
	reportCmd.Flags().Float64("lat", 0, "Latitude of the report location")
	reportCmd.Flags().Float64("lon", 0, "Longitude of the report location")
	reportCmd.Flags().Float64("accuracy", 0, "GPS accuracy in meters")
	rootCmd.AddCommand(reportCmd)
}
