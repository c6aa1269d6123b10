package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/provtrack/fieldsync/internal/config"
	"github.com/provtrack/fieldsync/internal/store"
	"github.com/provtrack/fieldsync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "admin",
	Short:   "Initialize a .fieldsync directory in the current directory",
	Long: `Create the .fieldsync data directory, a default config file, and the
local database.

Example:
  fieldsync init --server https://transparency.example.gov --project bridge-rehab-2026`,
	Run: func(cmd *cobra.Command, args []string) {
		server, _ := cmd.Flags().GetString("server")
		project, _ := cmd.Flags().GetString("project")

		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cfg := config.DefaultConfig()
		if server != "" {
			cfg.ServerURL = server
		}
		if project != "" {
			cfg.ProjectID = project
		}

		dir, err := config.InitDir(cwd, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st, err := store.Open(config.DBPath(dir))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		if err := st.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing database: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Initialized %s\n", ui.RenderPass("✓"), dir)
		fmt.Printf("  Database: %s\n", config.DBPath(dir))
		fmt.Printf("  Config:   %s\n", dir+"/"+config.ConfigFileName)
		fmt.Println("\nNext: fieldsync login, then fieldsync report")
	},
}

func init() {
	initCmd.Flags().String("server", "", "Backend server URL")
	initCmd.Flags().String("project", "", "Default project ID for captures")
	rootCmd.AddCommand(initCmd)
}
