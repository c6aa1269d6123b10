// Command fieldsync is the offline-first field reporting client for
// government project transparency. Captures are durable locally before
// any network activity; a background daemon drains them to the backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/provtrack/fieldsync/internal/config"
	"github.com/provtrack/fieldsync/internal/remote"
	"github.com/provtrack/fieldsync/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first progress reporting for field projects",
	Long: `fieldsync records project progress reports, site photos, and GPS
tracks on the device, then synchronizes them to the transparency
backend whenever connectivity allows.

Every capture is written to local storage first and survives network
loss, app restarts, and device reboots. Progress reports form a
per-project tamper-evident hash chain that auditors can verify.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "capture", Title: "Capture Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "admin", Title: "Admin Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// mustFindDir locates the .fieldsync directory or exits with guidance.
func mustFindDir() string {
	dir := config.FindDir()
	if dir == "" {
		fmt.Fprintf(os.Stderr, "Error: no .fieldsync directory found (run 'fieldsync init' first)\n")
		os.Exit(1)
	}
	return dir
}

// openEnv loads config and opens the store for one command invocation.
func openEnv() (*config.Config, string, *store.Store) {
	dir := mustFindDir()

	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(config.DBPath(dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		fmt.Fprintf(os.Stderr, "Error initializing database: %v\n", err)
		os.Exit(1)
	}
	return cfg, dir, st
}

// remoteClientFromConfig builds an authenticated backend client.
func remoteClientFromConfig(cfg *config.Config) *remote.Client {
	return remote.NewWithToken(cfg.ServerURL, cfg.Auth.Token, cfg.Auth.RefreshToken)
}
