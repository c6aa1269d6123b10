package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/provtrack/fieldsync/internal/config"
	"github.com/provtrack/fieldsync/internal/remote"
	"github.com/provtrack/fieldsync/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "admin",
	Short:   "Authenticate against the backend and store tokens",
	Long: `Exchange field officer credentials for an access/refresh token pair
and persist them in the local config.

Tokens are refreshed automatically by the sync workers; login is only
needed again if the refresh token expires.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir := mustFindDir()
		cfg, err := config.Load(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		username, _ := cmd.Flags().GetString("username")
		if username == "" {
			fmt.Print("Username: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading username: %v\n", err)
				os.Exit(1)
			}
			username = strings.TrimSpace(line)
		}

		fmt.Print("Password: ")
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client := remote.New(cfg.ServerURL)
		resp, err := client.Login(ctx, username, string(password))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cfg.Auth.Token = resp.AccessToken
		cfg.Auth.RefreshToken = resp.RefreshToken
		if err := config.Save(dir, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving credentials: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Logged in as %s\n", ui.RenderPass("✓"), username)
	},
}

func init() {
	loginCmd.Flags().StringP("username", "u", "", "Username (prompted if omitted)")
	rootCmd.AddCommand(loginCmd)
}
