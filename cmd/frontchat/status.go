package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session status",
	Long:  "Display the effective configuration, the stored session and, when logged in, live account info.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  API URL:       %s\n", valueOrDefault(cfg.API.URL, "(not set)"))
		if cfg.Pusher.Key != "" {
			fmt.Printf("  Pusher Key:    %s\n", maskKey(cfg.Pusher.Key))
		} else {
			fmt.Println("  Pusher Key:    (not set)")
		}
		if cfg.Pusher.Host != "" {
			fmt.Printf("  Pusher Host:   %s\n", cfg.Pusher.Host)
		} else {
			fmt.Printf("  Pusher Cluster: %s\n", valueOrDefault(cfg.Pusher.Cluster, "(not set)"))
		}
		fmt.Printf("  Auth Endpoint: %s\n", cfg.Pusher.AuthEndpoint)
		fmt.Printf("  Storage:       %s\n", valueOrDefault(cfg.Storage.Backend, "file"))
		if err := cfg.Validate(); err != nil {
			fmt.Printf("  Problems:\n    %v\n", err)
		}

		if cfg.API.URL == "" {
			return nil
		}
		env, err := newEnv()
		if err != nil {
			return err
		}
		defer env.close()

		fmt.Println()
		fmt.Println("Session:")
		if env.session == nil {
			fmt.Println("  (not logged in)")
			return nil
		}
		fmt.Printf("  Username: %s\n", env.session.User.Username)
		fmt.Printf("  User ID:  %s\n", env.session.User.ID)
		fmt.Printf("  Refresh:  %s\n", map[bool]string{true: "available", false: "none"}[env.session.RefreshToken != ""])

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println()
		fmt.Println("Live status:")
		me, err := env.client.Profile.Me(ctx)
		if err != nil {
			fmt.Printf("  Error fetching account info: %v\n", describeError(err))
			return nil
		}
		fmt.Printf("  Username: %s\n", me.Username)
		fmt.Printf("  Name:     %s\n", me.DisplayName())
		if me.Email != "" {
			fmt.Printf("  E-mail:   %s\n", me.Email)
		}
		return nil
	},
}

// maskKey shows the first 4 and last 4 characters of a key.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
