package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	initCluster string
	initHost    string
)

func init() {
	initCmd.Flags().StringVar(&initCluster, "cluster", "", "Pusher cluster (e.g. eu, mt1)")
	initCmd.Flags().StringVar(&initHost, "host", "", "Realtime host, overrides the cluster")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <api-url> <pusher-key>",
	Short: "Store service endpoints in ~/.frontchat/config.toml",
	Long:  "Initialize the CLI by storing the API URL and realtime key in the local configuration file.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadFileConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.API.URL = args[0]
		cfg.Pusher.Key = args[1]
		if initCluster != "" {
			cfg.Pusher.Cluster = initCluster
		}
		if initHost != "" {
			cfg.Pusher.Host = initHost
		}
		if cfg.Storage.Backend == "" {
			cfg.Storage.Backend = "file"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Configuration saved to %s\n", path)
		if cfg.Pusher.Cluster == "" && cfg.Pusher.Host == "" {
			fmt.Println("Note: set a realtime cluster with 'frontchat config set pusher.cluster <name>'.")
		}
		return nil
	},
}
