package main

import (
	"errors"
	"fmt"
	"os"

	frontchat "github.com/JOUDASHY/front-chat-next"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var flagEffective bool

func init() {
	configShowCmd.Flags().BoolVar(&flagEffective, "effective", false, "Print the merged configuration (defaults, file, .env and environment)")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage frontchat configuration",
	Long:  "View or modify the CLI configuration stored in ~/.frontchat/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagEffective {
			return showEffectiveConfig()
		}
		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No configuration file found. Run 'frontchat init <api-url> <pusher-key>' to create one.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: frontchat config set pusher.cluster eu",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadFileConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)

		// Environment variables may still fill the gaps, so only warn.
		eff, err := loadConfig()
		if err != nil {
			return err
		}
		if problems := configProblems(eff); len(problems) > 0 {
			fmt.Fprintln(os.Stderr, "Configuration is not complete yet:")
			for _, p := range problems {
				fmt.Fprintf(os.Stderr, "  - %s\n", p)
			}
		}
		return nil
	},
}

func showEffectiveConfig() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	fmt.Print(string(data))
	for _, p := range configProblems(cfg) {
		fmt.Fprintf(os.Stderr, "warning: %s\n", p)
	}
	return nil
}

// configProblems splits the result of Validate into one line per problem.
func configProblems(cfg *frontchat.Config) []string {
	err := cfg.Validate()
	if err == nil {
		return nil
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return []string{err.Error()}
	}
	var out []string
	for _, e := range joined.Unwrap() {
		out = append(out, e.Error())
	}
	return out
}
