package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	frontchat "github.com/JOUDASHY/front-chat-next"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config helpers
// ============================================================================

var (
	flagConfig   string
	flagLogLevel string

	logger = zerolog.Nop()
)

// configDir returns the path to ~/.frontchat, creating it if needed.
func configDir() (string, error) {
	dir, err := frontchat.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the config file in use.
func configPath() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig returns the effective configuration: file, .env and
// environment layered over defaults.
func loadConfig() (*frontchat.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return frontchat.LoadConfig(path)
}

// loadFileConfig reads only the config file, for editing.
// If the file does not exist, it returns a zero-value Config.
func loadFileConfig() (*frontchat.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &frontchat.Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg frontchat.Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *frontchat.Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "api.url").
func setConfigValue(cfg *frontchat.Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. api.url)")
	}

	switch section {
	case "api":
		switch field {
		case "url":
			u, err := url.Parse(value)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("invalid api url %q: expected http(s)://host/...", value)
			}
			cfg.API.URL = value
		default:
			return fmt.Errorf("unknown field %q in section [api]", field)
		}
	case "pusher":
		switch field {
		case "key":
			cfg.Pusher.Key = value
		case "cluster":
			cfg.Pusher.Cluster = value
		case "host":
			cfg.Pusher.Host = value
		case "auth_endpoint":
			cfg.Pusher.AuthEndpoint = value
		default:
			return fmt.Errorf("unknown field %q in section [pusher]", field)
		}
	case "log":
		switch field {
		case "level":
			if _, err := zerolog.ParseLevel(value); err != nil {
				return fmt.Errorf("invalid log level %q", value)
			}
			cfg.Log.Level = value
		default:
			return fmt.Errorf("unknown field %q in section [log]", field)
		}
	case "storage":
		switch field {
		case "backend":
			switch value {
			case "file", "pebble", "memory":
			default:
				return fmt.Errorf("unknown storage backend %q (valid: file, pebble, memory)", value)
			}
			cfg.Storage.Backend = value
		case "path":
			cfg.Storage.Path = value
		default:
			return fmt.Errorf("unknown field %q in section [storage]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: api, pusher, log, storage)", section)
	}
	return nil
}

// setupLogger configures the console logger from --log-level or the config.
func setupLogger(cfg *frontchat.Config) {
	level := flagLogLevel
	if level == "" && cfg != nil {
		level = cfg.Log.Level
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "frontchat",
	Short: "front-chat CLI",
	Long:  "Command-line client for the front-chat messaging service.\nLog in, list conversations, send messages and chat live.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig()
		setupLogger(cfg)
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/.frontchat/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
