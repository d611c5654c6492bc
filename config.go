package frontchat

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the client configuration. It is read from defaults, then
// ~/.frontchat/config.toml, then .env, then environment variables.
type Config struct {
	API     APIConfig     `koanf:"api" toml:"api"`
	Pusher  PusherConfig  `koanf:"pusher" toml:"pusher"`
	Log     LogConfig     `koanf:"log" toml:"log"`
	Storage StorageConfig `koanf:"storage" toml:"storage"`
}

type APIConfig struct {
	URL string `koanf:"url" toml:"url"`
}

type PusherConfig struct {
	Key          string `koanf:"key" toml:"key"`
	Cluster      string `koanf:"cluster" toml:"cluster,omitempty"`
	Host         string `koanf:"host" toml:"host,omitempty"`
	AuthEndpoint string `koanf:"auth_endpoint" toml:"auth_endpoint,omitempty"`
}

type LogConfig struct {
	Level string `koanf:"level" toml:"level,omitempty"`
}

// StorageConfig selects where the session is persisted: "file", "pebble"
// or "memory".
type StorageConfig struct {
	Backend string `koanf:"backend" toml:"backend,omitempty"`
	Path    string `koanf:"path" toml:"path,omitempty"`
}

const envPrefix = "FRONTCHAT_"

// envKeys maps environment variables (without prefix) to config keys.
var envKeys = map[string]string{
	"API_URL":              "api.url",
	"PUSHER_KEY":           "pusher.key",
	"PUSHER_CLUSTER":       "pusher.cluster",
	"PUSHER_HOST":          "pusher.host",
	"PUSHER_AUTH_ENDPOINT": "pusher.auth_endpoint",
	"LOG_LEVEL":            "log.level",
	"STORAGE_BACKEND":      "storage.backend",
	"STORAGE_PATH":         "storage.path",
}

// publicAliases are the variable names used by the web frontend's build.
var publicAliases = map[string]string{
	"NEXT_PUBLIC_API_URL":        "api.url",
	"NEXT_PUBLIC_PUSHER_KEY":     "pusher.key",
	"NEXT_PUBLIC_PUSHER_CLUSTER": "pusher.cluster",
}

// LoadConfig loads the configuration. An empty path or a missing file is not
// an error; the result still has to pass Validate.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"pusher.auth_endpoint": DefaultAuthEndpoint,
		"log.level":            "info",
		"storage.backend":      "file",
	}, "."), nil)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config: %w", err)
			}
		}
	}

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	// Aliases first so the prefixed variables win.
	k.Load(env.Provider("NEXT_PUBLIC_", ".", func(s string) string {
		return publicAliases[s]
	}), nil)
	k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return envKeys[strings.TrimPrefix(s, envPrefix)]
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that everything needed to reach the service is set.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.URL) == "" {
		errs = append(errs, fmt.Errorf("api url is required (FRONTCHAT_API_URL)"))
	}
	if c.Pusher.Key == "" {
		errs = append(errs, fmt.Errorf("pusher key is required (FRONTCHAT_PUSHER_KEY)"))
	}
	if c.Pusher.Cluster == "" && c.Pusher.Host == "" {
		errs = append(errs, fmt.Errorf("pusher cluster is required (FRONTCHAT_PUSHER_CLUSTER)"))
	}
	if c.Pusher.AuthEndpoint == "" {
		errs = append(errs, fmt.Errorf("pusher auth endpoint is required (FRONTCHAT_PUSHER_AUTH_ENDPOINT)"))
	}
	switch c.Storage.Backend {
	case "", "file", "pebble", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q (valid: file, pebble, memory)", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

// RealtimeConfig converts the pusher section into a manager config with
// reconnection enabled.
func (c *Config) RealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		Key:           c.Pusher.Key,
		Cluster:       c.Pusher.Cluster,
		Host:          c.Pusher.Host,
		AuthEndpoint:  c.Pusher.AuthEndpoint,
		AutoReconnect: true,
	}
}

// DefaultConfigDir returns ~/.frontchat.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".frontchat"), nil
}
