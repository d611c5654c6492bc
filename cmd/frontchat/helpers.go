package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	frontchat "github.com/JOUDASHY/front-chat-next"
)

// cliEnv bundles what most commands need.
type cliEnv struct {
	cfg     *frontchat.Config
	client  *frontchat.Client
	session *frontchat.Session
	close   func()
}

// openStorage returns the session backend selected in the config.
func openStorage(cfg *frontchat.Config) (frontchat.Storage, func(), error) {
	dir, err := configDir()
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Storage.Backend {
	case "memory":
		return frontchat.NewMemoryStorage(), func() {}, nil
	case "pebble":
		path := cfg.Storage.Path
		if path == "" {
			path = filepath.Join(dir, "session.db")
		}
		st, err := frontchat.OpenPebbleStorage(path)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	default:
		path := cfg.Storage.Path
		if path == "" {
			path = filepath.Join(dir, "session.toml")
		}
		return frontchat.NewFileStorage(path), func() {}, nil
	}
}

// newEnv loads the config and builds a client with the persisted session
// restored, if any.
func newEnv(opts ...frontchat.ClientOption) (*cliEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.API.URL == "" {
		return nil, fmt.Errorf("no API URL configured; run 'frontchat init <api-url> <pusher-key>' first")
	}
	st, closeFn, err := openStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	opts = append([]frontchat.ClientOption{
		frontchat.WithStorage(st),
		frontchat.WithLogger(logger),
	}, opts...)
	client := frontchat.NewClient(cfg.API.URL, opts...)

	sess, err := client.Session().Restore()
	if err != nil {
		closeFn()
		return nil, err
	}
	return &cliEnv{cfg: cfg, client: client, session: sess, close: closeFn}, nil
}

// mustSession builds an env and exits when nobody is logged in.
func mustSession(opts ...frontchat.ClientOption) *cliEnv {
	env, err := newEnv(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if env.session == nil {
		env.close()
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'frontchat login <username>' first.")
		os.Exit(1)
	}
	return env
}

// describeError turns API errors into one line for the terminal.
func describeError(err error) error {
	if errors.Is(err, frontchat.ErrAuthExpired) {
		return fmt.Errorf("session expired; run 'frontchat login <username>' again")
	}
	return err
}
