package main

import (
	"testing"

	frontchat "github.com/JOUDASHY/front-chat-next"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"api url", "api.url", "https://chat.example.com/api", ""},
		{"api url without scheme", "api.url", "chat.example.com", "invalid api url"},
		{"pusher cluster", "pusher.cluster", "eu", ""},
		{"log level", "log.level", "debug", ""},
		{"bad log level", "log.level", "loud", "invalid log level"},
		{"storage backend", "storage.backend", "pebble", ""},
		{"unknown backend", "storage.backend", "redis", "unknown storage backend"},
		{"no dot", "url", "x", "dot notation"},
		{"unknown section", "db.url", "x", "unknown config section"},
		{"unknown field", "pusher.secret", "x", "unknown field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg frontchat.Config
			err := setConfigValue(&cfg, tt.key, tt.value)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, frontchat.Config{}, cfg, "a rejected value is not stored")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfigProblems(t *testing.T) {
	cfg := frontchat.Config{
		Pusher: frontchat.PusherConfig{Cluster: "eu", AuthEndpoint: frontchat.DefaultAuthEndpoint},
	}
	problems := configProblems(&cfg)
	require.Len(t, problems, 2)
	assert.Contains(t, problems[0], "api url is required")
	assert.Contains(t, problems[1], "pusher key is required")

	require.NoError(t, setConfigValue(&cfg, "api.url", "http://localhost:8000"))
	require.NoError(t, setConfigValue(&cfg, "pusher.key", "k"))
	assert.Empty(t, configProblems(&cfg))
}
