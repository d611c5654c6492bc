package testserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	testKey    = "278d425bdf160c739803"
	testSecret = "7ad3773142a6692b25b8"
	testSocket = "1234.1234"
)

func TestSignChannel(t *testing.T) {
	t.Run("private", func(t *testing.T) {
		got := SignChannel(testKey, testSecret, testSocket, "private-foobar", "")
		assert.Equal(t, testKey+":58df8b0c36d6982b82c3ecf6b4662e34fe8c25bba48f5369f135bf843651c3a4", got)
	})

	t.Run("presence includes channel data", func(t *testing.T) {
		data := `{"user_id":10,"user_info":{"name":"Mr. Channel"}}`
		got := SignChannel(testKey, testSecret, testSocket, "presence-foobar", data)
		assert.Equal(t, testKey+":fc92c2263fd5b72721e20dd1a06a900e6b3c4fbfac6cb9b098d68eb7911498a2", got)
	})
}

func TestVerifyChannel(t *testing.T) {
	auth := SignChannel(testKey, testSecret, testSocket, "private-chat-1-2", "")

	tests := []struct {
		name    string
		auth    string
		key     string
		secret  string
		socket  string
		channel string
		want    bool
	}{
		{"valid", auth, testKey, testSecret, testSocket, "private-chat-1-2", true},
		{"other channel", auth, testKey, testSecret, testSocket, "private-chat-1-3", false},
		{"other socket", auth, testKey, testSecret, "9.9", "private-chat-1-2", false},
		{"wrong key", auth, "other", testSecret, testSocket, "private-chat-1-2", false},
		{"wrong secret", auth, testKey, "nope", testSocket, "private-chat-1-2", false},
		{"empty secret", auth, testKey, "", testSocket, "private-chat-1-2", false},
		{"missing signature", testKey + ":", testKey, testSecret, testSocket, "private-chat-1-2", false},
		{"no separator", "garbage", testKey, testSecret, testSocket, "private-chat-1-2", false},
		{"empty", "", testKey, testSecret, testSocket, "private-chat-1-2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyChannel(tt.auth, tt.key, tt.secret, tt.socket, tt.channel, ""))
		})
	}
}
