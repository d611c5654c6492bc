package testserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// SignChannel produces the "key:signature" token a realtime server expects
// for a private or presence subscription. channelData is only part of the
// signed string for presence channels.
func SignChannel(key, secret, socketID, channel, channelData string) string {
	return key + ":" + channelSignature(secret, socketID, channel, channelData)
}

func channelSignature(secret, socketID, channel, channelData string) string {
	payload := socketID + ":" + channel
	if channelData != "" {
		payload += ":" + channelData
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyChannel checks a subscription token in constant time.
func VerifyChannel(auth, key, secret, socketID, channel, channelData string) bool {
	if auth == "" || secret == "" {
		return false
	}
	gotKey, sig, ok := strings.Cut(auth, ":")
	if !ok || gotKey != key || sig == "" {
		return false
	}
	expected := channelSignature(secret, socketID, channel, channelData)
	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}
