package frontchat

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ============================================================================
// Channel names
// ============================================================================

// PresenceChannel is the shared channel that tracks who is online.
const PresenceChannel = "presence-channel"

// PrivateChannel names the channel of a direct conversation. Both peers
// derive the same name regardless of argument order.
func PrivateChannel(a, b ID) string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("private-chat-%d-%d", lo, hi)
}

// GroupChannel names a group conversation's channel.
func GroupChannel(groupID ID) string {
	return fmt.Sprintf("group-chat-%d", groupID)
}

// UserConversationsChannel names the per-user channel that announces new
// messages and new conversations for the conversation list.
func UserConversationsChannel(userID ID) string {
	return fmt.Sprintf("user-%d-conversations", userID)
}

// ChannelFor returns the channel carrying conv's messages as seen by self.
func ChannelFor(conv Conversation, self ID) string {
	if conv.IsGroup() {
		return GroupChannel(conv.ID)
	}
	return PrivateChannel(self, conv.PeerID)
}

func requiresAuth(channel string) bool {
	return strings.HasPrefix(channel, "private-") || strings.HasPrefix(channel, "presence-")
}

func isPresenceChannel(channel string) bool {
	return strings.HasPrefix(channel, "presence-")
}

// ============================================================================
// Events
// ============================================================================

// Application events.
const (
	EventNewMessage        = "new-message"
	EventNewConversation   = "new-conversation"
	EventUserStatusChanged = "user-status-changed"
)

// Protocol events.
const (
	eventConnectionEstablished = "pusher:connection_established"
	eventError                 = "pusher:error"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventSubscriptionError     = "pusher:subscription_error"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	eventMemberAdded           = "pusher_internal:member_added"
	eventMemberRemoved         = "pusher_internal:member_removed"
)

const pusherProtocol = "7"

// frame is the wire format of every realtime message, in both directions.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// payload returns the frame data. Servers send data as a JSON-encoded
// string; clients and some servers send it inline.
func (f frame) payload() []byte {
	if len(f.Data) > 0 && f.Data[0] == '"' {
		var s string
		if json.Unmarshal(f.Data, &s) == nil {
			return []byte(s)
		}
	}
	return f.Data
}

type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type subscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

type presenceData struct {
	Presence struct {
		IDs   []ID `json:"ids"`
		Count int  `json:"count"`
	} `json:"presence"`
}

type memberData struct {
	UserID ID `json:"user_id"`
}

// RealtimeError is a protocol error reported by the realtime service.
type RealtimeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Channel string `json:"-"`
}

func (e *RealtimeError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("realtime error %d on %s: %s", e.Code, e.Channel, e.Message)
	}
	return fmt.Sprintf("realtime error %d: %s", e.Code, e.Message)
}

func encodeFrame(event, channel string, data any) ([]byte, error) {
	f := frame{Event: event, Channel: channel}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// socketURL builds the websocket endpoint for an app key.
func socketURL(cfg RealtimeConfig) string {
	base := cfg.Host
	if base == "" {
		base = "wss://ws-" + cfg.Cluster + ".pusher.com:443"
	}
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	q := url.Values{
		"protocol": {pusherProtocol},
		"client":   {"frontchat-go"},
		"version":  {Version},
		"flash":    {"false"},
	}
	return strings.TrimRight(base, "/") + "/app/" + url.PathEscape(cfg.Key) + "?" + q.Encode()
}
