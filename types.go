package frontchat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Identifiers
// ============================================================================

// ID identifies users, conversations and messages. The API sends numbers,
// the realtime presence channel sends the same values as strings.
type ID int64

// ParseID parses a decimal identifier.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(n), nil
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UnmarshalJSON accepts 42, "42" and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
		parsed, err := ParseID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = ID(n)
	return nil
}

// ============================================================================
// Users
// ============================================================================

// Profile holds the optional profile block of a user.
type Profile struct {
	Image     string `json:"image,omitempty"`
	Location  string `json:"lieu,omitempty"`
	BirthDate string `json:"date_naiv,omitempty"`
	Status    string `json:"status,omitempty"`
	Passion   string `json:"passion,omitempty"`
}

// User is the user record returned by the API.
type User struct {
	ID        ID       `json:"id"`
	Username  string   `json:"username"`
	Name      string   `json:"name,omitempty"`
	Email     string   `json:"email,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Profile   *Profile `json:"profile,omitempty"`
}

// DisplayName returns the best human readable name for the user.
func (u User) DisplayName() string {
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// ============================================================================
// Conversations
// ============================================================================

// ConversationKind distinguishes one-to-one and group conversations.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Conversation is one entry of the conversation list.
type Conversation struct {
	ID           ID
	Name         string
	Kind         ConversationKind
	PeerID       ID // direct conversations only
	LastMessage  string
	LastActivity time.Time
	PeerOnline   bool
	Avatar       string
}

// IsGroup reports whether the conversation is a group conversation.
func (c Conversation) IsGroup() bool { return c.Kind == KindGroup }

type wireConversation struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	LastMessage string `json:"lastMessage"`
	Timestamp   string `json:"timestamp,omitempty"`
	IsGroup     bool   `json:"isGroup"`
	UserID      ID     `json:"userId,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	IsOnline    bool   `json:"isOnline,omitempty"`
	User        *User  `json:"user,omitempty"`
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	var w wireConversation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, _ := parseTimestamp(w.Timestamp)
	*c = Conversation{
		ID:           w.ID,
		Name:         w.Name,
		Kind:         KindDirect,
		PeerID:       w.UserID,
		LastMessage:  w.LastMessage,
		LastActivity: ts,
		PeerOnline:   w.IsOnline,
		Avatar:       w.Avatar,
	}
	if w.IsGroup {
		c.Kind = KindGroup
		c.PeerID = 0
	}
	if c.Avatar == "" && w.User != nil && w.User.Profile != nil {
		c.Avatar = w.User.Profile.Image
	}
	return nil
}

func (c Conversation) MarshalJSON() ([]byte, error) {
	w := wireConversation{
		ID:          c.ID,
		Name:        c.Name,
		LastMessage: c.LastMessage,
		IsGroup:     c.IsGroup(),
		UserID:      c.PeerID,
		Avatar:      c.Avatar,
		IsOnline:    c.PeerOnline,
	}
	if !c.LastActivity.IsZero() {
		w.Timestamp = c.LastActivity.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

// ============================================================================
// Messages
// ============================================================================

// Message is a single chat message.
type Message struct {
	ID             ID
	ConversationID ID
	Sender         string
	SenderID       ID
	Content        string
	Attachment     string
	Timestamp      time.Time
	Recipient      *User
}

// Preview is the text shown for the message in the conversation list.
func (m Message) Preview() string {
	if m.Content == "" && m.Attachment != "" {
		return AttachmentPreview
	}
	return m.Content
}

// AttachmentPreview is the list preview of a message without text.
const AttachmentPreview = "[attachment]"

type wireMessage struct {
	ID             ID     `json:"id"`
	ConversationID ID     `json:"conversation_id,omitempty"`
	Sender         string `json:"sender"`
	SenderID       ID     `json:"sender_id,omitempty"`
	Content        string `json:"content"`
	Attachment     string `json:"attachment,omitempty"`
	Timestamp      string `json:"timestamp"`
	Recipient      *User  `json:"recipient,omitempty"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, _ := parseTimestamp(w.Timestamp)
	*m = Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		Sender:         w.Sender,
		SenderID:       w.SenderID,
		Content:        w.Content,
		Attachment:     w.Attachment,
		Timestamp:      ts,
		Recipient:      w.Recipient,
	}
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Attachment:     m.Attachment,
		Recipient:      m.Recipient,
	}
	if !m.Timestamp.IsZero() {
		w.Timestamp = m.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

// History is a conversation's message log plus the peer it was fetched for.
type History struct {
	Messages []Message
	Peer     *User
}

// OutgoingMessage is what Send posts. At least one of Content or Attachment
// must be set.
type OutgoingMessage struct {
	Content    string
	Attachment *Attachment
}

// PresenceEvent reports one user's online state.
type PresenceEvent struct {
	UserID   ID   `json:"userId"`
	IsOnline bool `json:"isOnline"`
}

// ============================================================================
// Timestamps
// ============================================================================

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// parseTimestamp accepts the layouts the API is known to send. Decoders
// ignore its error and keep a zero time, which the reconcilers replace with
// their clock.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
