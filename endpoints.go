package frontchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ============================================================================
// Conversations
// ============================================================================

type ConversationsClient struct{ c *Client }

// List fetches the conversation snapshot.
func (cv *ConversationsClient) List(ctx context.Context) ([]Conversation, error) {
	data, err := cv.c.do(ctx, request{method: http.MethodGet, path: "/api/chat/conversations/"})
	if err != nil {
		return nil, err
	}
	list, err := decodeJSON[[]Conversation](data)
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// Create opens (or returns the existing) direct conversation with userID.
func (cv *ConversationsClient) Create(ctx context.Context, userID ID) (*Conversation, error) {
	data, err := cv.c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/chat/conversations/create/",
		body:   map[string]ID{"user_id": userID},
	})
	if err != nil {
		return nil, err
	}
	conv, err := decodeJSON[Conversation](data)
	if err != nil {
		return nil, err
	}
	if conv.ID == 0 {
		return nil, &APIError{Kind: KindServer, Message: "created conversation has no id"}
	}
	if conv.Kind == KindDirect && conv.PeerID == 0 {
		conv.PeerID = userID
	}
	return conv, nil
}

// ============================================================================
// Messages
// ============================================================================

type MessagesClient struct{ c *Client }

func privatePath(userID ID) string { return fmt.Sprintf("/api/chat/private/%d/", userID) }
func groupPath(groupID ID) string  { return fmt.Sprintf("/api/chat/group/%d/", groupID) }

func historyPath(conv Conversation) (string, error) {
	if conv.IsGroup() {
		return groupPath(conv.ID), nil
	}
	if conv.PeerID == 0 {
		return "", validationError(fmt.Sprintf("conversation %d has no peer", conv.ID))
	}
	return privatePath(conv.PeerID), nil
}

// Private fetches the direct message history with userID.
func (m *MessagesClient) Private(ctx context.Context, userID ID) (*History, error) {
	return m.history(ctx, privatePath(userID))
}

// Group fetches a group's message history.
func (m *MessagesClient) Group(ctx context.Context, groupID ID) (*History, error) {
	return m.history(ctx, groupPath(groupID))
}

// History fetches the history of conv, dispatching on its kind.
func (m *MessagesClient) History(ctx context.Context, conv Conversation) (*History, error) {
	path, err := historyPath(conv)
	if err != nil {
		return nil, err
	}
	return m.history(ctx, path)
}

func (m *MessagesClient) history(ctx context.Context, path string) (*History, error) {
	data, err := m.c.do(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		return nil, err
	}
	return decodeHistory(data)
}

// decodeHistory accepts a bare message array or {"messages": [...],
// "recipient": {...}}.
func decodeHistory(data []byte) (*History, error) {
	h := &History{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Messages  []Message `json:"messages"`
			Recipient *User     `json:"recipient"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, &APIError{Kind: KindServer, Message: "failed to unmarshal history", Err: err}
		}
		h.Messages, h.Peer = wrapped.Messages, wrapped.Recipient
	} else if len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &h.Messages); err != nil {
			return nil, &APIError{Kind: KindServer, Message: "failed to unmarshal history", Err: err}
		}
	}
	sort.SliceStable(h.Messages, func(i, j int) bool {
		return h.Messages[i].Timestamp.Before(h.Messages[j].Timestamp)
	})
	if h.Peer == nil {
		for _, msg := range h.Messages {
			if msg.Recipient != nil {
				peer := *msg.Recipient
				h.Peer = &peer
				break
			}
		}
	}
	return h, nil
}

// SendPrivate posts a direct message to userID.
func (m *MessagesClient) SendPrivate(ctx context.Context, userID ID, msg OutgoingMessage) (*Message, error) {
	return m.send(ctx, privatePath(userID), msg)
}

// SendGroup posts a message to a group.
func (m *MessagesClient) SendGroup(ctx context.Context, groupID ID, msg OutgoingMessage) (*Message, error) {
	return m.send(ctx, groupPath(groupID), msg)
}

// Send posts msg to conv. The returned message is nil when the server does
// not echo the created message in its response.
func (m *MessagesClient) Send(ctx context.Context, conv Conversation, msg OutgoingMessage) (*Message, error) {
	path, err := historyPath(conv)
	if err != nil {
		return nil, err
	}
	created, err := m.send(ctx, path, msg)
	if created != nil && created.ConversationID == 0 {
		created.ConversationID = conv.ID
	}
	return created, err
}

func (m *MessagesClient) send(ctx context.Context, path string, msg OutgoingMessage) (*Message, error) {
	if strings.TrimSpace(msg.Content) == "" && msg.Attachment == nil {
		return nil, validationError("message is empty")
	}
	form := NewForm().Set("content", msg.Content).AddFile("attachment", msg.Attachment)
	data, err := m.c.do(ctx, request{method: http.MethodPost, path: path, body: form})
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil
	}
	var created Message
	if err := json.Unmarshal(trimmed, &created); err != nil || created.ID == 0 {
		return nil, nil
	}
	return &created, nil
}

// ============================================================================
// Users
// ============================================================================

type UsersClient struct{ c *Client }

// Search looks users up by name. A blank query returns no results without
// calling the API.
func (u *UsersClient) Search(ctx context.Context, query string) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	data, err := u.c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/chat/users/",
		query:  url.Values{"search": {query}},
	})
	if err != nil {
		return nil, err
	}
	users, err := decodeJSON[[]User](data)
	if err != nil {
		return nil, err
	}
	return *users, nil
}

// Get fetches a single user.
func (u *UsersClient) Get(ctx context.Context, id ID) (*User, error) {
	data, err := u.c.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/api/chat/users/%d", id)})
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// ============================================================================
// Profile
// ============================================================================

type ProfileClient struct{ c *Client }

// ProfileUpdate is the editable part of the current user's profile. All text
// fields are sent; Image is only sent when set.
type ProfileUpdate struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Location  string
	BirthDate string
	Status    string
	Passion   string
	Image     *Attachment
}

// ProfileUpdateFrom pre-fills an update with the user's current values.
func ProfileUpdateFrom(u User) ProfileUpdate {
	p := ProfileUpdate{
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
	if u.Profile != nil {
		p.Location = u.Profile.Location
		p.BirthDate = u.Profile.BirthDate
		p.Status = u.Profile.Status
		p.Passion = u.Profile.Passion
	}
	return p
}

// Me returns the authenticated user.
func (p *ProfileClient) Me(ctx context.Context) (*User, error) {
	data, err := p.c.do(ctx, request{method: http.MethodGet, path: "/api/chat/me"})
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// Get returns the current user's profile.
func (p *ProfileClient) Get(ctx context.Context) (*User, error) {
	data, err := p.c.do(ctx, request{method: http.MethodGet, path: "/api/chat/profile/"})
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// Update saves the profile and refreshes the session's user record.
func (p *ProfileClient) Update(ctx context.Context, upd ProfileUpdate) (*User, error) {
	form := NewForm().
		Set("username", upd.Username).
		Set("email", upd.Email).
		Set("first_name", upd.FirstName).
		Set("last_name", upd.LastName).
		Set("profile.lieu", upd.Location).
		Set("profile.date_naiv", upd.BirthDate).
		Set("profile.status", upd.Status).
		Set("profile.passion", upd.Passion).
		AddFile("profile.image", upd.Image)

	data, err := p.c.do(ctx, request{method: http.MethodPut, path: "/api/chat/profile/", body: form})
	if err != nil {
		return nil, err
	}
	user, err := decodeJSON[User](data)
	if err != nil {
		return nil, err
	}
	if sess, ok := p.c.session.Current(); ok && (user.ID == 0 || user.ID == sess.User.ID) {
		merged := *user
		if merged.ID == 0 {
			merged.ID = sess.User.ID
		}
		if err := p.c.session.UpdateUser(merged); err != nil {
			p.c.log.Warn().Err(err).Msg("failed to store updated user")
		}
	}
	return user, nil
}

// ============================================================================
// Presence
// ============================================================================

type PresenceClient struct{ c *Client }

// ReportDisconnect tells the API the user is going offline.
func (p *PresenceClient) ReportDisconnect(ctx context.Context, userID ID) error {
	_, err := p.c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/chat/handle-disconnect/",
		body:   map[string]ID{"userId": userID},
	})
	return err
}

// ============================================================================
// Realtime channel authorization
// ============================================================================

// ChannelAuth is the signature returned by the channel auth endpoint.
type ChannelAuth struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// AuthorizeChannel asks the API to sign a private or presence channel
// subscription for socketID. It goes through the gateway, so an expired
// credential is refreshed like any other call.
func (c *Client) AuthorizeChannel(ctx context.Context, endpoint, socketID, channel string) (*ChannelAuth, error) {
	data, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   endpoint,
		body:   url.Values{"socket_id": {socketID}, "channel_name": {channel}},
	})
	if err != nil {
		return nil, err
	}
	auth, err := decodeJSON[ChannelAuth](data)
	if err != nil {
		return nil, err
	}
	if auth.Auth == "" {
		return nil, &APIError{Kind: KindServer, Message: "channel auth response without signature"}
	}
	return auth, nil
}
