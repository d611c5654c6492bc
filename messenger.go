package frontchat

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Messenger wires the conversation list and the chat window to one client
// session and realtime connection.
type Messenger struct {
	client *Client
	rt     ChannelSubscriber
	self   ID
	log    zerolog.Logger

	list        *ConversationList
	window      *ChatWindow
	stopSession func()
}

// NewMessenger requires a logged-in client. rt may be nil for a REST-only
// view.
func NewMessenger(client *Client, rt ChannelSubscriber, opts ...ReconcilerOption) (*Messenger, error) {
	sess, ok := client.Session().Current()
	if !ok {
		return nil, ErrNoSession
	}
	opts = append([]ReconcilerOption{WithViewLogger(client.Logger())}, opts...)
	m := &Messenger{
		client: client,
		rt:     rt,
		self:   sess.UserID(),
		log:    client.Logger(),
		list:   NewConversationList(client.Conversations, rt, sess.UserID(), opts...),
		window: NewChatWindow(client.Messages, rt, sess.UserID(), opts...),
	}
	m.stopSession = client.Session().OnEnd(func(EndReason) {
		m.list.Stop()
		m.window.Close()
	})
	return m, nil
}

// Self returns the session user's ID.
func (m *Messenger) Self() ID { return m.self }

func (m *Messenger) Conversations() *ConversationList { return m.list }
func (m *Messenger) Window() *ChatWindow              { return m.window }

// Start loads the conversation list and subscribes to its live updates.
func (m *Messenger) Start(ctx context.Context) error {
	return m.list.Start(ctx)
}

// Select opens conv in the chat window.
func (m *Messenger) Select(ctx context.Context, conv Conversation) error {
	return m.window.Open(ctx, conv)
}

// StartConversation creates or reopens the direct conversation with userID
// and opens it.
func (m *Messenger) StartConversation(ctx context.Context, userID ID) (*Conversation, error) {
	conv, err := m.list.StartConversation(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.window.Open(ctx, *conv); err != nil {
		return conv, err
	}
	return conv, nil
}

// Send posts to the open conversation.
func (m *Messenger) Send(ctx context.Context, msg OutgoingMessage) (*Message, error) {
	return m.window.Send(ctx, msg)
}

// Stop tears the views down, reports the user offline and closes the
// realtime connection.
func (m *Messenger) Stop(ctx context.Context) error {
	m.stopSession()
	m.list.Stop()
	m.window.Close()

	var err error
	if _, ok := m.client.Session().Current(); ok {
		if err = m.client.Presence.ReportDisconnect(ctx, m.self); err != nil {
			m.log.Warn().Err(err).Msg("failed to report disconnect")
		}
	}
	if d, ok := m.rt.(interface{ Disconnect() error }); ok {
		if derr := d.Disconnect(); derr != nil {
			m.log.Warn().Err(derr).Msg("failed to close realtime connection")
			err = errors.Join(err, derr)
		}
	}
	return err
}
