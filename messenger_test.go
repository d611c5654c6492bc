package frontchat

import (
	"testing"
	"time"

	"github.com/JOUDASHY/front-chat-next/internal/testserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessengerNeedsSession(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	_, err := NewMessenger(newTestClient(t, srv), nil)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestMessengerEndToEnd(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)
	aliceClient, alice := loginAs(t, srv, "alice")
	bobClient, bob := loginAs(t, srv, "bob")

	rt := aliceClient.Realtime(testRealtimeConfig(srv))
	m, err := NewMessenger(aliceClient, rt)
	require.NoError(t, err)
	assert.Equal(t, ID(alice.ID), m.Self())

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, ListReady, m.Conversations().State())
	assert.Empty(t, m.Conversations().Snapshot().Conversations)
	waitSubscribers(t, srv, UserConversationsChannel(ID(alice.ID)), 1)

	// bob opens a conversation with alice; it appears in her list.
	bobConv, err := bobClient.Conversations.Create(ctx, ID(alice.ID))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := m.Conversations().Find(bobConv.ID)
		return ok
	}, 3*time.Second, 10*time.Millisecond)
	conv, _ := m.Conversations().Find(bobConv.ID)
	assert.Equal(t, "bob", conv.Name)
	assert.Equal(t, ID(bob.ID), conv.PeerID)

	_, err = bobClient.Messages.Send(ctx, *bobConv, OutgoingMessage{Content: "hi alice"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		c, _ := m.Conversations().Find(bobConv.ID)
		return c.LastMessage == "hi alice"
	}, 3*time.Second, 10*time.Millisecond)

	t.Run("start conversation opens history", func(t *testing.T) {
		opened, err := m.StartConversation(ctx, ID(bob.ID))
		require.NoError(t, err)
		assert.Equal(t, bobConv.ID, opened.ID)
		assert.Len(t, m.Conversations().Snapshot().Conversations, 1)

		snap := m.Window().Snapshot()
		assert.Equal(t, WindowReady, snap.State)
		require.Len(t, snap.Messages, 1)
		assert.Equal(t, "hi alice", snap.Messages[0].Content)
		require.NotNil(t, snap.Peer)
		assert.Equal(t, "bob", snap.Peer.Username)
	})

	t.Run("sent message arrives through its echo", func(t *testing.T) {
		waitSubscribers(t, srv, PrivateChannel(ID(alice.ID), ID(bob.ID)), 1)
		sent, err := m.Send(ctx, OutgoingMessage{Content: "hello bob"})
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return len(m.Window().Snapshot().Messages) == 2
		}, 3*time.Second, 10*time.Millisecond)
		assert.Equal(t, sent.ID, m.Window().Snapshot().Messages[1].ID)
		require.Eventually(t, func() bool {
			c, _ := m.Conversations().Find(bobConv.ID)
			return c.LastMessage == "hello bob"
		}, 3*time.Second, 10*time.Millisecond)
	})

	t.Run("reload keeps one entry with the sent preview", func(t *testing.T) {
		require.NoError(t, m.Conversations().Retry(ctx))
		snap := m.Conversations().Snapshot()
		assert.Equal(t, ListReady, snap.State)
		require.Len(t, snap.Conversations, 1)
		assert.Equal(t, bobConv.ID, snap.Conversations[0].ID)
		assert.Equal(t, "hello bob", snap.Conversations[0].LastMessage)
	})

	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, []int64{alice.ID}, srv.Disconnects())
	assert.Equal(t, StateDisconnected, rt.State())
	assert.Equal(t, WindowEmpty, m.Window().State())
}

func TestMessengerSessionEnd(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)
	aliceClient, _ := loginAs(t, srv, "alice")
	bob := srv.AddUser("bob", "pw")

	rt := aliceClient.Realtime(testRealtimeConfig(srv))
	defer rt.Disconnect()
	m, err := NewMessenger(aliceClient, rt)
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	_, err = m.StartConversation(ctx, ID(bob.ID))
	require.NoError(t, err)
	assert.Equal(t, WindowReady, m.Window().State())

	require.NoError(t, aliceClient.Auth.Logout())
	assert.Equal(t, WindowEmpty, m.Window().State())
	assert.Nil(t, m.Window().Snapshot().Conversation)

	require.NoError(t, m.Stop(ctx))
	assert.Empty(t, srv.Disconnects(), "no session left to report")
}

// closeFailingRealtime is a subscriber whose connection fails to close.
type closeFailingRealtime struct{ *fakeRealtime }

func (closeFailingRealtime) Disconnect() error { return errBackend }

func TestMessengerStopReturnsDisconnectError(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)
	c, alice := loginAs(t, srv, "alice")

	m, err := NewMessenger(c, closeFailingRealtime{newFakeRealtime()})
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))

	err = m.Stop(ctx)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, []int64{alice.ID}, srv.Disconnects(), "the disconnect is still reported")
}
