package frontchat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JOUDASHY/front-chat-next/internal/testserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// ============================================================================
// Test Helpers
// ============================================================================

func newTestClient(t *testing.T, srv *testserver.Server, opts ...ClientOption) *Client {
	t.Helper()
	return NewClient(srv.URL, append([]ClientOption{WithTimeout(5 * time.Second)}, opts...)...)
}

// loginAs creates username on srv and returns a client logged in as them.
func loginAs(t *testing.T, srv *testserver.Server, username string, opts ...ClientOption) (*Client, testserver.User) {
	t.Helper()
	u := srv.AddUser(username, "pw-"+username)
	c := newTestClient(t, srv, opts...)
	_, err := c.Auth.Login(context.Background(), username, "pw-"+username)
	require.NoError(t, err)
	return c, u
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ============================================================================
// Auth
// ============================================================================

func TestLogin(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)

	t.Run("persists session", func(t *testing.T) {
		st := NewMemoryStorage()
		srv.AddUser("alice", "secret")
		c := newTestClient(t, srv, WithStorage(st))

		sess, err := c.Auth.Login(ctx, "alice", "secret")
		require.NoError(t, err)
		assert.Equal(t, "alice", sess.User.Username)
		assert.NotEmpty(t, sess.RefreshToken)

		restored, err := NewSessionStore(st).Restore()
		require.NoError(t, err)
		require.NotNil(t, restored)
		assert.Equal(t, sess.AccessToken, restored.AccessToken)
	})

	t.Run("wrong password clears stale session", func(t *testing.T) {
		c := newTestClient(t, srv)
		require.NoError(t, c.Session().Begin(Session{User: User{ID: 99}, AccessToken: "old", RefreshToken: "old"}))

		_, err := c.Auth.Login(ctx, "alice", "nope")
		assert.ErrorIs(t, err, ErrUnauthorized)
		_, ok := c.Session().Current()
		assert.False(t, ok)
		assert.Zero(t, srv.RefreshCalls())
	})

	t.Run("missing fields", func(t *testing.T) {
		c := newTestClient(t, srv)
		_, err := c.Auth.Login(ctx, " ", "x")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestRegister(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)
	c := newTestClient(t, srv)

	u, err := c.Auth.Register(ctx, RegisterOptions{Username: "carol", Email: "carol@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, "carol@example.com", u.Email)
	_, ok := c.Session().Current()
	assert.False(t, ok, "registration must not log in")

	_, err = c.Auth.Register(ctx, RegisterOptions{Username: "carol", Password: "pw"})
	require.ErrorIs(t, err, ErrValidation)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Fields, "username")
}

func TestPasswordReset(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)
	u := srv.AddUser("dave", "old")
	c := newTestClient(t, srv)
	uid := strconv.FormatInt(u.ID, 10)

	err := c.Auth.ConfirmPasswordReset(ctx, uid, "forged", "new")
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, c.Auth.ConfirmPasswordReset(ctx, uid, testserver.ResetToken, "new"))
	_, err = c.Auth.Login(ctx, "dave", "new")
	assert.NoError(t, err)

	assert.ErrorIs(t, c.Auth.ConfirmPasswordReset(ctx, "", "", "x"), ErrValidation)
}

func TestGoogleLogin(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)
	c := newTestClient(t, srv)

	u, err := c.Auth.GoogleAuthURL(ctx)
	require.NoError(t, err)
	assert.Contains(t, u, "accounts.google.com")

	_, err = c.Auth.LoginWithGoogle(ctx, "bad-code")
	assert.ErrorIs(t, err, ErrValidation)

	sess, err := c.Auth.LoginWithGoogle(ctx, testserver.GoogleCode)
	require.NoError(t, err)
	assert.Equal(t, "google-user", sess.User.Username)

	me, err := c.Profile.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, me.ID)
}

// ============================================================================
// Credential refresh
// ============================================================================

func TestConcurrentExpiryRefreshesOnce(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	c, alice := loginAs(t, srv, "alice", WithMetrics(metrics))

	srv.ExpireAccessTokens()
	srv.SetRefreshDelay(200 * time.Millisecond)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			me, err := c.Profile.Me(ctx)
			if err == nil && me.ID != ID(alice.ID) {
				t.Errorf("caller %d got user %d", i, me.ID)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, 1, srv.RefreshCalls())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.refreshes.WithLabelValues("ok")))
	_, ok := c.Session().Current()
	assert.True(t, ok)
}

func TestRefreshRejectedEndsSession(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)
	c, _ := loginAs(t, srv, "alice")

	ended := make(chan EndReason, 1)
	c.Session().OnEnd(func(r EndReason) { ended <- r })

	srv.ExpireAccessTokens()
	srv.RevokeRefreshTokens()

	_, err := c.Conversations.List(ctx)
	require.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, EndAuthExpired, <-ended)
	_, ok := c.Session().Current()
	assert.False(t, ok)

	_, err = c.Conversations.List(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized, "no credential is sent once the session is gone")
}

func TestRejectedAfterRefreshEndsSession(t *testing.T) {
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access":"fresh"}`))
	})
	mux.HandleFunc("/api/chat/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Given token not valid for any token type"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.Session().Begin(Session{User: User{ID: 1}, AccessToken: "stale", RefreshToken: "r"}))

	_, err := c.Profile.Me(context.Background())
	require.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, int32(1), refreshes.Load())
	_, ok := c.Session().Current()
	assert.False(t, ok)
}

func TestMultipartReplayedAfterRefresh(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)
	c, _ := loginAs(t, srv, "alice")
	bob := srv.AddUser("bob", "pw")

	srv.ExpireAccessTokens()
	msg, err := c.Messages.SendPrivate(ctx, ID(bob.ID), OutgoingMessage{
		Content:    "see attached",
		Attachment: &Attachment{FileName: "notes.txt", Data: []byte("hello")},
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "/media/chat_attachments/notes.txt", msg.Attachment)
	assert.Equal(t, 1, srv.RefreshCalls())
	assert.Equal(t, 2, srv.Requests("/api/chat/private/"+strconv.FormatInt(bob.ID, 10)+"/"))
}

func TestRateLimit(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	c := newTestClient(t, srv, WithRateLimit(rate.Every(time.Hour), 1))

	_, err := c.Auth.GoogleAuthURL(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Auth.GoogleAuthURL(ctx)
	assert.ErrorIs(t, err, ErrNetwork)
}

// ============================================================================
// Resources
// ============================================================================

func TestConversationsAndMessages(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)
	c, alice := loginAs(t, srv, "alice")
	bob := srv.AddUser("bob", "pw")

	conv, err := c.Conversations.Create(ctx, ID(bob.ID))
	require.NoError(t, err)
	assert.Equal(t, ID(bob.ID), conv.PeerID)
	assert.Equal(t, "bob", conv.Name)

	again, err := c.Conversations.Create(ctx, ID(bob.ID))
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	_, err = c.Conversations.Create(ctx, ID(alice.ID))
	assert.ErrorIs(t, err, ErrNotFound)

	for _, text := range []string{"one", "two"} {
		_, err := c.Messages.Send(ctx, *conv, OutgoingMessage{Content: text})
		require.NoError(t, err)
	}
	_, err = c.Messages.Send(ctx, *conv, OutgoingMessage{Content: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	hist, err := c.Messages.History(ctx, *conv)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, "one", hist.Messages[0].Content)
	assert.Equal(t, conv.ID, hist.Messages[1].ConversationID)
	require.NotNil(t, hist.Peer)
	assert.Equal(t, "bob", hist.Peer.Username)

	list, err := c.Conversations.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "two", list[0].LastMessage)

	_, err = c.Messages.History(ctx, Conversation{ID: 1, Kind: KindDirect})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGroupMessages(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)
	c, alice := loginAs(t, srv, "alice")
	outsider := srv.AddUser("mallory", "pw")
	group := srv.AddGroup("team", alice.ID)

	_, err := c.Messages.SendGroup(ctx, ID(group), OutgoingMessage{Content: "hello team"})
	require.NoError(t, err)
	hist, err := c.Messages.Group(ctx, ID(group))
	require.NoError(t, err)
	require.Len(t, hist.Messages, 1)
	assert.Nil(t, hist.Peer)

	_, err = c.Messages.Group(ctx, ID(outsider.ID))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsersAndProfile(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)
	c, alice := loginAs(t, srv, "alice")
	srv.AddUser("bob", "pw")
	srv.AddUser("bobby", "pw")

	users, err := c.Users.Search(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, users, 2)

	users, err = c.Users.Search(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Equal(t, 1, srv.Requests("/api/chat/users/"))

	_, err = c.Users.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	me, err := c.Profile.Get(ctx)
	require.NoError(t, err)
	upd := ProfileUpdateFrom(*me)
	upd.FirstName = "Alice"
	upd.Status = "busy"
	upd.Image = &Attachment{FileName: "me.png", Data: []byte{0x89, 'P', 'N', 'G'}}

	updated, err := c.Profile.Update(ctx, upd)
	require.NoError(t, err)
	require.NotNil(t, updated.Profile)
	assert.Equal(t, "busy", updated.Profile.Status)
	assert.Equal(t, "/media/profile_images/me.png", updated.Profile.Image)

	sess, _ := c.Session().Current()
	assert.Equal(t, ID(alice.ID), sess.User.ID)
	assert.Equal(t, "Alice", sess.User.FirstName)
}

func TestReportDisconnect(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	c, alice := loginAs(t, srv, "alice")

	require.NoError(t, c.Presence.ReportDisconnect(testContext(t), ID(alice.ID)))
	assert.Equal(t, []int64{alice.ID}, srv.Disconnects())
}

func TestAuthorizeChannel(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	ctx := testContext(t)
	c, alice := loginAs(t, srv, "alice")
	bob := srv.AddUser("bob", "pw")

	channel := PrivateChannel(ID(alice.ID), ID(bob.ID))
	auth, err := c.AuthorizeChannel(ctx, DefaultAuthEndpoint, "123.456", channel)
	require.NoError(t, err)
	assert.Empty(t, auth.ChannelData)
	assert.True(t, testserver.VerifyChannel(auth.Auth, srv.AppKey, srv.AppSecret, "123.456", channel, ""))

	auth, err = c.AuthorizeChannel(ctx, DefaultAuthEndpoint, "123.456", PresenceChannel)
	require.NoError(t, err)
	assert.Contains(t, auth.ChannelData, `"user_id":"`+strconv.FormatInt(alice.ID, 10)+`"`)
	assert.True(t, testserver.VerifyChannel(auth.Auth, srv.AppKey, srv.AppSecret, "123.456", PresenceChannel, auth.ChannelData))

	_, err = c.AuthorizeChannel(ctx, DefaultAuthEndpoint, "123.456", "private-chat-98-99")
	assert.ErrorIs(t, err, ErrValidation)
}
