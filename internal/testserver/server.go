// Package testserver is an in-process fake of the chat backend: the REST API
// and a Pusher-protocol websocket endpoint, with hooks to expire credentials,
// inject failures and publish events.
package testserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ============================================================================
// Wire types
// ============================================================================

type Profile struct {
	Image    string `json:"image,omitempty"`
	Lieu     string `json:"lieu,omitempty"`
	DateNaiv string `json:"date_naiv,omitempty"`
	Status   string `json:"status,omitempty"`
	Passion  string `json:"passion,omitempty"`
}

type User struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Profile   *Profile `json:"profile,omitempty"`
}

type Message struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	Sender         string `json:"sender"`
	SenderID       int64  `json:"sender_id"`
	Content        string `json:"content"`
	Attachment     string `json:"attachment,omitempty"`
	Timestamp      string `json:"timestamp"`
}

type conversationView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	LastMessage string `json:"lastMessage"`
	Timestamp   string `json:"timestamp,omitempty"`
	IsGroup     bool   `json:"isGroup"`
	UserID      int64  `json:"userId,omitempty"`
	IsOnline    bool   `json:"isOnline,omitempty"`
}

type conversation struct {
	id       int64
	group    bool
	name     string
	members  []int64
	messages []Message
	created  time.Time
}

func (c *conversation) has(userID int64) bool {
	for _, m := range c.members {
		if m == userID {
			return true
		}
	}
	return false
}

func (c *conversation) peerOf(userID int64) int64 {
	for _, m := range c.members {
		if m != userID {
			return m
		}
	}
	return 0
}

// ============================================================================
// Server
// ============================================================================

// Server is a running fake backend. Zero-config: New starts it.
type Server struct {
	*httptest.Server

	AppKey          string
	AppSecret       string
	ActivityTimeout time.Duration

	log zerolog.Logger
	hub *hub

	mu            sync.Mutex
	nextID        int64
	lastTime      time.Time
	users         map[int64]*User
	passwords     map[string]string
	access        map[string]int64
	refresh       map[string]int64
	conversations map[int64]*conversation
	failures      map[string]int
	delays        map[string]time.Duration
	requests      map[string]int
	disconnects   []int64

	refreshCalls atomic.Int32
	refreshDelay atomic.Int64
	silent       atomic.Bool
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithActivityTimeout sets the activity timeout announced to sockets.
func WithActivityTimeout(d time.Duration) Option {
	return func(s *Server) { s.ActivityTimeout = d }
}

// New starts a fake backend. Close it when done.
func New(opts ...Option) *Server {
	s := &Server{
		AppKey:          "test-key",
		AppSecret:       "test-secret",
		ActivityTimeout: 120 * time.Second,
		log:             zerolog.Nop(),
		hub:             newHub(),
		users:           make(map[int64]*User),
		passwords:       make(map[string]string),
		access:          make(map[string]int64),
		refresh:         make(map[string]int64),
		conversations:   make(map[int64]*conversation),
		failures:        make(map[string]int),
		delays:          make(map[string]time.Duration),
		requests:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.instrument)

	r.Post("/api/token/", s.handleLogin)
	r.Post("/api/token/refresh/", s.handleRefresh)
	r.Post("/api/register/", s.handleRegister)
	r.Post("/api/password-reset/confirm/", s.handleResetConfirm)
	r.Get("/auth/google/", s.handleGoogleURL)
	r.Get("/auth/google/callback/", s.handleGoogleCallback)
	r.Get("/app/{key}", s.handleSocket)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/api/chat/conversations/", s.handleConversations)
		r.Post("/api/chat/conversations/create/", s.handleCreateConversation)
		r.Get("/api/chat/private/{userID}/", s.handlePrivateHistory)
		r.Post("/api/chat/private/{userID}/", s.handlePrivateSend)
		r.Get("/api/chat/group/{groupID}/", s.handleGroupHistory)
		r.Post("/api/chat/group/{groupID}/", s.handleGroupSend)
		r.Get("/api/chat/users/", s.handleSearchUsers)
		r.Get("/api/chat/users/{userID}", s.handleGetUser)
		r.Get("/api/chat/me", s.handleMe)
		r.Get("/api/chat/profile/", s.handleMe)
		r.Put("/api/chat/profile/", s.handleUpdateProfile)
		r.Post("/api/chat/handle-disconnect/", s.handleDisconnect)
		r.Post("/api/chat/pusher/auth/", s.handleChannelAuth)
	})
	return r
}

// ============================================================================
// Test controls
// ============================================================================

// AddUser registers an account and returns it.
func (s *Server) AddUser(username, password string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.addUserLocked(username, password, "")
}

func (s *Server) addUserLocked(username, password, email string) *User {
	s.nextID++
	u := &User{ID: s.nextID, Username: username, Email: email, Profile: &Profile{}}
	s.users[u.ID] = u
	s.passwords[username] = password
	return u
}

// IssueTokens logs userID in without a request.
func (s *Server) IssueTokens(userID int64) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(userID)
}

func (s *Server) issueLocked(userID int64) (string, string) {
	access, refresh := "acc-"+uuid.NewString(), "ref-"+uuid.NewString()
	s.access[access] = userID
	s.refresh[refresh] = userID
	return access, refresh
}

// ExpireAccessTokens invalidates every issued access credential.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	s.access = make(map[string]int64)
	s.mu.Unlock()
}

// RevokeRefreshTokens invalidates every issued refresh credential.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	s.refresh = make(map[string]int64)
	s.mu.Unlock()
}

// RefreshCalls returns how many refresh requests were served.
func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// SetRefreshDelay slows the refresh endpoint down.
func (s *Server) SetRefreshDelay(d time.Duration) { s.refreshDelay.Store(int64(d)) }

// FailNext makes the next request to path answer with status.
func (s *Server) FailNext(path string, status int) {
	s.mu.Lock()
	s.failures[path] = status
	s.mu.Unlock()
}

// Delay holds every request to path for d before handling it.
func (s *Server) Delay(path string, d time.Duration) {
	s.mu.Lock()
	s.delays[path] = d
	s.mu.Unlock()
}

// Requests returns how many requests hit path.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// Disconnects returns the user ids reported through handle-disconnect.
func (s *Server) Disconnects() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.disconnects...)
}

// AddGroup creates a group conversation.
func (s *Server) AddGroup(name string, members ...int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.conversations[s.nextID] = &conversation{
		id: s.nextID, group: true, name: name, members: members, created: s.nowLocked(),
	}
	return s.nextID
}

// Publish sends an event to every socket subscribed to channel.
func (s *Server) Publish(channel, event string, data any) {
	s.hub.publish(channel, event, data)
}

// Subscribers returns the number of sockets on channel.
func (s *Server) Subscribers(channel string) int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return len(s.hub.channels[channel])
}

// Online returns the user ids present on a presence channel.
func (s *Server) Online(channel string) []string {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.hub.members(channel)
}

// DropConnections closes every open socket, simulating a network drop.
func (s *Server) DropConnections() {
	s.hub.mu.Lock()
	socks := make([]*socket, 0, len(s.hub.sockets))
	for _, sock := range s.hub.sockets {
		socks = append(socks, sock)
	}
	s.hub.mu.Unlock()
	for _, sock := range socks {
		go sock.conn.Close(4200, "dropped by test")
	}
}

// SilencePongs stops answering pusher:ping.
func (s *Server) SilencePongs(on bool) { s.silent.Store(on) }

// nowLocked returns a strictly increasing timestamp.
func (s *Server) nowLocked() time.Time {
	t := time.Now().UTC()
	if !t.After(s.lastTime) {
		t = s.lastTime.Add(time.Microsecond)
	}
	s.lastTime = t
	return t
}

// ============================================================================
// Middleware
// ============================================================================

type ctxKey struct{}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.URL.Path]++
		status, fail := s.failures[r.URL.Path]
		delete(s.failures, r.URL.Path)
		delay := s.delays[r.URL.Path]
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if fail {
			writeJSON(w, status, map[string]string{"detail": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		userID, valid := s.access[token]
		s.mu.Unlock()
		if !ok || !valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func currentUser(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxKey{}).(int64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}

// ============================================================================
// Auth
// ============================================================================

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pw, ok := s.passwords[req.Username]
	if !ok || pw != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "No active account found with the given credentials",
		})
		return
	}
	var user *User
	for _, u := range s.users {
		if u.Username == req.Username {
			user = u
		}
	}
	access, refresh := s.issueLocked(user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"access": access, "refresh": refresh, "user": user})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if d := time.Duration(s.refreshDelay.Load()); d > 0 {
		time.Sleep(d)
	}
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.refresh[req.Refresh]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}
	access := "acc-" + uuid.NewString()
	s.access[access] = userID
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.passwords[req.Username]; taken {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"username": {"A user with that username already exists."},
		})
		return
	}
	u := s.addUserLocked(req.Username, req.Password, req.Email)
	writeJSON(w, http.StatusCreated, u)
}

// ResetToken is the only password reset token the server accepts.
const ResetToken = "valid-reset-token"

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID         string `json:"uid"`
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeBody(r, &req); err != nil || req.Token != ResetToken {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid or expired link"})
		return
	}
	id, _ := strconv.ParseInt(req.UID, 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid or expired link"})
		return
	}
	s.passwords[u.Username] = req.NewPassword
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Password has been reset."})
}

// GoogleCode is the only callback code the fake Google flow accepts.
const GoogleCode = "google-code"

func (s *Server) handleGoogleURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"authorization_url": "https://accounts.google.com/o/oauth2/auth?client_id=test",
	})
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("code") != GoogleCode {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var user *User
	for _, u := range s.users {
		if u.Username == "google-user" {
			user = u
		}
	}
	if user == nil {
		user = s.addUserLocked("google-user", uuid.NewString(), "google-user@example.com")
	}
	access, refresh := s.issueLocked(user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"access_token": access, "refresh_token": refresh, "user": user})
}

// ============================================================================
// Conversations
// ============================================================================

func (s *Server) viewLocked(c *conversation, viewer int64) conversationView {
	v := conversationView{ID: c.id, Name: c.name, IsGroup: c.group}
	activity := c.created
	if n := len(c.messages); n > 0 {
		last := c.messages[n-1]
		v.LastMessage = last.Content
		if last.Content == "" && last.Attachment != "" {
			v.LastMessage = "[attachment]"
		}
		activity, _ = time.Parse(time.RFC3339Nano, last.Timestamp)
	}
	v.Timestamp = activity.Format(time.RFC3339Nano)
	if !c.group {
		peer := c.peerOf(viewer)
		v.UserID = peer
		if u, ok := s.users[peer]; ok {
			v.Name = u.Username
		}
		s.hub.mu.Lock()
		v.IsOnline = s.hub.presence["presence-channel"][peer] > 0
		s.hub.mu.Unlock()
	}
	return v
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	self := currentUser(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	list := []conversationView{}
	for _, c := range s.conversations {
		if c.has(self) {
			list = append(list, s.viewLocked(c, self))
		}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) directLocked(a, b int64) *conversation {
	for _, c := range s.conversations {
		if !c.group && c.has(a) && c.has(b) {
			return c
		}
	}
	return nil
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	self := currentUser(r)
	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}

	s.mu.Lock()
	if _, ok := s.users[req.UserID]; !ok || req.UserID == self {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "User not found."})
		return
	}
	conv := s.directLocked(self, req.UserID)
	created := conv == nil
	if created {
		s.nextID++
		conv = &conversation{id: s.nextID, members: []int64{self, req.UserID}, created: s.nowLocked()}
		s.conversations[conv.id] = conv
	}
	mine := s.viewLocked(conv, self)
	theirs := s.viewLocked(conv, req.UserID)
	s.mu.Unlock()

	if created {
		s.Publish(userChannel(req.UserID), "new-conversation", theirs)
		s.Publish(userChannel(self), "new-conversation", mine)
	}
	writeJSON(w, http.StatusCreated, mine)
}

// ============================================================================
// Messages
// ============================================================================

func privateChannel(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("private-chat-%d-%d", a, b)
}

func userChannel(id int64) string { return fmt.Sprintf("user-%d-conversations", id) }

func (s *Server) handlePrivateHistory(w http.ResponseWriter, r *http.Request) {
	self := currentUser(r)
	peer, ok := pathID(r, "userID")
	s.mu.Lock()
	defer s.mu.Unlock()
	u, exists := s.users[peer]
	if !ok || !exists {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	msgs := []Message{}
	if c := s.directLocked(self, peer); c != nil {
		msgs = append(msgs, c.messages...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "recipient": u})
}

func (s *Server) handleGroupHistory(w http.ResponseWriter, r *http.Request) {
	self := currentUser(r)
	id, _ := pathID(r, "groupID")
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || !c.group || !c.has(self) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, append([]Message{}, c.messages...))
}

// readMessage parses the multipart send form.
func readMessage(r *http.Request) (content, attachment string, err error) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return "", "", err
	}
	content = r.FormValue("content")
	if _, header, ferr := r.FormFile("attachment"); ferr == nil {
		attachment = "/media/chat_attachments/" + header.Filename
	}
	return content, attachment, nil
}

func (s *Server) handlePrivateSend(w http.ResponseWriter, r *http.Request) {
	self := currentUser(r)
	peer, ok := pathID(r, "userID")
	content, attachment, err := readMessage(r)
	if err != nil || (strings.TrimSpace(content) == "" && attachment == "") {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"content": {"This field may not be blank."}})
		return
	}

	s.mu.Lock()
	if _, exists := s.users[peer]; !ok || !exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	conv := s.directLocked(self, peer)
	if conv == nil {
		s.nextID++
		conv = &conversation{id: s.nextID, members: []int64{self, peer}, created: s.nowLocked()}
		s.conversations[conv.id] = conv
	}
	msg := s.appendLocked(conv, self, content, attachment)
	s.mu.Unlock()

	s.Publish(privateChannel(self, peer), "new-message", msg)
	for _, member := range conv.members {
		s.Publish(userChannel(member), "new-message", msg)
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleGroupSend(w http.ResponseWriter, r *http.Request) {
	self := currentUser(r)
	id, _ := pathID(r, "groupID")
	content, attachment, err := readMessage(r)
	if err != nil || (strings.TrimSpace(content) == "" && attachment == "") {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"content": {"This field may not be blank."}})
		return
	}

	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok || !conv.group || !conv.has(self) {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	msg := s.appendLocked(conv, self, content, attachment)
	members := append([]int64(nil), conv.members...)
	s.mu.Unlock()

	s.Publish(fmt.Sprintf("group-chat-%d", id), "new-message", msg)
	for _, member := range members {
		s.Publish(userChannel(member), "new-message", msg)
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) appendLocked(conv *conversation, sender int64, content, attachment string) Message {
	s.nextID++
	msg := Message{
		ID:             s.nextID,
		ConversationID: conv.id,
		Sender:         s.users[sender].Username,
		SenderID:       sender,
		Content:        content,
		Attachment:     attachment,
		Timestamp:      s.nowLocked().Format(time.RFC3339Nano),
	}
	conv.messages = append(conv.messages, msg)
	return msg
}

// ============================================================================
// Users and profile
// ============================================================================

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("search"))
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []User{}
	for id := int64(1); id <= s.nextID; id++ {
		if u, ok := s.users[id]; ok && strings.Contains(strings.ToLower(u.Username), q) {
			out = append(out, *u)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, _ := pathID(r, "userID")
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.users[currentUser(r)])
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "expected multipart form"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[currentUser(r)]
	if v := r.FormValue("username"); v != "" {
		u.Username = v
	}
	u.Email = r.FormValue("email")
	u.FirstName = r.FormValue("first_name")
	u.LastName = r.FormValue("last_name")
	if u.Profile == nil {
		u.Profile = &Profile{}
	}
	u.Profile.Lieu = r.FormValue("profile.lieu")
	u.Profile.DateNaiv = r.FormValue("profile.date_naiv")
	u.Profile.Status = r.FormValue("profile.status")
	u.Profile.Passion = r.FormValue("profile.passion")
	if _, header, err := r.FormFile("profile.image"); err == nil {
		u.Profile.Image = "/media/profile_images/" + header.Filename
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"userId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}
	s.mu.Lock()
	s.disconnects = append(s.disconnects, req.UserID)
	s.mu.Unlock()
	s.Publish("presence-channel", "user-status-changed", map[string]any{
		"userId": req.UserID, "isOnline": false,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============================================================================
// Channel authorization
// ============================================================================

func (s *Server) handleChannelAuth(w http.ResponseWriter, r *http.Request) {
	self := currentUser(r)
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed form"})
		return
	}
	socketID := r.PostFormValue("socket_id")
	channel := r.PostFormValue("channel_name")
	if socketID == "" || channel == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "socket_id and channel_name are required"})
		return
	}
	if !s.mayJoin(self, channel) {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Forbidden"})
		return
	}

	resp := map[string]string{}
	channelData := ""
	if strings.HasPrefix(channel, "presence-") {
		s.mu.Lock()
		username := s.users[self].Username
		s.mu.Unlock()
		raw, _ := json.Marshal(presenceMember{
			UserID:   strconv.FormatInt(self, 10),
			UserInfo: map[string]any{"username": username},
		})
		channelData = string(raw)
		resp["channel_data"] = channelData
	}
	resp["auth"] = SignChannel(s.AppKey, s.AppSecret, socketID, channel, channelData)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) mayJoin(userID int64, channel string) bool {
	var a, b int64
	if n, _ := fmt.Sscanf(channel, "private-chat-%d-%d", &a, &b); n == 2 {
		return userID == a || userID == b
	}
	return true
}
