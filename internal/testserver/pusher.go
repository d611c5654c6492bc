package testserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// encode wraps data as a JSON string, the way hosted Pusher sends it.
func encode(event, channel string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	str, err := json.Marshal(string(raw))
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: event, Channel: channel, Data: str})
}

// payload accepts both inline objects and JSON-string data.
func (f frame) payload() []byte {
	if len(f.Data) > 0 && f.Data[0] == '"' {
		var s string
		if json.Unmarshal(f.Data, &s) == nil {
			return []byte(s)
		}
	}
	return f.Data
}

type presenceMember struct {
	UserID   string         `json:"user_id"`
	UserInfo map[string]any `json:"user_info,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

type socket struct {
	id     string
	conn   *websocket.Conn
	member map[string]int64 // presence channel -> user
}

func (s *socket) send(event, channel string, data any) error {
	b, err := encode(event, channel, data)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, b)
}

type hub struct {
	mu       sync.Mutex
	nextID   int
	sockets  map[string]*socket
	channels map[string]map[string]*socket
	presence map[string]map[int64]int // channel -> user -> socket count
}

func newHub() *hub {
	return &hub{
		sockets:  make(map[string]*socket),
		channels: make(map[string]map[string]*socket),
		presence: make(map[string]map[int64]int),
	}
}

func (h *hub) publish(channel, event string, data any) {
	h.mu.Lock()
	targets := make([]*socket, 0, len(h.channels[channel]))
	for _, s := range h.channels[channel] {
		targets = append(targets, s)
	}
	h.mu.Unlock()
	for _, s := range targets {
		s.send(event, channel, data)
	}
}

func (h *hub) members(channel string) []string {
	ids := make([]int64, 0, len(h.presence[channel]))
	for id := range h.presence[channel] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

// join adds s to channel and reports whether userID just came online there.
func (h *hub) join(s *socket, channel string, userID int64, presence bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[string]*socket)
	}
	if _, ok := h.channels[channel][s.id]; ok {
		return false
	}
	h.channels[channel][s.id] = s
	if !presence {
		return false
	}
	if h.presence[channel] == nil {
		h.presence[channel] = make(map[int64]int)
	}
	s.member[channel] = userID
	h.presence[channel][userID]++
	return h.presence[channel][userID] == 1
}

// leave removes s from channel and reports the user that went offline, if any.
func (h *hub) leave(s *socket, channel string) (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[channel][s.id]; !ok {
		return 0, false
	}
	delete(h.channels[channel], s.id)
	if len(h.channels[channel]) == 0 {
		delete(h.channels, channel)
	}
	userID, ok := s.member[channel]
	if !ok {
		return 0, false
	}
	delete(s.member, channel)
	h.presence[channel][userID]--
	if h.presence[channel][userID] > 0 {
		return 0, false
	}
	delete(h.presence[channel], userID)
	return userID, true
}

func (h *hub) subscribedChannels(s *socket) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for name, subs := range h.channels {
		if _, ok := subs[s.id]; ok {
			out = append(out, name)
		}
	}
	return out
}

// ============================================================================
// Websocket endpoint
// ============================================================================

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket accept failed")
		return
	}

	s.hub.mu.Lock()
	s.hub.nextID++
	sock := &socket{
		id:     fmt.Sprintf("%d.%d", 1000+s.hub.nextID, s.hub.nextID*7919%100000),
		conn:   conn,
		member: make(map[string]int64),
	}
	if chi.URLParam(r, "key") != s.AppKey {
		s.hub.mu.Unlock()
		sock.send("pusher:error", "", map[string]any{"code": 4001, "message": "App key not in this cluster"})
		conn.Close(websocket.StatusPolicyViolation, "unknown app key")
		return
	}
	s.hub.sockets[sock.id] = sock
	s.hub.mu.Unlock()

	defer s.dropSocket(sock)

	if err := sock.send("pusher:connection_established", "", map[string]any{
		"socket_id":        sock.id,
		"activity_timeout": int(s.ActivityTimeout / time.Second),
	}); err != nil {
		return
	}

	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Event {
		case "pusher:ping":
			if !s.silent.Load() {
				sock.send("pusher:pong", "", map[string]any{})
			}
		case "pusher:subscribe":
			s.subscribe(sock, f.payload())
		case "pusher:unsubscribe":
			var req struct {
				Channel string `json:"channel"`
			}
			if json.Unmarshal(f.payload(), &req) == nil {
				s.unsubscribe(sock, req.Channel)
			}
		}
	}
}

func (s *Server) subscribe(sock *socket, data []byte) {
	var req struct {
		Channel     string `json:"channel"`
		Auth        string `json:"auth"`
		ChannelData string `json:"channel_data"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Channel == "" {
		return
	}
	channel := req.Channel
	presence := strings.HasPrefix(channel, "presence-")

	if presence || strings.HasPrefix(channel, "private-") {
		if !VerifyChannel(req.Auth, s.AppKey, s.AppSecret, sock.id, channel, req.ChannelData) {
			sock.send("pusher:subscription_error", channel, map[string]any{
				"type":   "AuthError",
				"error":  "Invalid signature",
				"status": 401,
			})
			return
		}
	}

	var userID int64
	if presence {
		var member presenceMember
		if err := json.Unmarshal([]byte(req.ChannelData), &member); err != nil {
			return
		}
		userID, _ = strconv.ParseInt(member.UserID, 10, 64)
	}

	joined := s.hub.join(sock, channel, userID, presence)

	ack := map[string]any{}
	if presence {
		s.hub.mu.Lock()
		ids := s.hub.members(channel)
		s.hub.mu.Unlock()
		ack["presence"] = map[string]any{"ids": ids, "hash": map[string]any{}, "count": len(ids)}
	}
	sock.send("pusher_internal:subscription_succeeded", channel, ack)

	if joined {
		s.broadcastExcept(sock, channel, "pusher_internal:member_added", presenceMember{
			UserID: strconv.FormatInt(userID, 10),
		})
	}
}

func (s *Server) unsubscribe(sock *socket, channel string) {
	if userID, gone := s.hub.leave(sock, channel); gone {
		s.broadcastExcept(sock, channel, "pusher_internal:member_removed", presenceMember{
			UserID: strconv.FormatInt(userID, 10),
		})
	}
}

func (s *Server) broadcastExcept(skip *socket, channel, event string, data any) {
	s.hub.mu.Lock()
	var targets []*socket
	for id, t := range s.hub.channels[channel] {
		if id != skip.id {
			targets = append(targets, t)
		}
	}
	s.hub.mu.Unlock()
	for _, t := range targets {
		t.send(event, channel, data)
	}
}

func (s *Server) dropSocket(sock *socket) {
	for _, channel := range s.hub.subscribedChannels(sock) {
		s.unsubscribe(sock, channel)
	}
	s.hub.mu.Lock()
	delete(s.hub.sockets, sock.id)
	s.hub.mu.Unlock()
}
