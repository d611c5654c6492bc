package frontchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// DefaultAuthEndpoint is the API path that signs private and presence
// channel subscriptions.
const DefaultAuthEndpoint = "/api/chat/pusher/auth/"

// RealtimeConfig configures the realtime channel manager.
type RealtimeConfig struct {
	Key          string
	Cluster      string
	Host         string // overrides wss://ws-{cluster}.pusher.com, e.g. a self-hosted server
	AuthEndpoint string

	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	ActivityTimeout time.Duration
	PongTimeout     time.Duration
	DialTimeout     time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.AuthEndpoint == "" {
		c.AuthEndpoint = DefaultAuthEndpoint
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ActivityTimeout == 0 {
		c.ActivityTimeout = 120 * time.Second
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = 30 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 15 * time.Second
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ConnectionEvent is passed to OnStateChange listeners. Resubscribed is set
// when a connection came back with channels re-established; events sent
// while it was down are lost and consumers should re-fetch.
type ConnectionEvent struct {
	State        RealtimeState
	Err          error
	Resubscribed bool
}

// ============================================================================
// Handlers and subscriptions
// ============================================================================

// Handlers are the typed callbacks of one subscription. Nil fields are
// skipped. Handlers run one at a time on the connection's read goroutine and
// must not block or call Subscribe.
type Handlers struct {
	OnMessage          func(Message)
	OnConversation     func(Conversation)
	OnPresenceSnapshot func(members []ID)
	OnPresence         func(PresenceEvent)
	OnEvent            func(event string, data json.RawMessage)
}

// Subscription is the cancellation token returned by Subscribe.
type Subscription struct {
	id       string
	channel  string
	handlers Handlers
	closed   atomic.Bool
	cancel   func()
}

func newSubscription(channel string, h Handlers, cancel func()) *Subscription {
	return &Subscription{id: uuid.NewString(), channel: channel, handlers: h, cancel: cancel}
}

func (s *Subscription) ID() string      { return s.id }
func (s *Subscription) Channel() string { return s.channel }

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool { return s != nil && !s.closed.Load() }

// Cancel stops delivery to this subscription. It is idempotent.
func (s *Subscription) Cancel() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// ChannelSubscriber is what the reconcilers need from a channel manager.
type ChannelSubscriber interface {
	Subscribe(ctx context.Context, channel string, h Handlers) (*Subscription, error)
	OnStateChange(fn func(ConnectionEvent)) func()
}

// ChannelAuthorizer signs private and presence channel subscriptions.
type ChannelAuthorizer interface {
	AuthorizeChannel(ctx context.Context, socketID, channel string) (*ChannelAuth, error)
}

type endpointAuthorizer struct {
	c    *Client
	path string
}

func (a endpointAuthorizer) AuthorizeChannel(ctx context.Context, socketID, channel string) (*ChannelAuth, error) {
	return a.c.AuthorizeChannel(ctx, a.path, socketID, channel)
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	r.connectedAt = time.Now()
	r.mu.Unlock()
}

func (r *reconnector) nextDelay() (time.Duration, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay, r.attempt
}

func (r *reconnector) reset() {
	r.mu.Lock()
	r.attempt = 0
	r.connectedAt = time.Time{}
	r.mu.Unlock()
}

// ============================================================================
// Realtime channel manager
// ============================================================================

type channelState struct {
	subs       []*Subscription
	subscribed bool
	members    *PresenceSet // presence channels only
}

func (c *channelState) remove(id string) {
	for i, s := range c.subs {
		if s.id == id {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

var errNotConnected = errors.New("realtime: not connected")

// Realtime multiplexes channel subscriptions over one Pusher-protocol
// websocket connection, dialed on the first Subscribe.
type Realtime struct {
	cfg     RealtimeConfig
	auth    ChannelAuthorizer
	log     zerolog.Logger
	metrics *Metrics
	recon   *reconnector

	connectMu  sync.Mutex // serializes dials
	dispatchMu sync.Mutex // serializes handler invocations

	mu              sync.Mutex
	state           RealtimeState
	conn            *websocket.Conn
	socketID        string
	activityTimeout time.Duration
	lastActivity    time.Time
	pong            chan struct{}
	cancel          context.CancelFunc
	closed          bool
	reconnecting    bool
	channels        map[string]*channelState
	listeners       map[int]func(ConnectionEvent)
	nextListener    int
}

type RealtimeOption func(*Realtime)

func WithRealtimeLogger(l zerolog.Logger) RealtimeOption {
	return func(r *Realtime) { r.log = l }
}

func WithRealtimeMetrics(m *Metrics) RealtimeOption {
	return func(r *Realtime) { r.metrics = m }
}

// NewRealtime creates a channel manager. auth may be nil when only public
// channels are used.
func NewRealtime(cfg RealtimeConfig, auth ChannelAuthorizer, opts ...RealtimeOption) *Realtime {
	cfg.defaults()
	r := &Realtime{
		cfg:       cfg,
		auth:      auth,
		log:       zerolog.Nop(),
		recon:     newReconnector(&cfg),
		state:     StateDisconnected,
		channels:  make(map[string]*channelState),
		listeners: make(map[int]func(ConnectionEvent)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Realtime returns a channel manager that authorizes channels through this
// client and disconnects when the session ends.
func (c *Client) Realtime(cfg RealtimeConfig, opts ...RealtimeOption) *Realtime {
	cfg.defaults()
	base := []RealtimeOption{WithRealtimeLogger(c.log), WithRealtimeMetrics(c.metrics)}
	r := NewRealtime(cfg, endpointAuthorizer{c: c, path: cfg.AuthEndpoint}, append(base, opts...)...)
	c.session.OnEnd(func(reason EndReason) {
		r.log.Debug().Str("reason", string(reason)).Msg("session ended, closing realtime")
		r.Disconnect()
	})
	return r
}

// State returns the current connection state.
func (r *Realtime) State() RealtimeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SocketID returns the id assigned by the server, or "" when disconnected.
func (r *Realtime) SocketID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.socketID
}

// Members returns the known online members of a presence channel.
func (r *Realtime) Members(channel string) []ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.channels[channel]
	if ch == nil || ch.members == nil {
		return nil
	}
	return ch.members.IDs()
}

// OnStateChange registers a connection state listener. The returned func
// removes it.
func (r *Realtime) OnStateChange(fn func(ConnectionEvent)) func() {
	r.mu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Realtime) emit(ev ConnectionEvent) {
	r.mu.Lock()
	listeners := make([]func(ConnectionEvent), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()
	r.metrics.observeState(ev.State)
	for _, fn := range listeners {
		if p := safeCall(func() { fn(ev) }); p != nil {
			r.log.Error().Interface("panic", p).Str("state", string(ev.State)).Msg("state listener panicked")
		}
	}
}

// Subscribe registers h on channel, connecting first if needed. Several
// subscriptions may share a channel; the server subscription is made once.
// A late subscriber to an acknowledged presence channel immediately gets
// the cached member snapshot.
func (r *Realtime) Subscribe(ctx context.Context, channel string, h Handlers) (*Subscription, error) {
	if channel == "" {
		return nil, fmt.Errorf("channel name is required")
	}
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	var sub *Subscription
	sub = newSubscription(channel, h, func() { r.remove(sub) })

	r.dispatchMu.Lock()
	r.mu.Lock()
	ch, exists := r.channels[channel]
	if !exists {
		ch = &channelState{}
		if isPresenceChannel(channel) {
			ch.members = NewPresenceSet()
		}
		r.channels[channel] = ch
	}
	ch.subs = append(ch.subs, sub)
	replay := exists && ch.subscribed && ch.members != nil
	var snapshot []ID
	if replay {
		snapshot = ch.members.IDs()
	}
	conn, socketID := r.conn, r.socketID
	r.mu.Unlock()
	if replay && h.OnPresenceSnapshot != nil {
		r.invoke(sub, func() { h.OnPresenceSnapshot(snapshot) })
	}
	r.dispatchMu.Unlock()

	if !exists {
		if err := r.sendSubscribe(ctx, conn, socketID, channel); err != nil {
			sub.Cancel()
			return nil, err
		}
	}
	r.log.Debug().Str("channel", channel).Str("subscription", sub.id).Msg("subscribed")
	return sub, nil
}

// Unsubscribe cancels sub. Equivalent to sub.Cancel().
func (r *Realtime) Unsubscribe(sub *Subscription) {
	sub.Cancel()
}

func (r *Realtime) remove(sub *Subscription) {
	r.mu.Lock()
	ch := r.channels[sub.channel]
	last := false
	if ch != nil {
		ch.remove(sub.id)
		if len(ch.subs) == 0 {
			delete(r.channels, sub.channel)
			last = true
		}
	}
	conn := r.conn
	r.mu.Unlock()

	if last && conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.write(ctx, conn, eventUnsubscribe, subscribeData{Channel: sub.channel}); err != nil {
			r.log.Debug().Err(err).Str("channel", sub.channel).Msg("unsubscribe not sent")
		}
	}
}

// Disconnect closes the connection and drops every subscription. The
// manager can be reused; the next Subscribe dials again.
func (r *Realtime) Disconnect() error {
	r.mu.Lock()
	r.closed = true
	conn := r.conn
	cancel := r.cancel
	r.conn, r.socketID, r.cancel = nil, "", nil
	var subs []*Subscription
	for _, ch := range r.channels {
		subs = append(subs, ch.subs...)
	}
	r.channels = make(map[string]*channelState)
	wasUp := r.state != StateDisconnected
	r.state = StateDisconnected
	r.mu.Unlock()

	for _, s := range subs {
		s.closed.Store(true)
	}
	r.recon.reset()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			r.log.Debug().Err(err).Msg("realtime close")
		}
	}
	if cancel != nil {
		cancel()
	}
	if wasUp {
		r.log.Info().Msg("realtime disconnected")
		r.emit(ConnectionEvent{State: StateDisconnected})
	}
	return nil
}

// ============================================================================
// Connection lifecycle
// ============================================================================

func (r *Realtime) ensureConnected(ctx context.Context) error {
	r.connectMu.Lock()
	defer r.connectMu.Unlock()

	r.mu.Lock()
	if r.conn != nil {
		r.mu.Unlock()
		return nil
	}
	r.closed = false
	r.mu.Unlock()
	return r.connect(ctx)
}

// connect dials, waits for the handshake and re-subscribes channels that
// survived a drop. Callers hold connectMu.
func (r *Realtime) connect(ctx context.Context) error {
	r.mu.Lock()
	r.state = StateConnecting
	r.mu.Unlock()
	r.emit(ConnectionEvent{State: StateConnecting})

	fail := func(err error) error {
		r.mu.Lock()
		r.state = StateDisconnected
		r.mu.Unlock()
		r.emit(ConnectionEvent{State: StateDisconnected, Err: err})
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, socketURL(r.cfg), nil)
	if err != nil {
		return fail(fmt.Errorf("websocket dial: %w", err))
	}

	_, data, err := conn.Read(dctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return fail(fmt.Errorf("read handshake: %w", err))
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return fail(fmt.Errorf("decode handshake: %w", err))
	}
	if f.Event == eventError {
		re := &RealtimeError{}
		_ = json.Unmarshal(f.payload(), re)
		conn.Close(websocket.StatusNormalClosure, "")
		return fail(re)
	}
	var est connectionEstablished
	if f.Event != eventConnectionEstablished || json.Unmarshal(f.payload(), &est) != nil || est.SocketID == "" {
		conn.Close(websocket.StatusNormalClosure, "")
		return fail(fmt.Errorf("expected %s, got %q", eventConnectionEstablished, f.Event))
	}

	activity := r.cfg.ActivityTimeout
	if est.ActivityTimeout > 0 {
		if server := time.Duration(est.ActivityTimeout) * time.Second; server < activity {
			activity = server
		}
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.conn = conn
	r.socketID = est.SocketID
	r.activityTimeout = activity
	r.lastActivity = time.Now()
	r.pong = make(chan struct{}, 1)
	r.cancel = loopCancel
	r.state = StateConnected
	r.reconnecting = false
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	r.mu.Unlock()
	r.recon.markConnected()

	go r.readLoop(loopCtx, conn)
	go r.heartbeatLoop(loopCtx, conn)

	sort.Strings(names)
	var resubErr error
	for _, name := range names {
		if err := r.sendSubscribe(ctx, conn, est.SocketID, name); err != nil {
			r.log.Warn().Err(err).Str("channel", name).Msg("resubscribe failed")
			resubErr = errors.Join(resubErr, err)
		}
	}

	r.log.Info().Str("socket_id", est.SocketID).Int("channels", len(names)).Msg("realtime connected")
	r.emit(ConnectionEvent{State: StateConnected, Err: resubErr, Resubscribed: len(names) > 0})
	return nil
}

func (r *Realtime) sendSubscribe(ctx context.Context, conn *websocket.Conn, socketID, channel string) error {
	data := subscribeData{Channel: channel}
	if requiresAuth(channel) {
		if r.auth == nil {
			return fmt.Errorf("channel %s requires authorization", channel)
		}
		a, err := r.auth.AuthorizeChannel(ctx, socketID, channel)
		if err != nil {
			return fmt.Errorf("failed to authorize %s: %w", channel, err)
		}
		data.Auth, data.ChannelData = a.Auth, a.ChannelData
	}
	return r.write(ctx, conn, eventSubscribe, data)
}

func (r *Realtime) write(ctx context.Context, conn *websocket.Conn, event string, data any) error {
	if conn == nil {
		return errNotConnected
	}
	b, err := encodeFrame(event, "", data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func (r *Realtime) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			r.handleDrop(conn, err)
			return
		}
		r.mu.Lock()
		r.lastActivity = time.Now()
		r.mu.Unlock()

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			r.log.Debug().Err(err).Msg("dropping malformed realtime frame")
			continue
		}
		r.metrics.observeEvent(f.Event)
		r.handleFrame(ctx, conn, f)
	}
}

func (r *Realtime) handleFrame(ctx context.Context, conn *websocket.Conn, f frame) {
	switch f.Event {
	case eventPing:
		if err := r.write(ctx, conn, eventPong, struct{}{}); err != nil {
			r.log.Debug().Err(err).Msg("pong not sent")
		}
	case eventPong:
		r.mu.Lock()
		p := r.pong
		r.mu.Unlock()
		select {
		case p <- struct{}{}:
		default:
		}
	case eventError:
		re := &RealtimeError{}
		_ = json.Unmarshal(f.payload(), re)
		r.log.Warn().Int("code", re.Code).Str("message", re.Message).Msg("realtime error")
		r.emit(ConnectionEvent{State: r.State(), Err: re})
	case eventSubscriptionError:
		var se struct {
			Type   string `json:"type"`
			Error  string `json:"error"`
			Status int    `json:"status"`
		}
		_ = json.Unmarshal(f.payload(), &se)
		re := &RealtimeError{Code: se.Status, Message: strings.TrimSpace(se.Type + " " + se.Error), Channel: f.Channel}
		r.log.Warn().Str("channel", f.Channel).Str("error", re.Message).Msg("subscription rejected")
		r.emit(ConnectionEvent{State: r.State(), Err: re})
	default:
		if f.Channel != "" {
			r.dispatch(f)
		}
	}
}

// dispatch folds protocol state (acks, membership) into the channel and
// hands the event to every active subscription of that channel, in order.
func (r *Realtime) dispatch(f frame) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	payload := f.payload()
	var (
		snapshot []ID
		presence *PresenceEvent
	)

	r.mu.Lock()
	ch := r.channels[f.Channel]
	if ch == nil {
		r.mu.Unlock()
		return
	}
	switch f.Event {
	case eventSubscriptionSucceeded:
		ch.subscribed = true
		if ch.members != nil {
			var pd presenceData
			if err := json.Unmarshal(payload, &pd); err == nil {
				ch.members.Reset(pd.Presence.IDs)
			}
			snapshot = ch.members.IDs()
		}
	case eventMemberAdded, eventMemberRemoved:
		var md memberData
		if err := json.Unmarshal(payload, &md); err != nil {
			r.mu.Unlock()
			return
		}
		online := f.Event == eventMemberAdded
		if ch.members != nil {
			ch.members.Set(md.UserID, online)
		}
		presence = &PresenceEvent{UserID: md.UserID, IsOnline: online}
	case EventUserStatusChanged:
		var pe PresenceEvent
		if err := json.Unmarshal(payload, &pe); err != nil {
			r.mu.Unlock()
			return
		}
		if ch.members != nil {
			ch.members.Set(pe.UserID, pe.IsOnline)
		}
		presence = &pe
	}
	subs := append([]*Subscription(nil), ch.subs...)
	r.mu.Unlock()

	var (
		msg  *Message
		conv *Conversation
	)
	switch f.Event {
	case EventNewMessage:
		var m Message
		if err := json.Unmarshal(payload, &m); err != nil {
			r.log.Warn().Err(err).Str("channel", f.Channel).Msg("undecodable message event")
		} else {
			msg = &m
		}
	case EventNewConversation:
		var c Conversation
		if err := json.Unmarshal(payload, &c); err != nil {
			r.log.Warn().Err(err).Str("channel", f.Channel).Msg("undecodable conversation event")
		} else {
			conv = &c
		}
	}

	for _, sub := range subs {
		h := sub.handlers
		switch {
		case snapshot != nil && h.OnPresenceSnapshot != nil:
			r.invoke(sub, func() { h.OnPresenceSnapshot(append([]ID(nil), snapshot...)) })
		case presence != nil && h.OnPresence != nil:
			r.invoke(sub, func() { h.OnPresence(*presence) })
		case msg != nil && h.OnMessage != nil:
			r.invoke(sub, func() { h.OnMessage(*msg) })
		case conv != nil && h.OnConversation != nil:
			r.invoke(sub, func() { h.OnConversation(*conv) })
		}
		if h.OnEvent != nil && !strings.HasPrefix(f.Event, "pusher") {
			r.invoke(sub, func() { h.OnEvent(f.Event, json.RawMessage(payload)) })
		}
	}
}

func (r *Realtime) invoke(sub *Subscription, fn func()) {
	if !sub.Active() {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Str("channel", sub.channel).Msg("realtime handler panicked")
		}
	}()
	fn()
}

func (r *Realtime) handleDrop(conn *websocket.Conn, err error) {
	r.mu.Lock()
	if r.conn != conn {
		r.mu.Unlock()
		return
	}
	r.conn, r.socketID = nil, ""
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	for _, ch := range r.channels {
		ch.subscribed = false
		if ch.members != nil {
			ch.members.Clear()
		}
	}
	r.state = StateDisconnected
	closed := r.closed
	reconnect := !closed && r.cfg.AutoReconnect && !r.reconnecting && r.recon.shouldReconnect()
	if reconnect {
		r.reconnecting = true
	}
	r.mu.Unlock()

	if closed {
		return
	}
	r.log.Warn().Err(err).Msg("realtime connection lost")
	r.emit(ConnectionEvent{State: StateDisconnected, Err: err})
	if reconnect {
		go r.reconnectLoop()
	}
}

func (r *Realtime) reconnectLoop() {
	for {
		delay, attempt := r.recon.nextDelay()
		r.mu.Lock()
		if r.closed {
			r.reconnecting = false
			r.mu.Unlock()
			return
		}
		r.state = StateReconnecting
		r.mu.Unlock()

		r.metrics.observeReconnect()
		r.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("realtime reconnecting")
		r.emit(ConnectionEvent{State: StateReconnecting})
		time.Sleep(delay)

		err := r.reconnect()
		if err == nil {
			return
		}
		r.log.Warn().Err(err).Int("attempt", attempt).Msg("realtime reconnect failed")
		if !r.recon.shouldReconnect() {
			r.mu.Lock()
			r.reconnecting = false
			r.mu.Unlock()
			r.emit(ConnectionEvent{
				State: StateDisconnected,
				Err:   fmt.Errorf("giving up after %d attempts: %w", attempt, err),
			})
			return
		}
	}
}

func (r *Realtime) reconnect() error {
	r.connectMu.Lock()
	defer r.connectMu.Unlock()

	r.mu.Lock()
	if r.closed || r.conn != nil {
		r.reconnecting = false
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*r.cfg.DialTimeout)
	defer cancel()
	return r.connect(ctx)
}

func (r *Realtime) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	r.mu.Lock()
	activity := r.activityTimeout
	pong := r.pong
	r.mu.Unlock()

	ticker := time.NewTicker(activity / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		idle := time.Since(r.lastActivity)
		current := r.conn
		r.mu.Unlock()
		if current != conn {
			return
		}
		if idle < activity {
			continue
		}

		wctx, cancel := context.WithTimeout(ctx, r.cfg.PongTimeout)
		err := r.write(wctx, conn, eventPing, struct{}{})
		if err == nil {
			select {
			case <-pong:
				cancel()
				continue
			case <-wctx.Done():
				if ctx.Err() != nil {
					cancel()
					return
				}
				err = fmt.Errorf("no pong within %s", r.cfg.PongTimeout)
			}
		}
		cancel()
		r.log.Warn().Err(err).Msg("realtime heartbeat failed")
		conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
		return
	}
}
