package frontchat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Reconciler options
// ============================================================================

type reconcilerOptions struct {
	log         zerolog.Logger
	now         func() time.Time
	echoTimeout time.Duration
	order       MessageOrder
}

// ReconcilerOption configures ConversationList and ChatWindow.
type ReconcilerOption func(*reconcilerOptions)

func WithViewLogger(l zerolog.Logger) ReconcilerOption {
	return func(o *reconcilerOptions) { o.log = l }
}

// WithClock overrides the time source used for entries that arrive without
// a timestamp.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(o *reconcilerOptions) { o.now = now }
}

// WithEchoTimeout sets how long Send waits for the realtime echo before
// inserting the server's response itself.
func WithEchoTimeout(d time.Duration) ReconcilerOption {
	return func(o *reconcilerOptions) { o.echoTimeout = d }
}

func WithMessageOrder(order MessageOrder) ReconcilerOption {
	return func(o *reconcilerOptions) { o.order = order }
}

func buildReconcilerOptions(opts []ReconcilerOption) reconcilerOptions {
	o := reconcilerOptions{
		log:         zerolog.Nop(),
		now:         time.Now,
		echoTimeout: DefaultEchoTimeout,
		order:       OrderByTimestamp,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ============================================================================
// Conversation list
// ============================================================================

// ListState is the loading state of a ConversationList.
type ListState string

const (
	ListIdle    ListState = "idle"
	ListLoading ListState = "loading"
	ListReady   ListState = "ready"
	ListFailed  ListState = "failed"
)

// ConversationSource is the REST side the list needs.
type ConversationSource interface {
	List(ctx context.Context) ([]Conversation, error)
	Create(ctx context.Context, userID ID) (*Conversation, error)
}

// ListSnapshot is an immutable copy of the list state.
type ListSnapshot struct {
	State         ListState
	Conversations []Conversation
	Err           error
}

type listEvent struct {
	msg  *Message
	conv *Conversation
}

// ConversationList keeps the user's conversations ordered by last activity,
// merging the REST snapshot with realtime message, conversation and
// presence events. Conversations are keyed by ID only.
type ConversationList struct {
	api  ConversationSource
	rt   ChannelSubscriber
	self ID
	opts reconcilerOptions

	mu       sync.Mutex
	state    ListState
	items    []Conversation
	err      error
	gen      uint64
	pending  []listEvent
	presence *PresenceSet
	known    bool // a presence snapshot has arrived
	started  bool
	subs     []*Subscription
	stopConn func()

	version uint64
	changes emitter[ListSnapshot]
}

// NewConversationList creates a list for user self. rt may be nil, in which
// case the list only reflects REST calls.
func NewConversationList(api ConversationSource, rt ChannelSubscriber, self ID, opts ...ReconcilerOption) *ConversationList {
	l := &ConversationList{
		api:      api,
		rt:       rt,
		self:     self,
		opts:     buildReconcilerOptions(opts),
		state:    ListIdle,
		presence: NewPresenceSet(),
	}
	l.changes.log = l.opts.log
	return l
}

// Start subscribes to the user's conversation channel and the presence
// channel, then loads the snapshot. A realtime failure is logged and the
// list keeps working from REST data.
func (l *ConversationList) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return errors.New("conversation list already started")
	}
	l.started = true
	l.mu.Unlock()

	if l.rt != nil {
		var subs []*Subscription
		sub, err := l.rt.Subscribe(ctx, UserConversationsChannel(l.self), Handlers{
			OnMessage:      l.ApplyMessage,
			OnConversation: l.ApplyConversation,
		})
		if err != nil {
			l.opts.log.Warn().Err(err).Msg("conversation updates unavailable")
		} else {
			subs = append(subs, sub)
		}
		sub, err = l.rt.Subscribe(ctx, PresenceChannel, Handlers{
			OnPresenceSnapshot: l.ApplyPresenceSnapshot,
			OnPresence:         l.ApplyPresence,
		})
		if err != nil {
			l.opts.log.Warn().Err(err).Msg("presence unavailable")
		} else {
			subs = append(subs, sub)
		}
		stop := l.rt.OnStateChange(func(ev ConnectionEvent) {
			if ev.State == StateConnected && ev.Resubscribed {
				go l.Resync(context.Background())
			}
		})

		l.mu.Lock()
		l.subs = subs
		l.stopConn = stop
		l.mu.Unlock()
	}
	return l.Load(ctx)
}

// Load fetches the snapshot. Events that arrive while it is in flight are
// replayed on top of it. A failed load leaves the list empty and Failed.
func (l *ConversationList) Load(ctx context.Context) error {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.state = ListLoading
	l.err = nil
	l.pending = nil
	seq, snap := l.changeLocked()
	l.mu.Unlock()
	l.changes.emit(seq, snap)

	list, err := l.api.List(ctx)

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		l.state = ListFailed
		l.err = err
		l.items = nil
		l.pending = nil
		seq, snap = l.changeLocked()
		l.mu.Unlock()
		l.opts.log.Warn().Err(err).Msg("failed to load conversations")
		l.changes.emit(seq, snap)
		return err
	}

	l.items = dedupeConversations(list)
	for i := range l.items {
		l.markPresenceLocked(&l.items[i])
	}
	l.sortLocked()
	l.state = ListReady
	pending := l.pending
	l.pending = nil
	for _, ev := range pending {
		l.applyLocked(ev)
	}
	seq, snap = l.changeLocked()
	l.mu.Unlock()

	l.opts.log.Debug().Int("conversations", len(snap.Conversations)).Int("replayed", len(pending)).Msg("conversations loaded")
	l.changes.emit(seq, snap)
	return nil
}

// Retry reloads after a failure.
func (l *ConversationList) Retry(ctx context.Context) error {
	return l.Load(ctx)
}

// Resync reloads after a realtime reconnect, since events sent while the
// connection was down are lost.
func (l *ConversationList) Resync(ctx context.Context) {
	l.mu.Lock()
	active := l.started
	l.mu.Unlock()
	if !active {
		return
	}
	if err := l.Load(ctx); err != nil {
		l.opts.log.Warn().Err(err).Msg("conversation resync failed")
	}
}

// ApplyMessage moves the message's conversation to the front with the
// message as preview. Unknown conversations and events older than the
// entry are ignored.
func (l *ConversationList) ApplyMessage(msg Message) {
	m := msg
	l.apply(listEvent{msg: &m})
}

// ApplyConversation inserts conv unless a conversation with the same ID is
// already listed.
func (l *ConversationList) ApplyConversation(conv Conversation) {
	c := conv
	l.apply(listEvent{conv: &c})
}

func (l *ConversationList) apply(ev listEvent) {
	l.mu.Lock()
	var changed bool
	switch l.state {
	case ListLoading:
		l.pending = append(l.pending, ev)
		if ev.conv != nil {
			// The list stays visible during a resync.
			changed = l.applyLocked(ev)
		}
	case ListReady:
		changed = l.applyLocked(ev)
	}
	var seq uint64
	var snap ListSnapshot
	if changed {
		seq, snap = l.changeLocked()
	}
	l.mu.Unlock()
	if changed {
		l.changes.emit(seq, snap)
	}
}

func (l *ConversationList) applyLocked(ev listEvent) bool {
	if ev.msg != nil {
		return l.applyMessageLocked(*ev.msg)
	}
	if ev.conv != nil {
		_, inserted := l.upsertLocked(*ev.conv)
		return inserted
	}
	return false
}

func (l *ConversationList) applyMessageLocked(msg Message) bool {
	i := l.indexLocked(msg.ConversationID)
	if i < 0 {
		return false
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = l.opts.now()
	}
	if ts.Before(l.items[i].LastActivity) {
		return false
	}
	c := l.items[i]
	c.LastMessage = msg.Preview()
	c.LastActivity = ts
	// Front first, so the stable sort keeps it ahead of equal timestamps.
	copy(l.items[1:i+1], l.items[:i])
	l.items[0] = c
	l.sortLocked()
	return true
}

// upsertLocked returns the listed entry for conv.ID, inserting conv at the
// front when absent.
func (l *ConversationList) upsertLocked(conv Conversation) (Conversation, bool) {
	if i := l.indexLocked(conv.ID); i >= 0 {
		return l.items[i], false
	}
	if conv.LastActivity.IsZero() {
		conv.LastActivity = l.opts.now()
	}
	l.markPresenceLocked(&conv)
	l.items = append([]Conversation{conv}, l.items...)
	l.sortLocked()
	return conv, true
}

// ApplyPresenceSnapshot replaces the known online set.
func (l *ConversationList) ApplyPresenceSnapshot(members []ID) {
	l.mu.Lock()
	l.presence.Reset(members)
	l.known = true
	changed := false
	for i := range l.items {
		changed = l.markPresenceLocked(&l.items[i]) || changed
	}
	seq, snap := l.changeLocked()
	l.mu.Unlock()
	if changed {
		l.changes.emit(seq, snap)
	}
}

// ApplyPresence records one user going online or offline. The order of the
// list does not change.
func (l *ConversationList) ApplyPresence(ev PresenceEvent) {
	l.mu.Lock()
	l.presence.Set(ev.UserID, ev.IsOnline)
	changed := false
	for i := range l.items {
		c := &l.items[i]
		if !c.IsGroup() && c.PeerID == ev.UserID && c.PeerOnline != ev.IsOnline {
			c.PeerOnline = ev.IsOnline
			changed = true
		}
	}
	seq, snap := l.changeLocked()
	l.mu.Unlock()
	if changed {
		l.changes.emit(seq, snap)
	}
}

// markPresenceLocked overrides c's online flag from the presence set. Until
// a snapshot arrives the flag sent by the API is kept.
func (l *ConversationList) markPresenceLocked(c *Conversation) bool {
	if !l.known || c.IsGroup() || c.PeerID == 0 {
		return false
	}
	online := l.presence.Online(c.PeerID)
	if c.PeerOnline == online {
		return false
	}
	c.PeerOnline = online
	return true
}

// StartConversation creates (or reopens) the direct conversation with
// userID and returns the listed entry for it.
func (l *ConversationList) StartConversation(ctx context.Context, userID ID) (*Conversation, error) {
	conv, err := l.api.Create(ctx, userID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	entry, inserted := l.upsertLocked(*conv)
	if l.state == ListLoading {
		c := *conv
		l.pending = append(l.pending, listEvent{conv: &c})
	}
	seq, snap := l.changeLocked()
	l.mu.Unlock()

	if inserted {
		l.opts.log.Debug().Stringer("conversation", entry.ID).Msg("conversation started")
		l.changes.emit(seq, snap)
	}
	return &entry, nil
}

// Find returns the listed conversation with the given ID.
func (l *ConversationList) Find(id ID) (Conversation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.indexLocked(id); i >= 0 {
		return l.items[i], true
	}
	return Conversation{}, false
}

// Snapshot returns a copy of the current state.
func (l *ConversationList) Snapshot() ListSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *ConversationList) State() ListState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// OnChange registers fn to receive a snapshot after every change. The
// returned func removes it.
func (l *ConversationList) OnChange(fn func(ListSnapshot)) func() {
	return l.changes.on(fn)
}

// Stop cancels the realtime subscriptions and discards any in-flight load.
// The current items stay readable.
func (l *ConversationList) Stop() {
	l.mu.Lock()
	subs := l.subs
	stop := l.stopConn
	l.subs, l.stopConn = nil, nil
	l.started = false
	l.gen++
	if l.state == ListLoading {
		l.state = ListIdle
	}
	l.pending = nil
	l.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
	if stop != nil {
		stop()
	}
}

func (l *ConversationList) indexLocked(id ID) int {
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *ConversationList) sortLocked() {
	sort.SliceStable(l.items, func(i, j int) bool {
		return l.items[i].LastActivity.After(l.items[j].LastActivity)
	})
}

// changeLocked numbers a snapshot for delivery to listeners.
func (l *ConversationList) changeLocked() (uint64, ListSnapshot) {
	l.version++
	return l.version, l.snapshotLocked()
}

func (l *ConversationList) snapshotLocked() ListSnapshot {
	return ListSnapshot{
		State:         l.state,
		Conversations: append([]Conversation(nil), l.items...),
		Err:           l.err,
	}
}

// dedupeConversations keeps the most recently active entry per ID.
func dedupeConversations(list []Conversation) []Conversation {
	out := make([]Conversation, 0, len(list))
	index := make(map[ID]int, len(list))
	for _, c := range list {
		if i, ok := index[c.ID]; ok {
			if c.LastActivity.After(out[i].LastActivity) {
				out[i] = c
			}
			continue
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}
