package frontchat

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ============================================================================
// fakeRealtime
// ============================================================================

// fakeRealtime is an in-process ChannelSubscriber. Events are delivered
// synchronously to active subscriptions.
type fakeRealtime struct {
	mu        sync.Mutex
	subs      map[string][]*Subscription
	fail      map[string]error
	snapshots map[string][]ID
	listeners map[int]func(ConnectionEvent)
	nextID    int
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{
		subs:      make(map[string][]*Subscription),
		fail:      make(map[string]error),
		snapshots: make(map[string][]ID),
		listeners: make(map[int]func(ConnectionEvent)),
	}
}

func (f *fakeRealtime) Subscribe(ctx context.Context, channel string, h Handlers) (*Subscription, error) {
	f.mu.Lock()
	if err := f.fail[channel]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	var sub *Subscription
	sub = newSubscription(channel, h, func() { f.remove(sub) })
	f.subs[channel] = append(f.subs[channel], sub)
	ids, replay := f.snapshots[channel]
	f.mu.Unlock()

	if replay && h.OnPresenceSnapshot != nil {
		h.OnPresenceSnapshot(append([]ID(nil), ids...))
	}
	return sub, nil
}

func (f *fakeRealtime) remove(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.subs[sub.channel]
	for i, s := range list {
		if s == sub {
			f.subs[sub.channel] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (f *fakeRealtime) OnStateChange(fn func(ConnectionEvent)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeRealtime) count(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[channel])
}

func (f *fakeRealtime) handlers(channel string) []Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Handlers
	for _, s := range f.subs[channel] {
		if s.Active() {
			out = append(out, s.handlers)
		}
	}
	return out
}

func (f *fakeRealtime) message(channel string, m Message) {
	for _, h := range f.handlers(channel) {
		if h.OnMessage != nil {
			h.OnMessage(m)
		}
	}
}

func (f *fakeRealtime) conversation(channel string, c Conversation) {
	for _, h := range f.handlers(channel) {
		if h.OnConversation != nil {
			h.OnConversation(c)
		}
	}
}

func (f *fakeRealtime) presence(ev PresenceEvent) {
	for _, h := range f.handlers(PresenceChannel) {
		if h.OnPresence != nil {
			h.OnPresence(ev)
		}
	}
}

func (f *fakeRealtime) presenceSnapshot(ids ...ID) {
	f.mu.Lock()
	f.snapshots[PresenceChannel] = ids
	f.mu.Unlock()
	for _, h := range f.handlers(PresenceChannel) {
		if h.OnPresenceSnapshot != nil {
			h.OnPresenceSnapshot(append([]ID(nil), ids...))
		}
	}
}

func (f *fakeRealtime) state(ev ConnectionEvent) {
	f.mu.Lock()
	var fns []func(ConnectionEvent)
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// ============================================================================
// fakeConversations
// ============================================================================

type fakeConversations struct {
	mu    sync.Mutex
	list  []Conversation
	err   error
	gate  chan struct{}
	calls int
}

func (f *fakeConversations) List(ctx context.Context) ([]Conversation, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]Conversation(nil), f.list...), nil
}

func (f *fakeConversations) Create(ctx context.Context, userID ID) (*Conversation, error) {
	if userID == 0 {
		return nil, &APIError{Kind: KindNotFound, Status: 404, Message: "User not found."}
	}
	return &Conversation{
		ID:           100 + userID,
		Name:         "user-" + userID.String(),
		Kind:         KindDirect,
		PeerID:       userID,
		LastActivity: t0.Add(time.Hour),
	}, nil
}

func (f *fakeConversations) set(list []Conversation, err error) {
	f.mu.Lock()
	f.list, f.err = list, err
	f.mu.Unlock()
}

func (f *fakeConversations) block() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *fakeConversations) unblock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

func (f *fakeConversations) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ============================================================================
// fakeMessages
// ============================================================================

type fakeMessages struct {
	mu       sync.Mutex
	history  map[ID]*History
	gates    map[ID]chan struct{}
	requests chan ID
	err      error
	nextID   ID
	onSend   func(Message)
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		history:  make(map[ID]*History),
		gates:    make(map[ID]chan struct{}),
		requests: make(chan ID, 16),
		nextID:   1000,
	}
}

func (f *fakeMessages) History(ctx context.Context, conv Conversation) (*History, error) {
	f.mu.Lock()
	gate := f.gates[conv.ID]
	h := f.history[conv.ID]
	err := f.err
	f.mu.Unlock()
	f.requests <- conv.ID

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if h == nil {
		return &History{}, nil
	}
	return &History{Messages: append([]Message(nil), h.Messages...), Peer: h.Peer}, nil
}

func (f *fakeMessages) Send(ctx context.Context, conv Conversation, msg OutgoingMessage) (*Message, error) {
	f.mu.Lock()
	f.nextID++
	m := Message{
		ID:             f.nextID,
		ConversationID: conv.ID,
		Sender:         "alice",
		SenderID:       1,
		Content:        msg.Content,
		Timestamp:      t0.Add(time.Duration(f.nextID) * time.Second),
	}
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	return &m, nil
}

func (f *fakeMessages) setHistory(conv ID, msgs ...Message) {
	f.mu.Lock()
	f.history[conv] = &History{Messages: msgs, Peer: &User{ID: 2, Username: "bob"}}
	f.mu.Unlock()
}

func (f *fakeMessages) block(conv ID) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gates[conv] = g
	return g
}

var errBackend = errors.New("backend unavailable")

// t0 is the reference time of the reconciler tests.
var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func conversationIDs(list []Conversation) []ID {
	ids := make([]ID, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	return ids
}

func messageIDs(list []Message) []ID {
	ids := make([]ID, len(list))
	for i, m := range list {
		ids[i] = m.ID
	}
	return ids
}
