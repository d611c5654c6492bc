package frontchat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultEchoTimeout bounds how long Send waits for its realtime echo.
const DefaultEchoTimeout = 5 * time.Second

// MessageOrder selects how realtime messages are placed in the window.
type MessageOrder int

const (
	// OrderByTimestamp keeps messages sorted by timestamp. With monotonic
	// timestamps this is the same as appending.
	OrderByTimestamp MessageOrder = iota
	// OrderByArrival appends messages as they are delivered.
	OrderByArrival
)

// WindowState is the loading state of a ChatWindow.
type WindowState string

const (
	WindowEmpty   WindowState = "empty"
	WindowLoading WindowState = "loading"
	WindowReady   WindowState = "ready"
	WindowFailed  WindowState = "failed"
)

// ErrNoConversation is returned by Send when no conversation is open.
var ErrNoConversation = errors.New("no conversation open")

// MessageSource is the REST side the window needs.
type MessageSource interface {
	History(ctx context.Context, conv Conversation) (*History, error)
	Send(ctx context.Context, conv Conversation, msg OutgoingMessage) (*Message, error)
}

// WindowSnapshot is an immutable copy of the window state.
type WindowSnapshot struct {
	Conversation *Conversation
	State        WindowState
	Messages     []Message
	Peer         *User
	PeerOnline   bool
	Err          error
}

// ChatWindow shows the message log of one open conversation and keeps it
// current from the conversation's realtime channel. Opening another
// conversation discards everything that belonged to the previous one,
// including history responses still in flight.
type ChatWindow struct {
	api  MessageSource
	rt   ChannelSubscriber
	self ID
	opts reconcilerOptions

	mu       sync.Mutex
	state    WindowState
	conv     *Conversation
	gen      uint64
	messages []Message
	seen     map[ID]bool
	pending  []Message
	peer     *User
	presence *PresenceSet
	subs     []*Subscription
	echoes   map[ID]*time.Timer
	err      error

	version uint64
	changes emitter[WindowSnapshot]
}

// NewChatWindow creates an empty window for user self. rt may be nil.
func NewChatWindow(api MessageSource, rt ChannelSubscriber, self ID, opts ...ReconcilerOption) *ChatWindow {
	w := &ChatWindow{
		api:      api,
		rt:       rt,
		self:     self,
		opts:     buildReconcilerOptions(opts),
		state:    WindowEmpty,
		seen:     make(map[ID]bool),
		presence: NewPresenceSet(),
		echoes:   make(map[ID]*time.Timer),
	}
	w.changes.log = w.opts.log
	return w
}

// Open switches the window to conv and loads its history. When another
// Open supersedes this one before the history arrives, the response is
// dropped and Open returns nil.
func (w *ChatWindow) Open(ctx context.Context, conv Conversation) error {
	w.mu.Lock()
	old := w.subs
	w.subs = nil
	w.mu.Unlock()
	for _, s := range old {
		s.Cancel()
	}

	w.mu.Lock()
	w.resetLocked()
	w.gen++
	gen := w.gen
	c := conv
	w.conv = &c
	w.state = WindowLoading
	seq, snap := w.changeLocked()
	w.mu.Unlock()
	w.changes.emit(seq, snap)

	subs := w.subscribe(ctx, gen, conv)
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		for _, s := range subs {
			s.Cancel()
		}
		return nil
	}
	w.subs = subs
	w.mu.Unlock()

	hist, err := w.api.History(ctx, conv)

	w.mu.Lock()
	if gen != w.gen || w.conv == nil || w.conv.ID != conv.ID {
		w.mu.Unlock()
		w.opts.log.Debug().Stringer("conversation", conv.ID).Msg("discarding stale history")
		return nil
	}
	if err != nil {
		w.state = WindowFailed
		w.err = err
		w.pending = nil
		seq, snap = w.changeLocked()
		w.mu.Unlock()
		w.opts.log.Warn().Err(err).Stringer("conversation", conv.ID).Msg("failed to load history")
		w.changes.emit(seq, snap)
		return err
	}

	w.peer = hist.Peer
	history := append([]Message(nil), hist.Messages...)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})
	for _, m := range history {
		w.insertLocked(m)
	}
	for _, m := range w.pending {
		w.insertLocked(m)
	}
	w.pending = nil
	w.state = WindowReady
	seq, snap = w.changeLocked()
	w.mu.Unlock()

	w.changes.emit(seq, snap)
	return nil
}

func (w *ChatWindow) subscribe(ctx context.Context, gen uint64, conv Conversation) []*Subscription {
	if w.rt == nil {
		return nil
	}
	var subs []*Subscription
	sub, err := w.rt.Subscribe(ctx, ChannelFor(conv, w.self), Handlers{
		OnMessage: func(m Message) { w.receive(gen, m) },
	})
	if err != nil {
		w.opts.log.Warn().Err(err).Stringer("conversation", conv.ID).Msg("live messages unavailable")
	} else {
		subs = append(subs, sub)
	}
	if conv.IsGroup() {
		return subs
	}
	sub, err = w.rt.Subscribe(ctx, PresenceChannel, Handlers{
		OnPresenceSnapshot: func(ids []ID) { w.presenceSnapshot(gen, ids) },
		OnPresence:         func(ev PresenceEvent) { w.presenceChange(gen, ev) },
	})
	if err != nil {
		w.opts.log.Warn().Err(err).Msg("presence unavailable")
	} else {
		subs = append(subs, sub)
	}
	return subs
}

func (w *ChatWindow) receive(gen uint64, m Message) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	if t, ok := w.echoes[m.ID]; ok {
		t.Stop()
		delete(w.echoes, m.ID)
	}
	changed := false
	switch w.state {
	case WindowLoading:
		w.pending = append(w.pending, m)
	case WindowReady:
		changed = w.insertLocked(m)
	}
	var seq uint64
	var snap WindowSnapshot
	if changed {
		seq, snap = w.changeLocked()
	}
	w.mu.Unlock()
	if changed {
		w.changes.emit(seq, snap)
	}
}

// insertLocked adds m unless its ID was already shown.
func (w *ChatWindow) insertLocked(m Message) bool {
	if m.ID != 0 {
		if w.seen[m.ID] {
			return false
		}
		w.seen[m.ID] = true
	}
	if w.opts.order == OrderByArrival {
		w.messages = append(w.messages, m)
		return true
	}
	i := sort.Search(len(w.messages), func(i int) bool {
		return w.messages[i].Timestamp.After(m.Timestamp)
	})
	w.messages = append(w.messages, Message{})
	copy(w.messages[i+1:], w.messages[i:])
	w.messages[i] = m
	return true
}

func (w *ChatWindow) presenceSnapshot(gen uint64, ids []ID) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	before := w.peerOnlineLocked()
	w.presence.Reset(ids)
	changed := before != w.peerOnlineLocked()
	seq, snap := w.changeLocked()
	w.mu.Unlock()
	if changed {
		w.changes.emit(seq, snap)
	}
}

func (w *ChatWindow) presenceChange(gen uint64, ev PresenceEvent) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	before := w.peerOnlineLocked()
	w.presence.Set(ev.UserID, ev.IsOnline)
	changed := before != w.peerOnlineLocked()
	seq, snap := w.changeLocked()
	w.mu.Unlock()
	if changed {
		w.changes.emit(seq, snap)
	}
}

func (w *ChatWindow) peerIDLocked() ID {
	if w.conv == nil || w.conv.IsGroup() {
		return 0
	}
	if w.conv.PeerID != 0 {
		return w.conv.PeerID
	}
	if w.peer != nil {
		return w.peer.ID
	}
	return 0
}

func (w *ChatWindow) peerOnlineLocked() bool {
	id := w.peerIDLocked()
	return id != 0 && w.presence.Online(id)
}

// Send posts msg to the open conversation. The message shows up through its
// realtime echo; if the echo does not arrive within the echo timeout, the
// server's copy is inserted instead.
func (w *ChatWindow) Send(ctx context.Context, msg OutgoingMessage) (*Message, error) {
	if strings.TrimSpace(msg.Content) == "" && msg.Attachment == nil {
		return nil, validationError("message is empty")
	}
	w.mu.Lock()
	if w.conv == nil {
		w.mu.Unlock()
		return nil, ErrNoConversation
	}
	conv := *w.conv
	gen := w.gen
	w.mu.Unlock()

	created, err := w.api.Send(ctx, conv, msg)
	if err != nil {
		return nil, err
	}
	if created != nil && created.ID != 0 {
		w.awaitEcho(gen, *created)
	}
	return created, nil
}

func (w *ChatWindow) awaitEcho(gen uint64, m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = w.opts.now()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen || w.seen[m.ID] {
		return
	}
	if _, ok := w.echoes[m.ID]; ok {
		return
	}
	w.echoes[m.ID] = time.AfterFunc(w.opts.echoTimeout, func() {
		w.echoMissed(gen, m)
	})
}

func (w *ChatWindow) echoMissed(gen uint64, m Message) {
	w.mu.Lock()
	delete(w.echoes, m.ID)
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	changed := false
	switch w.state {
	case WindowLoading:
		w.pending = append(w.pending, m)
	case WindowReady:
		changed = w.insertLocked(m)
	}
	var seq uint64
	var snap WindowSnapshot
	if changed {
		seq, snap = w.changeLocked()
	}
	w.mu.Unlock()
	if changed {
		w.opts.log.Debug().Stringer("message", m.ID).Msg("realtime echo missed, inserted sent message")
		w.changes.emit(seq, snap)
	}
}

// Close empties the window and cancels its subscriptions.
func (w *ChatWindow) Close() {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.resetLocked()
	w.gen++
	w.conv = nil
	w.state = WindowEmpty
	seq, snap := w.changeLocked()
	w.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
	w.changes.emit(seq, snap)
}

func (w *ChatWindow) resetLocked() {
	for id, t := range w.echoes {
		t.Stop()
		delete(w.echoes, id)
	}
	w.messages = nil
	w.seen = make(map[ID]bool)
	w.pending = nil
	w.peer = nil
	w.err = nil
	w.presence = NewPresenceSet()
}

func (w *ChatWindow) Snapshot() WindowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *ChatWindow) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// OnChange registers fn to receive a snapshot after every change.
func (w *ChatWindow) OnChange(fn func(WindowSnapshot)) func() {
	return w.changes.on(fn)
}

func (w *ChatWindow) changeLocked() (uint64, WindowSnapshot) {
	w.version++
	return w.version, w.snapshotLocked()
}

func (w *ChatWindow) snapshotLocked() WindowSnapshot {
	s := WindowSnapshot{
		State:      w.state,
		Messages:   append([]Message(nil), w.messages...),
		PeerOnline: w.peerOnlineLocked(),
		Err:        w.err,
	}
	if w.conv != nil {
		c := *w.conv
		s.Conversation = &c
	}
	if w.peer != nil {
		p := *w.peer
		s.Peer = &p
	}
	return s
}
