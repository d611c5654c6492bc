package frontchat

import (
	"sync"

	"github.com/rs/zerolog"
)

// emitter fans snapshots out to registered listeners. Listeners run outside
// of the owner's lock and see snapshots in the order the owner took them: a
// snapshot older than one already delivered or queued is dropped, and a
// newer one arriving during delivery is handed over to the goroutine that is
// already delivering.
type emitter[T any] struct {
	mu        sync.Mutex
	listeners map[int]func(T)
	nextID    int
	log       zerolog.Logger

	latest    T
	seq       uint64 // newest snapshot handed to emit
	delivered uint64 // newest snapshot passed to listeners
	busy      bool
}

func (e *emitter[T]) on(fn func(T)) func() {
	e.mu.Lock()
	if e.listeners == nil {
		e.listeners = make(map[int]func(T))
	}
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// emit publishes v, which the owner took as its seq-th snapshot.
func (e *emitter[T]) emit(seq uint64, v T) {
	e.mu.Lock()
	if seq <= e.seq {
		e.mu.Unlock()
		return
	}
	e.seq, e.latest = seq, v
	if e.busy {
		e.mu.Unlock()
		return
	}
	e.busy = true
	for e.delivered < e.seq {
		cur := e.latest
		e.delivered = e.seq
		handlers := make([]func(T), 0, len(e.listeners))
		for _, h := range e.listeners {
			handlers = append(handlers, h)
		}
		e.mu.Unlock()
		for _, h := range handlers {
			e.call(h, cur)
		}
		e.mu.Lock()
	}
	e.busy = false
	e.mu.Unlock()
}

func (e *emitter[T]) call(h func(T), v T) {
	if p := safeCall(func() { h(v) }); p != nil {
		e.log.Error().Interface("panic", p).Msg("change listener panicked")
	}
}

// safeCall runs a user callback and returns the value of any panic it
// recovered from.
func safeCall(fn func()) (recovered any) {
	defer func() { recovered = recover() }()
	fn()
	return nil
}
