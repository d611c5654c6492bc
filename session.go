package frontchat

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Session is the authenticated identity plus its credentials.
type Session struct {
	User         User
	AccessToken  string
	RefreshToken string
}

// UserID returns the session owner's identifier.
func (s Session) UserID() ID { return s.User.ID }

// EndReason tells OnEnd listeners why a session ended.
type EndReason string

const (
	EndLogout      EndReason = "logout"
	EndAuthExpired EndReason = "auth_expired"
)

// ErrNoSession is returned by operations that need a logged-in user.
var ErrNoSession = errors.New("no active session")

// SessionStore holds at most one Session and mirrors it into Storage.
type SessionStore struct {
	storage Storage

	mu        sync.RWMutex
	current   *Session
	listeners map[int]func(EndReason)
	nextID    int
}

// NewSessionStore creates a store on top of storage. A nil storage keeps the
// session in memory only.
func NewSessionStore(storage Storage) *SessionStore {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &SessionStore{
		storage:   storage,
		listeners: make(map[int]func(EndReason)),
	}
}

// Restore loads a previously persisted session. It returns (nil, nil) when
// nothing usable is stored.
func (s *SessionStore) Restore() (*Session, error) {
	access, ok, err := s.storage.Get(keyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok || access == "" {
		return nil, nil
	}
	refresh, _, err := s.storage.Get(keyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	rawUser, ok, err := s.storage.Get(keyUser)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var user User
	if ok && rawUser != "" {
		if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
			return nil, fmt.Errorf("failed to decode stored user: %w", err)
		}
	}

	sess := &Session{User: user, AccessToken: access, RefreshToken: refresh}
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	out := *sess
	return &out, nil
}

// Begin replaces any current session with sess and persists it.
func (s *SessionStore) Begin(sess Session) error {
	rawUser, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Set(keyAccessToken, sess.AccessToken); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	if err := s.storage.Set(keyRefreshToken, sess.RefreshToken); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	if err := s.storage.Set(keyUser, string(rawUser)); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	s.current = &sess
	return nil
}

// Current returns a copy of the active session.
func (s *SessionStore) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// AccessToken returns the current access credential or "".
func (s *SessionStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.AccessToken
}

// RefreshToken returns the current refresh credential or "".
func (s *SessionStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.RefreshToken
}

// UpdateTokens stores a refreshed credential pair. An empty refresh keeps
// the previous refresh credential.
func (s *SessionStore) UpdateTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoSession
	}
	if err := s.storage.Set(keyAccessToken, access); err != nil {
		return fmt.Errorf("failed to persist access token: %w", err)
	}
	if refresh != "" {
		if err := s.storage.Set(keyRefreshToken, refresh); err != nil {
			return fmt.Errorf("failed to persist refresh token: %w", err)
		}
		s.current.RefreshToken = refresh
	}
	s.current.AccessToken = access
	return nil
}

// UpdateUser replaces the stored user record, e.g. after a profile edit.
func (s *SessionStore) UpdateUser(u User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoSession
	}
	if err := s.storage.Set(keyUser, string(raw)); err != nil {
		return fmt.Errorf("failed to persist user: %w", err)
	}
	s.current.User = u
	return nil
}

// End destroys the session, clears storage and notifies OnEnd listeners.
// Ending when no session is active only clears storage.
func (s *SessionStore) End(reason EndReason) error {
	s.mu.Lock()
	had := s.current != nil
	s.current = nil
	var errs []error
	for _, k := range []string{keyAccessToken, keyRefreshToken, keyUser} {
		if err := s.storage.Delete(k); err != nil {
			errs = append(errs, err)
		}
	}
	listeners := make([]func(EndReason), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	if had {
		for _, fn := range listeners {
			safeCall(func() { fn(reason) })
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to clear session: %w", errors.Join(errs...))
	}
	return nil
}

// OnEnd registers fn to run when the session ends. The returned func removes
// the listener.
func (s *SessionStore) OnEnd(fn func(EndReason)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
