package session

import (
	"errors"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when looking up an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// CookieName is the session cookie set on HLS responses.
const CookieName = "flumotion-session"

// Session is one server-side client record, keyed by the id carried in
// the signed cookie.
type Session struct {
	ID        string
	ClientIP  string
	CreatedAt time.Time

	store   *Store
	timeout time.Duration

	mu          sync.Mutex
	lastTouch   time.Time
	expired     bool
	timer       *time.Timer
	expireHooks []func()
}

// LastTouch returns the time of the last authenticated request.
func (s *Session) LastTouch() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTouch
}

// Touch resets the session's expiry timer. Touching an already expired
// session is a no-op.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		return
	}
	s.lastTouch = time.Now()
	if s.timer != nil {
		s.timer.Reset(s.timeout)
	}
}

// OnExpire registers a hook fired exactly once when the session expires
// or is revoked.
func (s *Session) OnExpire(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		return
	}
	s.expireHooks = append(s.expireHooks, fn)
}

// Expire removes the session from its store and fires the expire hooks.
// Concurrent expirations fire the hooks only once.
func (s *Session) Expire() {
	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return
	}
	s.expired = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	hooks := s.expireHooks
	s.expireHooks = nil
	s.mu.Unlock()

	s.store.remove(s.ID)
	for _, fn := range hooks {
		fn()
	}
}

// Store holds sessions keyed by id with timed expiry.
type Store struct {
	timeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates a session store with the given idle timeout.
func NewStore(timeout time.Duration) *Store {
	return &Store{
		timeout:  timeout,
		sessions: make(map[string]*Session),
	}
}

// New creates and tracks a session for the given id. An existing
// session under the same id is returned untouched; this covers clients
// that race their first requests or ignore cookies.
func (st *Store) New(id, clientIP string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[id]; ok {
		return s
	}

	now := time.Now()
	s := &Session{
		ID:        id,
		ClientIP:  clientIP,
		CreatedAt: now,
		lastTouch: now,
		store:     st,
		timeout:   st.timeout,
	}
	s.timer = time.AfterFunc(st.timeout, s.Expire)
	st.sessions[id] = s
	return s
}

// Get returns the session for id, or ErrSessionNotFound.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if s, ok := st.sessions[id]; ok {
		return s, nil
	}
	return nil, ErrSessionNotFound
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Close expires every session, firing their hooks.
func (st *Store) Close() {
	st.mu.Lock()
	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.Unlock()

	for _, s := range all {
		s.Expire()
	}
}

func (st *Store) remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}
