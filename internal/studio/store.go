package studio

import (
	"sync"
	"time"
)

type StoreOptions struct {
	MaxHistory int
	Previews   *Previews
}

// Store owns every live session. Sessions share one preview registry so a
// front-end can resolve tokens without knowing the owning session.
type Store struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	previews   *Previews
	maxHistory int
}

func NewStore(opts StoreOptions) *Store {
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 20
	}
	previews := opts.Previews
	if previews == nil {
		previews = NewPreviews()
	}
	return &Store{
		sessions:   make(map[string]*Session),
		previews:   previews,
		maxHistory: maxHistory,
	}
}

func (s *Store) Previews() *Previews {
	return s.previews
}

// Create starts a fresh session with a generated id.
func (s *Store) Create(guest bool) *Session {
	sess := NewSession("", guest, s.previews, s.maxHistory)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// GetOrCreate returns the session stored under key, creating it on first use.
// guest only applies to newly created sessions.
func (s *Store) GetOrCreate(key string, guest bool) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(key, guest)
}

func (s *Store) getOrCreateLocked(key string, guest bool) *Session {
	if sess, ok := s.sessions[key]; ok {
		return sess
	}
	sess := NewSession(key, guest, s.previews, s.maxHistory)
	s.sessions[key] = sess
	return sess
}

// Delete ends a session and releases its resources.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		sess.Release()
	}
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep deletes sessions idle since before now-ttl. Sessions with a request
// in flight are kept.
func (s *Store) Sweep(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-ttl)

	var stale []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.Phase().InFlight() || sess.LastActivity().After(cutoff) {
			continue
		}
		stale = append(stale, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range stale {
		sess.Release()
	}
	return len(stale)
}
