package ledger

import (
	"sync"
	"time"
)

// Store is a concurrent session table keyed by opaque id. The Ledger is the
// only legitimate mutator of the sessions it holds; the store itself only
// adds, looks up and evicts.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

func (st *Store) get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

func (st *Store) put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.id] = s
}

// Delete removes a session. Missing ids are a no-op.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// EvictIdle removes every session whose last activity is older than ttl and
// returns the evicted ids. Session locks are taken one at a time so a sweep
// never stalls live traffic on other sessions.
func (st *Store) EvictIdle(ttl time.Duration, now time.Time) []string {
	st.mu.RLock()
	candidates := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		candidates = append(candidates, s)
	}
	st.mu.RUnlock()

	var evicted []string
	for _, s := range candidates {
		s.mu.Lock()
		idle := now.Sub(s.lastActive) > ttl
		id := s.id
		s.mu.Unlock()
		if idle {
			st.Delete(id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
