package session

import (
	"sync"
	"time"

	"castbot/pkg/logx"
)

// Manager is the arena of broadcast sessions keyed by user id.
// One user has at most one active session; starting a new one replaces
// whatever was in flight.
type Manager struct {
	log logx.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
	idleTTL  time.Duration
}

func NewManager(idleTTL time.Duration, log logx.Logger) *Manager {
	return &Manager{
		log:      log,
		sessions: map[int64]*Session{},
		idleTTL:  idleTTL,
	}
}

// SetIdleTTL updates the eviction threshold (hot reload).
func (m *Manager) SetIdleTTL(ttl time.Duration) {
	m.mu.Lock()
	m.idleTTL = ttl
	m.mu.Unlock()
}

// Begin opens a fresh session for userID, discarding any previous one.
func (m *Manager) Begin(userID, sourceChatID int64, sourceMessageID int) *Session {
	s := &Session{
		UserID:          userID,
		SourceChatID:    sourceChatID,
		SourceMessageID: sourceMessageID,
		state:           StateChoosingSendMode,
		lastActivity:    time.Now(),
	}
	m.mu.Lock()
	m.sessions[userID] = s
	m.mu.Unlock()
	return s
}

// Get returns the active session for userID, if any.
func (m *Manager) Get(userID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// End removes the session, discarding all accumulated state. Used for both
// explicit cancel and post-finalize teardown; safe when no session exists.
func (m *Manager) End(userID int64) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle longer than the TTL and returns the count.
// Driven by the maintenance scheduler; a TTL of zero disables eviction.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	ttl := m.idleTTL
	var stale []int64
	if ttl > 0 {
		for id, s := range m.sessions {
			if s.idleSince(now) > ttl {
				stale = append(stale, id)
			}
		}
		for _, id := range stale {
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.log.Info("evicted idle broadcast session", logx.Int64("user", id))
	}
	return len(stale)
}
