package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests. Sessions
// expire after an idle TTL; expired entries are reaped by Sweep, which the
// server schedules periodically.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	ttl      time.Duration
	now      func() time.Time
}

type memorySession struct {
	values    map[string][]byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty store with the given idle TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Set stores a value and refreshes the session TTL.
func (m *MemoryStore) Set(_ context.Context, sid, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.sessions[sid]
	if sess == nil || m.now().After(sess.expiresAt) {
		sess = &memorySession{values: make(map[string][]byte)}
		m.sessions[sid] = sess
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	sess.values[key] = cp
	sess.expiresAt = m.now().Add(m.ttl)
	return nil
}

// Get returns the value under key, or ErrNoValue.
func (m *MemoryStore) Get(_ context.Context, sid, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess := m.sessions[sid]
	if sess == nil || m.now().After(sess.expiresAt) {
		return nil, ErrNoValue
	}
	value, ok := sess.values[key]
	if !ok {
		return nil, ErrNoValue
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

// Delete removes a single key. Deleting an absent key is not an error.
func (m *MemoryStore) Delete(_ context.Context, sid, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess := m.sessions[sid]; sess != nil {
		delete(sess.values, key)
	}
	return nil
}

// Destroy removes the session entirely.
func (m *MemoryStore) Destroy(_ context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sid)
	return nil
}

// Sweep reaps expired sessions and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var removed int
	for sid, sess := range m.sessions {
		if now.After(sess.expiresAt) {
			delete(m.sessions, sid)
			removed++
		}
	}
	return removed
}

// Len reports the number of live sessions. Used by tests and debug logging.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
