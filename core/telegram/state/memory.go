package state

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu       sync.Mutex
	sessions map[int64][]byte
}

// NewMemoryStore constructs an in-memory Store for tests and development.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions: make(map[int64][]byte),
	}
}

// Get returns a decoded copy of the stored session.
func (m *memoryStore) Get(_ context.Context, userID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decodeSession(m.sessions[userID])
}

// Update applies fn under the store lock.
func (m *memoryStore) Update(_ context.Context, userID int64, fn func(*Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := decodeSession(m.sessions[userID])
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	data, err := encodeSession(sess)
	if err != nil {
		return err
	}
	m.sessions[userID] = data
	return nil
}

// Reset removes the entire session for a user.
func (m *memoryStore) Reset(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func (m *memoryStore) Close() error { return nil }
