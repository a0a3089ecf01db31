package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// State identifies a finite-state-machine step used in conversations.
type State string

const (
	// StateIdle indicates there is no active conversation with the user.
	StateIdle State = "idle"
)

// ErrConflict is returned when an atomic update could not be applied after retries.
var ErrConflict = errors.New("state: concurrent session update")

// Session stores conversation state and scoped key/value data for a user.
type Session struct {
	State State                      `json:"state"`
	Data  map[string]json.RawMessage `json:"data,omitempty"`
}

// NewSession returns an empty idle session.
func NewSession() *Session {
	return &Session{State: StateIdle, Data: make(map[string]json.RawMessage)}
}

// Get decodes the value stored under key into dst and reports whether it exists.
func (s *Session) Get(key string, dst any) (bool, error) {
	if s == nil || s.Data == nil {
		return false, nil
	}
	raw, ok := s.Data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// Set encodes value and stores it under key.
func (s *Session) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	if s.Data == nil {
		s.Data = make(map[string]json.RawMessage)
	}
	s.Data[key] = raw
	return nil
}

// Has reports whether key is present.
func (s *Session) Has(key string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Data[key]
	return ok
}

// Delete removes keys from the session.
func (s *Session) Delete(keys ...string) {
	for _, k := range keys {
		delete(s.Data, k)
	}
}

// Clear drops all data and returns the session to idle.
func (s *Session) Clear() {
	s.State = StateIdle
	s.Data = make(map[string]json.RawMessage)
}

// Store persists sessions keyed by Telegram user ID.
type Store interface {
	// Get returns a snapshot of the user's session, or an idle one if none exists.
	Get(ctx context.Context, userID int64) (*Session, error)
	// Update loads the session, applies fn and saves the result atomically.
	// Nothing is written when fn returns an error.
	Update(ctx context.Context, userID int64, fn func(*Session) error) error
	// Reset removes the user's session entirely.
	Reset(ctx context.Context, userID int64) error
	Close() error
}

// GetValue reads a single key from the user's session.
func GetValue(ctx context.Context, store Store, userID int64, key string, dst any) (bool, error) {
	sess, err := store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return sess.Get(key, dst)
}

// SetValue writes a single key into the user's session.
func SetValue(ctx context.Context, store Store, userID int64, key string, value any) error {
	return store.Update(ctx, userID, func(s *Session) error {
		return s.Set(key, value)
	})
}

// SetState moves the user to st without touching session data.
func SetState(ctx context.Context, store Store, userID int64, st State) error {
	return store.Update(ctx, userID, func(s *Session) error {
		s.State = st
		return nil
	})
}

func encodeSession(s *Session) ([]byte, error) {
	return json.Marshal(s)
}

func decodeSession(data []byte) (*Session, error) {
	sess := NewSession()
	if len(data) == 0 {
		return sess, nil
	}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("state: decode session: %w", err)
	}
	if sess.State == "" {
		sess.State = StateIdle
	}
	if sess.Data == nil {
		sess.Data = make(map[string]json.RawMessage)
	}
	return sess, nil
}
