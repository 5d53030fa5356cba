// Package session owns the active conversation transcript and keeps it durable.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/convmem/internal/model"
	"github.com/rcliao/convmem/internal/store"
)

// Store holds one active session. Appends are serialized and become visible
// to readers only after the durable write has succeeded.
type Store struct {
	backend store.SessionBackend
	now     func() time.Time

	writeMu sync.Mutex // serializes StartSession, LoadSession and AddMessage

	mu      sync.RWMutex // guards current
	current *model.Session
}

// New creates a session store over the given backend. No session is active yet.
func New(backend store.SessionBackend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// NewID returns a fresh session identifier.
func NewID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// StartSession creates and persists a new empty session and makes it active.
func (s *Store) StartSession(ctx context.Context) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sess := &model.Session{
		ID:        NewID(),
		StartTime: s.now().UTC(),
		Messages:  []model.Message{},
	}
	if err := s.backend.CreateSession(ctx, sess); err != nil {
		return "", &model.PersistenceError{Op: "start session", Err: err}
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	return sess.ID, nil
}

// LoadSession replaces the active session with a persisted one.
// It reports false, without error, when the id is unknown.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sess, err := s.backend.LoadSession(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	return true, nil
}

// AddMessage appends a message to the active session. The message is
// visible to readers only once it is durable; a failed write leaves the
// session unchanged and returns a *model.PersistenceError. The returned
// meta identifies the stored message within the session it was written to.
func (s *Store) AddMessage(ctx context.Context, role model.Role, content string) (model.Message, model.RecordMeta, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	sess := s.current
	var ordinal int
	if sess != nil {
		ordinal = len(sess.Messages)
	}
	s.mu.RUnlock()
	if sess == nil {
		return model.Message{}, model.RecordMeta{}, model.ErrNoSession
	}

	msg, err := model.NewMessage(role, content, s.now().UTC())
	if err != nil {
		return model.Message{}, model.RecordMeta{}, err
	}

	msg, err = s.backend.AppendMessage(ctx, sess.ID, ordinal, msg)
	if err != nil {
		return model.Message{}, model.RecordMeta{}, &model.PersistenceError{Op: "append message", Err: err}
	}

	s.mu.Lock()
	sess.Messages = append(sess.Messages, msg)
	s.mu.Unlock()

	return msg, model.RecordMeta{
		SessionID:      sess.ID,
		MessageID:      msg.ID,
		MessageOrdinal: ordinal,
		Timestamp:      msg.Timestamp,
	}, nil
}

// GetRecentMessages returns up to the last n messages, oldest first.
func (s *Store) GetRecentMessages(n int) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil || n <= 0 {
		return []model.Message{}
	}
	msgs := s.current.Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}

// SessionID returns the active session id, or "" when none is active.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// Len returns the number of messages in the active session.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return len(s.current.Messages)
}

// Snapshot returns a copy of the active session.
func (s *Store) Snapshot() (*model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, false
	}
	cp := *s.current
	cp.Messages = append([]model.Message(nil), s.current.Messages...)
	return &cp, true
}
