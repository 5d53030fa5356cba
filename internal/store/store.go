// Package store provides durable storage for sessions, embeddings and the user profile.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/convmem/internal/model"
)

// ErrSessionNotFound is returned when a session id has no persisted record.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when importing a session id that is already stored.
var ErrSessionExists = errors.New("session already exists")

// SessionBackend persists transcripts.
type SessionBackend interface {
	// CreateSession stores a new, empty session.
	CreateSession(ctx context.Context, s *model.Session) error

	// AppendMessage durably stores msg at the given ordinal and returns it with its ID set.
	AppendMessage(ctx context.Context, sessionID string, ordinal int, msg model.Message) (model.Message, error)

	// LoadSession reads a session and its messages in append order.
	// Returns ErrSessionNotFound for unknown ids.
	LoadSession(ctx context.Context, sessionID string) (*model.Session, error)
}

// VectorBackend persists semantic index records.
type VectorBackend interface {
	// PutEmbedding stores a record. The referenced message must already exist.
	PutEmbedding(ctx context.Context, rec model.EmbeddingRecord) error

	// LoadEmbeddings returns every stored record in insertion order.
	LoadEmbeddings(ctx context.Context) ([]model.EmbeddingRecord, error)

	// Unindexed lists messages of a session that have no embedding yet, in append order.
	Unindexed(ctx context.Context, sessionID string) ([]UnindexedMessage, error)
}

// ProfileBackend persists the user profile.
type ProfileBackend interface {
	PutProfile(ctx context.Context, key string, value any) error
	LoadProfile(ctx context.Context) (map[string]any, error)
}

// UnindexedMessage is a transcript message that is missing from the semantic index.
type UnindexedMessage struct {
	SessionID string
	Ordinal   int
	Message   model.Message
}

// SessionInfo summarizes a stored session.
type SessionInfo struct {
	ID           string    `json:"session_id" yaml:"session_id"`
	StartTime    time.Time `json:"start_time" yaml:"start_time"`
	MessageCount int       `json:"messages" yaml:"messages"`
	Indexed      int       `json:"indexed" yaml:"indexed"`
}

// Store is the full storage surface implemented by SQLiteStore.
type Store interface {
	SessionBackend
	VectorBackend
	ProfileBackend

	ListSessions(ctx context.Context, limit int) ([]SessionInfo, error)

	// Close closes the store.
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
