package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/convmem/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "create store")
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(t *testing.T, s *SQLiteStore, id string) *model.Session {
	t.Helper()
	sess := &model.Session{ID: id, StartTime: time.Now()}
	require.NoError(t, s.CreateSession(context.Background(), sess), "create session")
	return sess
}

func appendTestMessage(t *testing.T, s *SQLiteStore, sessionID string, ordinal int, role model.Role, content string) model.Message {
	t.Helper()
	m, err := s.AppendMessage(context.Background(), sessionID, ordinal,
		model.Message{Role: role, Content: content, Timestamp: time.Now()})
	require.NoError(t, err, "append message %d", ordinal)
	return m
}

func TestAppendAndLoadSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	newTestSession(t, s, "s1")

	m := appendTestMessage(t, s, "s1", 0, model.RoleUser, "hello")
	assert.NotEmpty(t, m.ID)
	appendTestMessage(t, s, "s1", 1, model.RoleAssistant, "hi there")

	got, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.Equal(t, "hi there", got.Messages[1].Content)
	assert.Equal(t, model.RoleAssistant, got.Messages[1].Role)
}

func TestLoadUnknownSession(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAppendOutOfSequence(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s, "s1")

	_, err := s.AppendMessage(context.Background(), "s1", 3,
		model.Message{Role: model.RoleUser, Content: "x", Timestamp: time.Now()})
	assert.Error(t, err, "out-of-sequence ordinal")
}

func TestAppendUnknownSession(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AppendMessage(context.Background(), "ghost", 0,
		model.Message{Role: model.RoleUser, Content: "x", Timestamp: time.Now()})
	assert.Error(t, err, "foreign key failure for unknown session")
}

func TestTimestampRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	newTestSession(t, s, "s1")

	ts := time.Date(2026, 3, 4, 5, 6, 7, 891011, time.UTC)
	_, err := s.AppendMessage(ctx, "s1", 0, model.Message{Role: model.RoleUser, Content: "x", Timestamp: ts})
	require.NoError(t, err)

	got, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Messages[0].Timestamp.Equal(ts), "want %v, got %v", ts, got.Messages[0].Timestamp)
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	newTestSession(t, s, "a")
	newTestSession(t, s, "b")
	appendTestMessage(t, s, "b", 0, model.RoleUser, "one")

	list, err := s.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	counts := map[string]int{}
	for _, info := range list {
		counts[info.ID] = info.MessageCount
	}
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, counts)
}

func TestProfileUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.PutProfile(ctx, "name", "Alex"))
	require.NoError(t, s.PutProfile(ctx, "name", "Sam"))
	require.NoError(t, s.PutProfile(ctx, "langs", []string{"go", "sql"}))

	p, err := s.LoadProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Sam", p["name"], "last write wins")
	assert.Equal(t, []any{"go", "sql"}, p["langs"])
}

func TestImportSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := &model.Session{
		ID:        "imported",
		StartTime: time.Now(),
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "q", Timestamp: time.Now()},
			{Role: model.RoleAssistant, Content: "a", Timestamp: time.Now()},
		},
	}
	n, err := s.ImportSession(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.ImportSession(ctx, sess)
	assert.ErrorIs(t, err, ErrSessionExists)

	got, err := s.LoadSession(ctx, "imported")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "a", got.Messages[1].Content)
}

func TestImportSessionInvalidRole(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.ImportSession(ctx, &model.Session{
		ID:        "bad",
		StartTime: time.Now(),
		Messages:  []model.Message{{Role: "narrator", Content: "x", Timestamp: time.Now()}},
	})
	require.Error(t, err)

	_, err = s.LoadSession(ctx, "bad")
	assert.ErrorIs(t, err, ErrSessionNotFound, "a failed import leaves nothing behind")
}

func TestImportSessionCheckFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Without the sessions table the existence check itself fails.
	for _, table := range []string{"embeddings", "messages", "sessions"} {
		_, err := s.db.ExecContext(ctx, `DROP TABLE `+table)
		require.NoError(t, err, "drop %s", table)
	}

	_, err := s.ImportSession(ctx, &model.Session{ID: "x", StartTime: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check session x")
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "stats.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	newTestSession(t, s, "s1")
	appendTestMessage(t, s, "s1", 0, model.RoleUser, "x")
	require.NoError(t, s.PutProfile(ctx, "k", "v"))

	st, err := s.Stats(ctx, dbPath)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, 1, st.Messages)
	assert.Equal(t, 1, st.ProfileKeys)
	assert.Zero(t, st.Embeddings)
	assert.Equal(t, dbPath, st.DBPath)
}

func TestDBPathCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	s.Close()

	assert.FileExists(t, dbPath)
}
