package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/convmem/internal/model"
)

const timeLayout = time.RFC3339Nano

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex // guards entropy
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=synchronous(full)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		start_time  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES sessions(id),
		ordinal     INTEGER NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		UNIQUE (session_id, ordinal)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, ordinal);

	CREATE TABLE IF NOT EXISTS embeddings (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id  TEXT NOT NULL UNIQUE REFERENCES messages(id),
		session_id  TEXT NOT NULL,
		ordinal     INTEGER NOT NULL,
		text        TEXT NOT NULL,
		dims        INTEGER NOT NULL,
		vector      BLOB NOT NULL,
		topics      TEXT,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_session ON embeddings(session_id);

	CREATE TABLE IF NOT EXISTS user_profile (
		key         TEXT PRIMARY KEY,
		value       TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, start_time) VALUES (?, ?)`,
		sess.ID, sess.StartTime.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, ordinal int, msg model.Message) (model.Message, error) {
	if msg.ID == "" {
		msg.ID = s.newID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return msg, err
	}
	defer tx.Rollback()

	// Ordinals are dense: the new message must land right after the last one.
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		return msg, fmt.Errorf("count messages: %w", err)
	}
	if count != ordinal {
		return msg, fmt.Errorf("ordinal %d out of sequence (session has %d messages)", ordinal, count)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, ordinal, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, ordinal, string(msg.Role), msg.Content, msg.Timestamp.UTC().Format(timeLayout))
	if err != nil {
		return msg, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return msg, err
	}
	return msg, nil
}

func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var start string
	err := s.db.QueryRowContext(ctx,
		`SELECT start_time FROM sessions WHERE id = ?`, sessionID).Scan(&start)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}

	sess := &model.Session{ID: sessionID, Messages: []model.Message{}}
	sess.StartTime, _ = time.Parse(timeLayout, start)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY ordinal`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		sess.Messages = append(sess.Messages, m)
	}
	return sess, rows.Err()
}

// ListSessions returns stored sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.start_time,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
		       (SELECT COUNT(*) FROM embeddings e WHERE e.session_id = s.id)
		FROM sessions s
		ORDER BY s.start_time DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var start string
		if err := rows.Scan(&info.ID, &start, &info.MessageCount, &info.Indexed); err != nil {
			return nil, err
		}
		info.StartTime, _ = time.Parse(timeLayout, start)
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (model.Message, error) {
	var m model.Message
	var role, createdAt string

	if err := row.Scan(&m.ID, &role, &m.Content, &createdAt); err != nil {
		return m, err
	}
	m.Role = model.Role(role)
	m.Timestamp, _ = time.Parse(timeLayout, createdAt)
	return m, nil
}
