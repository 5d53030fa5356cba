package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath      string        `json:"db_path" yaml:"db_path"`
	DBSizeBytes int64         `json:"db_size_bytes" yaml:"db_size_bytes"`
	Sessions    int           `json:"sessions" yaml:"sessions"`
	Messages    int           `json:"messages" yaml:"messages"`
	Embeddings  int           `json:"embeddings" yaml:"embeddings"`
	ProfileKeys int           `json:"profile_keys" yaml:"profile_keys"`
	Recent      []SessionInfo `json:"recent_sessions" yaml:"recent_sessions"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&st.Sessions)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.Messages)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&st.Embeddings)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_profile`).Scan(&st.ProfileKeys)

	recent, err := s.ListSessions(ctx, 5)
	if err != nil {
		return st, err
	}
	st.Recent = recent

	return st, nil
}
