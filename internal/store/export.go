package store

import (
	"context"
	"fmt"

	"github.com/rcliao/convmem/internal/model"
)

// ImportSession stores a complete transcript under its own id in one transaction.
// Message ids are reassigned. Fails with ErrSessionExists if the id is taken.
func (s *SQLiteStore) ImportSession(ctx context.Context, sess *model.Session) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sess.ID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check session %s: %w", sess.ID, err)
	}
	if exists > 0 {
		return 0, fmt.Errorf("%w: %s", ErrSessionExists, sess.ID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, start_time) VALUES (?, ?)`,
		sess.ID, sess.StartTime.UTC().Format(timeLayout)); err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}

	imported := 0
	for i, m := range sess.Messages {
		if !model.ValidRoles[m.Role] {
			return 0, fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, ordinal, role, content, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			s.newID(), sess.ID, i, string(m.Role), m.Content, m.Timestamp.UTC().Format(timeLayout))
		if err != nil {
			return 0, fmt.Errorf("insert message %d: %w", i, err)
		}
		imported++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return imported, nil
}
