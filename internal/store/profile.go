package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// PutProfile upserts one profile key. Values are stored as JSON.
func (s *SQLiteStore) PutProfile(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode profile value %q: %w", key, err)
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_profile (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(b), now)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// LoadProfile reads the full profile map.
func (s *SQLiteStore) LoadProfile(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM user_profile ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profile := map[string]any{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode profile value %q: %w", key, err)
		}
		profile[key] = v
	}
	return profile, rows.Err()
}
