package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/rcliao/convmem/internal/model"
)

// vecEnc encodes vectors with Core Deterministic Encoding so identical
// vectors always produce identical blobs.
var vecEnc cbor.EncMode

func init() {
	var err error
	vecEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
}

func encodeVector(v []float32) ([]byte, error) {
	return vecEnc.Marshal(v)
}

func decodeVector(b []byte) ([]float32, error) {
	var v []float32
	if err := cbor.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *SQLiteStore) PutEmbedding(ctx context.Context, rec model.EmbeddingRecord) error {
	blob, err := encodeVector(rec.Vector)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}

	var topics *string
	if len(rec.Metadata.Topics) > 0 {
		b, _ := json.Marshal(rec.Metadata.Topics)
		t := string(b)
		topics = &t
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO embeddings (message_id, session_id, ordinal, text, dims, vector, topics, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Metadata.MessageID, rec.Metadata.SessionID, rec.Metadata.MessageOrdinal,
		rec.Text, len(rec.Vector), blob, topics, rec.Metadata.Timestamp.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadEmbeddings(ctx context.Context) ([]model.EmbeddingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, ordinal, text, vector, topics, created_at
		 FROM embeddings ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.EmbeddingRecord
	for rows.Next() {
		var rec model.EmbeddingRecord
		var blob []byte
		var topics *string
		var createdAt string

		if err := rows.Scan(&rec.Metadata.MessageID, &rec.Metadata.SessionID, &rec.Metadata.MessageOrdinal,
			&rec.Text, &blob, &topics, &createdAt); err != nil {
			return nil, err
		}
		rec.Vector, err = decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decode vector for %s: %w", rec.Metadata.MessageID, err)
		}
		if topics != nil {
			if err := json.Unmarshal([]byte(*topics), &rec.Metadata.Topics); err != nil {
				return nil, fmt.Errorf("decode topics for %s: %w", rec.Metadata.MessageID, err)
			}
		}
		rec.Metadata.Timestamp, _ = time.Parse(timeLayout, createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Unindexed(ctx context.Context, sessionID string) ([]UnindexedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.ordinal, m.id, m.role, m.content, m.created_at
		 FROM messages m
		 LEFT JOIN embeddings e ON e.message_id = m.id
		 WHERE m.session_id = ? AND e.message_id IS NULL
		 ORDER BY m.ordinal`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnindexedMessage
	for rows.Next() {
		u := UnindexedMessage{SessionID: sessionID}
		var role, createdAt string
		if err := rows.Scan(&u.Ordinal, &u.Message.ID, &role, &u.Message.Content, &createdAt); err != nil {
			return nil, err
		}
		u.Message.Role = model.Role(role)
		u.Message.Timestamp, _ = time.Parse(timeLayout, createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}
