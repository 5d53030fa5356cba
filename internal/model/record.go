package model

import "time"

// RecordMeta ties an embedding back to the transcript message it was built from.
type RecordMeta struct {
	SessionID      string    `json:"session_id"`
	MessageID      string    `json:"message_id"`
	MessageOrdinal int       `json:"message_ordinal"`
	Timestamp      time.Time `json:"timestamp"`
	Topics         []string  `json:"topics,omitempty"`
}

// EmbeddingRecord is one entry of the semantic index.
type EmbeddingRecord struct {
	Text     string     `json:"text"`
	Vector   []float32  `json:"-"`
	Metadata RecordMeta `json:"metadata"`
}

// ScoredRecord is a search hit with its distance from the query.
type ScoredRecord struct {
	EmbeddingRecord
	Distance float64 `json:"distance"`
}
