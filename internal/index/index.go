// Package index implements an exact, flat nearest-neighbor index over
// conversation messages.
package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/convmem/internal/embedding"
	"github.com/rcliao/convmem/internal/model"
	"github.com/rcliao/convmem/internal/store"
)

// Options configures an Index.
type Options struct {
	Metric  embedding.Metric
	Timeout time.Duration // per embedding call; 0 means no extra bound
	Logger  *slog.Logger

	// BackfillWorkers bounds concurrent embedding calls during Backfill.
	BackfillWorkers int
}

// Index keeps every record in memory and mirrors appends to durable storage.
// Records become visible to searches only after they are persisted.
type Index struct {
	embedder embedding.Embedder
	backend  store.VectorBackend
	opts     Options
	log      *slog.Logger

	writeMu sync.Mutex // orders persist+publish so memory matches storage order

	mu      sync.RWMutex
	records []model.EmbeddingRecord
	dims    int
}

// Open loads all persisted records. A nil embedder disables indexing and search.
func Open(ctx context.Context, backend store.VectorBackend, embedder embedding.Embedder, opts Options) (*Index, error) {
	if opts.Metric == "" {
		opts.Metric = embedding.MetricL2
	}
	if opts.BackfillWorkers <= 0 {
		opts.BackfillWorkers = 4
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	records, err := backend.LoadEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	x := &Index{
		embedder: embedder,
		backend:  backend,
		opts:     opts,
		log:      log,
		records:  records,
	}
	if len(records) > 0 {
		x.dims = len(records[0].Vector)
	}
	return x, nil
}

// Enabled reports whether an embedder is configured.
func (x *Index) Enabled() bool { return x.embedder != nil }

// Len returns the number of indexed records.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Records returns a copy of all records in insertion order.
func (x *Index) Records() []model.EmbeddingRecord {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Clone(x.records)
}

func (x *Index) embed(ctx context.Context, text string) (embedding.Vector, error) {
	if x.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.opts.Timeout)
		defer cancel()
	}
	v, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, errors.New("empty embedding")
	}
	return v, nil
}

// AddMessage embeds text and stores it with meta. Failures are logged and
// skipped; the return value reports whether a record was added.
func (x *Index) AddMessage(ctx context.Context, text string, meta model.RecordMeta) bool {
	if x.embedder == nil {
		return false
	}

	vec, err := x.embed(ctx, text)
	if err != nil {
		x.log.Warn("embedding failed, message not indexed",
			"session", meta.SessionID, "ordinal", meta.MessageOrdinal, "err", err)
		return false
	}
	return x.publish(ctx, model.EmbeddingRecord{Text: text, Vector: vec, Metadata: meta})
}

func (x *Index) publish(ctx context.Context, rec model.EmbeddingRecord) bool {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	x.mu.RLock()
	dims := x.dims
	x.mu.RUnlock()
	if dims > 0 && len(rec.Vector) != dims {
		x.log.Warn("embedding skipped",
			"session", rec.Metadata.SessionID, "ordinal", rec.Metadata.MessageOrdinal,
			"err", fmt.Errorf("%w: got %d, want %d", embedding.ErrDimensionMismatch, len(rec.Vector), dims))
		return false
	}

	if err := x.backend.PutEmbedding(ctx, rec); err != nil {
		x.log.Warn("persist embedding failed",
			"session", rec.Metadata.SessionID, "ordinal", rec.Metadata.MessageOrdinal, "err", err)
		return false
	}

	x.mu.Lock()
	x.records = append(x.records, rec)
	if x.dims == 0 {
		x.dims = len(rec.Vector)
	}
	x.mu.Unlock()
	return true
}

// SearchSimilar returns up to k records nearest to query, nearest first.
// Equidistant records keep insertion order. An empty index yields an empty
// result without calling the embedder.
func (x *Index) SearchSimilar(ctx context.Context, query string, k int) ([]model.ScoredRecord, error) {
	if k <= 0 || x.Len() == 0 || x.embedder == nil {
		return []model.ScoredRecord{}, nil
	}

	q, err := x.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	x.mu.RLock()
	scored := make([]model.ScoredRecord, len(x.records))
	for i, rec := range x.records {
		scored[i] = model.ScoredRecord{EmbeddingRecord: rec, Distance: x.opts.Metric.Distance(q, rec.Vector)}
	}
	x.mu.RUnlock()

	slices.SortStableFunc(scored, func(a, b model.ScoredRecord) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Backfill embeds the messages of a session that have no record yet and
// returns how many were added. Records are published in message order.
func (x *Index) Backfill(ctx context.Context, sessionID string) (int, error) {
	if x.embedder == nil {
		return 0, nil
	}

	missing, err := x.backend.Unindexed(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("list unindexed: %w", err)
	}
	if len(missing) == 0 {
		return 0, nil
	}

	vectors := make([]embedding.Vector, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.opts.BackfillWorkers)
	for i, u := range missing {
		g.Go(func() error {
			v, err := x.embed(gctx, u.Message.Content)
			if err != nil {
				x.log.Warn("backfill embedding failed", "session", sessionID, "ordinal", u.Ordinal, "err", err)
				return nil
			}
			vectors[i] = v
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	added := 0
	for i, u := range missing {
		if vectors[i] == nil {
			continue
		}
		rec := model.EmbeddingRecord{
			Text:   u.Message.Content,
			Vector: vectors[i],
			Metadata: model.RecordMeta{
				SessionID:      u.SessionID,
				MessageID:      u.Message.ID,
				MessageOrdinal: u.Ordinal,
				Timestamp:      u.Message.Timestamp,
			},
		}
		if x.publish(ctx, rec) {
			added++
		}
	}
	return added, nil
}
