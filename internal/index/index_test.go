package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/convmem/internal/embedding"
	"github.com/rcliao/convmem/internal/model"
	"github.com/rcliao/convmem/internal/store"
)

// tableEmbedder returns fixed vectors per text and fails for unknown text.
type tableEmbedder struct {
	vectors map[string]embedding.Vector
	calls   atomic.Int32
}

func (e *tableEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	e.calls.Add(1)
	v, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (e *tableEmbedder) Dims() int { return 2 }

type fixture struct {
	store   *store.SQLiteStore
	session string
	msgs    []model.Message
}

func newFixture(t *testing.T, contents ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s, session: "s1"}
	require.NoError(t, s.CreateSession(ctx, &model.Session{ID: f.session, StartTime: time.Now()}))
	for i, c := range contents {
		m, err := s.AppendMessage(ctx, f.session, i, model.Message{Role: model.RoleUser, Content: c, Timestamp: time.Now()})
		require.NoError(t, err)
		f.msgs = append(f.msgs, m)
	}
	return f
}

func (f *fixture) meta(i int) model.RecordMeta {
	return model.RecordMeta{
		SessionID:      f.session,
		MessageID:      f.msgs[i].ID,
		MessageOrdinal: i,
		Timestamp:      f.msgs[i].Timestamp,
	}
}

func (f *fixture) open(t *testing.T, e embedding.Embedder, opts Options) *Index {
	t.Helper()
	x, err := Open(context.Background(), f.store, e, opts)
	require.NoError(t, err)
	return x
}

func TestSearchEmptyIndex(t *testing.T) {
	f := newFixture(t)
	e := &tableEmbedder{vectors: map[string]embedding.Vector{}}
	x := f.open(t, e, Options{})

	for _, k := range []int{0, 1, 2, 10} {
		got, err := x.SearchSimilar(context.Background(), "anything", k)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	assert.Zero(t, e.calls.Load(), "empty index must not call the embedder")
}

func TestSearchSingleEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "only")
	e := &tableEmbedder{vectors: map[string]embedding.Vector{"only": {1, 0}, "q": {0, 1}}}
	x := f.open(t, e, Options{})

	require.True(t, x.AddMessage(ctx, "only", f.meta(0)))

	got, err := x.SearchSimilar(ctx, "q", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "only", got[0].Text)
	assert.Equal(t, f.msgs[0].ID, got[0].Metadata.MessageID)
}

func TestSearchOrderAndTies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "far", "tieA", "near", "tieB")
	e := &tableEmbedder{vectors: map[string]embedding.Vector{
		"far":  {10, 0},
		"tieA": {0, 2},
		"near": {0, 0.5},
		"tieB": {0, -2},
		"q":    {0, 0},
	}}
	x := f.open(t, e, Options{})
	for i, m := range f.msgs {
		require.True(t, x.AddMessage(ctx, m.Content, f.meta(i)))
	}

	got, err := x.SearchSimilar(ctx, "q", 4)
	require.NoError(t, err)
	texts := make([]string, len(got))
	for i, r := range got {
		texts[i] = r.Text
	}
	assert.Equal(t, []string{"near", "tieA", "tieB", "far"}, texts)

	top, err := x.SearchSimilar(ctx, "q", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "tieA", top[1].Text)
}

func TestCosineMetric(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "long", "angled")
	e := &tableEmbedder{vectors: map[string]embedding.Vector{
		"long":   {100, 0},
		"angled": {1, 1},
		"q":      {1, 0},
	}}
	x := f.open(t, e, Options{Metric: embedding.MetricCosine})
	require.True(t, x.AddMessage(ctx, "angled", f.meta(1)))
	require.True(t, x.AddMessage(ctx, "long", f.meta(0)))

	got, err := x.SearchSimilar(ctx, "q", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "long", got[0].Text)
}

func TestEmbeddingFailureIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "unknown")
	x := f.open(t, &tableEmbedder{vectors: map[string]embedding.Vector{}}, Options{})

	assert.False(t, x.AddMessage(ctx, "unknown", f.meta(0)))
	assert.Zero(t, x.Len())
}

func TestDimensionMismatchIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b")
	e := &tableEmbedder{vectors: map[string]embedding.Vector{"a": {1, 0}, "b": {1, 0, 0}}}
	x := f.open(t, e, Options{})

	assert.True(t, x.AddMessage(ctx, "a", f.meta(0)))
	assert.False(t, x.AddMessage(ctx, "b", f.meta(1)))
	assert.Equal(t, 1, x.Len())
}

func TestRecordForMissingMessageRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	x := f.open(t, &tableEmbedder{vectors: map[string]embedding.Vector{"ghost": {1, 1}}}, Options{})

	ok := x.AddMessage(ctx, "ghost", model.RecordMeta{SessionID: "s1", MessageID: "nope", Timestamp: time.Now()})
	assert.False(t, ok)
	assert.Zero(t, x.Len())
}

func TestEmbeddingTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "slow")
	slow := embedding.Func{Size: 2, Fn: func(ctx context.Context, text string) (embedding.Vector, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	x := f.open(t, slow, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	assert.False(t, x.AddMessage(ctx, "slow", f.meta(0)))
	assert.Less(t, time.Since(start), 5*time.Second)

	// Query embedding failures surface to the caller once records exist.
	x.records = []model.EmbeddingRecord{{Text: "x", Vector: []float32{1, 1}}}
	_, err := x.SearchSimilar(ctx, "q", 1)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestReopenLoadsRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "one", "two")
	e := &tableEmbedder{vectors: map[string]embedding.Vector{"one": {1, 0}, "two": {0, 1}, "q": {0, 1}}}
	x := f.open(t, e, Options{})
	require.True(t, x.AddMessage(ctx, "one", f.meta(0)))
	require.True(t, x.AddMessage(ctx, "two", f.meta(1)))

	reopened := f.open(t, e, Options{})
	assert.Equal(t, 2, reopened.Len())
	got, err := reopened.SearchSimilar(ctx, "q", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "two", got[0].Text)
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b", "c", "d")
	e := &tableEmbedder{vectors: map[string]embedding.Vector{"a": {1, 0}, "b": {2, 0}, "d": {4, 0}}}
	x := f.open(t, e, Options{BackfillWorkers: 2})
	require.True(t, x.AddMessage(ctx, "a", f.meta(0)))

	added, err := x.Backfill(ctx, f.session)
	require.NoError(t, err)
	assert.Equal(t, 2, added) // "c" has no vector and stays unindexed

	recs := x.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, []int{0, 1, 3}, []int{
		recs[0].Metadata.MessageOrdinal,
		recs[1].Metadata.MessageOrdinal,
		recs[2].Metadata.MessageOrdinal,
	})

	again, err := x.Backfill(ctx, f.session)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestDisabledIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a")
	x := f.open(t, nil, Options{})

	assert.False(t, x.Enabled())
	assert.False(t, x.AddMessage(ctx, "a", f.meta(0)))
	got, err := x.SearchSimilar(ctx, "q", 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}
