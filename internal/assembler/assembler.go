// Package assembler builds bounded context bundles from the session
// transcript, rolling summary, semantic recall and user profile.
package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/convmem/internal/embedding"
	"github.com/rcliao/convmem/internal/index"
	"github.com/rcliao/convmem/internal/llm"
	"github.com/rcliao/convmem/internal/model"
	"github.com/rcliao/convmem/internal/profile"
	"github.com/rcliao/convmem/internal/session"
	"github.com/rcliao/convmem/internal/store"
	"github.com/rcliao/convmem/internal/summarize"
	"github.com/rcliao/convmem/internal/tokens"
)

// Config holds the assembly limits.
type Config struct {
	MaxTokens      int // budget ceiling; eviction targets 80% of it
	RecentMessages int // R: verbatim turns fetched per query
	Hits           int // K: semantic hits fetched per query
	KeepRecent     int // turns kept verbatim when summarizing
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxTokens:      5000,
		RecentMessages: 5,
		Hits:           2,
		KeepRecent:     summarize.DefaultKeepRecent,
	}
}

// SemanticIndex is the recall tier.
type SemanticIndex interface {
	AddMessage(ctx context.Context, text string, meta model.RecordMeta) bool
	SearchSimilar(ctx context.Context, query string, k int) ([]model.ScoredRecord, error)
	Backfill(ctx context.Context, sessionID string) (int, error)
}

// Summarizer condenses older turns; it must fail open.
type Summarizer interface {
	Summarize(ctx context.Context, messages []model.Message, keepRecent int) []model.Message
}

// ProfileStore holds durable user facts.
type ProfileStore interface {
	GetAll() map[string]any
	Update(ctx context.Context, key string, value any) error
}

// Deps are the components a Manager orchestrates. Only Sessions is required.
type Deps struct {
	Sessions   *session.Store
	Index      SemanticIndex
	Summarizer Summarizer
	Profile    ProfileStore
	Logger     *slog.Logger
}

// Manager is the entry point used by a conversation driver.
type Manager struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// New creates a Manager. Zero config fields take their defaults.
func New(cfg Config, deps Deps) *Manager {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.RecentMessages <= 0 {
		cfg.RecentMessages = def.RecentMessages
	}
	if cfg.Hits <= 0 {
		cfg.Hits = def.Hits
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = def.KeepRecent
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{cfg: cfg, deps: deps, log: log}
}

// Options configure Build.
type Options struct {
	Config          Config
	Embedder        embedding.Embedder
	Generator       llm.Generator
	Metric          embedding.Metric
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
	Logger          *slog.Logger
}

// Build wires a Manager over a single store.
func Build(ctx context.Context, st store.Store, opts Options) (*Manager, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	idx, err := index.Open(ctx, st, opts.Embedder, index.Options{
		Metric:  opts.Metric,
		Timeout: opts.EmbedTimeout,
		Logger:  log.With("component", "index"),
	})
	if err != nil {
		return nil, err
	}
	prof, err := profile.Open(ctx, st)
	if err != nil {
		return nil, err
	}
	sum := summarize.New(opts.Generator, summarize.Options{
		Timeout: opts.GenerateTimeout,
		Logger:  log.With("component", "summarizer"),
	})

	return New(opts.Config, Deps{
		Sessions:   session.New(st),
		Index:      idx,
		Summarizer: sum,
		Profile:    prof,
		Logger:     log,
	}), nil
}

// Config returns the effective limits.
func (m *Manager) Config() Config { return m.cfg }

// SessionID returns the active session id.
func (m *Manager) SessionID() string { return m.deps.Sessions.SessionID() }

// StartSession begins a new persisted session.
func (m *Manager) StartSession(ctx context.Context) (string, error) {
	id, err := m.deps.Sessions.StartSession(ctx)
	if err != nil {
		return "", err
	}
	m.log.Info("session started", "session", id)
	return id, nil
}

// LoadSession resumes a persisted session; false means the id is unknown.
func (m *Manager) LoadSession(ctx context.Context, sessionID string) (bool, error) {
	return m.deps.Sessions.LoadSession(ctx, sessionID)
}

// AddMessage durably appends a turn, then indexes it on a best-effort basis.
// Only transcript persistence failures are returned.
func (m *Manager) AddMessage(ctx context.Context, role model.Role, content string) (model.Message, error) {
	msg, meta, err := m.deps.Sessions.AddMessage(ctx, role, content)
	if err != nil {
		return model.Message{}, err
	}

	if m.deps.Index != nil {
		m.deps.Index.AddMessage(ctx, content, meta)
	}
	return msg, nil
}

// UpdateUserProfile durably sets a profile fact.
func (m *Manager) UpdateUserProfile(ctx context.Context, key string, value any) error {
	if m.deps.Profile == nil {
		return fmt.Errorf("profile store not configured")
	}
	return m.deps.Profile.Update(ctx, key, value)
}

// Reindex embeds messages of the active session that are missing from the index.
func (m *Manager) Reindex(ctx context.Context) (int, error) {
	id := m.deps.Sessions.SessionID()
	if id == "" {
		return 0, model.ErrNoSession
	}
	if m.deps.Index == nil {
		return 0, nil
	}
	return m.deps.Index.Backfill(ctx, id)
}

// GetContext assembles the context bundle for query. Failures in the index,
// summarizer or profile degrade their tier to empty; the only error is a
// context that is already done.
func (m *Manager) GetContext(ctx context.Context, query string) (*model.ContextBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hits []model.ScoredRecord
	var g errgroup.Group
	if m.deps.Index != nil && m.cfg.Hits > 0 {
		g.Go(func() error {
			res, err := m.deps.Index.SearchSimilar(ctx, query, m.cfg.Hits)
			if err != nil {
				m.log.Warn("semantic search failed, continuing without hits", "err", err)
				return nil
			}
			hits = res
			return nil
		})
	}

	recent := m.deps.Sessions.GetRecentMessages(m.cfg.RecentMessages)
	prof := m.profileSnapshot()
	g.Wait()

	if m.deps.Summarizer != nil && summarize.NeedsSummarization(recent, m.cfg.MaxTokens) {
		recent = m.deps.Summarizer.Summarize(ctx, recent, m.cfg.KeepRecent)
	}
	summary, rest := summarize.Split(recent)

	bundle := &model.ContextBundle{
		UserProfile:    prof,
		Summary:        summary,
		RecentMessages: append([]model.Message{}, rest...),
		RelevantPast:   make([]string, 0, len(hits)),
		Budget:         m.cfg.MaxTokens,
	}
	for _, h := range hits {
		bundle.RelevantPast = append(bundle.RelevantPast, h.Text)
	}

	bundle.Tokens = Evict(bundle, query, m.cfg.MaxTokens)
	return bundle, nil
}

func (m *Manager) profileSnapshot() map[string]any {
	if m.deps.Profile == nil {
		return map[string]any{}
	}
	if all := m.deps.Profile.GetAll(); all != nil {
		return all
	}
	return map[string]any{}
}

// Evict trims the bundle until its estimated size is within 80% of
// maxTokens or nothing evictable remains, and returns the final estimate.
// Relevant-past entries go first, last to first; then recent messages,
// oldest first, always keeping the newest one.
func Evict(b *model.ContextBundle, query string, maxTokens int) int {
	total := tokens.Estimate(query)
	if len(b.UserProfile) > 0 {
		total += tokens.Estimate(profileText(b.UserProfile))
	}
	if b.Summary != "" {
		total += tokens.Estimate(b.Summary)
	}
	for _, p := range b.RelevantPast {
		total += tokens.Estimate(p)
	}
	for _, m := range b.RecentMessages {
		total += tokens.Estimate(m.Content)
	}

	over := func() bool { return total*5 > maxTokens*4 }
	for over() {
		switch {
		case len(b.RelevantPast) > 0:
			last := len(b.RelevantPast) - 1
			total -= tokens.Estimate(b.RelevantPast[last])
			b.RelevantPast = b.RelevantPast[:last]
		case len(b.RecentMessages) > 1:
			total -= tokens.Estimate(b.RecentMessages[0].Content)
			b.RecentMessages = b.RecentMessages[1:]
		default:
			return total
		}
	}
	return total
}

func profileText(p map[string]any) string {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprint(p)
	}
	return string(b)
}
