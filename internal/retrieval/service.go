// Package retrieval answers similarity queries: it embeds the query,
// searches one vector backend and collapses chunk hits into a ranked list
// of documents.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"seen/features/document"
	"seen/internal/apperr"
	"seen/internal/index"
	"seen/internal/middleware"
	"seen/internal/settings"
	"seen/internal/vectorid"
)

const (
	DefaultTopK = 20
	// MaxDocuments caps the documents returned per query.
	MaxDocuments = 5
	maxTopK      = 100
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Backends resolves a backend name to a queryable index;
// *index.Coordinator satisfies it.
type Backends interface {
	Backend(b index.Backend) (index.VectorIndex, error)
}

type DocumentGetter interface {
	Get(ctx context.Context, id string) (*document.Document, error)
}

type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

type SearchOptions struct {
	// Backend overrides the configured search backend when set.
	Backend index.Backend
	// TopK overrides the number of chunk hits requested when positive.
	TopK int
}

type ChunkHit struct {
	VectorID   string  `json:"vector_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
}

// Group is one document's hits, scored by its best chunk.
type Group struct {
	DocumentID string
	Score      float32
	Chunks     []ChunkHit
}

type Result struct {
	Document *document.Document `json:"document"`
	Score    float32            `json:"score"`
	Chunks   []ChunkHit         `json:"chunks"`
}

type Defaults struct {
	Backend index.Backend
	TopK    int
}

type Service struct {
	embedder Embedder
	backends Backends
	docs     DocumentGetter
	settings SettingsReader
	logger   *QueryLogger
	defaults Defaults
}

func NewService(e Embedder, b Backends, docs DocumentGetter, set SettingsReader, l *QueryLogger, d Defaults) *Service {
	if d.Backend == "" {
		d.Backend = index.BackendRemote
	}
	if d.TopK <= 0 {
		d.TopK = DefaultTopK
	}
	return &Service{embedder: e, backends: b, docs: docs, settings: set, logger: l, defaults: d}
}

// Search returns up to MaxDocuments documents ranked by their best
// matching chunk. Documents whose metadata cannot be loaded are dropped.
func (s *Service) Search(ctx context.Context, query string, opts *SearchOptions) (results []Result, err error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.InvalidInput("query is required")
	}

	backend, topK := s.resolve(ctx, opts)
	entry := QueryLogEntry{
		Query:         query,
		Backend:       string(backend),
		TopK:          topK,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	defer func() {
		entry.Duration = time.Since(start)
		if err != nil {
			entry.Error = err.Error()
		}
		s.logger.Log(entry)
	}()

	idx, err := s.backends.Backend(backend)
	if err != nil {
		return nil, apperr.InvalidInput(err.Error())
	}

	matches, err := s.query(ctx, idx, query, topK)
	if err != nil {
		return nil, err
	}
	entry.NumHits = len(matches)

	results = []Result{}
	if len(matches) > 0 {
		groups := Rank(ctx, matches, MaxDocuments)
		results = s.resolveDocuments(ctx, groups)
		entry.Dropped = len(groups) - len(results)
	}
	entry.NumResults = len(results)
	for _, r := range results {
		entry.DocumentIDs = append(entry.DocumentIDs, r.Document.ID)
	}
	return results, nil
}

func (s *Service) resolve(ctx context.Context, opts *SearchOptions) (index.Backend, int) {
	backend, topK := s.defaults.Backend, s.defaults.TopK
	if s.settings != nil {
		if cfg, err := s.settings.Get(ctx); err != nil {
			slog.WarnContext(ctx, "settings unavailable, using defaults", "error", err)
		} else {
			if b, err := index.ParseBackend(cfg.SearchBackend); err == nil {
				backend = b
			}
			if cfg.SearchTopK > 0 {
				topK = cfg.SearchTopK
			}
		}
	}
	if opts != nil {
		if opts.Backend != "" {
			backend = opts.Backend
		}
		if opts.TopK > 0 {
			topK = opts.TopK
		}
	}
	return backend, min(topK, maxTopK)
}

// query embeds the text and searches idx. Backends that can preload their
// state do so while the embedding call is in flight.
func (s *Service) query(ctx context.Context, idx index.VectorIndex, query string, topK int) ([]index.Match, error) {
	pre, ok := idx.(index.Preloader)
	if !ok {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		return idx.Query(ctx, vec, topK)
	}

	var (
		vec  []float32
		snap index.Snapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vec, err = s.embedder.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		snap, err = pre.Preload(gctx)
		if err != nil {
			return fmt.Errorf("load local index: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap.Query(vec, topK)
}

// Rank groups matches by document, orders documents by their best score
// (ties keep first-seen order after sorting hits) and keeps the first
// limit. Chunks within a document are ordered by descending score.
func Rank(ctx context.Context, matches []index.Match, limit int) []Group {
	sorted := append([]index.Match(nil), matches...)
	index.SortMatches(sorted)

	var groups []*Group
	byDoc := make(map[string]*Group)
	for _, m := range sorted {
		doc, chunk, err := vectorid.Parse(m.ID)
		if err != nil {
			slog.WarnContext(ctx, "skipping hit with malformed vector id", "vector_id", m.ID, "error", err)
			continue
		}
		g, ok := byDoc[doc]
		if !ok {
			g = &Group{DocumentID: doc, Score: m.Score}
			byDoc[doc] = g
			groups = append(groups, g)
		}
		if m.Score > g.Score {
			g.Score = m.Score
		}
		g.Chunks = append(g.Chunks, ChunkHit{VectorID: m.ID, ChunkIndex: chunk, Score: m.Score})
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Score > groups[j].Score })
	if len(groups) > limit {
		groups = groups[:limit]
	}

	out := make([]Group, len(groups))
	for i, g := range groups {
		sort.SliceStable(g.Chunks, func(a, b int) bool { return g.Chunks[a].Score > g.Chunks[b].Score })
		out[i] = *g
	}
	return out
}

// resolveDocuments loads every group's document concurrently, keeping rank
// order and dropping groups whose lookup fails.
func (s *Service) resolveDocuments(ctx context.Context, groups []Group) []Result {
	docs := make([]*document.Document, len(groups))
	var wg sync.WaitGroup
	for i, g := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.docs.Get(ctx, g.DocumentID)
			if err != nil {
				if apperr.IsNotFound(err) {
					slog.WarnContext(ctx, "search hit references missing document", "document_id", g.DocumentID)
				} else {
					slog.ErrorContext(ctx, "document lookup failed", "document_id", g.DocumentID, "error", err)
				}
				return
			}
			docs[i] = d
		}()
	}
	wg.Wait()

	out := make([]Result, 0, len(groups))
	for i, g := range groups {
		if docs[i] == nil {
			continue
		}
		out = append(out, Result{Document: docs[i], Score: g.Score, Chunks: g.Chunks})
	}
	return out
}
