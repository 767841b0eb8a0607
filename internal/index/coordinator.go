package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"seen/internal/ann"
	"seen/internal/embedding"
	"seen/internal/vectorid"
)

const (
	DefaultBatchSize  = 20
	DefaultMaxBatches = 15
)

// EmbeddingRow is one durable embedding keyed by vector id.
type EmbeddingRow struct {
	VectorID   string
	DocumentID string
	Vector     []float32
}

// EmbeddingStore is the durable embeddings table, the source of truth both
// indexes are reconciled against.
type EmbeddingStore interface {
	UpsertEmbeddings(ctx context.Context, rows []EmbeddingRow) error
	// GetEmbeddings returns the stored rows for ids; unknown ids are omitted.
	GetEmbeddings(ctx context.Context, ids []string) ([]EmbeddingRow, error)
	DeleteEmbeddings(ctx context.Context, documentID string) error
	EnsureEmbeddingsTable(ctx context.Context) error
	// ListDocumentChunks returns every indexed document in canonical rebuild order.
	ListDocumentChunks(ctx context.Context) ([]vectorid.DocumentChunks, error)
}

type Options struct {
	// Backends written by IndexDocument and RemoveDocument when the caller
	// does not name any.
	Backends   []Backend
	BatchSize  int
	MaxBatches int
}

type Coordinator struct {
	embedder   embedding.Embedder
	store      EmbeddingStore
	remote     RemoteIndex
	local      *Local
	backends   []Backend
	batchSize  int
	maxBatches int
}

// NewCoordinator wires the indexes together. remote or local may be nil
// when that backend is not configured.
func NewCoordinator(e embedding.Embedder, store EmbeddingStore, remote RemoteIndex, local *Local, opts Options) *Coordinator {
	c := &Coordinator{
		embedder:   e,
		store:      store,
		remote:     remote,
		local:      local,
		backends:   opts.Backends,
		batchSize:  opts.BatchSize,
		maxBatches: opts.MaxBatches,
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if c.maxBatches <= 0 {
		c.maxBatches = DefaultMaxBatches
	}
	if len(c.backends) == 0 {
		c.backends = []Backend{BackendRemote}
	}
	return c
}

func (c *Coordinator) Backends() []Backend { return c.backends }

// Backend resolves b to its VectorIndex.
func (c *Coordinator) Backend(b Backend) (VectorIndex, error) {
	switch b {
	case BackendRemote:
		if c.remote == nil {
			return nil, fmt.Errorf("remote index not configured")
		}
		return Remote(c.remote), nil
	case BackendLocal:
		if c.local == nil {
			return nil, fmt.Errorf("local index not configured")
		}
		return c.local, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", b)
	}
}

// IndexDocument embeds every chunk, records the embeddings durably in one
// batch and then writes the document's entries to every active backend.
// An embedding failure leaves nothing behind. Rows written before an index
// failure stay; there is no rollback.
func (c *Coordinator) IndexDocument(ctx context.Context, documentID string, chunks []string, backends ...Backend) (int, error) {
	targets, err := c.resolve(backends)
	if err != nil {
		return 0, err
	}

	entries := make([]Entry, 0, len(chunks))
	rows := make([]EmbeddingRow, 0, len(chunks))
	for i, chunk := range chunks {
		id := vectorid.Format(documentID, i)
		vec, err := c.embedder.Embed(ctx, chunk)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %s: %w", id, err)
		}
		rows = append(rows, EmbeddingRow{VectorID: id, DocumentID: documentID, Vector: vec})
		entries = append(entries, Entry{
			ID:       id,
			Values:   vec,
			Metadata: &Metadata{DocumentID: documentID, ChunkIndex: i},
		})
	}

	if err := c.store.UpsertEmbeddings(ctx, rows); err != nil {
		return 0, fmt.Errorf("store embeddings for %s: %w", documentID, err)
	}
	for _, t := range targets {
		if err := t.idx.Insert(ctx, entries); err != nil {
			return 0, fmt.Errorf("insert into %s index: %w", t.name, err)
		}
	}

	slog.InfoContext(ctx, "document indexed", "document_id", documentID, "chunks", len(entries), "backends", c.names(targets))
	return len(entries), nil
}

// RemoveDocument deletes the document's chunk ids from every active backend
// and then its rows from the embeddings table.
func (c *Coordinator) RemoveDocument(ctx context.Context, documentID string, chunkCount int, backends ...Backend) error {
	targets, err := c.resolve(backends)
	if err != nil {
		return err
	}

	ids := vectorid.ForDocument(documentID, chunkCount)
	for _, t := range targets {
		if err := t.idx.Delete(ctx, ids); err != nil {
			return fmt.Errorf("delete from %s index: %w", t.name, err)
		}
	}
	if err := c.store.DeleteEmbeddings(ctx, documentID); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}

	slog.InfoContext(ctx, "document removed from indexes", "document_id", documentID, "chunks", chunkCount)
	return nil
}

// Progress reports how much of the canonical id list the local index holds.
// Missing counts ids that neither the remote index nor the embeddings table
// could supply; it is only known once an invocation has walked every
// pending id.
type Progress struct {
	Total    int `json:"total"`
	Migrated int `json:"migrated"`
	Missing  int `json:"missing,omitempty"`
}

func (p Progress) Converged() bool { return p.Migrated >= p.Total }

// Settled reports whether another invocation could make progress.
func (p Progress) Settled() bool { return p.Migrated+p.Missing >= p.Total }

// Rebuild copies up to MaxBatches batches of vectors into the local index,
// resuming where the previous call stopped. Vectors come from the remote
// index; ids it cannot return are read from the embeddings table. The local
// index length is the watermark reported as Migrated, and ids already in the
// index are never fetched again. A converged index makes no writes.
func (c *Coordinator) Rebuild(ctx context.Context) (Progress, error) {
	if c.local == nil || c.remote == nil {
		return Progress{}, errors.New("rebuild needs both remote and local indexes")
	}

	var progress Progress
	err := c.local.Update(ctx, func(idx *ann.Index) (bool, error) {
		if err := c.store.EnsureEmbeddingsTable(ctx); err != nil {
			return false, fmt.Errorf("ensure embeddings table: %w", err)
		}
		docs, err := c.store.ListDocumentChunks(ctx)
		if err != nil {
			return false, fmt.Errorf("list documents: %w", err)
		}
		ids := vectorid.Enumerate(docs)
		progress.Total = len(ids)

		pending := make([]string, 0, max(len(ids)-idx.Len(), 0))
		for _, id := range ids {
			if !idx.Has(id) {
				pending = append(pending, id)
			}
		}
		if len(pending) == 0 {
			progress.Migrated = len(ids)
			slog.DebugContext(ctx, "local index already converged", "total", len(ids))
			return false, nil
		}

		migrated := 0
		var unavailable []string
		defer func() {
			progress.Migrated = min(idx.Len(), progress.Total)
			if len(pending) == 0 {
				progress.Missing = len(unavailable)
			}
		}()

		for batch := 0; batch < c.maxBatches && len(pending) > 0; batch++ {
			n := min(c.batchSize, len(pending))
			want := pending[:n]

			got, err := c.fetchBatch(ctx, want)
			if err != nil {
				return migrated > 0, fmt.Errorf("fetch batch %d: %w", batch, err)
			}
			for _, r := range got {
				if err := idx.Insert(r.VectorID, r.Vector); err != nil {
					return migrated > 0, fmt.Errorf("insert %s into local index: %w", r.VectorID, err)
				}
				migrated++
			}
			pending = pending[n:]

			if len(got) < len(want) {
				seen := make(map[string]bool, len(got))
				for _, r := range got {
					seen[r.VectorID] = true
				}
				for _, id := range want {
					if !seen[id] {
						unavailable = append(unavailable, id)
					}
				}
				slog.WarnContext(ctx, "vectors unavailable in remote index and embeddings table",
					"requested", len(want), "found", len(got), "unavailable", len(unavailable))
			}
			slog.InfoContext(ctx, "rebuild batch migrated", "batch", batch, "vectors", len(got), "local_len", idx.Len(), "total", len(ids))
		}
		return migrated > 0, nil
	})
	if err != nil {
		return progress, err
	}

	slog.InfoContext(ctx, "rebuild invocation finished", "total", progress.Total, "migrated", progress.Migrated, "missing", progress.Missing)
	return progress, nil
}

// fetchBatch reads want from the remote index, recording what it returns in
// the embeddings table, and falls back to the table for ids the remote
// lacks. Rows come back in the order of want.
func (c *Coordinator) fetchBatch(ctx context.Context, want []string) ([]EmbeddingRow, error) {
	entries, err := c.remote.GetByIDs(ctx, want)
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}

	found := make(map[string]EmbeddingRow, len(want))
	fromRemote := make([]EmbeddingRow, 0, len(entries))
	for _, e := range entries {
		doc := vectorid.DocumentID(e.ID)
		if doc == "" {
			slog.WarnContext(ctx, "skipping malformed vector id", "vector_id", e.ID)
			continue
		}
		r := EmbeddingRow{VectorID: e.ID, DocumentID: doc, Vector: e.Values}
		fromRemote = append(fromRemote, r)
		found[e.ID] = r
	}
	if len(fromRemote) > 0 {
		if err := c.store.UpsertEmbeddings(ctx, fromRemote); err != nil {
			return nil, fmt.Errorf("store embeddings: %w", err)
		}
	}

	var lacking []string
	for _, id := range want {
		if _, ok := found[id]; !ok {
			lacking = append(lacking, id)
		}
	}
	if len(lacking) > 0 {
		slog.WarnContext(ctx, "remote returned fewer vectors than requested, reading embeddings table",
			"requested", len(want), "returned", len(fromRemote), "first_id", lacking[0])
		rows, err := c.store.GetEmbeddings(ctx, lacking)
		if err != nil {
			return nil, fmt.Errorf("read embeddings: %w", err)
		}
		for _, r := range rows {
			found[r.VectorID] = r
		}
	}

	out := make([]EmbeddingRow, 0, len(found))
	for _, id := range want {
		if r, ok := found[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// ResetLocal drops the local snapshot.
func (c *Coordinator) ResetLocal(ctx context.Context) error {
	if c.local == nil {
		return errors.New("local index not configured")
	}
	return c.local.Reset(ctx)
}

// LocalLen returns the number of entries in the local index, or 0 when it
// is not configured.
func (c *Coordinator) LocalLen(ctx context.Context) (int, error) {
	if c.local == nil {
		return 0, nil
	}
	return c.local.Len(ctx)
}

type target struct {
	name Backend
	idx  VectorIndex
}

func (c *Coordinator) resolve(backends []Backend) ([]target, error) {
	if len(backends) == 0 {
		backends = c.backends
	}
	out := make([]target, 0, len(backends))
	for _, b := range backends {
		idx, err := c.Backend(b)
		if err != nil {
			return nil, err
		}
		out = append(out, target{name: b, idx: idx})
	}
	return out, nil
}

func (c *Coordinator) names(ts []target) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t.name)
	}
	return out
}
