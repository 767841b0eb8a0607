package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"seen/internal/ann"
	"seen/internal/apperr"
	"seen/internal/blob"
	"seen/internal/vectorid"
)

type LocalOptions struct {
	Key    string
	Dim    int
	Metric ann.Metric
	// Graph parameters; zero values take the ann defaults.
	M              int
	EfConstruction int
	EfSearch       int
}

// Local is the ANN index persisted as one blob. Every operation reloads
// the snapshot; mutations write it back in full. The mutex serializes
// read-modify-write cycles within this process only.
type Local struct {
	store blob.Store
	opts  LocalOptions
	mu    sync.Mutex
}

func NewLocal(store blob.Store, opts LocalOptions) *Local {
	return &Local{store: store, opts: opts}
}

func (l *Local) Key() string { return l.opts.Key }

// Load returns the stored index, or an empty one when no snapshot exists.
func (l *Local) Load(ctx context.Context) (*ann.Index, error) {
	data, err := l.store.Get(ctx, l.opts.Key)
	if errors.Is(err, blob.ErrNotFound) {
		slog.InfoContext(ctx, "no local index snapshot, starting empty", "key", l.opts.Key)
		return l.empty()
	}
	if err != nil {
		return nil, fmt.Errorf("load local index: %w", err)
	}
	idx, err := ann.Unmarshal(data)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeIndexCorrupt, "decode local index snapshot", apperr.Field("key", l.opts.Key))
	}
	if idx.Dim() != l.opts.Dim {
		return nil, apperr.New(apperr.CodeIndexCorrupt, "local index snapshot has wrong dimension",
			apperr.Field("key", l.opts.Key), apperr.Field("dim", idx.Dim()), apperr.Field("want", l.opts.Dim))
	}
	return idx, nil
}

func (l *Local) Save(ctx context.Context, idx *ann.Index) error {
	data, err := idx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode local index: %w", err)
	}
	if err := l.store.Put(ctx, l.opts.Key, data); err != nil {
		return fmt.Errorf("save local index: %w", err)
	}
	slog.DebugContext(ctx, "local index saved", "entries", idx.Len(), "bytes", len(data))
	return nil
}

// Update loads the index, runs fn and saves the result when fn reports a
// change, even if fn also returned an error.
func (l *Local) Update(ctx context.Context, fn func(idx *ann.Index) (changed bool, err error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, err := l.Load(ctx)
	if err != nil {
		return err
	}
	changed, fnErr := fn(idx)
	if changed {
		if err := l.Save(ctx, idx); err != nil {
			return errors.Join(fnErr, err)
		}
	}
	return fnErr
}

// Reset removes the snapshot so the next rebuild starts from zero.
func (l *Local) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Delete(ctx, l.opts.Key)
}

func (l *Local) Len(ctx context.Context) (int, error) {
	idx, err := l.Load(ctx)
	if err != nil {
		return 0, err
	}
	return idx.Len(), nil
}

func (l *Local) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return l.Update(ctx, func(idx *ann.Index) (bool, error) {
		for i, e := range entries {
			if err := idx.Insert(e.ID, e.Values); err != nil {
				return i > 0, fmt.Errorf("insert %s: %w", e.ID, err)
			}
		}
		return true, nil
	})
}

func (l *Local) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return l.Update(ctx, func(idx *ann.Index) (bool, error) {
		changed := false
		for _, id := range ids {
			if idx.Delete(id) {
				changed = true
			}
		}
		return changed, nil
	})
}

func (l *Local) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	snap, err := l.Preload(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Query(vector, topK)
}

func (l *Local) Get(ctx context.Context, ids []string) ([]Entry, error) {
	idx, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if v, ok := idx.Get(id); ok {
			out = append(out, Entry{ID: id, Values: v})
		}
	}
	return out, nil
}

// Preload loads the snapshot ahead of a query so the load can overlap
// with embedding the query text.
func (l *Local) Preload(ctx context.Context) (Snapshot, error) {
	idx, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &localSnapshot{idx: idx, metric: l.opts.Metric}, nil
}

func (l *Local) empty() (*ann.Index, error) {
	return ann.New(ann.Config{
		Dim:            l.opts.Dim,
		M:              l.opts.M,
		EfConstruction: l.opts.EfConstruction,
		EfSearch:       l.opts.EfSearch,
	})
}

// Snapshot is an index loaded for querying.
type Snapshot interface {
	Query(vector []float32, topK int) ([]Match, error)
}

// Preloader is implemented by backends whose state can be fetched before
// the query vector is known.
type Preloader interface {
	Preload(ctx context.Context) (Snapshot, error)
}

type localSnapshot struct {
	idx    *ann.Index
	metric ann.Metric
}

func (s *localSnapshot) Query(vector []float32, topK int) ([]Match, error) {
	hits, err := s.idx.Search(vector, topK, s.metric)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		m := Match{ID: h.ID, Score: h.Score}
		if doc, chunk, err := vectorid.Parse(h.ID); err == nil {
			m.Metadata = &Metadata{DocumentID: doc, ChunkIndex: chunk}
		}
		out = append(out, m)
	}
	return out, nil
}

var (
	_ VectorIndex = (*Local)(nil)
	_ Preloader   = (*Local)(nil)
)
