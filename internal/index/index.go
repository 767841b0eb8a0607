// Package index keeps the remote and local vector indexes consistent with
// the durable embeddings table: dual-write on insert and delete, and a
// resumable rebuild of the local index from the remote one.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

type Backend string

const (
	BackendRemote Backend = "remote"
	BackendLocal  Backend = "local"
)

func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendRemote:
		return BackendRemote, nil
	case BackendLocal:
		return BackendLocal, nil
	default:
		return "", fmt.Errorf("unknown index backend %q", s)
	}
}

// ParseBackends parses a list into a de-duplicated set, keeping order.
func ParseBackends(list []string) ([]Backend, error) {
	seen := make(map[Backend]bool, len(list))
	out := make([]Backend, 0, len(list))
	for _, s := range list {
		b, err := ParseBackend(s)
		if err != nil {
			return nil, err
		}
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out, nil
}

// Metadata is attached to remote entries so matches can be attributed
// without parsing the id.
type Metadata struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
}

type Entry struct {
	ID       string
	Values   []float32
	Metadata *Metadata
}

type Match struct {
	ID       string
	Score    float32
	Metadata *Metadata
}

// VectorIndex is one queryable backend.
type VectorIndex interface {
	Insert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
	Get(ctx context.Context, ids []string) ([]Entry, error)
}

// RemoteIndex is a managed similarity-search service.
type RemoteIndex interface {
	Insert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	GetByIDs(ctx context.Context, ids []string) ([]Entry, error)
}

// SortMatches orders matches by descending score, keeping input order for
// ties.
func SortMatches(m []Match) {
	sort.SliceStable(m, func(i, j int) bool { return m[i].Score > m[j].Score })
}

type remote struct {
	ri RemoteIndex
}

// Remote adapts a RemoteIndex to VectorIndex. Query results are re-sorted
// since providers do not all promise an order.
func Remote(ri RemoteIndex) VectorIndex {
	return &remote{ri: ri}
}

func (r *remote) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.ri.Insert(ctx, entries)
}

func (r *remote) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	m, err := r.ri.Query(ctx, vector, topK)
	if err != nil {
		return nil, err
	}
	SortMatches(m)
	return m, nil
}

func (r *remote) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.ri.DeleteByIDs(ctx, ids)
}

func (r *remote) Get(ctx context.Context, ids []string) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.ri.GetByIDs(ctx, ids)
}
