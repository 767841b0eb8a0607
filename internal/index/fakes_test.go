package index

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"seen/internal/blob"
	"seen/internal/embedding"
	"seen/internal/vectorid"
)

const testDim = 4

// vecFor derives a stable non-zero vector from s.
func vecFor(s string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(s))
	x := h.Sum64()
	v := make([]float32, testDim)
	for i := range v {
		v[i] = float32((x>>(i*8))&0xff)/255 + 0.01
	}
	return v
}

var hashEmbedder = embedding.Func(func(_ context.Context, text string) ([]float32, error) {
	return vecFor(text), nil
})

type memBlob struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int
}

func newMemBlob() *memBlob { return &memBlob{data: map[string][]byte{}} }

func (m *memBlob) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return d, nil
}

func (m *memBlob) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBlob) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type fakeRemote struct {
	mu        sync.Mutex
	entries   map[string]Entry
	getCalls  [][]string
	insertErr error
	getErr    error
	failOnGet int             // 1-based GetByIDs call that returns errBoom
	drop      map[string]bool // ids GetByIDs pretends not to have
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{entries: map[string]Entry{}, drop: map[string]bool{}}
}

func (f *fakeRemote) Insert(_ context.Context, entries []Entry) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		f.entries[e.ID] = e
	}
	return nil
}

func (f *fakeRemote) Query(_ context.Context, vector []float32, topK int) ([]Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Match
	for id, e := range f.entries {
		var dot float32
		for i := range vector {
			dot += vector[i] * e.Values[i]
		}
		out = append(out, Match{ID: id, Score: dot})
	}
	// Deliberately ascending to exercise re-sorting.
	sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	if len(out) > topK {
		out = out[len(out)-topK:]
	}
	return out, nil
}

func (f *fakeRemote) DeleteByIDs(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.entries, id)
	}
	return nil
}

func (f *fakeRemote) GetByIDs(_ context.Context, ids []string) ([]Entry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls = append(f.getCalls, append([]string(nil), ids...))
	if f.failOnGet > 0 && len(f.getCalls) == f.failOnGet {
		return nil, errBoom
	}
	var out []Entry
	for _, id := range ids {
		if e, ok := f.entries[id]; ok && !f.drop[id] {
			out = append(out, e)
		}
	}
	return out, nil
}

type row struct {
	documentID string
	vector     []float32
}

type fakeStore struct {
	mu        sync.Mutex
	rows      map[string]row
	docs      []vectorid.DocumentChunks
	upserts   int // rows written
	reads     [][]string
	upsertErr error
	ensures   int
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[string]row{}} }

func (s *fakeStore) UpsertEmbeddings(_ context.Context, rows []EmbeddingRow) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.upserts++
		s.rows[r.VectorID] = row{documentID: r.DocumentID, vector: r.Vector}
	}
	return nil
}

func (s *fakeStore) GetEmbeddings(_ context.Context, ids []string) ([]EmbeddingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, append([]string(nil), ids...))
	var out []EmbeddingRow
	for _, id := range ids {
		if r, ok := s.rows[id]; ok {
			out = append(out, EmbeddingRow{VectorID: id, DocumentID: r.documentID, Vector: r.vector})
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteEmbeddings(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rows {
		if r.documentID == documentID {
			delete(s.rows, id)
		}
	}
	return nil
}

func (s *fakeStore) EnsureEmbeddingsTable(context.Context) error {
	s.ensures++
	return nil
}

func (s *fakeStore) ListDocumentChunks(context.Context) ([]vectorid.DocumentChunks, error) {
	return s.docs, nil
}

// seedRemote registers docs with the store and fills the remote index.
func seedRemote(store *fakeStore, remote *fakeRemote, docs int, chunks int) {
	for d := 0; d < docs; d++ {
		id := fmt.Sprintf("0000-doc-%02d", d)
		store.docs = append(store.docs, vectorid.DocumentChunks{DocumentID: id, ChunkCount: chunks})
		for c := 0; c < chunks; c++ {
			vid := vectorid.Format(id, c)
			remote.entries[vid] = Entry{ID: vid, Values: vecFor(vid)}
		}
	}
}

var errBoom = errors.New("boom")
