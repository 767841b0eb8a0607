// Package ann is an in-memory approximate nearest-neighbour index over
// fixed-dimension float32 vectors keyed by string ids. The graph is a
// hierarchical navigable small world built with cosine distance; Search
// re-scores the final candidates with the requested Metric.
//
// The whole structure serializes to a single blob (MarshalBinary /
// Unmarshal) so it can be kept in object storage and reloaded per call.
package ann

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
)

var (
	ErrDimension = errors.New("ann: dimension mismatch")
	ErrCorrupt   = errors.New("ann: corrupt snapshot")
)

type Config struct {
	// Dim is required; every vector must have exactly Dim elements.
	Dim int
	// M bounds neighbours per node per layer (layer 0 allows 2*M). Default 16.
	M int
	// EfConstruction is the candidate list size while inserting. Default 200.
	EfConstruction int
	// EfSearch is the candidate list size while searching. Default 50.
	EfSearch int
	// Seed makes level assignment reproducible when non-zero.
	Seed uint64
}

func (c *Config) setDefaults() {
	if c.M < 2 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 50
	}
}

func (c *Config) maxConns(layer int) int {
	if layer == 0 {
		return c.M * 2
	}
	return c.M
}

type Hit struct {
	ID    string
	Score float32
}

type node struct {
	id      string
	vector  []float32
	level   int
	friends [][]uint32
}

type Index struct {
	mu       sync.RWMutex
	cfg      Config
	nodes    []*node // nil marks a free slot
	ids      map[string]uint32
	entry    int32 // -1 when empty
	maxLevel int
	count    int
	free     []uint32
	levelMul float64
	rng      *rand.Rand
}

func New(cfg Config) (*Index, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("ann: dimension must be positive, got %d", cfg.Dim)
	}
	cfg.setDefaults()
	return &Index{
		cfg:      cfg,
		ids:      make(map[string]uint32),
		entry:    -1,
		levelMul: 1.0 / math.Log(float64(cfg.M)),
		rng:      newRand(cfg.Seed),
	}, nil
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (x *Index) Dim() int { return x.cfg.Dim }

// Len returns the number of live entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.count
}

// Get returns a copy of the vector stored under id.
func (x *Index) Get(id string) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	slot, ok := x.ids[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(x.nodes[slot].vector))
	copy(out, x.nodes[slot].vector)
	return out, true
}

func (x *Index) Has(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.ids[id]
	return ok
}

// Insert adds vector under id, replacing any existing entry with that id.
func (x *Index) Insert(id string, vector []float32) error {
	if len(vector) != x.cfg.Dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vector), x.cfg.Dim)
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.ids[id]; ok {
		x.removeLocked(old)
	}

	var slot uint32
	if n := len(x.free); n > 0 {
		slot = x.free[n-1]
		x.free = x.free[:n-1]
	} else {
		slot = uint32(len(x.nodes))
		x.nodes = append(x.nodes, nil)
	}

	level := x.randomLevel()
	nd := &node{id: id, vector: vec, level: level, friends: make([][]uint32, level+1)}
	x.nodes[slot] = nd
	x.ids[id] = slot
	x.count++

	if x.entry < 0 {
		x.entry = int32(slot)
		x.maxLevel = level
		return nil
	}

	cur := x.greedyDescend(vec, uint32(x.entry), x.maxLevel, level)

	top := min(level, x.maxLevel)
	ep := []uint32{cur}
	for lev := top; lev >= 0; lev-- {
		candidates := x.searchLayer(vec, ep, x.cfg.EfConstruction, lev)
		maxC := x.cfg.maxConns(lev)
		neighbours := x.selectClosest(vec, candidates, maxC)
		nd.friends[lev] = neighbours

		for _, n := range neighbours {
			nn := x.nodes[n]
			if nn == nil || lev >= len(nn.friends) {
				continue
			}
			nn.friends[lev] = append(nn.friends[lev], slot)
			if len(nn.friends[lev]) > maxC {
				nn.friends[lev] = x.selectClosest(nn.vector, nn.friends[lev], maxC)
			}
		}
		ep = candidates
	}

	if level > x.maxLevel {
		x.entry = int32(slot)
		x.maxLevel = level
	}
	return nil
}

// Delete removes id and reports whether it was present.
func (x *Index) Delete(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	slot, ok := x.ids[id]
	if !ok {
		return false
	}
	x.removeLocked(slot)
	return true
}

// Search returns up to k entries ordered by descending score under metric.
func (x *Index) Search(query []float32, k int, metric Metric) ([]Hit, error) {
	if len(query) != x.cfg.Dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(query), x.cfg.Dim)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.count == 0 || k <= 0 {
		return nil, nil
	}

	ef := max(x.cfg.EfSearch, k)
	cur := x.greedyDescend(query, uint32(x.entry), x.maxLevel, 0)
	candidates := x.searchLayer(query, []uint32{cur}, ef, 0)

	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		nd := x.nodes[c]
		if nd == nil {
			continue
		}
		hits = append(hits, Hit{ID: nd.id, Score: metric.score(query, nd.vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// greedyDescend walks from start through layers top..floor+1 keeping the
// single closest node, and returns it.
func (x *Index) greedyDescend(query []float32, start uint32, top, floor int) uint32 {
	cur := start
	curDist := cosineDistance(query, x.nodes[cur].vector)
	for lev := top; lev > floor; lev-- {
		changed := true
		for changed {
			changed = false
			nd := x.nodes[cur]
			if nd == nil || lev >= len(nd.friends) {
				break
			}
			for _, f := range nd.friends[lev] {
				fn := x.nodes[f]
				if fn == nil {
					continue
				}
				if d := cosineDistance(query, fn.vector); d < curDist {
					cur, curDist, changed = f, d, true
				}
			}
		}
	}
	return cur
}

func (x *Index) randomLevel() int {
	r := max(x.rng.Float64(), math.SmallestNonzeroFloat64)
	return min(int(-math.Log(r)*x.levelMul), 31)
}

// searchLayer is a beam search on one layer returning up to ef slots.
func (x *Index) searchLayer(query []float32, entryPoints []uint32, ef int, layer int) []uint32 {
	visited := make(map[uint32]struct{}, ef*2)
	var candidates minHeap
	var results maxHeap

	for _, ep := range entryPoints {
		nd := x.nodes[ep]
		if nd == nil {
			continue
		}
		if _, seen := visited[ep]; seen {
			continue
		}
		visited[ep] = struct{}{}
		d := cosineDistance(query, nd.vector)
		heap.Push(&candidates, distItem{slot: ep, dist: d})
		heap.Push(&results, distItem{slot: ep, dist: d})
		if results.Len() > ef {
			heap.Pop(&results)
		}
	}

	for candidates.Len() > 0 {
		closest := heap.Pop(&candidates).(distItem)
		if results.Len() >= ef && closest.dist > results[0].dist {
			break
		}
		nd := x.nodes[closest.slot]
		if nd == nil || layer >= len(nd.friends) {
			continue
		}
		for _, f := range nd.friends[layer] {
			if _, seen := visited[f]; seen {
				continue
			}
			visited[f] = struct{}{}
			fn := x.nodes[f]
			if fn == nil {
				continue
			}
			d := cosineDistance(query, fn.vector)
			if results.Len() < ef || d < results[0].dist {
				heap.Push(&candidates, distItem{slot: f, dist: d})
				heap.Push(&results, distItem{slot: f, dist: d})
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	out := make([]uint32, results.Len())
	for i := range out {
		out[i] = results[i].slot
	}
	return out
}

func (x *Index) selectClosest(query []float32, candidates []uint32, limit int) []uint32 {
	type scored struct {
		slot uint32
		dist float32
	}
	items := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if x.nodes[c] == nil {
			continue
		}
		items = append(items, scored{slot: c, dist: cosineDistance(query, x.nodes[c].vector)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].dist < items[j].dist })
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]uint32, len(items))
	for i := range items {
		out[i] = items[i].slot
	}
	return out
}

// removeLocked frees slot. Caller holds x.mu for writing.
func (x *Index) removeLocked(slot uint32) {
	nd := x.nodes[slot]
	if nd == nil {
		return
	}
	// Links are not always symmetric after pruning, so scrub every node
	// and keep a reused slot from inheriting stale edges.
	for _, other := range x.nodes {
		if other == nil || other == nd {
			continue
		}
		for lev := range other.friends {
			other.friends[lev] = removeSlot(other.friends[lev], slot)
		}
	}

	delete(x.ids, nd.id)
	x.nodes[slot] = nil
	x.free = append(x.free, slot)
	x.count--

	if x.entry == int32(slot) {
		x.electEntry()
	}
}

func (x *Index) electEntry() {
	if x.count == 0 {
		x.entry = -1
		x.maxLevel = 0
		return
	}
	best, bestLevel := int32(-1), -1
	for i, nd := range x.nodes {
		if nd != nil && nd.level > bestLevel {
			best, bestLevel = int32(i), nd.level
		}
	}
	x.entry = best
	x.maxLevel = bestLevel
}

func removeSlot(s []uint32, v uint32) []uint32 {
	for i, e := range s {
		if e == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
