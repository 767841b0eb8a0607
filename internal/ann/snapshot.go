package ann

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const snapshotVersion = 1

type snapshot struct {
	Version        int            `msgpack:"v"`
	Dim            int            `msgpack:"dim"`
	M              int            `msgpack:"m"`
	EfConstruction int            `msgpack:"efc"`
	EfSearch       int            `msgpack:"efs"`
	Entry          int32          `msgpack:"entry"`
	MaxLevel       int            `msgpack:"max_level"`
	Nodes          []snapshotNode `msgpack:"nodes"`
	Free           []uint32       `msgpack:"free"`
}

type snapshotNode struct {
	Live    bool       `msgpack:"live"`
	ID      string     `msgpack:"id,omitempty"`
	Level   int        `msgpack:"level,omitempty"`
	Vector  []float32  `msgpack:"vec,omitempty"`
	Friends [][]uint32 `msgpack:"friends,omitempty"`
}

// MarshalBinary encodes the full graph, free slots included.
func (x *Index) MarshalBinary() ([]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	snap := snapshot{
		Version:        snapshotVersion,
		Dim:            x.cfg.Dim,
		M:              x.cfg.M,
		EfConstruction: x.cfg.EfConstruction,
		EfSearch:       x.cfg.EfSearch,
		Entry:          x.entry,
		MaxLevel:       x.maxLevel,
		Nodes:          make([]snapshotNode, len(x.nodes)),
		Free:           x.free,
	}
	for i, nd := range x.nodes {
		if nd == nil {
			continue
		}
		snap.Nodes[i] = snapshotNode{
			Live:    true,
			ID:      nd.id,
			Level:   nd.level,
			Vector:  nd.vector,
			Friends: nd.friends,
		}
	}
	return msgpack.Marshal(&snap)
}

// Unmarshal rebuilds an index from MarshalBinary output.
func Unmarshal(data []byte) (*Index, error) {
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, snap.Version)
	}

	x, err := New(Config{Dim: snap.Dim, M: snap.M, EfConstruction: snap.EfConstruction, EfSearch: snap.EfSearch})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	n := uint32(len(snap.Nodes))
	x.nodes = make([]*node, len(snap.Nodes))
	for i, sn := range snap.Nodes {
		if !sn.Live {
			continue
		}
		if len(sn.Vector) != snap.Dim {
			return nil, fmt.Errorf("%w: node %d has %d dims, want %d", ErrCorrupt, i, len(sn.Vector), snap.Dim)
		}
		if _, dup := x.ids[sn.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrCorrupt, sn.ID)
		}
		friends := sn.Friends
		if len(friends) < sn.Level+1 {
			grown := make([][]uint32, sn.Level+1)
			copy(grown, friends)
			friends = grown
		}
		for _, layer := range friends {
			for _, f := range layer {
				if f >= n {
					return nil, fmt.Errorf("%w: node %d links to slot %d of %d", ErrCorrupt, i, f, n)
				}
			}
		}
		x.nodes[i] = &node{id: sn.ID, vector: sn.Vector, level: sn.Level, friends: friends}
		x.ids[sn.ID] = uint32(i)
		x.count++
	}

	for _, f := range snap.Free {
		if f >= n || x.nodes[f] != nil {
			return nil, fmt.Errorf("%w: bad free slot %d", ErrCorrupt, f)
		}
	}
	x.free = snap.Free

	switch {
	case x.count == 0:
		x.entry, x.maxLevel = -1, 0
	case snap.Entry < 0 || uint32(snap.Entry) >= n || x.nodes[snap.Entry] == nil:
		return nil, fmt.Errorf("%w: entry point %d is not a live node", ErrCorrupt, snap.Entry)
	default:
		x.entry, x.maxLevel = snap.Entry, snap.MaxLevel
	}
	return x, nil
}
