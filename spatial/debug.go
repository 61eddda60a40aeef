package spatial

import "cogentcore.org/core/math32"

type DebugInfo struct {
	Kind      string         `json:"kind"`
	Levels    int            `json:"levels"`
	NodeCount int            `json:"node_count"`
	LeafCount int            `json:"leaf_count"`
	ItemCount int            `json:"item_count"`
	Min       math32.Vector3 `json:"min"`
	Max       math32.Vector3 `json:"max"`

	// Number of items attached to each leaf, by leaf id.
	Occupancy []uint32 `json:"occupancy"`
}

func (t *Tree) DebugInfo() DebugInfo {
	info := DebugInfo{
		Kind:      t.kind.String(),
		Levels:    t.levels,
		NodeCount: len(t.nodes),
		LeafCount: len(t.leaves),
		ItemCount: t.items,
		Occupancy: make([]uint32, len(t.leaves)),
	}

	if root := t.Root(); root != nil {
		info.Min = root.Box.Min
		info.Max = root.Box.Max
	}

	for id, i := range t.leaves {
		info.Occupancy[id] = uint32(len(t.nodes[i].Items))
	}
	return info
}
