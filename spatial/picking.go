package spatial

import (
	"sort"
)

// ItemIntersector reports where a ray hits the caller item with the given
// index.
type ItemIntersector func(r Ray, item int) (float32, bool)

// Pick returns the nearest item hit by the ray. Only nodes crossed by the ray
// are visited, nearest first, and nodes entered beyond the best hit so far
// are pruned.
func (t *Tree) Pick(r Ray, intersect ItemIntersector) (item int, distance float32, ok bool) {
	item, distance = -1, -1
	if len(t.nodes) == 0 || intersect == nil {
		return item, distance, false
	}

	if _, hit := r.IntersectBox(t.nodes[0].Box); !hit {
		return item, distance, false
	}

	tested := make(map[int]struct{})

	type entry struct {
		index int
		t     float32
	}

	var visit func(i int)
	visit = func(i int) {
		n := &t.nodes[i]

		if n.IsLeaf() {
			for _, it := range n.Items {
				if _, done := tested[it]; done {
					continue
				}
				tested[it] = struct{}{}

				if d, hit := intersect(r, it); hit && (!ok || d < distance) {
					item, distance, ok = it, d, true
				}
			}
			return
		}

		entries := make([]entry, 0, len(n.children))
		for _, c := range n.children {
			if d, hit := r.IntersectBox(t.nodes[c].Box); hit {
				entries = append(entries, entry{index: c, t: d})
			}
		}
		sort.Slice(entries, func(a, b int) bool {
			return entries[a].t < entries[b].t
		})

		for _, e := range entries {
			if ok && e.t > distance {
				return
			}
			visit(e.index)
		}
	}
	visit(0)

	return item, distance, ok
}

// PickNode returns the leaf first entered by the ray.
func (t *Tree) PickNode(r Ray) (*Node, float32, bool) {
	var best *Node
	bestT := float32(-1)

	for _, i := range t.leaves {
		d, hit := r.IntersectBox(t.nodes[i].Box)
		if hit && (best == nil || d < bestT) {
			best, bestT = &t.nodes[i], d
		}
	}
	return best, bestT, best != nil
}
