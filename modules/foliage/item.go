package foliage

import (
	"sort"

	"cogentcore.org/core/math32"
	"github.com/aukilabs/ingwaz/spatial"
)

// Item is a single plant instance.
type Item struct {
	Position math32.Vector3
	Normal   math32.Vector3
	Scale    float32

	// Rotation around the normal, in radians.
	Rotation float32
	Channel  int
}

// SortItems orders items by squared distance to the viewpoint: near first,
// or far first when transparent.
func SortItems(items []Item, viewpoint math32.Vector3, transparent bool) {
	keys := make([]float32, len(items))
	for i := range items {
		keys[i] = spatial.DistanceSquared(items[i].Position, viewpoint)
	}

	sort.Stable(byKey[Item]{values: items, keys: keys, desc: transparent})
}

// sortNodes orders nodes by squared distance from their center to origin,
// with the same rule as SortItems.
func sortNodes(nodes []*spatial.Node, origin math32.Vector3, transparent bool) {
	keys := make([]float32, len(nodes))
	for i, n := range nodes {
		keys[i] = spatial.DistanceSquared(n.Center(), origin)
	}

	sort.Stable(byKey[*spatial.Node]{values: nodes, keys: keys, desc: transparent})
}

type byKey[T any] struct {
	values []T
	keys   []float32
	desc   bool
}

func (s byKey[T]) Len() int {
	return len(s.values)
}

func (s byKey[T]) Less(i, j int) bool {
	if s.desc {
		return s.keys[i] > s.keys[j]
	}
	return s.keys[i] < s.keys[j]
}

func (s byKey[T]) Swap(i, j int) {
	s.values[i], s.values[j] = s.values[j], s.values[i]
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
}
