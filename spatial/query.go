package spatial

import (
	"cogentcore.org/core/math32"
)

// FindClosestNode returns the leaf containing point. Points outside the root
// volume are clamped to it first, so a non-empty tree always returns a leaf.
// When point lies on a shared boundary the first leaf in traversal order
// wins.
func (t *Tree) FindClosestNode(point math32.Vector3) *Node {
	if len(t.nodes) == 0 {
		return nil
	}

	p := t.nodes[0].Box.ClampPoint(point)
	return t.descend(p, t.levels)
}

// descend walks down from the root to the node at depth containing p. p
// must lie inside the root volume.
func (t *Tree) descend(p math32.Vector3, depth int) *Node {
	n := &t.nodes[0]
	for n.Depth < depth && !n.IsLeaf() {
		next := -1
		for _, c := range n.children {
			if t.nodes[c].Box.ContainsPoint(p) {
				next = c
				break
			}
		}

		if next < 0 {
			// Rounding left p between children: take the nearest one.
			best := math32.Infinity
			for _, c := range n.children {
				if d := t.nodes[c].Box.DistanceToPoint(p); d < best {
					best = d
					next = c
				}
			}
		}
		n = &t.nodes[next]
	}
	return n
}

// FindNodesInVolume returns every leaf whose volume is not disjoint from v,
// in leaf id order.
func (t *Tree) FindNodesInVolume(v Volume) []*Node {
	nodes := make([]*Node, 0)
	if len(t.nodes) == 0 || v == nil {
		return nodes
	}

	var visit func(i int)
	visit = func(i int) {
		n := &t.nodes[i]
		if !v.IntersectsBox(n.Box) {
			return
		}

		if n.IsLeaf() {
			nodes = append(nodes, n)
			return
		}

		for _, c := range n.children {
			visit(c)
		}
	}
	visit(0)
	return nodes
}

// LeafNodes returns every leaf in id order.
func (t *Tree) LeafNodes() []*Node {
	leaves := make([]*Node, 0, len(t.leaves))
	for _, i := range t.leaves {
		leaves = append(leaves, &t.nodes[i])
	}
	return leaves
}

// BoundingBoxes returns the volume of every node at the given depth. Level 0
// selects the leaf depth and -1 selects nothing.
func (t *Tree) BoundingBoxes(level int) []math32.Box3 {
	boxes := make([]math32.Box3, 0)
	if len(t.nodes) == 0 || level < 0 || level > t.levels {
		return boxes
	}

	if level == 0 {
		level = t.levels
	}

	for i := range t.nodes {
		if t.nodes[i].Depth == level {
			boxes = append(boxes, t.nodes[i].Box)
		}
	}
	return boxes
}

// Direction names a neighbor relation. Left/Right follow x, Top/Bottom
// follow z (top is -z) and Up/Down follow y.
type Direction int

const (
	Left Direction = iota
	Right
	Top
	Bottom
	TopLeft
	TopRight
	BottomLeft
	BottomRight
	Up
	Down
)

var directionOffsets = map[Direction][3]float32{
	Left:        {-1, 0, 0},
	Right:       {1, 0, 0},
	Top:         {0, 0, -1},
	Bottom:      {0, 0, 1},
	TopLeft:     {-1, 0, -1},
	TopRight:    {1, 0, -1},
	BottomLeft:  {-1, 0, 1},
	BottomRight: {1, 0, 1},
	Up:          {0, 1, 0},
	Down:        {0, -1, 0},
}

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	case Top:
		return "top"
	case Bottom:
		return "bottom"
	case TopLeft:
		return "top_left"
	case TopRight:
		return "top_right"
	case BottomLeft:
		return "bottom_left"
	case BottomRight:
		return "bottom_right"
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// Neighbor returns the node at the same depth adjacent to n in the given
// direction, or nil at the tree boundary. It is computed from node geometry.
func (t *Tree) Neighbor(n *Node, dir Direction) *Node {
	offset, ok := directionOffsets[dir]
	if !ok || n == nil || len(t.nodes) == 0 {
		return nil
	}

	if t.kind == QuadTree && offset[1] != 0 {
		return nil
	}

	size := n.Box.Size()
	if size.X == 0 && size.Y == 0 && size.Z == 0 {
		return nil
	}

	probe := n.Center().Add(math32.Vec3(offset[0]*size.X, offset[1]*size.Y, offset[2]*size.Z))
	if !t.nodes[0].Box.ContainsPoint(probe) {
		return nil
	}

	neighbor := t.descend(probe, n.Depth)
	if neighbor == n {
		return nil
	}
	return neighbor
}

func (t *Tree) LeftNeighbor(n *Node) *Node {
	return t.Neighbor(n, Left)
}

func (t *Tree) RightNeighbor(n *Node) *Node {
	return t.Neighbor(n, Right)
}

func (t *Tree) TopNeighbor(n *Node) *Node {
	return t.Neighbor(n, Top)
}

func (t *Tree) BottomNeighbor(n *Node) *Node {
	return t.Neighbor(n, Bottom)
}

func (t *Tree) TopLeftNeighbor(n *Node) *Node {
	return t.Neighbor(n, TopLeft)
}

func (t *Tree) TopRightNeighbor(n *Node) *Node {
	return t.Neighbor(n, TopRight)
}

func (t *Tree) BottomLeftNeighbor(n *Node) *Node {
	return t.Neighbor(n, BottomLeft)
}

func (t *Tree) BottomRightNeighbor(n *Node) *Node {
	return t.Neighbor(n, BottomRight)
}
