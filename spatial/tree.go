package spatial

import (
	"strings"

	"cogentcore.org/core/math32"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	ErrTypeInvalidLevels = "spatial_invalid_levels"
	ErrTypeInvalidVolume = "spatial_invalid_volume"
	ErrTypeTooManyNodes  = "spatial_too_many_nodes"
	ErrTypeUnknownKind   = "spatial_unknown_kind"

	// NoID is the id carried by internal nodes.
	NoID = -1

	// MaxNodes bounds the size of a dense tree.
	MaxNodes = 1 << 22
)

// Kind selects the fan-out of a tree.
type Kind int

const (
	// QuadTree splits the x and z axes, keeping the full y extent.
	QuadTree Kind = iota

	// OcTree splits every axis.
	OcTree
)

func (k Kind) Fanout() int {
	if k == OcTree {
		return 8
	}
	return 4
}

func (k Kind) String() string {
	if k == OcTree {
		return "oct"
	}
	return "quad"
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "quad", "quadtree":
		return QuadTree, nil
	case "oct", "octree":
		return OcTree, nil
	default:
		return QuadTree, errors.New("unknown tree kind").
			WithType(ErrTypeUnknownKind).
			WithTag("kind", s)
	}
}

// Node is a region of a Tree. Nodes live in the tree arena and refer to each
// other by arena index.
type Node struct {
	Box   math32.Box3
	Depth int

	// The leaf id, or NoID for internal nodes.
	ID int

	// Indices into the caller-owned item collection.
	Items []int

	index    int
	parent   int
	children []int
}

func (n *Node) IsLeaf() bool {
	return len(n.children) == 0
}

// Index returns the arena index of the node.
func (n *Node) Index() int {
	return n.index
}

func (n *Node) Center() math32.Vector3 {
	return n.Box.Center()
}

// Item is a bounded value attached to the leaves it overlaps.
type Item struct {
	Box math32.Box3
}

// Tree is a dense, build-once quad-tree or oct-tree. Its zero value is an
// empty tree on which every query returns an empty result.
type Tree struct {
	kind   Kind
	levels int
	nodes  []Node
	leaves []int
	items  int

	// Ids are handed out by the tree instance, never by a package counter.
	nextID int
}

// New builds a dense tree subdividing box levels times.
func New(kind Kind, box math32.Box3, levels int) (*Tree, error) {
	if err := validate(kind, box, levels); err != nil {
		return nil, err
	}

	t := &Tree{kind: kind, levels: levels}
	t.build(box)
	return t, nil
}

// NewWithItems builds a dense tree and attaches each item to every leaf its
// box intersects. Leaf item lists hold indices into items.
func NewWithItems(kind Kind, box math32.Box3, levels int, items []Item) (*Tree, error) {
	t, err := New(kind, box, levels)
	if err != nil {
		return nil, err
	}

	for i, it := range items {
		if it.Box.IsEmpty() || !isFinite(it.Box.Min) || !isFinite(it.Box.Max) {
			return nil, errors.New("invalid item volume").
				WithType(ErrTypeInvalidVolume).
				WithTag("item", i)
		}
		t.attach(0, i, it.Box)
	}
	t.items = len(items)
	return t, nil
}

// NewFromItems builds a tree whose root volume is the union of the item
// volumes. Without items the root is a zero-size box at the origin.
func NewFromItems(kind Kind, levels int, items []Item) (*Tree, error) {
	var box math32.Box3
	if len(items) != 0 {
		box = items[0].Box
		for _, it := range items[1:] {
			box.ExpandByBox(it.Box)
		}
	}
	return NewWithItems(kind, box, levels, items)
}

func validate(kind Kind, box math32.Box3, levels int) error {
	if levels < 0 {
		return errors.New("levels must be non-negative").
			WithType(ErrTypeInvalidLevels).
			WithTag("levels", levels)
	}

	if kind != QuadTree && kind != OcTree {
		return errors.New("unknown tree kind").
			WithType(ErrTypeUnknownKind).
			WithTag("kind", int(kind))
	}

	if box.IsEmpty() || !isFinite(box.Min) || !isFinite(box.Max) {
		return errors.New("invalid root volume").
			WithType(ErrTypeInvalidVolume).
			WithTag("min", box.Min).
			WithTag("max", box.Max)
	}

	count, leafCount := 0, 1
	for depth := 0; depth <= levels; depth++ {
		count += leafCount
		if count > MaxNodes {
			return errors.New("tree too large").
				WithType(ErrTypeTooManyNodes).
				WithTag("levels", levels).
				WithTag("kind", kind.String())
		}
		leafCount *= kind.Fanout()
	}
	return nil
}

// build fills the arena breadth-first so that leaves come out in id order.
func (t *Tree) build(box math32.Box3) {
	fanout := t.kind.Fanout()

	total, width := 0, 1
	for depth := 0; depth <= t.levels; depth++ {
		total += width
		width *= fanout
	}
	t.nodes = make([]Node, 0, total)
	t.nodes = append(t.nodes, Node{Box: box, ID: NoID, parent: -1})

	for i := 0; i < len(t.nodes); i++ {
		n := &t.nodes[i]
		n.index = i

		if n.Depth == t.levels {
			n.ID = t.nextID
			t.nextID++
			t.leaves = append(t.leaves, i)
			continue
		}

		n.children = make([]int, 0, fanout)
		for c := 0; c < fanout; c++ {
			n.children = append(n.children, len(t.nodes))
			t.nodes = append(t.nodes, Node{
				Box:    childBox(t.kind, n.Box, c),
				Depth:  n.Depth + 1,
				ID:     NoID,
				parent: i,
			})
			// append may move the arena.
			n = &t.nodes[i]
		}
	}
}

// childBox returns the c-th sub-volume of box. Bit 0 of c selects the x half,
// bit 1 the z half for quad-trees and the y half for oct-trees, bit 2 the z
// half for oct-trees.
func childBox(kind Kind, box math32.Box3, c int) math32.Box3 {
	center := box.Center()
	child := box

	if c&1 == 0 {
		child.Max.X = center.X
	} else {
		child.Min.X = center.X
	}

	zBit := (c >> 1) & 1
	if kind == OcTree {
		if (c>>1)&1 == 0 {
			child.Max.Y = center.Y
		} else {
			child.Min.Y = center.Y
		}
		zBit = (c >> 2) & 1
	}

	if zBit == 0 {
		child.Max.Z = center.Z
	} else {
		child.Min.Z = center.Z
	}
	return child
}

func (t *Tree) attach(index, item int, box math32.Box3) {
	n := &t.nodes[index]
	if !n.Box.IntersectsBox(box) {
		return
	}

	if n.IsLeaf() {
		n.Items = append(n.Items, item)
		return
	}

	for _, c := range n.children {
		t.attach(c, item, box)
	}
}

func (t *Tree) Kind() Kind {
	return t.kind
}

func (t *Tree) Levels() int {
	return t.levels
}

// Root returns the root node, or nil for an empty tree.
func (t *Tree) Root() *Node {
	if len(t.nodes) == 0 {
		return nil
	}
	return &t.nodes[0]
}

// Node returns the node at the given arena index.
func (t *Tree) Node(index int) *Node {
	if index < 0 || index >= len(t.nodes) {
		return nil
	}
	return &t.nodes[index]
}

// Leaf returns the leaf with the given id.
func (t *Tree) Leaf(id int) *Node {
	if id < 0 || id >= len(t.leaves) {
		return nil
	}
	return &t.nodes[t.leaves[id]]
}

func (t *Tree) LeafCount() int {
	return len(t.leaves)
}

func (t *Tree) NodeCount() int {
	return len(t.nodes)
}

func (t *Tree) Parent(n *Node) *Node {
	if n == nil || n.parent < 0 {
		return nil
	}
	return &t.nodes[n.parent]
}

func (t *Tree) Children(n *Node) []*Node {
	children := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, &t.nodes[c])
	}
	return children
}
