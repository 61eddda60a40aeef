package terrainlod

import (
	"sort"

	"cogentcore.org/core/math32"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/spatial"
)

const (
	ErrTypeInvalidConfig = "terrainlod_invalid_config"
)

// Config configures the LOD selection.
type Config struct {
	// Ascending distance bands. A node whose center is closer to the viewer
	// than Bands[i] and not closer than Bands[i-1] gets level i. Nodes past
	// the last band get level len(Bands).
	Bands []float32

	// Nodes farther than this from the viewer are not selected.
	VisibilityRadius float32
}

func (c Config) withDefaults() Config {
	if len(c.Bands) == 0 {
		c.Bands = []float32{32, 64, 128, 256}
	}
	if c.VisibilityRadius == 0 {
		c.VisibilityRadius = 512
	}
	return c
}

func (c Config) validate() error {
	if c.VisibilityRadius <= 0 || math32.IsNaN(c.VisibilityRadius) {
		return errors.New("invalid visibility radius").
			WithType(ErrTypeInvalidConfig).
			WithTag("visibility_radius", c.VisibilityRadius)
	}

	for i, b := range c.Bands {
		if b <= 0 || math32.IsNaN(b) || (i > 0 && b <= c.Bands[i-1]) {
			return errors.New("distance bands must be positive and ascending").
				WithType(ErrTypeInvalidConfig).
				WithTag("bands", c.Bands)
		}
	}
	return nil
}

// StitchMask flags the edges of a node that border a coarser neighbor.
type StitchMask uint8

const (
	StitchLeft StitchMask = 1 << iota
	StitchRight
	StitchTop
	StitchBottom
)

var stitchDirections = []struct {
	mask StitchMask
	dir  spatial.Direction
}{
	{StitchLeft, spatial.Left},
	{StitchRight, spatial.Right},
	{StitchTop, spatial.Top},
	{StitchBottom, spatial.Bottom},
}

func (m StitchMask) Has(s StitchMask) bool {
	return m&s != 0
}

// Selection is the LOD chosen for a visible leaf.
type Selection struct {
	Node   int        `json:"node"`
	Level  int        `json:"level"`
	Stitch StitchMask `json:"stitch"`
}

// Selector picks a LOD level for every visible leaf of a tree.
type Selector struct {
	config Config
	tree   *spatial.Tree
}

func NewSelector(conf Config, tree *spatial.Tree) (*Selector, error) {
	conf = conf.withDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}

	if tree == nil {
		return nil, errors.New("lod selection needs a tree").
			WithType(ErrTypeInvalidConfig)
	}

	return &Selector{
		config: conf,
		tree:   tree,
	}, nil
}

func (s *Selector) Config() Config {
	return s.config
}

// Level returns the LOD level of a node seen from viewpoint.
func (s *Selector) Level(n *spatial.Node, viewpoint math32.Vector3) int {
	d := math32.Sqrt(spatial.DistanceSquared(n.Center(), viewpoint))
	return sort.Search(len(s.config.Bands), func(i int) bool {
		return d < s.config.Bands[i]
	})
}

// Select returns the LOD of the leaves visible from viewpoint and inside
// view, in leaf id order. view may be nil.
func (s *Selector) Select(viewpoint math32.Vector3, view spatial.Volume) []Selection {
	volume := spatial.SphereVolume(viewpoint, s.config.VisibilityRadius)
	if view != nil {
		volume = spatial.Intersection(view, volume)
	}

	nodes := s.tree.FindNodesInVolume(volume)
	selections := make([]Selection, 0, len(nodes))

	for _, n := range nodes {
		level := s.Level(n, viewpoint)

		var stitch StitchMask
		for _, sd := range stitchDirections {
			neighbor := s.tree.Neighbor(n, sd.dir)
			if neighbor != nil && s.Level(neighbor, viewpoint) > level {
				stitch |= sd.mask
			}
		}

		selections = append(selections, Selection{
			Node:   n.ID,
			Level:  level,
			Stitch: stitch,
		})
	}
	return selections
}
