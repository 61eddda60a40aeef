package spatial

import (
	"testing"

	"cogentcore.org/core/math32"
	"github.com/stretchr/testify/require"
)

func TestTreePick(t *testing.T) {
	items := []Item{
		{Box: math32.B3(-1, -1, 4, 1, 1, 6)},
		{Box: math32.B3(-1, -1, -8, 1, 1, -6)},
		{Box: math32.B3(6, -1, -8, 8, 1, -6)},
	}

	tree, err := NewWithItems(QuadTree, cube(10), 2, items)
	require.NoError(t, err)

	tested := 0
	intersect := func(r Ray, item int) (float32, bool) {
		tested++
		return r.IntersectBox(items[item].Box)
	}

	t.Run("nearest hit wins", func(t *testing.T) {
		item, d, ok := tree.Pick(Ray{Origin: math32.Vec3(0, 0, -20), Direction: math32.Vec3(0, 0, 1)}, intersect)
		require.True(t, ok)
		require.Equal(t, 1, item)
		require.InDelta(t, 12, d, 0.0001)
	})

	t.Run("reverse direction", func(t *testing.T) {
		item, d, ok := tree.Pick(Ray{Origin: math32.Vec3(0, 0, 20), Direction: math32.Vec3(0, 0, -1)}, intersect)
		require.True(t, ok)
		require.Equal(t, 0, item)
		require.InDelta(t, 14, d, 0.0001)
	})

	t.Run("miss", func(t *testing.T) {
		item, _, ok := tree.Pick(Ray{Origin: math32.Vec3(-8, 0, -20), Direction: math32.Vec3(0, 0, 1)}, intersect)
		require.False(t, ok)
		require.Equal(t, -1, item)
	})

	t.Run("ray outside the tree", func(t *testing.T) {
		tested = 0
		_, _, ok := tree.Pick(Ray{Origin: math32.Vec3(0, 50, -20), Direction: math32.Vec3(0, 0, 1)}, intersect)
		require.False(t, ok)
		require.Zero(t, tested)
	})

	t.Run("nil intersector", func(t *testing.T) {
		_, _, ok := tree.Pick(Ray{Origin: math32.Vec3(0, 0, -20), Direction: math32.Vec3(0, 0, 1)}, nil)
		require.False(t, ok)
	})
}

func TestTreePickNode(t *testing.T) {
	tree, err := New(QuadTree, cube(10), 2)
	require.NoError(t, err)

	n, d, ok := tree.PickNode(Ray{Origin: math32.Vec3(-7.5, 0, -20), Direction: math32.Vec3(0, 0, 1)})
	require.True(t, ok)
	require.Equal(t, 0, n.ID)
	require.InDelta(t, 10, d, 0.0001)

	_, _, ok = tree.PickNode(Ray{Origin: math32.Vec3(-7.5, 0, -20), Direction: math32.Vec3(0, 0, -1)})
	require.False(t, ok)
}
