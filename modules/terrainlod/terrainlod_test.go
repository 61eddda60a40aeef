package terrainlod

import (
	"context"
	"testing"
	"time"

	"cogentcore.org/core/math32"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/models"
	"github.com/aukilabs/ingwaz/spatial"
	"github.com/stretchr/testify/require"
)

func newTestSelector(t *testing.T) *Selector {
	tree, err := spatial.New(spatial.QuadTree, math32.B3(-40, -40, -40, 40, 40, 40), 2)
	require.NoError(t, err)

	s, err := NewSelector(Config{Bands: []float32{15, 35}}, tree)
	require.NoError(t, err)
	return s
}

func TestSelector(t *testing.T) {
	s := newTestSelector(t)
	corner := math32.Vec3(-30, 0, -30)

	selections := s.Select(corner, nil)
	require.Len(t, selections, 16)
	for i, sel := range selections {
		require.Equal(t, i, sel.Node)
	}

	t.Run("levels follow distance bands", func(t *testing.T) {
		require.Equal(t, 0, selections[0].Level)
		require.Equal(t, 1, selections[1].Level)
		require.Equal(t, 1, selections[2].Level)
		require.Equal(t, 1, selections[3].Level)
		require.Equal(t, 2, selections[4].Level)
		require.Equal(t, 2, selections[15].Level)
	})

	t.Run("stitch coarser edges", func(t *testing.T) {
		require.Equal(t, StitchRight|StitchBottom, selections[0].Stitch)
		require.False(t, selections[0].Stitch.Has(StitchLeft))
		require.False(t, selections[0].Stitch.Has(StitchTop))

		require.Equal(t, StitchRight, selections[1].Stitch)
		require.Equal(t, StitchMask(0), selections[15].Stitch)
	})

	t.Run("view and radius restrict the selection", func(t *testing.T) {
		view := math32.B3(-40, -1, -40, -21, 1, -21)
		selections := s.Select(corner, view)
		require.Len(t, selections, 1)
		require.Equal(t, 0, selections[0].Node)

		near, err := NewSelector(Config{
			Bands:            []float32{15, 35},
			VisibilityRadius: 5,
		}, s.tree)
		require.NoError(t, err)
		require.Len(t, near.Select(corner, nil), 1)
	})
}

func TestSelectorConfig(t *testing.T) {
	tree, err := spatial.New(spatial.QuadTree, math32.B3(-1, -1, -1, 1, 1, 1), 0)
	require.NoError(t, err)

	s, err := NewSelector(Config{}, tree)
	require.NoError(t, err)
	require.Equal(t, []float32{32, 64, 128, 256}, s.Config().Bands)

	for _, conf := range []Config{
		{Bands: []float32{10, 5}},
		{Bands: []float32{-1}},
		{Bands: []float32{3, 3}},
		{VisibilityRadius: -1},
	} {
		_, err := NewSelector(conf, tree)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
	}

	_, err = NewSelector(Config{}, nil)
	require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
}

func TestModule(t *testing.T) {
	scene := models.NewScene(1, time.Hour)
	defer scene.Close()

	m := &Module{Selector: newTestSelector(t)}
	m.Init(scene)

	state, ok := scene.ModuleState("terrainlod")
	require.True(t, ok)
	require.Equal(t, m.State(), state)

	viewer := models.DefaultViewer()
	viewer.Position = math32.Vec3(0, 20, 80)
	viewer.Target = math32.Vec3(0, 0, 0)

	require.NoError(t, m.HandleFrame(context.Background(), viewer))

	selections, frame := m.State().Selections()
	require.Len(t, selections, 16)
	require.Zero(t, frame)

	sel, ok := m.State().Selection(15)
	require.True(t, ok)
	require.Equal(t, 15, sel.Node)

	info := m.State().DebugInfo()
	total := 0
	for _, count := range info.Levels {
		total += count
	}
	require.Equal(t, 16, total)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, m.HandleFrame(ctx, viewer))

	m.Close()
}
