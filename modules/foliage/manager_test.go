package foliage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cogentcore.org/core/math32"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/featureflag"
	"github.com/aukilabs/ingwaz/gpu"
	"github.com/aukilabs/ingwaz/spatial"
	"github.com/stretchr/testify/require"
)

var (
	leaf0 = math32.Vec3(-5, 0, -5)
	leaf1 = math32.Vec3(5, 0, -5)
	leaf2 = math32.Vec3(-5, 0, 5)
	leaf3 = math32.Vec3(5, 0, 5)
)

func newTestTree(t *testing.T, levels int) *spatial.Tree {
	tree, err := spatial.New(spatial.QuadTree, math32.B3(-10, -10, -10, 10, 10, 10), levels)
	require.NoError(t, err)
	return tree
}

// centerPlanter plants count items at the center of the patch node.
func centerPlanter(count int, calls *atomic.Int32) Planter {
	return PlanterFunc(func(ctx context.Context, req PlantRequest) ([]Item, error) {
		if calls != nil {
			calls.Add(1)
		}

		items := make([]Item, count)
		for i := range items {
			items[i] = Item{
				Position: req.Box.Center().Add(math32.Vec3(float32(i), 0, 0)),
				Normal:   math32.Vec3(0, 1, 0),
				Scale:    1,
				Channel:  req.Channel,
			}
		}
		return items, nil
	})
}

func newTestManager(t *testing.T, conf Config, tree *spatial.Tree, planter Planter) (*Manager, *gpu.MemoryDevice) {
	device := gpu.NewMemoryDevice(t.Name())
	m, err := NewManager(conf, tree, device, planter)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, device
}

// updateUntil runs updates from viewpoint until cond holds, checking the
// buffer invariants after each update.
func updateUntil(t *testing.T, m *Manager, viewpoint math32.Vector3, cond func(Stats) bool) Stats {
	t.Helper()

	deadline := time.Now().Add(time.Second * 2)
	for {
		require.NoError(t, m.Update(viewpoint, nil))
		require.NoError(t, m.Verify())

		s := m.Stats()
		require.LessOrEqual(t, s.Ready, s.PoolSize)
		if cond(s) {
			return s
		}

		require.True(t, time.Now().Before(deadline), "condition not met: %+v", s)
		time.Sleep(time.Millisecond)
	}
}

func TestNewManager(t *testing.T) {
	tree := newTestTree(t, 1)

	t.Run("defaults", func(t *testing.T) {
		m, device := newTestManager(t, Config{}, tree, centerPlanter(1, nil))

		conf := m.Config()
		require.Equal(t, "foliage", conf.Name)
		require.Equal(t, 16, conf.PoolSize)
		require.Equal(t, 1024, conf.BufferCapacity)
		require.Equal(t, 1, conf.Channels)
		require.Equal(t, 16, device.BufferCount())

		s := m.Stats()
		require.Equal(t, 4, s.Patches)
		require.Equal(t, 4, s.NotPlanted)
		require.Equal(t, 16, s.FreeBuffers)
	})

	t.Run("invalid config", func(t *testing.T) {
		device := gpu.NewMemoryDevice("invalid")

		_, err := NewManager(Config{PoolSize: -1}, tree, device, centerPlanter(1, nil))
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))

		_, err = NewManager(Config{VisibilityRadius: -3}, tree, device, centerPlanter(1, nil))
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))

		_, err = NewManager(Config{Format: VertexFormat(7)}, tree, device, centerPlanter(1, nil))
		require.True(t, errors.IsType(err, ErrTypeUnknownFormat))

		_, err = NewManager(Config{}, nil, device, centerPlanter(1, nil))
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))

		_, err = NewManager(Config{}, tree, nil, centerPlanter(1, nil))
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))

		require.Zero(t, device.BufferCount())
	})

	t.Run("allocation failure releases the pool", func(t *testing.T) {
		device := gpu.NewMemoryDevice("closed")
		device.Close()

		_, err := NewManager(Config{}, tree, device, centerPlanter(1, nil))
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeBufferAllocation))
		require.Zero(t, device.BufferCount())
	})
}

func TestManagerPlantsVisiblePatches(t *testing.T) {
	var calls atomic.Int32
	m, device := newTestManager(t, Config{PoolSize: 4}, newTestTree(t, 1), centerPlanter(3, &calls))

	s := updateUntil(t, m, leaf0, func(s Stats) bool {
		return s.Ready == 4
	})
	require.Equal(t, 4, s.Planted)
	require.Equal(t, 4, s.BufferedPatches)
	require.Zero(t, s.FreeBuffers)
	require.Equal(t, int32(4), calls.Load())

	draws := m.DrawCalls()
	require.Len(t, draws, 4)
	for _, c := range draws {
		require.Equal(t, 3, c.Count)
		require.Equal(t, FormatBillboard, c.Format)

		data, ok := device.Contents(c.Handle)
		require.True(t, ok)
		require.Len(t, data, 3*20)
	}

	// Nearest first from leaf 0.
	require.Equal(t, []int{0, 1, 2, 3}, m.VisibleNodes())
	require.Equal(t, 0, draws[0].Node)

	p, ok := m.Patch(3, 0)
	require.True(t, ok)
	require.Equal(t, Planted, p.State)
	require.Equal(t, 3, p.Items)
	require.True(t, p.Ready)
	require.NotEmpty(t, p.Buffer)

	_, ok = m.Patch(4, 0)
	require.False(t, ok)
	_, ok = m.Patch(0, 1)
	require.False(t, ok)
}

func TestManagerPlantingIsAsynchronous(t *testing.T) {
	release := make(chan struct{})
	planter := PlanterFunc(func(ctx context.Context, req PlantRequest) ([]Item, error) {
		select {
		case <-release:
			return []Item{{Position: req.Box.Center(), Scale: 1}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	m, _ := newTestManager(t, Config{MaxConcurrentPlanting: 2}, newTestTree(t, 1), planter)

	require.NoError(t, m.Update(leaf0, nil))
	s := m.Stats()
	require.Equal(t, 2, s.Planting)
	require.Equal(t, 2, s.NotPlanted)
	require.Zero(t, s.Ready)

	close(release)

	require.Eventually(t, func() bool {
		if err := m.Update(leaf0, nil); err != nil {
			return false
		}
		return m.Stats().Ready == 4
	}, time.Second*2, time.Millisecond)
	require.NoError(t, m.Verify())
}

func TestManagerBufferStarvation(t *testing.T) {
	t.Run("three channels of a single node with two buffers", func(t *testing.T) {
		m, _ := newTestManager(t, Config{
			PoolSize: 2,
			Channels: 3,
		}, newTestTree(t, 0), centerPlanter(2, nil))

		s := updateUntil(t, m, math32.Vec3(0, 0, 0), func(s Stats) bool {
			return s.Planted == 3 && s.Ready == 2
		})
		require.Equal(t, 2, s.BufferedPatches)
		require.NotZero(t, s.StarvedRequests)
		require.Zero(t, s.Evictions)

		for i := 0; i < 10; i++ {
			require.NoError(t, m.Update(math32.Vec3(0, 0, 0), nil))
			require.NoError(t, m.Verify())
			require.Equal(t, 2, m.Stats().Ready)
		}

		waiting := 0
		for c := 0; c < 3; c++ {
			p, ok := m.Patch(0, c)
			require.True(t, ok)
			require.Equal(t, Planted, p.State)
			if !p.Ready {
				require.Empty(t, p.Buffer)
				waiting++
			}
		}
		require.Equal(t, 1, waiting)
	})

	t.Run("visible patches are never evicted", func(t *testing.T) {
		m, _ := newTestManager(t, Config{PoolSize: 1}, newTestTree(t, 1), centerPlanter(1, nil))

		s := updateUntil(t, m, leaf0, func(s Stats) bool {
			return s.Planted == 4 && s.Ready == 1
		})
		require.Zero(t, s.Evictions)

		for i := 0; i < 10; i++ {
			require.NoError(t, m.Update(leaf0, nil))
		}

		s = m.Stats()
		require.Zero(t, s.Evictions)
		require.NotZero(t, s.StarvedRequests)
		require.Equal(t, 1, s.Ready)
	})
}

func TestManagerEviction(t *testing.T) {
	m, _ := newTestManager(t, Config{
		PoolSize:         2,
		VisibilityRadius: 3,
	}, newTestTree(t, 1), centerPlanter(2, nil))

	updateUntil(t, m, leaf0, func(s Stats) bool {
		return s.Ready == 1
	})
	require.Equal(t, []int{0}, m.VisibleNodes())

	// Hidden patches keep their buffer while free ones remain.
	s := updateUntil(t, m, leaf1, func(s Stats) bool {
		return s.Ready == 2
	})
	require.Zero(t, s.FreeBuffers)
	require.Zero(t, s.Evictions)

	s = updateUntil(t, m, leaf2, func(s Stats) bool {
		return s.Evictions == 1
	})
	require.Equal(t, 2, s.Ready)
	require.Equal(t, 2, s.BufferedPatches)

	// Leaf 1 is the farthest hidden node from leaf 2.
	p, _ := m.Patch(1, 0)
	require.Empty(t, p.Buffer)
	require.Equal(t, Planted, p.State)

	p, _ = m.Patch(0, 0)
	require.True(t, p.Ready)

	p, _ = m.Patch(2, 0)
	require.True(t, p.Ready)

	// Coming back to leaf 1 takes the buffer of leaf 2 without replanting.
	s = updateUntil(t, m, leaf1, func(s Stats) bool {
		return s.Evictions == 2
	})
	require.Equal(t, 2, s.Ready)
	require.Equal(t, 3, s.Planted)

	p, _ = m.Patch(1, 0)
	require.True(t, p.Ready)

	p, _ = m.Patch(2, 0)
	require.Empty(t, p.Buffer)

	p, _ = m.Patch(0, 0)
	require.True(t, p.Ready)
}

func TestManagerDrawOrder(t *testing.T) {
	t.Run("opaque", func(t *testing.T) {
		m, _ := newTestManager(t, Config{}, newTestTree(t, 1), centerPlanter(1, nil))

		updateUntil(t, m, leaf3, func(s Stats) bool {
			return s.Ready == 4
		})
		require.Equal(t, []int{3, 1, 2, 0}, m.VisibleNodes())

		var nodes []int
		m.Draw(func(c DrawCall) {
			nodes = append(nodes, c.Node)
		})
		require.Equal(t, []int{3, 1, 2, 0}, nodes)
	})

	t.Run("transparent", func(t *testing.T) {
		m, _ := newTestManager(t, Config{Transparent: true}, newTestTree(t, 1), centerPlanter(1, nil))

		updateUntil(t, m, leaf0, func(s Stats) bool {
			return s.Ready == 4
		})
		require.Equal(t, []int{3, 1, 2, 0}, m.VisibleNodes())
	})

	t.Run("resort is throttled", func(t *testing.T) {
		m, _ := newTestManager(t, Config{ResortInterval: time.Hour}, newTestTree(t, 1), centerPlanter(1, nil))

		require.NoError(t, m.Update(leaf3, nil))
		require.Equal(t, []int{3, 1, 2, 0}, m.VisibleNodes())

		require.NoError(t, m.Update(leaf0, nil))
		require.Equal(t, []int{3, 1, 2, 0}, m.VisibleNodes())
		require.Equal(t, uint64(1), m.Stats().Resorts)
	})

	t.Run("resort needs a displacement", func(t *testing.T) {
		m, _ := newTestManager(t, Config{
			ResortInterval: time.Nanosecond,
			ResortDistance: 100,
		}, newTestTree(t, 1), centerPlanter(1, nil))

		require.NoError(t, m.Update(leaf3, nil))
		time.Sleep(time.Millisecond)
		require.NoError(t, m.Update(leaf0, nil))
		require.Equal(t, []int{3, 1, 2, 0}, m.VisibleNodes())

		time.Sleep(time.Millisecond)
		require.NoError(t, m.Update(math32.Vec3(-100, 0, -100), nil))
		require.Equal(t, []int{0, 1, 2, 3}, m.VisibleNodes())
		require.Equal(t, uint64(2), m.Stats().Resorts)
	})

	t.Run("disabled resort keeps leaf order", func(t *testing.T) {
		m, _ := newTestManager(t, Config{
			FeatureFlags: featureflag.New([]string{string(featureflag.FlagDisableNodeResort)}),
		}, newTestTree(t, 1), centerPlanter(1, nil))

		require.NoError(t, m.Update(leaf3, nil))
		require.Equal(t, []int{0, 1, 2, 3}, m.VisibleNodes())
		require.Zero(t, m.Stats().Resorts)
	})

	t.Run("nodes are sorted again only on change", func(t *testing.T) {
		m, _ := newTestManager(t, Config{ResortInterval: time.Hour}, newTestTree(t, 1), centerPlanter(1, nil))

		for i := 0; i < 5; i++ {
			require.NoError(t, m.Update(leaf3, nil))
		}
		require.Equal(t, []int{3, 1, 2, 0}, m.VisibleNodes())
		require.Equal(t, uint64(1), m.Stats().NodeSorts)

		require.NoError(t, m.Update(leaf3, math32.B3(0.5, -1, 0.5, 9, 1, 9)))
		require.Equal(t, []int{3}, m.VisibleNodes())
		require.Equal(t, uint64(2), m.Stats().NodeSorts)

		require.NoError(t, m.Update(leaf3, nil))
		require.Equal(t, []int{3, 1, 2, 0}, m.VisibleNodes())
		require.Equal(t, uint64(3), m.Stats().NodeSorts)
	})

	t.Run("view volume restricts visible nodes", func(t *testing.T) {
		m, _ := newTestManager(t, Config{}, newTestTree(t, 1), centerPlanter(1, nil))

		view := math32.B3(0.5, -1, 0.5, 9, 1, 9)
		require.NoError(t, m.Update(leaf3, view))
		require.Equal(t, []int{3}, m.VisibleNodes())
	})
}

func TestManagerPlantingFailures(t *testing.T) {
	t.Run("failed planting is retried", func(t *testing.T) {
		var calls atomic.Int32
		planter := PlanterFunc(func(ctx context.Context, req PlantRequest) ([]Item, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("no ground").WithType(ErrTypePlantingFailed)
			}
			return []Item{{Position: req.Box.Center(), Scale: 1}}, nil
		})

		m, _ := newTestManager(t, Config{}, newTestTree(t, 0), planter)

		s := updateUntil(t, m, leaf0, func(s Stats) bool {
			return s.Ready == 1
		})
		require.Equal(t, uint64(1), s.PlantingErrors)
		require.Equal(t, int32(2), calls.Load())
	})

	t.Run("planter panic is contained", func(t *testing.T) {
		var calls atomic.Int32
		planter := PlanterFunc(func(ctx context.Context, req PlantRequest) ([]Item, error) {
			if calls.Add(1) == 1 {
				panic("boom")
			}
			return []Item{{Position: req.Box.Center(), Scale: 1}}, nil
		})

		m, _ := newTestManager(t, Config{}, newTestTree(t, 0), planter)

		s := updateUntil(t, m, leaf0, func(s Stats) bool {
			return s.Ready == 1
		})
		require.Equal(t, uint64(1), s.PlantingErrors)
	})

	t.Run("empty patches are not replanted", func(t *testing.T) {
		var calls atomic.Int32
		m, _ := newTestManager(t, Config{}, newTestTree(t, 0), centerPlanter(0, &calls))

		s := updateUntil(t, m, leaf0, func(s Stats) bool {
			return s.Planted == 1
		})
		require.Equal(t, 1, s.Empty)
		require.Zero(t, s.BufferedPatches)

		m.now = func() time.Time {
			return time.Now().Add(time.Hour)
		}
		for i := 0; i < 10; i++ {
			require.NoError(t, m.Update(leaf0, nil))
		}
		require.Equal(t, int32(1), calls.Load())
		require.Equal(t, 1, m.Stats().Planted)
	})

	t.Run("empty patches are replanted when enabled", func(t *testing.T) {
		var calls atomic.Int32
		m, _ := newTestManager(t, Config{
			EmptyRetryInterval: time.Minute,
			FeatureFlags:       featureflag.New([]string{"retry_empty_patches"}),
		}, newTestTree(t, 0), centerPlanter(0, &calls))

		updateUntil(t, m, leaf0, func(s Stats) bool {
			return s.Planted == 1
		})

		require.NoError(t, m.Update(leaf0, nil))
		require.Equal(t, int32(1), calls.Load())

		m.mutex.Lock()
		m.now = func() time.Time {
			return time.Now().Add(time.Hour)
		}
		m.mutex.Unlock()

		updateUntil(t, m, leaf0, func(s Stats) bool {
			return calls.Load() >= 2 && s.Planted == 1
		})
	})
}

func TestManagerCancelHiddenPlanting(t *testing.T) {
	blocking := PlanterFunc(func(ctx context.Context, req PlantRequest) ([]Item, error) {
		<-ctx.Done()
		return nil, errors.New("planting canceled").
			WithType(ErrTypePlantingCanceled).
			Wrap(ctx.Err())
	})

	t.Run("enabled", func(t *testing.T) {
		m, _ := newTestManager(t, Config{
			VisibilityRadius: 3,
			FeatureFlags:     featureflag.New([]string{string(featureflag.FlagCancelHiddenPlanting)}),
		}, newTestTree(t, 1), blocking)

		require.NoError(t, m.Update(leaf0, nil))
		p, _ := m.Patch(0, 0)
		require.Equal(t, Planting, p.State)

		s := updateUntil(t, m, leaf3, func(s Stats) bool {
			return s.CanceledPlantings == 1
		})
		require.Zero(t, s.PlantingErrors)

		p, _ = m.Patch(0, 0)
		require.Equal(t, NotPlanted, p.State)

		p, _ = m.Patch(3, 0)
		require.Equal(t, Planting, p.State)
	})

	t.Run("disabled", func(t *testing.T) {
		m, _ := newTestManager(t, Config{VisibilityRadius: 3}, newTestTree(t, 1), blocking)

		require.NoError(t, m.Update(leaf0, nil))
		for i := 0; i < 10; i++ {
			require.NoError(t, m.Update(leaf3, nil))
		}

		p, _ := m.Patch(0, 0)
		require.Equal(t, Planting, p.State)
		require.Equal(t, 2, m.Stats().Planting)
	})
}

// hookVolume is an unbounded view volume that runs hook on its first
// intersection test.
type hookVolume struct {
	once sync.Once
	hook func()
}

func (v *hookVolume) IntersectsBox(box math32.Box3) bool {
	v.once.Do(v.hook)
	return true
}

func TestManagerPlantingSlots(t *testing.T) {
	release := make(chan struct{})
	planter := PlanterFunc(func(ctx context.Context, req PlantRequest) ([]Item, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return centerPlanter(1, nil).Plant(ctx, req)
	})

	m, _ := newTestManager(t, Config{MaxConcurrentPlanting: 1}, newTestTree(t, 1), planter)

	require.NoError(t, m.Update(leaf0, nil))
	require.Equal(t, 1, m.Stats().Planting)

	// The running task completes while the update is computing visibility,
	// before new tasks are launched.
	require.NoError(t, m.Update(leaf0, &hookVolume{hook: func() {
		close(release)
		time.Sleep(time.Millisecond * 100)
	}}))
	require.Equal(t, 1, m.Stats().Planting)
	require.NoError(t, m.Verify())

	s := updateUntil(t, m, leaf0, func(s Stats) bool {
		require.LessOrEqual(t, s.Planting, 1)
		return s.Ready == 4
	})
	require.Equal(t, 4, s.Planted)
}

func TestManagerWriteFailure(t *testing.T) {
	m, device := newTestManager(t, Config{PoolSize: 2}, newTestTree(t, 0), centerPlanter(2, nil))
	device.Close()

	s := updateUntil(t, m, leaf0, func(s Stats) bool {
		return s.WriteErrors > 0
	})
	require.Zero(t, s.Ready)
	require.Zero(t, s.BufferedPatches)
	require.Equal(t, 2, s.FreeBuffers)
}

func TestManagerVerifyDetectsViolations(t *testing.T) {
	m, _ := newTestManager(t, Config{PoolSize: 2, Channels: 2}, newTestTree(t, 0), centerPlanter(1, nil))

	updateUntil(t, m, leaf0, func(s Stats) bool {
		return s.Ready == 2
	})

	m.mutex.Lock()
	m.patches[1].buffer = m.patches[0].buffer
	m.mutex.Unlock()

	err := m.Verify()
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeInvariant))
}

func TestManagerClose(t *testing.T) {
	device := gpu.NewMemoryDevice("close")
	m, err := NewManager(Config{PoolSize: 3}, newTestTree(t, 1), device, centerPlanter(1, nil))
	require.NoError(t, err)
	require.NoError(t, m.Update(leaf0, nil))

	m.Close()
	m.Close()
	require.Zero(t, device.BufferCount())

	err = m.Update(leaf0, nil)
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeClosed))
}

func TestManagerDebugInfo(t *testing.T) {
	m, _ := newTestManager(t, Config{Name: "grass", PoolSize: 2}, newTestTree(t, 0), centerPlanter(1, nil))

	updateUntil(t, m, leaf0, func(s Stats) bool {
		return s.Ready == 1
	})

	info := m.DebugInfo()
	require.Equal(t, "grass", info.Name)
	require.Equal(t, "billboard", info.Format)
	require.Equal(t, []int{0}, info.VisibleNodes)
	require.Len(t, info.Buffers, 2)

	assigned := 0
	for _, b := range info.Buffers {
		if b.Node != spatial.NoID {
			assigned++
			require.True(t, b.Ready)
			require.NotEmpty(t, b.Digest)
		}
	}
	require.Equal(t, 1, assigned)
}
