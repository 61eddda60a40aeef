package foliage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cogentcore.org/core/math32"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/ingwaz/featureflag"
	"github.com/aukilabs/ingwaz/gpu"
	"github.com/aukilabs/ingwaz/spatial"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Manager maps a fixed pool of GPU buffers onto the patches of the visible
// leaf nodes of a tree. Patches are planted in the background and get a
// buffer once planted, taking it from the farthest hidden patch when the pool
// is exhausted.
//
// Update, Draw, Stats and the other methods are safe for concurrent use.
type Manager struct {
	config   Config
	tree     *spatial.Tree
	device   gpu.Device
	planter  Planter
	drawable Drawable
	pool     *BufferPool

	mutex  sync.Mutex
	closed bool

	// Patches of leaf id n are at [n*Channels, (n+1)*Channels).
	patches  []*Patch
	planting map[int]struct{}
	empty    map[int]struct{}

	viewpoint  math32.Vector3
	found      []*spatial.Node
	visible    []*spatial.Node
	visibleSet map[int]struct{}
	frame      uint64

	resortLimiter *rate.Limiter
	resortOrigin  math32.Vector3
	resorted      bool

	completions  chan plantResult
	plantingSlot *semaphore.Weighted
	ctx          context.Context
	cancel       func()
	wg           sync.WaitGroup

	scratch  []byte
	counters Counters
	now      func() time.Time
}

type plantResult struct {
	patch    int
	items    []Item
	err      error
	canceled bool
	elapsed  time.Duration
}

// Counters are cumulative scheduler counters.
type Counters struct {
	Evictions         uint64 `json:"evictions"`
	StarvedRequests   uint64 `json:"starved_requests"`
	PlantingErrors    uint64 `json:"planting_errors"`
	CanceledPlantings uint64 `json:"canceled_plantings"`
	EmptyPatches      uint64 `json:"empty_patches"`
	WriteErrors       uint64 `json:"write_errors"`
	SkippedWrites     uint64 `json:"skipped_writes"`
	Resorts           uint64 `json:"resorts"`
	NodeSorts         uint64 `json:"node_sorts"`
}

// Stats is a snapshot of the scheduler state.
type Stats struct {
	Frame           uint64 `json:"frame"`
	VisibleNodes    int    `json:"visible_nodes"`
	Patches         int    `json:"patches"`
	NotPlanted      int    `json:"not_planted"`
	Planting        int    `json:"planting"`
	Planted         int    `json:"planted"`
	Empty           int    `json:"empty"`
	Ready           int    `json:"ready"`
	BufferedPatches int    `json:"buffered_patches"`
	FreeBuffers     int    `json:"free_buffers"`
	PoolSize        int    `json:"pool_size"`

	Counters
}

// NewManager creates a manager for the leaves of tree. The buffer pool is
// allocated on device right away.
func NewManager(conf Config, tree *spatial.Tree, device gpu.Device, planter Planter) (*Manager, error) {
	conf = conf.withDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}

	if tree == nil || tree.LeafCount() == 0 {
		return nil, errors.New("foliage needs a non-empty tree").
			WithType(ErrTypeInvalidConfig)
	}

	if device == nil || planter == nil {
		return nil, errors.New("foliage needs a device and a planter").
			WithType(ErrTypeInvalidConfig)
	}

	drawable, err := NewDrawable(conf.Format)
	if err != nil {
		return nil, err
	}

	pool, err := NewBufferPool(device, conf.PoolSize, conf.BufferCapacity*drawable.Stride())
	if err != nil {
		return nil, err
	}

	patches := make([]*Patch, 0, tree.LeafCount()*conf.Channels)
	for id := 0; id < tree.LeafCount(); id++ {
		for c := 0; c < conf.Channels; c++ {
			patches = append(patches, &Patch{
				index:   len(patches),
				node:    id,
				channel: c,
			})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:        conf,
		tree:          tree,
		device:        device,
		planter:       planter,
		drawable:      drawable,
		pool:          pool,
		patches:       patches,
		planting:      make(map[int]struct{}),
		empty:         make(map[int]struct{}),
		visibleSet:    make(map[int]struct{}),
		resortLimiter: rate.NewLimiter(rate.Every(conf.ResortInterval), 1),
		completions:   make(chan plantResult, len(patches)),
		plantingSlot:  semaphore.NewWeighted(int64(conf.MaxConcurrentPlanting)),
		ctx:           ctx,
		cancel:        cancel,
		now:           time.Now,
	}

	instrumentPoolSize(conf.Name, pool.Size())
	logs.WithTag("manager", conf.Name).
		WithTag("pool_size", conf.PoolSize).
		WithTag("patches", len(patches)).
		WithTag("format", conf.Format.String()).
		WithTag("feature_flags", conf.FeatureFlags.List()).
		Debug("foliage manager created")
	return m, nil
}

func (m *Manager) Config() Config {
	return m.config
}

func (m *Manager) Tree() *spatial.Tree {
	return m.tree
}

func (m *Manager) flag(f featureflag.Flag) bool {
	return m.config.FeatureFlags.IsSet(f)
}

func (m *Manager) patch(node, channel int) *Patch {
	return m.patches[node*m.config.Channels+channel]
}

// Update runs one scheduler tick for the given viewpoint. view restricts the
// visible nodes, usually to the camera frustum; nil only applies the
// visibility radius.
func (m *Manager) Update(viewpoint math32.Vector3, view spatial.Volume) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return errors.New("foliage manager is closed").
			WithType(ErrTypeClosed).
			WithTag("manager", m.config.Name)
	}

	start := time.Now()
	m.frame++
	m.viewpoint = viewpoint

	m.collectPlanted()
	m.updateVisible(view)

	if m.flag(featureflag.FlagCancelHiddenPlanting) {
		m.cancelHiddenPlanting()
	}
	if m.flag(featureflag.FlagRetryEmptyPatches) {
		m.retryEmptyPatches()
	}

	m.assignBuffers()
	m.startPlanting()

	instrumentUpdate(m.config.Name, time.Since(start), m.stats())
	return nil
}

// collectPlanted applies the results of finished planting tasks.
func (m *Manager) collectPlanted() {
	for {
		select {
		case res := <-m.completions:
			m.applyPlantResult(res)

		default:
			return
		}
	}
}

func (m *Manager) applyPlantResult(res plantResult) {
	p := m.patches[res.patch]
	delete(m.planting, p.index)
	m.plantingSlot.Release(1)
	p.cancel = nil
	p.canceled = false

	switch {
	case res.canceled:
		p.state = NotPlanted
		m.counters.CanceledPlantings++

		logs.WithTag("manager", m.config.Name).
			WithTag("node_id", p.node).
			WithTag("channel", p.channel).
			Debug("planting canceled")

	case res.err != nil:
		p.state = NotPlanted
		m.counters.PlantingErrors++
		instrumentPlantingError(m.config.Name, res.err)

		logs.WithTag("manager", m.config.Name).
			WithTag("node_id", p.node).
			WithTag("channel", p.channel).
			Warn(res.err)

	default:
		items := res.items
		if len(items) > m.config.BufferCapacity {
			items = items[:m.config.BufferCapacity]
		}

		p.items = items
		p.state = Planted
		p.plantedAt = m.now()
		instrumentPlanting(m.config.Name, res.elapsed)

		if len(items) == 0 {
			m.empty[p.index] = struct{}{}
			m.counters.EmptyPatches++
		}
	}
}

// updateVisible recomputes the visible leaves and orders them by distance to
// the viewpoint of the last re-sort.
func (m *Manager) updateVisible(view spatial.Volume) {
	volume := spatial.SphereVolume(m.viewpoint, m.config.VisibilityRadius)
	if view != nil {
		volume = spatial.Intersection(view, volume)
	}

	found := m.tree.FindNodesInVolume(volume)
	changed := !sameNodes(found, m.found)
	m.found = found

	if changed {
		m.visibleSet = make(map[int]struct{}, len(found))
		for _, n := range found {
			m.visibleSet[n.ID] = struct{}{}
		}
	}

	if m.flag(featureflag.FlagDisableNodeResort) {
		m.visible = found
		return
	}

	// The sorted order is kept while neither the visible set nor the
	// origin changes.
	if moved := m.maybeResort(); !changed && !moved {
		return
	}

	m.visible = append(m.visible[:0], found...)
	sortNodes(m.visible, m.resortOrigin, m.config.Transparent)
	m.counters.NodeSorts++
}

// sameNodes reports whether a and b hold the same nodes in the same order.
func sameNodes(a, b []*spatial.Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// maybeResort moves the draw order origin to the viewpoint when both the
// resort interval and the resort distance were exceeded. It reports whether
// the origin moved.
func (m *Manager) maybeResort() bool {
	if m.resorted {
		d := m.config.ResortDistance
		if spatial.DistanceSquared(m.viewpoint, m.resortOrigin) < d*d {
			return false
		}
	}

	if !m.resortLimiter.Allow() {
		return false
	}

	m.resortOrigin = m.viewpoint
	m.resorted = true
	m.counters.Resorts++
	return true
}

// priority returns the visible nodes, nearest first.
func (m *Manager) priority() []*spatial.Node {
	if !m.config.Transparent || m.flag(featureflag.FlagDisableNodeResort) {
		return m.visible
	}

	nodes := make([]*spatial.Node, len(m.visible))
	for i, n := range m.visible {
		nodes[len(nodes)-1-i] = n
	}
	return nodes
}

func (m *Manager) isVisible(node int) bool {
	_, ok := m.visibleSet[node]
	return ok
}

func (m *Manager) cancelHiddenPlanting() {
	for i := range m.planting {
		p := m.patches[i]
		if p.canceled || p.cancel == nil || m.isVisible(p.node) {
			continue
		}

		// The patch stays Planting until its task reports back.
		p.cancel()
		p.canceled = true
	}
}

func (m *Manager) retryEmptyPatches() {
	now := m.now()

	for i := range m.empty {
		p := m.patches[i]
		if p.state != Planted || p.HasData() {
			delete(m.empty, i)
			continue
		}

		if now.Sub(p.plantedAt) >= m.config.EmptyRetryInterval {
			p.state = NotPlanted
			p.items = nil
			delete(m.empty, i)
		}
	}
}

// assignBuffers gives a buffer to the visible patches that are planted with
// data but not ready for drawing, and writes their sorted items to it.
func (m *Manager) assignBuffers() {
	for _, n := range m.priority() {
		for c := 0; c < m.config.Channels; c++ {
			p := m.patch(n.ID, c)
			if p.state != Planted || !p.HasData() || p.ReadyForDrawing() {
				continue
			}

			b := p.buffer
			if b == nil {
				if b = m.findBuffer(p); b == nil {
					// Every buffer is held by a visible patch: nothing can be
					// found until one leaves the visible set.
					m.counters.StarvedRequests++
					instrumentStarvedRequest(m.config.Name)

					logs.WithTag("manager", m.config.Name).
						WithTag("node_id", p.node).
						WithTag("channel", p.channel).
						Debug("no buffer available")
					return
				}
				m.assign(p, b)
			}

			SortItems(p.items, m.viewpoint, m.config.Transparent)
			m.scratch = m.drawable.Encode(m.scratch[:0], p.items)

			res := b.write(m.device, m.scratch, len(p.items))
			instrumentBufferWrite(m.config.Name, res)

			switch res {
			case writeSkipped:
				m.counters.SkippedWrites++

			case writeFailed:
				m.counters.WriteErrors++
				m.unassign(p)

				logs.WithTag("manager", m.config.Name).
					WithTag("node_id", p.node).
					WithTag("channel", p.channel).
					WithTag("buffer_id", b.id).
					Warn(errors.New("writing buffer failed").
						WithType(gpu.ErrTypeBufferCapacity).
						WithTag("size", len(m.scratch)))
			}
		}
	}
}

// findBuffer returns a free buffer. When none is free, it takes the buffer
// of the hidden patch whose node is the farthest from the viewpoint. It
// returns nil when every buffer is held by a visible patch.
func (m *Manager) findBuffer(requester *Patch) *ManagedBuffer {
	if b := m.pool.Free(); b != nil {
		return b
	}

	var victim *Patch
	farthest := float32(-1)

	for _, b := range m.pool.Buffers() {
		owner := m.patches[b.owner]
		if m.isVisible(owner.node) {
			continue
		}

		d := spatial.DistanceSquared(m.viewpoint, m.tree.Leaf(owner.node).Center())
		if d > farthest {
			farthest = d
			victim = owner
		}
	}

	if victim == nil {
		return nil
	}

	b := victim.buffer
	m.unassign(victim)
	m.counters.Evictions++
	instrumentEviction(m.config.Name)

	logs.WithTag("manager", m.config.Name).
		WithTag("buffer_id", b.id).
		WithTag("from_node", victim.node).
		WithTag("to_node", requester.node).
		Debug("buffer evicted")
	return b
}

func (m *Manager) assign(p *Patch, b *ManagedBuffer) {
	b.owner = p.index
	b.ready = false
	b.drawCount = 0
	p.buffer = b
}

func (m *Manager) unassign(p *Patch) {
	b := p.buffer
	if b == nil {
		return
	}

	b.owner = noOwner
	b.ready = false
	b.drawCount = 0
	p.buffer = nil
}

// startPlanting launches the planting of the visible patches that are not
// planted yet, as long as planting slots are available.
func (m *Manager) startPlanting() {
	for _, n := range m.priority() {
		for c := 0; c < m.config.Channels; c++ {
			p := m.patch(n.ID, c)
			if p.state != NotPlanted {
				continue
			}

			if !m.plantingSlot.TryAcquire(1) {
				return
			}
			m.plant(p, n)
		}
	}
}

func (m *Manager) plant(p *Patch, n *spatial.Node) {
	ctx, cancel := context.WithCancel(m.ctx)

	p.state = Planting
	p.cancel = cancel
	p.canceled = false
	m.planting[p.index] = struct{}{}

	req := PlantRequest{
		Node:     n.ID,
		Channel:  p.channel,
		Box:      n.Box,
		Capacity: m.config.BufferCapacity,
		Seed:     m.config.Seed + int64(p.index),
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		start := time.Now()
		items, err := m.runPlanter(ctx, req)

		m.completions <- plantResult{
			patch:    p.index,
			items:    items,
			err:      err,
			canceled: ctx.Err() != nil,
			elapsed:  time.Since(start),
		}
	}()
}

func (m *Manager) runPlanter(ctx context.Context, req PlantRequest) (items []Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			items = nil
			err = errors.New("planter panicked").
				WithType(ErrTypePlantingFailed).
				WithTag("node_id", req.Node).
				WithTag("channel", req.Channel).
				WithTag("panic", fmt.Sprint(r))
		}
	}()

	return m.planter.Plant(ctx, req)
}

// DrawCall is a ready patch to draw.
type DrawCall struct {
	Node    int
	Channel int
	Buffer  uuid.UUID
	Handle  gpu.Handle
	Count   int
	Format  VertexFormat
}

// DrawCalls returns the ready patches of the visible nodes in draw order.
func (m *Manager) DrawCalls() []DrawCall {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	calls := make([]DrawCall, 0, m.pool.Size())
	for _, n := range m.visible {
		for c := 0; c < m.config.Channels; c++ {
			p := m.patch(n.ID, c)
			if !p.ReadyForDrawing() {
				continue
			}

			calls = append(calls, DrawCall{
				Node:    p.node,
				Channel: p.channel,
				Buffer:  p.buffer.id,
				Handle:  p.buffer.handle,
				Count:   p.buffer.drawCount,
				Format:  m.drawable.Format(),
			})
		}
	}
	return calls
}

// Draw calls fn for every ready patch of the visible nodes, in draw order.
func (m *Manager) Draw(fn func(DrawCall)) {
	for _, c := range m.DrawCalls() {
		fn(c)
	}
}

// VisibleNodes returns the ids of the visible leaves in draw order.
func (m *Manager) VisibleNodes() []int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ids := make([]int, 0, len(m.visible))
	for _, n := range m.visible {
		ids = append(ids, n.ID)
	}
	return ids
}

// Patch returns a snapshot of the patch of a leaf for a channel.
func (m *Manager) Patch(node, channel int) (PatchInfo, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if node < 0 || node >= m.tree.LeafCount() || channel < 0 || channel >= m.config.Channels {
		return PatchInfo{}, false
	}
	return m.patch(node, channel).info(), true
}

func (m *Manager) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.stats()
}

func (m *Manager) stats() Stats {
	s := Stats{
		Frame:        m.frame,
		VisibleNodes: len(m.visible),
		Patches:      len(m.patches),
		PoolSize:     m.pool.Size(),
		FreeBuffers:  m.pool.FreeCount(),
		Counters:     m.counters,
	}

	for _, p := range m.patches {
		switch p.state {
		case NotPlanted:
			s.NotPlanted++
		case Planting:
			s.Planting++
		case Planted:
			s.Planted++
			if !p.HasData() {
				s.Empty++
			}
		}

		if p.buffer != nil {
			s.BufferedPatches++
		}
		if p.ReadyForDrawing() {
			s.Ready++
		}
	}
	return s
}

// Verify checks that no buffer is held by two patches, that buffer and patch
// references agree and that no more patches are ready than there are
// buffers.
func (m *Manager) Verify() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.verify()
}

func (m *Manager) verify() error {
	violation := func(msg string, tags ...any) error {
		err := errors.New(msg).
			WithType(ErrTypeInvariant).
			WithTag("manager", m.config.Name).
			WithTag("frame", m.frame)

		for i := 0; i+1 < len(tags); i += 2 {
			err = err.WithTag(fmt.Sprint(tags[i]), tags[i+1])
		}
		return err
	}

	holders := make(map[*ManagedBuffer]*Patch, m.pool.Size())
	ready := 0

	for _, p := range m.patches {
		if p.ReadyForDrawing() {
			ready++
		}

		if p.buffer == nil {
			continue
		}

		if other, ok := holders[p.buffer]; ok {
			return violation("buffer held by two patches",
				"buffer_id", p.buffer.id,
				"patch_a", other.index,
				"patch_b", p.index)
		}
		holders[p.buffer] = p

		if p.buffer.owner != p.index {
			return violation("buffer owner mismatch",
				"buffer_id", p.buffer.id,
				"patch", p.index,
				"owner", p.buffer.owner)
		}
	}

	for _, b := range m.pool.Buffers() {
		if b.Assigned() && m.patches[b.owner].buffer != b {
			return violation("buffer owned by a patch that does not hold it",
				"buffer_id", b.id,
				"owner", b.owner)
		}
	}

	if ready > m.pool.Size() {
		return violation("more ready patches than buffers",
			"ready", ready,
			"pool_size", m.pool.Size())
	}

	if len(m.planting) > m.config.MaxConcurrentPlanting {
		return violation("too many planting patches",
			"planting", len(m.planting))
	}
	return nil
}

// BufferInfo is a snapshot of a pool buffer.
type BufferInfo struct {
	ID        string `json:"id"`
	Index     int    `json:"index"`
	Node      int    `json:"node"`
	Channel   int    `json:"channel"`
	Ready     bool   `json:"ready"`
	DrawCount int    `json:"draw_count"`
	Digest    string `json:"digest,omitempty"`
}

// DebugInfo is the state of a manager exposed for debugging.
type DebugInfo struct {
	Name         string       `json:"name"`
	Format       string       `json:"format"`
	Viewpoint    [3]float32   `json:"viewpoint"`
	VisibleNodes []int        `json:"visible_nodes"`
	Stats        Stats        `json:"stats"`
	Buffers      []BufferInfo `json:"buffers"`
}

func (m *Manager) DebugInfo() DebugInfo {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	info := DebugInfo{
		Name:         m.config.Name,
		Format:       m.drawable.Format().String(),
		Viewpoint:    [3]float32{m.viewpoint.X, m.viewpoint.Y, m.viewpoint.Z},
		VisibleNodes: make([]int, 0, len(m.visible)),
		Stats:        m.stats(),
		Buffers:      make([]BufferInfo, 0, m.pool.Size()),
	}

	for _, n := range m.visible {
		info.VisibleNodes = append(info.VisibleNodes, n.ID)
	}

	for _, b := range m.pool.Buffers() {
		bi := BufferInfo{
			ID:        b.id.String(),
			Index:     b.index,
			Node:      spatial.NoID,
			Channel:   -1,
			Ready:     b.ready,
			DrawCount: b.drawCount,
		}
		if b.written {
			bi.Digest = b.digest.Hex()
		}
		if b.Assigned() {
			bi.Node = m.patches[b.owner].node
			bi.Channel = m.patches[b.owner].channel
		}
		info.Buffers = append(info.Buffers, bi)
	}
	return info
}

// Close cancels the running planting tasks, waits for them and releases the
// buffer pool.
func (m *Manager) Close() {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return
	}
	m.closed = true
	m.cancel()
	m.mutex.Unlock()

	m.wg.Wait()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.collectPlanted()
	for _, p := range m.patches {
		p.buffer = nil
	}
	m.pool.Release()

	logs.WithTag("manager", m.config.Name).
		WithTag("frames", m.frame).
		WithTag("evictions", m.counters.Evictions).
		WithTag("starved_requests", m.counters.StarvedRequests).
		WithTag("planting_errors", m.counters.PlantingErrors).
		Info("foliage manager closed")
}
