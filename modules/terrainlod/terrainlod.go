package terrainlod

import (
	"context"
	"sync"

	"github.com/aukilabs/ingwaz/models"
)

type Module struct {
	Selector *Selector

	currentScene *models.Scene
	state        *State
}

func (m *Module) Name() string {
	return "terrainlod"
}

func (m *Module) Init(s *models.Scene) {
	m.currentScene = s

	state, ok := s.ModuleState(m.Name())
	if !ok {
		state = &State{}
		s.SetModuleState(m.Name(), state)
	}
	m.state = state.(*State)
}

func (m *Module) HandleFrame(ctx context.Context, viewer models.Viewer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var frame uint64
	if m.currentScene != nil {
		frame = m.currentScene.Frame()
	}

	selections := m.Selector.Select(viewer.Position, viewer.Frustum())
	m.state.set(frame, selections)
	instrumentSelections(selections, len(m.Selector.Config().Bands))
	return nil
}

func (m *Module) Close() {
}

func (m *Module) State() *State {
	return m.state
}

// State holds the last LOD selection of a scene.
type State struct {
	mutex      sync.RWMutex
	frame      uint64
	selections []Selection
	byNode     map[int]Selection
}

func (s *State) set(frame uint64, selections []Selection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.frame = frame
	s.selections = selections
	s.byNode = make(map[int]Selection, len(selections))
	for _, sel := range selections {
		s.byNode[sel.Node] = sel
	}
}

// Selections returns the last selection and the frame it was made at.
func (s *State) Selections() ([]Selection, uint64) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	selections := make([]Selection, len(s.selections))
	copy(selections, s.selections)
	return selections, s.frame
}

func (s *State) Selection(node int) (Selection, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	sel, ok := s.byNode[node]
	return sel, ok
}

// DebugInfo is the LOD state exposed for debugging.
type DebugInfo struct {
	Frame      uint64      `json:"frame"`
	Levels     map[int]int `json:"levels"`
	Stitched   int         `json:"stitched"`
	Selections []Selection `json:"selections"`
}

func (s *State) DebugInfo() DebugInfo {
	selections, frame := s.Selections()

	info := DebugInfo{
		Frame:      frame,
		Levels:     make(map[int]int),
		Selections: selections,
	}
	for _, sel := range selections {
		info.Levels[sel.Level]++
		if sel.Stitch != 0 {
			info.Stitched++
		}
	}
	return info
}
