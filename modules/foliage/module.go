package foliage

import (
	"context"

	"github.com/aukilabs/ingwaz/models"
)

// Module runs a foliage Manager on every scene frame.
type Module struct {
	Manager *Manager

	// Checks the buffer ownership invariants after every update.
	Verify bool

	// Receives the draw calls of every frame.
	OnDraw func(frame uint64, calls []DrawCall)

	currentScene *models.Scene
}

func (m *Module) Name() string {
	return m.Manager.Config().Name
}

func (m *Module) Init(s *models.Scene) {
	m.currentScene = s
	s.SetModuleState(m.Name(), m.Manager)
}

func (m *Module) HandleFrame(ctx context.Context, viewer models.Viewer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.Manager.Update(viewer.Position, viewer.Frustum()); err != nil {
		return err
	}

	if m.Verify {
		if err := m.Manager.Verify(); err != nil {
			return err
		}
	}

	if m.OnDraw != nil {
		var frame uint64
		if m.currentScene != nil {
			frame = m.currentScene.Frame()
		}
		m.OnDraw(frame, m.Manager.DrawCalls())
	}
	return nil
}

func (m *Module) Close() {
	m.Manager.Close()
}
