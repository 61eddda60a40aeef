package modules

import (
	"context"
	"testing"
	"time"

	"cogentcore.org/core/math32"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/models"
	"github.com/stretchr/testify/require"
)

type testModule struct {
	scene   *models.Scene
	viewers []models.Viewer
	err     error
	closed  bool
}

func (m *testModule) Name() string {
	return "test"
}

func (m *testModule) Init(s *models.Scene) {
	m.scene = s
}

func (m *testModule) HandleFrame(ctx context.Context, viewer models.Viewer) error {
	m.viewers = append(m.viewers, viewer)
	return m.err
}

func (m *testModule) Close() {
	m.closed = true
}

func TestRun(t *testing.T) {
	scene := models.NewScene(1, time.Second)
	defer scene.Close()

	camera := models.CameraPathFunc(func(frame uint64) models.Viewer {
		return models.Viewer{Position: math32.Vec3(float32(frame), 0, 0)}
	})

	ok := &testModule{}
	failing := &testModule{err: errors.New("planting failed").WithType("test")}

	stop := Run(context.Background(), scene, camera, ok, failing)
	require.Equal(t, scene, ok.scene)
	require.Equal(t, scene, failing.scene)

	scene.DispatchFrame()
	scene.DispatchFrame()

	require.Len(t, ok.viewers, 2)
	require.Len(t, failing.viewers, 2)
	require.Equal(t, float32(1), ok.viewers[1].Position.X)
	require.Equal(t, ok.viewers[1], scene.Viewer())

	stop()
	require.True(t, ok.closed)
	require.True(t, failing.closed)

	scene.DispatchFrame()
	require.Len(t, ok.viewers, 2)
}

func TestHandleFrameCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &testModule{}
	HandleFrame(ctx, m, models.DefaultViewer())
	require.Empty(t, m.viewers)
}
