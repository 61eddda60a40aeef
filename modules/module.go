package modules

import (
	"context"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/ingwaz/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	moduleLabel  = "module"
	errTypeLabel = "error_type"
)

var moduleFrameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "module_frame_errors",
	Help: "The errors returned by modules while handling a frame.",
}, []string{moduleLabel, errTypeLabel})

// Module is the interface that describes a frame-driven scene component.
type Module interface {
	// Returns the module name.
	Name() string

	// Initializes the module.
	Init(*models.Scene)

	// Handles a frame seen from the given viewer.
	//
	// Returned errors are logged and counted. They never stop the frame loop.
	HandleFrame(ctx context.Context, viewer models.Viewer) error

	// Releases the resources held by the module.
	Close()
}

// Run initializes the given modules and makes them handle every frame of the
// scene, with the viewer given by the camera path. The returned function
// stops the frame handling and closes the modules.
func Run(ctx context.Context, scene *models.Scene, camera models.CameraPath, modules ...Module) (stop func()) {
	for _, m := range modules {
		m.Init(scene)
	}

	cancel := scene.HandleFrame(func() {
		viewer := camera.At(scene.Frame())
		scene.SetViewer(viewer)

		for _, m := range modules {
			HandleFrame(ctx, m, viewer)
		}
	})

	return func() {
		cancel()
		for _, m := range modules {
			m.Close()
		}
	}
}

// HandleFrame makes a module handle a frame. Errors are contained.
func HandleFrame(ctx context.Context, m Module, viewer models.Viewer) {
	if ctx.Err() != nil {
		return
	}

	if err := m.HandleFrame(ctx, viewer); err != nil {
		logs.WithTag(moduleLabel, m.Name()).
			Warn(errors.New("handling frame failed").Wrap(err))

		moduleFrameErrors.
			With(prometheus.Labels{
				moduleLabel:  m.Name(),
				errTypeLabel: errors.Type(err),
			}).
			Inc()
	}
}
