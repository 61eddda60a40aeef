package foliage

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	managerLabel = "manager"
	errTypeLabel = "error_type"
	resultLabel  = "result"
)

var (
	foliagePoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "foliage_pool_size",
		Help: "The number of buffers in the pool.",
	}, []string{managerLabel})

	foliageFreeBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "foliage_free_buffers",
		Help: "The number of buffers not assigned to a patch.",
	}, []string{managerLabel})

	foliageVisibleNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "foliage_visible_nodes",
		Help: "The number of visible leaf nodes.",
	}, []string{managerLabel})

	foliagePlantingPatches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "foliage_planting_patches",
		Help: "The number of patches being planted.",
	}, []string{managerLabel})

	foliageEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foliage_evictions",
		Help: "The number of buffers taken from a hidden patch.",
	}, []string{managerLabel})

	foliageStarvedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foliage_starved_requests",
		Help: "The number of buffer requests that got no buffer.",
	}, []string{managerLabel})

	foliagePlantingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foliage_planting_errors",
		Help: "The errors that occurred while planting a patch.",
	}, []string{managerLabel, errTypeLabel})

	foliageBufferWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foliage_buffer_writes",
		Help: "The buffer writes by result.",
	}, []string{managerLabel, resultLabel})

	foliagePlantingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "foliage_planting_latency",
		Help: "The time to plant a patch, in seconds.",
	}, []string{managerLabel})

	foliageUpdateLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "foliage_update_latency",
		Help:    "The time to run a scheduler update, in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05},
	}, []string{managerLabel})
)

func managerLabels(name string) prometheus.Labels {
	return prometheus.Labels{managerLabel: name}
}

func instrumentPoolSize(name string, size int) {
	foliagePoolSize.With(managerLabels(name)).Set(float64(size))
}

func instrumentUpdate(name string, d time.Duration, s Stats) {
	labels := managerLabels(name)
	foliageUpdateLatency.With(labels).Observe(d.Seconds())
	foliageFreeBuffers.With(labels).Set(float64(s.FreeBuffers))
	foliageVisibleNodes.With(labels).Set(float64(s.VisibleNodes))
	foliagePlantingPatches.With(labels).Set(float64(s.Planting))
}

func instrumentEviction(name string) {
	foliageEvictions.With(managerLabels(name)).Inc()
}

func instrumentStarvedRequest(name string) {
	foliageStarvedRequests.With(managerLabels(name)).Inc()
}

func instrumentPlantingError(name string, err error) {
	foliagePlantingErrors.
		With(prometheus.Labels{
			managerLabel: name,
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}

func instrumentPlanting(name string, d time.Duration) {
	foliagePlantingLatency.With(managerLabels(name)).Observe(d.Seconds())
}

func instrumentBufferWrite(name string, r writeResult) {
	foliageBufferWrites.
		With(prometheus.Labels{
			managerLabel: name,
			resultLabel:  r.String(),
		}).
		Inc()
}
