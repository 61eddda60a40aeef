package gpu

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	deviceLabel  = "device"
	errTypeLabel = "error_type"
)

var (
	gpuBufferCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gpu_buffer_count",
		Help: "The number of allocated buffers.",
	}, []string{deviceLabel})

	gpuAllocatedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gpu_allocated_bytes",
		Help: "The capacity of all allocated buffers.",
	}, []string{deviceLabel})

	gpuWrittenBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpu_written_bytes",
		Help: "The number of bytes written to buffers.",
	}, []string{deviceLabel})

	gpuWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpu_write_errors",
		Help: "The errors that occurred while writing a buffer.",
	}, []string{deviceLabel, errTypeLabel})
)

func instrumentAllocate(device string, capacity int) {
	labels := prometheus.Labels{deviceLabel: device}
	gpuBufferCount.With(labels).Inc()
	gpuAllocatedBytes.With(labels).Add(float64(capacity))
}

func instrumentRelease(device string, capacity int) {
	labels := prometheus.Labels{deviceLabel: device}
	gpuBufferCount.With(labels).Dec()
	gpuAllocatedBytes.With(labels).Sub(float64(capacity))
}

func instrumentWrite(device string, size int) {
	gpuWrittenBytes.
		With(prometheus.Labels{deviceLabel: device}).
		Add(float64(size))
}

func instrumentWriteError(device string, err error) {
	gpuWriteErrors.
		With(prometheus.Labels{
			deviceLabel:  device,
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}
