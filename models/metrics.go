package models

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sceneCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scene_count",
		Help: "The number of running scenes.",
	})

	sceneFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scene_frames",
		Help: "The number of dispatched frames.",
	})

	sceneSlowFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scene_slow_frames",
		Help: "The number of frames whose handlers took longer than the frame duration.",
	})

	sceneFrameLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scene_frame_latency",
		Help:    "The time to run the frame handlers of a frame, in seconds.",
		Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.015, 0.02, 0.05, 0.1},
	})
)

func instrumentIncreaseSceneGauge() {
	sceneCount.Inc()
}

func instrumentDecreaseSceneGauge() {
	sceneCount.Dec()
}

func instrumentFrame(d time.Duration, slow bool) {
	sceneFrames.Inc()
	sceneFrameLatency.Observe(d.Seconds())
	if slow {
		sceneSlowFrames.Inc()
	}
}
