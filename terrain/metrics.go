package terrain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultLabel = "result"

	rayCastHit      = "hit"
	rayCastMiss     = "miss"
	rayCastCanceled = "canceled"
)

var terrainRayCasts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "terrain_ray_casts",
	Help: "The number of ray casts against the terrain.",
}, []string{resultLabel})

func instrumentRayCast(result string) {
	terrainRayCasts.
		With(prometheus.Labels{resultLabel: result}).
		Inc()
}
