package terrainlod

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const levelLabel = "level"

var (
	lodNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "terrain_lod_nodes",
		Help: "The number of selected terrain nodes by LOD level.",
	}, []string{levelLabel})

	lodStitchedNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_lod_stitched_nodes",
		Help: "The number of selected terrain nodes bordering a coarser node.",
	})
)

func instrumentSelections(selections []Selection, bands int) {
	counts := make([]int, bands+1)
	stitched := 0

	for _, s := range selections {
		if s.Level >= 0 && s.Level < len(counts) {
			counts[s.Level]++
		}
		if s.Stitch != 0 {
			stitched++
		}
	}

	for level, count := range counts {
		lodNodes.
			With(prometheus.Labels{levelLabel: strconv.Itoa(level)}).
			Set(float64(count))
	}
	lodStitchedNodes.Set(float64(stitched))
}
