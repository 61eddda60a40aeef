package terrain

import "cogentcore.org/core/math32"

// DensityMap samples per-channel placement weights in [0, 1] from
// independent noise layers.
type DensityMap struct {
	channels  int
	noises    []valueNoise
	params    NoiseParams
	threshold float32
}

// NewDensityMap returns a density map with one noise layer per channel.
// Weights below threshold are cut to 0 so that channels form patches.
func NewDensityMap(channels int, seed int64, threshold float32) *DensityMap {
	if channels < 0 {
		channels = 0
	}

	d := &DensityMap{
		channels:  channels,
		noises:    make([]valueNoise, channels),
		threshold: math32.Clamp(threshold, 0, 0.99),
		params: NoiseParams{
			Octaves:     3,
			Frequency:   0.01,
			Amplitude:   1,
			Persistence: 0.5,
			Lacunarity:  2,
		},
	}

	for i := range d.noises {
		d.noises[i] = newValueNoise(seed + int64(i)*7919)
	}
	return d
}

func (d *DensityMap) Channels() int {
	return d.channels
}

func (d *DensityMap) Sample(x, z float32) []float32 {
	weights := make([]float32, d.channels)
	for i, n := range d.noises {
		w := n.Fractal(x, z, d.params)/2 + 0.5
		weights[i] = math32.Clamp((w-d.threshold)/(1-d.threshold), 0, 1)
	}
	return weights
}
