package terrain

import "cogentcore.org/core/math32"

// NoiseParams configures fractal value noise.
type NoiseParams struct {
	Octaves     int
	Frequency   float32
	Amplitude   float32
	Persistence float32
	Lacunarity  float32
}

func DefaultNoiseParams() NoiseParams {
	return NoiseParams{
		Octaves:     4,
		Frequency:   0.02,
		Amplitude:   1,
		Persistence: 0.5,
		Lacunarity:  2,
	}
}

type valueNoise struct {
	seed uint32
}

func newValueNoise(seed int64) valueNoise {
	return valueNoise{seed: uint32(seed) ^ uint32(seed>>32)}
}

// lattice returns a pseudo random value in [-1, 1] for an integer lattice
// point.
func (n valueNoise) lattice(ix, iz int32) float32 {
	h := uint32(ix)*374761393 + uint32(iz)*668265263 + n.seed*2246822519
	h = (h ^ (h >> 13)) * 1274126177
	h ^= h >> 16
	return float32(h)/float32(^uint32(0))*2 - 1
}

// At returns smoothly interpolated noise in [-1, 1].
func (n valueNoise) At(x, z float32) float32 {
	fx, fz := math32.Floor(x), math32.Floor(z)
	ix, iz := int32(fx), int32(fz)
	tx, tz := smoothstep(x-fx), smoothstep(z-fz)

	a := n.lattice(ix, iz)
	b := n.lattice(ix+1, iz)
	c := n.lattice(ix, iz+1)
	d := n.lattice(ix+1, iz+1)

	return math32.Lerp(math32.Lerp(a, b, tx), math32.Lerp(c, d, tx), tz)
}

// Fractal sums octaves of noise, normalized to [-amplitude, amplitude].
func (n valueNoise) Fractal(x, z float32, p NoiseParams) float32 {
	var sum, max float32
	amplitude, frequency := p.Amplitude, p.Frequency

	for i := 0; i < p.Octaves; i++ {
		sum += n.At(x*frequency, z*frequency) * amplitude
		max += amplitude
		amplitude *= p.Persistence
		frequency *= p.Lacunarity
	}

	if max == 0 {
		return 0
	}
	return sum / max * p.Amplitude
}

func smoothstep(t float32) float32 {
	return t * t * (3 - 2*t)
}
