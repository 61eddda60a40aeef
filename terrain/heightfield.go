package terrain

import (
	"context"

	"cogentcore.org/core/math32"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/spatial"
)

const (
	ErrTypeInvalidOptions = "terrain_invalid_options"
	ErrTypeCanceled       = "terrain_canceled"

	// Number of march steps between two context checks.
	cancelCheckInterval = 64

	refineIterations = 16
)

// Options configures a Heightfield.
type Options struct {
	// The side length of the square terrain, centered on the origin.
	Size float32

	// The number of grid cells per side.
	Resolution int

	// Heights range from 0 to MaxHeight.
	MaxHeight float32

	Seed  int64
	Noise NoiseParams
}

func (o Options) withDefaults() Options {
	if o.Size == 0 {
		o.Size = 512
	}
	if o.Resolution == 0 {
		o.Resolution = 128
	}
	if o.MaxHeight == 0 {
		o.MaxHeight = 32
	}
	if o.Noise == (NoiseParams{}) {
		o.Noise = DefaultNoiseParams()
	}
	return o
}

func (o Options) validate() error {
	if o.Size <= 0 || math32.IsInf(o.Size, 0) || math32.IsNaN(o.Size) {
		return errors.New("invalid terrain size").
			WithType(ErrTypeInvalidOptions).
			WithTag("size", o.Size)
	}

	if o.Resolution < 1 {
		return errors.New("invalid terrain resolution").
			WithType(ErrTypeInvalidOptions).
			WithTag("resolution", o.Resolution)
	}

	if o.MaxHeight < 0 {
		return errors.New("invalid terrain height").
			WithType(ErrTypeInvalidOptions).
			WithTag("max_height", o.MaxHeight)
	}
	return nil
}

// Heightfield is a regular grid of heights generated from fractal noise. It
// is immutable once built and safe for concurrent use.
type Heightfield struct {
	resolution int
	cell       float32
	bounds     math32.Box3
	heights    []float32
}

func NewHeightfield(opts Options) (*Heightfield, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	half := opts.Size / 2
	h := &Heightfield{
		resolution: opts.Resolution,
		cell:       opts.Size / float32(opts.Resolution),
		heights:    make([]float32, (opts.Resolution+1)*(opts.Resolution+1)),
	}

	noise := newValueNoise(opts.Seed)
	minY, maxY := math32.Infinity, -math32.Infinity

	for z := 0; z <= opts.Resolution; z++ {
		for x := 0; x <= opts.Resolution; x++ {
			wx := -half + float32(x)*h.cell
			wz := -half + float32(z)*h.cell

			y := (noise.Fractal(wx, wz, opts.Noise)/2 + 0.5) * opts.MaxHeight
			h.heights[z*(opts.Resolution+1)+x] = y

			minY = math32.Min(minY, y)
			maxY = math32.Max(maxY, y)
		}
	}

	h.bounds = math32.B3(-half, minY, -half, half, maxY, half)
	return h, nil
}

func (h *Heightfield) Bounds() math32.Box3 {
	return h.bounds
}

func (h *Heightfield) at(x, z int) float32 {
	return h.heights[z*(h.resolution+1)+x]
}

// Height returns the bilinearly interpolated terrain height at (x, z). Points
// outside the terrain are clamped to its border.
func (h *Heightfield) Height(x, z float32) float32 {
	gx := (x - h.bounds.Min.X) / h.cell
	gz := (z - h.bounds.Min.Z) / h.cell

	max := float32(h.resolution)
	gx = math32.Clamp(gx, 0, max)
	gz = math32.Clamp(gz, 0, max)

	ix := int(math32.Floor(gx))
	iz := int(math32.Floor(gz))
	if ix >= h.resolution {
		ix = h.resolution - 1
	}
	if iz >= h.resolution {
		iz = h.resolution - 1
	}

	tx, tz := gx-float32(ix), gz-float32(iz)
	top := math32.Lerp(h.at(ix, iz), h.at(ix+1, iz), tx)
	bottom := math32.Lerp(h.at(ix, iz+1), h.at(ix+1, iz+1), tx)
	return math32.Lerp(top, bottom, tz)
}

// Normal returns the terrain surface normal at (x, z).
func (h *Heightfield) Normal(x, z float32) math32.Vector3 {
	d := h.cell
	left := h.Height(x-d, z)
	right := h.Height(x+d, z)
	back := h.Height(x, z-d)
	front := h.Height(x, z+d)
	return spatial.Normalized(math32.Vec3(left-right, 2*d, back-front))
}

// RayCast marches the ray across the terrain bounds and returns the first
// point where it goes below the surface. A miss is not an error.
func (h *Heightfield) RayCast(ctx context.Context, origin, direction math32.Vector3) (spatial.Hit, bool, error) {
	dir := spatial.Normalized(direction)
	if dir.Length() == 0 {
		instrumentRayCast(rayCastMiss)
		return spatial.Hit{}, false, nil
	}

	ray := spatial.Ray{Origin: origin, Direction: dir}
	near, far, ok := ray.IntersectBoxRange(h.bounds)
	if !ok {
		instrumentRayCast(rayCastMiss)
		return spatial.Hit{}, false, nil
	}

	above := func(t float32) float32 {
		p := ray.At(t)
		return p.Y - h.Height(p.X, p.Z)
	}

	step := h.cell / 2
	prev := near

	for i := 0; ; i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				instrumentRayCast(rayCastCanceled)
				return spatial.Hit{}, false, errors.New("ray cast canceled").
					WithType(ErrTypeCanceled).
					Wrap(err)
			}
		}

		t := near + float32(i)*step
		if t > far {
			t = far
		}

		if above(t) <= 0 {
			if t > prev {
				t = h.refine(above, prev, t)
			}

			p := ray.At(t)
			p.Y = h.Height(p.X, p.Z)
			instrumentRayCast(rayCastHit)
			return spatial.Hit{
				Position: p,
				Normal:   h.Normal(p.X, p.Z),
				Distance: t,
			}, true, nil
		}

		if t == far {
			break
		}
		prev = t
	}

	instrumentRayCast(rayCastMiss)
	return spatial.Hit{}, false, nil
}

// refine bisects [lo, hi] where above(lo) > 0 and above(hi) <= 0.
func (h *Heightfield) refine(above func(float32) float32, lo, hi float32) float32 {
	for i := 0; i < refineIterations; i++ {
		mid := (lo + hi) / 2
		if above(mid) <= 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi
}
