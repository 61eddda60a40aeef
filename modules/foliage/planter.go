package foliage

import (
	"context"
	"math/rand"

	"cogentcore.org/core/math32"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/spatial"
)

// Ground is the geometry plants are placed on.
type Ground interface {
	Bounds() math32.Box3

	// Casts a ray against the ground. A miss is not an error.
	RayCast(ctx context.Context, origin, direction math32.Vector3) (spatial.Hit, bool, error)
}

// DensityMap gives the placement weight in [0, 1] of each channel at a
// point.
type DensityMap interface {
	Sample(x, z float32) []float32
}

// DensityFunc is a function that satisfies DensityMap.
type DensityFunc func(x, z float32) []float32

func (f DensityFunc) Sample(x, z float32) []float32 {
	return f(x, z)
}

// PlantRequest describes the patch to populate.
type PlantRequest struct {
	Node     int
	Channel  int
	Box      math32.Box3
	Capacity int
	Seed     int64
}

// Planter computes the items of a patch. Plant runs outside of the update
// path and must honor ctx cancellation.
type Planter interface {
	Plant(ctx context.Context, req PlantRequest) ([]Item, error)
}

// PlanterFunc is a function that satisfies Planter.
type PlanterFunc func(ctx context.Context, req PlantRequest) ([]Item, error)

func (f PlanterFunc) Plant(ctx context.Context, req PlantRequest) ([]Item, error) {
	return f(ctx, req)
}

// Sampler plants items by casting rays down on the ground at random points
// of the patch, keeping each point with the probability given by the
// density map.
type Sampler struct {
	Ground  Ground
	Density DensityMap

	// The number of sampled points per patch. Defaults to the patch
	// capacity.
	Samples int

	MinScale float32
	MaxScale float32
}

func (s *Sampler) Plant(ctx context.Context, req PlantRequest) ([]Item, error) {
	if s.Ground == nil {
		return nil, errors.New("sampler has no ground").
			WithType(ErrTypePlantingFailed)
	}

	samples := s.Samples
	if samples <= 0 {
		samples = req.Capacity
	}

	minScale, maxScale := s.MinScale, s.MaxScale
	if maxScale <= 0 {
		minScale, maxScale = 0.75, 1.25
	}

	rnd := rand.New(rand.NewSource(req.Seed))
	size := req.Box.Size()
	top := math32.Max(s.Ground.Bounds().Max.Y, req.Box.Max.Y) + 1
	down := math32.Vec3(0, -1, 0)

	items := make([]Item, 0, req.Capacity)
	for i := 0; i < samples && len(items) < req.Capacity; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.New("planting canceled").
				WithType(ErrTypePlantingCanceled).
				Wrap(err)
		}

		x := req.Box.Min.X + rnd.Float32()*size.X
		z := req.Box.Min.Z + rnd.Float32()*size.Z
		keep := rnd.Float32()
		scale := math32.Lerp(minScale, maxScale, rnd.Float32())
		rotation := rnd.Float32() * 2 * math32.Pi

		if keep >= s.weight(x, z, req.Channel) {
			continue
		}

		hit, ok, err := s.Ground.RayCast(ctx, math32.Vec3(x, top, z), down)
		if err != nil {
			return nil, errors.New("ground ray cast failed").
				WithType(ErrTypePlantingFailed).
				WithTag("node_id", req.Node).
				WithTag("channel", req.Channel).
				Wrap(err)
		}
		if !ok || !req.Box.ContainsPoint(hit.Position) {
			continue
		}

		items = append(items, Item{
			Position: hit.Position,
			Normal:   hit.Normal,
			Scale:    scale,
			Rotation: rotation,
			Channel:  req.Channel,
		})
	}
	return items, nil
}

func (s *Sampler) weight(x, z float32, channel int) float32 {
	if s.Density == nil {
		return 1
	}

	weights := s.Density.Sample(x, z)
	if channel < 0 || channel >= len(weights) {
		return 0
	}
	return weights[channel]
}
