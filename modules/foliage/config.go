package foliage

import (
	"time"

	"cogentcore.org/core/math32"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/featureflag"
)

const (
	ErrTypeInvalidConfig    = "foliage_invalid_config"
	ErrTypePlantingFailed   = "foliage_planting_failed"
	ErrTypePlantingCanceled = "foliage_planting_canceled"
	ErrTypeUnknownFormat    = "foliage_unknown_format"
	ErrTypeBufferAllocation = "foliage_buffer_allocation"
	ErrTypeInvariant        = "foliage_invariant_violation"
	ErrTypeClosed           = "foliage_closed"
)

// Config configures a Manager. Zero fields take their default value.
type Config struct {
	// The name reported in logs and metrics.
	Name string

	// The number of GPU buffers shared by all patches.
	PoolSize int

	// The maximum number of items in a patch, and so in a buffer.
	BufferCapacity int

	// The number of patches per leaf node.
	Channels int

	// Nodes farther than this from the viewpoint are not visible.
	VisibilityRadius float32

	// The minimum time and viewpoint displacement between two re-sorts of
	// the visible nodes.
	ResortInterval time.Duration
	ResortDistance float32

	// The maximum number of patches planting at the same time.
	MaxConcurrentPlanting int

	// Orders items and nodes far to near for blended drawing.
	Transparent bool

	Format VertexFormat

	// The time after which a patch that planted no items is planted again,
	// when FlagRetryEmptyPatches is set.
	EmptyRetryInterval time.Duration

	// The seed of the per patch random sources given to the planter.
	Seed int64

	FeatureFlags featureflag.FeatureFlag
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "foliage"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 16
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = 1024
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.VisibilityRadius == 0 {
		c.VisibilityRadius = 200
	}
	if c.ResortInterval == 0 {
		c.ResortInterval = time.Millisecond * 250
	}
	if c.ResortDistance == 0 {
		c.ResortDistance = 1
	}
	if c.MaxConcurrentPlanting == 0 {
		c.MaxConcurrentPlanting = 8
	}
	if c.EmptyRetryInterval == 0 {
		c.EmptyRetryInterval = time.Second * 10
	}
	if c.FeatureFlags == nil {
		c.FeatureFlags = featureflag.New(nil)
	}
	return c
}

func (c Config) validate() error {
	invalid := func(field string, v any) error {
		return errors.New("invalid foliage config").
			WithType(ErrTypeInvalidConfig).
			WithTag("field", field).
			WithTag("value", v)
	}

	switch {
	case c.PoolSize < 1:
		return invalid("pool_size", c.PoolSize)

	case c.BufferCapacity < 1:
		return invalid("buffer_capacity", c.BufferCapacity)

	case c.Channels < 1:
		return invalid("channels", c.Channels)

	case c.VisibilityRadius <= 0 || math32.IsNaN(c.VisibilityRadius):
		return invalid("visibility_radius", c.VisibilityRadius)

	case c.ResortInterval < 0:
		return invalid("resort_interval", c.ResortInterval)

	case c.ResortDistance < 0 || math32.IsNaN(c.ResortDistance):
		return invalid("resort_distance", c.ResortDistance)

	case c.MaxConcurrentPlanting < 1:
		return invalid("max_concurrent_planting", c.MaxConcurrentPlanting)

	case c.EmptyRetryInterval < 0:
		return invalid("empty_retry_interval", c.EmptyRetryInterval)

	case c.Format != FormatBillboard && c.Format != FormatInstance:
		return errors.New("unknown vertex format").
			WithType(ErrTypeUnknownFormat).
			WithTag("format", int(c.Format))
	}
	return nil
}
