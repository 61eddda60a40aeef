package foliage

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// VertexFormat selects how patch items are laid out in a buffer.
type VertexFormat int

const (
	// Position, scale and channel: 20 bytes per item.
	FormatBillboard VertexFormat = iota

	// Position, normal, scale, rotation and channel: 36 bytes per item.
	FormatInstance
)

func (f VertexFormat) String() string {
	switch f {
	case FormatBillboard:
		return "billboard"
	case FormatInstance:
		return "instance"
	default:
		return "unknown"
	}
}

func ParseVertexFormat(s string) (VertexFormat, error) {
	switch strings.ToLower(s) {
	case "billboard":
		return FormatBillboard, nil
	case "instance":
		return FormatInstance, nil
	default:
		return FormatBillboard, errors.New("unknown vertex format").
			WithType(ErrTypeUnknownFormat).
			WithTag("format", s)
	}
}

// Drawable encodes items into the vertex layout of a format.
type Drawable interface {
	Format() VertexFormat

	// The encoded size of an item, in bytes.
	Stride() int

	// Appends the encoded items to dst.
	Encode(dst []byte, items []Item) []byte
}

func NewDrawable(f VertexFormat) (Drawable, error) {
	switch f {
	case FormatBillboard:
		return billboardDrawable{}, nil
	case FormatInstance:
		return instanceDrawable{}, nil
	default:
		return nil, errors.New("unknown vertex format").
			WithType(ErrTypeUnknownFormat).
			WithTag("format", int(f))
	}
}

type billboardDrawable struct{}

func (billboardDrawable) Format() VertexFormat {
	return FormatBillboard
}

func (billboardDrawable) Stride() int {
	return 20
}

func (billboardDrawable) Encode(dst []byte, items []Item) []byte {
	for _, it := range items {
		dst = appendFloat32(dst, it.Position.X, it.Position.Y, it.Position.Z, it.Scale)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(it.Channel))
	}
	return dst
}

type instanceDrawable struct{}

func (instanceDrawable) Format() VertexFormat {
	return FormatInstance
}

func (instanceDrawable) Stride() int {
	return 36
}

func (instanceDrawable) Encode(dst []byte, items []Item) []byte {
	for _, it := range items {
		dst = appendFloat32(dst,
			it.Position.X, it.Position.Y, it.Position.Z,
			it.Normal.X, it.Normal.Y, it.Normal.Z,
			it.Scale, it.Rotation,
		)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(it.Channel))
	}
	return dst
}

func appendFloat32(dst []byte, values ...float32) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}
