package models

import (
	"cogentcore.org/core/math32"
	"github.com/aukilabs/ingwaz/spatial"
	"github.com/go-gl/mathgl/mgl32"
)

// Viewer is the camera a frame is rendered from.
type Viewer struct {
	Position math32.Vector3 `json:"position"`
	Target   math32.Vector3 `json:"target"`
	Up       math32.Vector3 `json:"up"`

	// Vertical field of view, in degrees.
	FOV    float32 `json:"fov"`
	Aspect float32 `json:"aspect"`
	Near   float32 `json:"near"`
	Far    float32 `json:"far"`
}

func DefaultViewer() Viewer {
	return Viewer{
		Target: math32.Vec3(0, 0, -1),
		Up:     math32.Vec3(0, 1, 0),
		FOV:    60,
		Aspect: 16.0 / 9.0,
		Near:   0.1,
		Far:    1000,
	}
}

func (v Viewer) withDefaults() Viewer {
	d := DefaultViewer()
	if v.Up == (math32.Vector3{}) {
		v.Up = d.Up
	}
	if v.FOV <= 0 {
		v.FOV = d.FOV
	}
	if v.Aspect <= 0 {
		v.Aspect = d.Aspect
	}
	if v.Near <= 0 {
		v.Near = d.Near
	}
	if v.Far <= v.Near {
		v.Far = v.Near + d.Far
	}
	if v.Target == v.Position {
		v.Target = v.Position.Add(d.Target)
	}
	return v
}

func (v Viewer) View() mgl32.Mat4 {
	v = v.withDefaults()
	return mgl32.LookAtV(toVec3(v.Position), toVec3(v.Target), toVec3(v.Up))
}

func (v Viewer) Projection() mgl32.Mat4 {
	v = v.withDefaults()
	return mgl32.Perspective(mgl32.DegToRad(v.FOV), v.Aspect, v.Near, v.Far)
}

func (v Viewer) Frustum() spatial.Frustum {
	return spatial.FrustumFromMatrix(v.Projection().Mul4(v.View()))
}

func toVec3(v math32.Vector3) mgl32.Vec3 {
	return mgl32.Vec3{v.X, v.Y, v.Z}
}

// CameraPath gives the viewer of each frame.
type CameraPath interface {
	At(frame uint64) Viewer
}

// CameraPathFunc is a function that satisfies CameraPath.
type CameraPathFunc func(frame uint64) Viewer

func (f CameraPathFunc) At(frame uint64) Viewer {
	return f(frame)
}

// OrbitPath flies the camera in a circle around Center, looking along the
// direction of travel and slightly downward.
type OrbitPath struct {
	Center        math32.Vector3
	Radius        float32
	Height        float32
	FramesPerTurn uint64

	// The lens settings. Position and Target are ignored.
	Lens Viewer
}

func (p OrbitPath) At(frame uint64) Viewer {
	turn := p.FramesPerTurn
	if turn == 0 {
		turn = 1
	}

	angle := 2 * math32.Pi * float32(frame%turn) / float32(turn)
	sin, cos := math32.Sin(angle), math32.Cos(angle)

	v := p.Lens
	v.Position = p.Center.Add(math32.Vec3(cos*p.Radius, p.Height, sin*p.Radius))
	v.Target = v.Position.Add(math32.Vec3(-sin, -0.25, cos))
	return v.withDefaults()
}
