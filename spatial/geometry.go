package spatial

import (
	"cogentcore.org/core/math32"
	"github.com/go-gl/mathgl/mgl32"
)

func EqualWithEpsilon(a float32, b float32, epsilon float32) bool {
	return math32.Abs(a-b) <= epsilon
}

func VectorEqualWithEpsilon(a, b math32.Vector3, epsilon float32) bool {
	return EqualWithEpsilon(a.X, b.X, epsilon) &&
		EqualWithEpsilon(a.Y, b.Y, epsilon) &&
		EqualWithEpsilon(a.Z, b.Z, epsilon)
}

// DistanceSquared returns the squared euclidean distance between a and b.
func DistanceSquared(a, b math32.Vector3) float32 {
	d := a.Sub(b)
	return d.Dot(d)
}

func Cross(a, b math32.Vector3) math32.Vector3 {
	return math32.Vec3(a.Y*b.Z-a.Z*b.Y, a.Z*b.X-a.X*b.Z, a.X*b.Y-a.Y*b.X)
}

func Normalized(v math32.Vector3) math32.Vector3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.MulScalar(1 / l)
}

// Volume is a region of space that can be tested against node bounds.
// math32.Box3 satisfies it.
type Volume interface {
	IntersectsBox(box math32.Box3) bool
}

type sphereVolume struct {
	center math32.Vector3
	radius float32
}

// SphereVolume returns a volume matching every box closer than radius to
// center.
func SphereVolume(center math32.Vector3, radius float32) Volume {
	return sphereVolume{center: center, radius: radius}
}

func (s sphereVolume) IntersectsBox(box math32.Box3) bool {
	return box.DistanceToPoint(s.center) <= s.radius
}

type intersection []Volume

// Intersection returns a volume matching boxes that intersect every given
// volume. An intersection of no volumes matches everything.
func Intersection(volumes ...Volume) Volume {
	return intersection(volumes)
}

func (in intersection) IntersectsBox(box math32.Box3) bool {
	for _, v := range in {
		if !v.IntersectsBox(box) {
			return false
		}
	}
	return true
}

// Plane is a half-space: Normal·p + D = 0. Normal points inside.
type Plane struct {
	Normal math32.Vector3
	D      float32
}

// Distance returns the signed distance from pt to the plane, positive on
// the inside.
func (p Plane) Distance(pt math32.Vector3) float32 {
	return p.Normal.Dot(pt) + p.D
}

func normalizePlane(a, b, c, d float32) Plane {
	l := math32.Vec3(a, b, c).Length()
	if l == 0 {
		return Plane{}
	}
	return Plane{Normal: math32.Vec3(a/l, b/l, c/l), D: d / l}
}

// Frustum holds the six clip planes of a view frustum: left, right, bottom,
// top, near, far.
type Frustum struct {
	Planes [6]Plane
}

// FrustumFromMatrix extracts the normalized frustum planes of a
// view-projection matrix (Gribb/Hartmann).
func FrustumFromMatrix(vp mgl32.Mat4) Frustum {
	r0, r1, r2, r3 := vp.Row(0), vp.Row(1), vp.Row(2), vp.Row(3)

	var f Frustum
	f.Planes[0] = normalizePlane(r3[0]+r0[0], r3[1]+r0[1], r3[2]+r0[2], r3[3]+r0[3])
	f.Planes[1] = normalizePlane(r3[0]-r0[0], r3[1]-r0[1], r3[2]-r0[2], r3[3]-r0[3])
	f.Planes[2] = normalizePlane(r3[0]+r1[0], r3[1]+r1[1], r3[2]+r1[2], r3[3]+r1[3])
	f.Planes[3] = normalizePlane(r3[0]-r1[0], r3[1]-r1[1], r3[2]-r1[2], r3[3]-r1[3])
	f.Planes[4] = normalizePlane(r3[0]+r2[0], r3[1]+r2[1], r3[2]+r2[2], r3[3]+r2[3])
	f.Planes[5] = normalizePlane(r3[0]-r2[0], r3[1]-r2[1], r3[2]-r2[2], r3[3]-r2[3])
	return f
}

// IntersectsBox reports false only when the box is fully outside one of the
// planes. It uses the positive vertex of the box for each plane.
func (f Frustum) IntersectsBox(box math32.Box3) bool {
	for _, p := range f.Planes {
		v := box.Max
		if p.Normal.X < 0 {
			v.X = box.Min.X
		}
		if p.Normal.Y < 0 {
			v.Y = box.Min.Y
		}
		if p.Normal.Z < 0 {
			v.Z = box.Min.Z
		}
		if p.Distance(v) < 0 {
			return false
		}
	}
	return true
}

func (f Frustum) ContainsPoint(pt math32.Vector3) bool {
	for _, p := range f.Planes {
		if p.Distance(pt) < 0 {
			return false
		}
	}
	return true
}

// Ray is a half-line starting at Origin.
type Ray struct {
	Origin    math32.Vector3
	Direction math32.Vector3
}

func (r Ray) At(t float32) math32.Vector3 {
	return r.Origin.Add(r.Direction.MulScalar(t))
}

// Hit is the result of a ray cast.
type Hit struct {
	Position math32.Vector3
	Normal   math32.Vector3
	Distance float32
}

// IntersectBox returns the ray parameter at which the ray enters the box.
// A ray starting inside the box enters at 0.
func (r Ray) IntersectBox(box math32.Box3) (float32, bool) {
	near, _, ok := r.IntersectBoxRange(box)
	return near, ok
}

// IntersectBoxRange returns the ray parameters at which the ray enters and
// leaves the box.
func (r Ray) IntersectBoxRange(box math32.Box3) (near, far float32, ok bool) {
	near, far = 0, math32.Infinity

	origin := [3]float32{r.Origin.X, r.Origin.Y, r.Origin.Z}
	dir := [3]float32{r.Direction.X, r.Direction.Y, r.Direction.Z}
	lo := [3]float32{box.Min.X, box.Min.Y, box.Min.Z}
	hi := [3]float32{box.Max.X, box.Max.Y, box.Max.Z}

	for axis := 0; axis < 3; axis++ {
		if dir[axis] == 0 {
			if origin[axis] < lo[axis] || origin[axis] > hi[axis] {
				return -1, -1, false
			}
			continue
		}

		t0 := (lo[axis] - origin[axis]) / dir[axis]
		t1 := (hi[axis] - origin[axis]) / dir[axis]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > near {
			near = t0
		}
		if t1 < far {
			far = t1
		}
		if near > far {
			return -1, -1, false
		}
	}
	return near, far, true
}

// IntersectTriangle is a Möller–Trumbore ray/triangle test.
func (r Ray) IntersectTriangle(a, b, c math32.Vector3) (float32, bool) {
	const epsilon = 1e-7

	edge1 := b.Sub(a)
	edge2 := c.Sub(a)
	h := Cross(r.Direction, edge2)
	det := edge1.Dot(h)
	if math32.Abs(det) < epsilon {
		return -1, false
	}

	inv := 1 / det
	s := r.Origin.Sub(a)
	u := inv * s.Dot(h)
	if u < 0 || u > 1 {
		return -1, false
	}

	q := Cross(s, edge1)
	v := inv * r.Direction.Dot(q)
	if v < 0 || u+v > 1 {
		return -1, false
	}

	t := inv * edge2.Dot(q)
	if t < 0 {
		return -1, false
	}
	return t, true
}

func isFinite(v math32.Vector3) bool {
	for _, c := range [3]float32{v.X, v.Y, v.Z} {
		if math32.IsNaN(c) || math32.IsInf(c, 0) {
			return false
		}
	}
	return true
}
