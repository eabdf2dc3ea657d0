// Package kinematics reconstructs world-space joint positions from a parsed
// motion by forward kinematics.
package kinematics

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/mocapstudy/bvhcompare/internal/bvh"
)

// Transform is a 4x4 homogeneous transform. The zero value is not the
// identity; use Identity.
type Transform struct {
	m mgl64.Mat4
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{m: mgl64.Ident4()}
}

// Translation returns a pure translation by v.
func Translation(v mgl64.Vec3) Transform {
	return Transform{m: mgl64.Translate3D(v[0], v[1], v[2])}
}

// Rotation returns a right-handed rotation about axis by degrees.
func Rotation(axis bvh.Axis, degrees float64) Transform {
	rad := mgl64.DegToRad(degrees)
	switch axis {
	case bvh.AxisX:
		return Transform{m: mgl64.HomogRotate3DX(rad)}
	case bvh.AxisY:
		return Transform{m: mgl64.HomogRotate3DY(rad)}
	default:
		return Transform{m: mgl64.HomogRotate3DZ(rad)}
	}
}

// Compose returns t × local: local is applied first, then t.
func (t Transform) Compose(local Transform) Transform {
	return Transform{m: t.m.Mul4(local.m)}
}

// Apply transforms the point p.
func (t Transform) Apply(p mgl64.Vec3) mgl64.Vec3 {
	return t.m.Mul4x1(p.Vec4(1)).Vec3()
}

// Position returns the translation column.
func (t Transform) Position() mgl64.Vec3 {
	return mgl64.Vec3{t.m[12], t.m[13], t.m[14]}
}

// Translate adds delta along axis to the translation column in place.
func (t *Transform) Translate(axis bvh.Axis, delta float64) {
	t.m[12+int(axis)] += delta
}

// ApproxEqual compares two transforms element-wise within eps.
func (t Transform) ApproxEqual(o Transform, eps float64) bool {
	return t.m.ApproxEqualThreshold(o.m, eps)
}
