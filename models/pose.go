package models

import (
	"math"

	"github.com/aukilabs/raido/voxel"
)

// Pose is a device pose: a world-space position and a unit quaternion
// orientation. The layout matches wire.Pose so the two convert directly.
type Pose struct {
	PX float64
	PY float64
	PZ float64
	RX float64
	RY float64
	RZ float64
	RW float64
}

// Origin returns the pose position.
func (p Pose) Origin() voxel.Point3 {
	return voxel.Point3{X: p.PX, Y: p.PY, Z: p.PZ}
}

// Transform maps a device-frame point into the world: rotate by the pose
// orientation, then translate to the pose position. A zero orientation is
// treated as identity and anything non-unit is normalized first.
func (p Pose) Transform(v voxel.Point3) voxel.Point3 {
	x, y, z, w := p.RX, p.RY, p.RZ, p.RW

	n := x*x + y*y + z*z + w*w
	if n == 0 {
		return voxel.Point3{X: v.X + p.PX, Y: v.Y + p.PY, Z: v.Z + p.PZ}
	}
	if math.Abs(n-1) > 1e-12 {
		s := 1 / math.Sqrt(n)
		x, y, z, w = x*s, y*s, z*s, w*s
	}

	tx := 2 * (y*v.Z - z*v.Y)
	ty := 2 * (z*v.X - x*v.Z)
	tz := 2 * (x*v.Y - y*v.X)

	return voxel.Point3{
		X: v.X + w*tx + (y*tz - z*ty) + p.PX,
		Y: v.Y + w*ty + (z*tx - x*tz) + p.PY,
		Z: v.Z + w*tz + (x*ty - y*tx) + p.PZ,
	}
}
