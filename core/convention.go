package core

import "github.com/go-gl/mathgl/mgl64"

// External poses use the right-handed ROS convention (metres, X forward,
// Y left, Z up). Internal poses use the engine convention (centimetres,
// X forward, Y right, Z up). The two differ by a reflection of the Y axis
// and a unit scale.
const CentimetresPerMetre = 100.0

// ExternalToInternal converts a pose arriving at the service boundary into
// the internal world convention.
func ExternalToInternal(t Transform) Transform {
	return Transform{
		Position: mgl64.Vec3{t.Position.X(), -t.Position.Y(), t.Position.Z()}.Mul(CentimetresPerMetre),
		Rotation: reflectY(t.Rotation),
	}
}

// InternalToExternal is the exact inverse of ExternalToInternal.
func InternalToExternal(t Transform) Transform {
	return Transform{
		Position: mgl64.Vec3{t.Position.X(), -t.Position.Y(), t.Position.Z()}.Mul(1 / CentimetresPerMetre),
		Rotation: reflectY(t.Rotation),
	}
}

// VectorToExternal converts a free vector (e.g. a velocity) from internal to
// external convention.
func VectorToExternal(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{v.X(), -v.Y(), v.Z()}.Mul(1 / CentimetresPerMetre)
}

// VectorToInternal converts a free vector from external to internal convention.
func VectorToInternal(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{v.X(), -v.Y(), v.Z()}.Mul(CentimetresPerMetre)
}

// reflectY conjugates a rotation by the Y-axis mirror; it is its own inverse.
func reflectY(q mgl64.Quat) mgl64.Quat {
	return mgl64.Quat{W: q.W, V: mgl64.Vec3{-q.V.X(), q.V.Y(), -q.V.Z()}}
}
