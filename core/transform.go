package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Transform is a rigid pose: a translation plus a unit-quaternion rotation.
// Scale is not modelled.
type Transform struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// Identity returns the identity transform (origin, no rotation).
func Identity() Transform {
	return Transform{Rotation: mgl64.QuatIdent()}
}

// NewTransform builds a transform from position and rotation. The rotation is
// normalised; a zero quaternion becomes the identity.
func NewTransform(pos mgl64.Vec3, rot mgl64.Quat) Transform {
	return Transform{Position: pos, Rotation: normalize(rot)}
}

// Normalized returns t with its rotation re-normalised.
func (t Transform) Normalized() Transform {
	t.Rotation = normalize(t.Rotation)
	return t
}

// ApproxEqual reports whether two transforms describe the same pose within eps.
// q and -q are treated as the same orientation.
func (t Transform) ApproxEqual(other Transform, eps float64) bool {
	if !t.Position.ApproxEqualThreshold(other.Position, eps) {
		return false
	}
	a := normalize(t.Rotation)
	b := normalize(other.Rotation)
	return math.Abs(a.Dot(b)) >= 1-eps
}

// ToRelative expresses world in the coordinate space of ref:
//
//	rel.rot = inv(ref.rot) * world.rot
//	rel.pos = inv(ref.rot) * (world.pos - ref.pos)
//
// ref's rotation is normalised before use and the result is re-normalised.
func ToRelative(world, ref Transform) Transform {
	refRot := normalize(ref.Rotation)
	inv := refRot.Inverse()
	return Transform{
		Position: inv.Rotate(world.Position.Sub(ref.Position)),
		Rotation: normalize(inv.Mul(world.Rotation)),
	}
}

// ToWorld is the inverse of ToRelative: rel is applied first, then ref as the
// outer transform.
//
//	world.rot = ref.rot * rel.rot
//	world.pos = ref.rot * rel.pos + ref.pos
func ToWorld(rel, ref Transform) Transform {
	refRot := normalize(ref.Rotation)
	return Transform{
		Position: refRot.Rotate(rel.Position).Add(ref.Position),
		Rotation: normalize(refRot.Mul(rel.Rotation)),
	}
}

func normalize(q mgl64.Quat) mgl64.Quat {
	if q.W == 0 && q.V.X() == 0 && q.V.Y() == 0 && q.V.Z() == 0 {
		return mgl64.QuatIdent()
	}
	return q.Normalize()
}
