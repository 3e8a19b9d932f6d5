package host

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Pose is a decomposed transform: translation, unit rotation and per-axis
// scale. 2D transforms map onto it with z = 0, rotation about +Z and unit
// z scale.
type Pose struct {
	Translation mgl64.Vec3
	Rotation    mgl64.Quat
	Scale       mgl64.Vec3
}

// IdentityPose returns the pose of an untransformed node.
func IdentityPose() Pose {
	return Pose{Rotation: mgl64.QuatIdent(), Scale: mgl64.Vec3{1, 1, 1}}
}

// ApproxEqual compares component-wise within eps. q and -q describe the same
// rotation and compare equal.
func (p Pose) ApproxEqual(o Pose, eps float64) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(p.Translation[i]-o.Translation[i]) > eps || math.Abs(p.Scale[i]-o.Scale[i]) > eps {
			return false
		}
	}
	dot := p.Rotation.Dot(o.Rotation)
	return math.Abs(math.Abs(dot)-1) <= eps
}

// Transform3D is a 3x3 basis (columns are the local axes, scaled) plus origin.
type Transform3D struct {
	Basis  mgl64.Mat3
	Origin mgl64.Vec3
}

// IdentityTransform3D returns the identity transform.
func IdentityTransform3D() Transform3D {
	return Transform3D{Basis: mgl64.Ident3()}
}

// Decompose splits the basis into rotation and scale. A reflected basis is
// expressed as a negative x scale.
func (t Transform3D) Decompose() Pose {
	c0, c1, c2 := t.Basis.Col(0), t.Basis.Col(1), t.Basis.Col(2)
	sx, sy, sz := c0.Len(), c1.Len(), c2.Len()
	if t.Basis.Det() < 0 {
		sx = -sx
	}
	rot := mgl64.QuatIdent()
	if sx != 0 && sy != 0 && sz != 0 {
		m := mgl64.Mat3FromCols(c0.Mul(1/sx), c1.Mul(1/sy), c2.Mul(1/sz))
		rot = canonical(mgl64.Mat4ToQuat(m.Mat4()).Normalize())
	}
	return Pose{Translation: t.Origin, Rotation: rot, Scale: mgl64.Vec3{sx, sy, sz}}
}

// ComposeTransform3D is the inverse of Decompose.
func ComposeTransform3D(p Pose) Transform3D {
	r := p.Rotation.Normalize().Mat4().Mat3()
	return Transform3D{
		Basis: mgl64.Mat3FromCols(
			r.Col(0).Mul(p.Scale.X()),
			r.Col(1).Mul(p.Scale.Y()),
			r.Col(2).Mul(p.Scale.Z()),
		),
		Origin: p.Translation,
	}
}

// Settle returns the pose a node of dimension dim reports once its transform
// has been set from p. 3D and 2D transforms do not hold every pose exactly.
func Settle(p Pose, dim int) Pose {
	switch dim {
	case 3:
		return ComposeTransform3D(p).Decompose()
	case 2:
		return ComposeTransform2D(p).Decompose()
	default:
		return p
	}
}

// Transform2D holds a Node2D's position, rotation in radians and scale.
type Transform2D struct {
	Position mgl64.Vec2
	Rotation float64
	Scale    mgl64.Vec2
}

// IdentityTransform2D returns the identity transform.
func IdentityTransform2D() Transform2D {
	return Transform2D{Scale: mgl64.Vec2{1, 1}}
}

func (t Transform2D) Decompose() Pose {
	return Pose{
		Translation: mgl64.Vec3{t.Position.X(), t.Position.Y(), 0},
		Rotation:    canonical(mgl64.QuatRotate(t.Rotation, mgl64.Vec3{0, 0, 1})),
		Scale:       mgl64.Vec3{t.Scale.X(), t.Scale.Y(), 1},
	}
}

// ComposeTransform2D projects p onto the XY plane. Rotation about axes other
// than Z is dropped.
func ComposeTransform2D(p Pose) Transform2D {
	q := p.Rotation.Normalize()
	x, y, z, w := q.V.X(), q.V.Y(), q.V.Z(), q.W
	angle := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return Transform2D{
		Position: mgl64.Vec2{p.Translation.X(), p.Translation.Y()},
		Rotation: angle,
		Scale:    mgl64.Vec2{p.Scale.X(), p.Scale.Y()},
	}
}

// canonical keeps W non-negative so a rotation has one representation.
func canonical(q mgl64.Quat) mgl64.Quat {
	if q.W < 0 {
		return mgl64.Quat{W: -q.W, V: q.V.Mul(-1)}
	}
	return q
}
