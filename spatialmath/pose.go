package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform x -> R*x + t. The rotation is always kept orthonormal: poses are
// only built from validated rotations, exponentials and compositions, never from free scalars.
type Pose struct {
	rot   RotationMatrix
	trans r3.Vector
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return Pose{rot: NewIdentityRotation()}
}

// NewPose creates a pose from a rotation and a translation.
func NewPose(rot RotationMatrix, trans r3.Vector) Pose {
	return Pose{rot: rot, trans: trans}
}

// NewPoseFromPoint creates a pure translation.
func NewPoseFromPoint(trans r3.Vector) Pose {
	return Pose{rot: NewIdentityRotation(), trans: trans}
}

// NewPoseFromTwist is the SE(3) exponential map.
func NewPoseFromTwist(tw Twist) Pose {
	return Pose{
		rot:   so3Exp(tw.Rotation),
		trans: applyRaw(leftJacobian(tw.Rotation), tw.Translation),
	}
}

// Rotation returns the rotation part.
func (p Pose) Rotation() RotationMatrix {
	return p.rot
}

// Point returns the translation part.
func (p Pose) Point() r3.Vector {
	return p.trans
}

// Transform applies the pose to a point.
func (p Pose) Transform(pt r3.Vector) r3.Vector {
	return p.rot.Apply(pt).Add(p.trans)
}

// Invert returns the inverse transform.
func (p Pose) Invert() Pose {
	rt := p.rot.Transpose()
	return Pose{rot: rt, trans: rt.Apply(p.trans).Mul(-1)}
}

// Compose returns a*b, i.e. the transform that applies b first and then a.
func Compose(a, b Pose) Pose {
	rot := a.rot.Mul(b.rot)
	if !rot.IsOrthonormal(1e-10) {
		rot = rot.Normalize()
	}
	return Pose{rot: rot, trans: a.rot.Apply(b.trans).Add(a.trans)}
}

// PoseBetween returns the pose that takes a to b: a^-1 * b.
func PoseBetween(a, b Pose) Pose {
	return Compose(a.Invert(), b)
}

// Retract applies a small right-multiplicative perturbation, p * exp(tw). This is the only
// way optimizers update a pose, so the rotation stays on SO(3).
func (p Pose) Retract(tw Twist) Pose {
	return Compose(p, NewPoseFromTwist(tw))
}

// Log is the SE(3) logarithm, the inverse of NewPoseFromTwist.
func (p Pose) Log() Twist {
	phi := so3Log(p.rot)
	return Twist{Rotation: phi, Translation: applyRaw(leftJacobianInverse(phi), p.trans)}
}

// Quaternion returns the rotation as a unit quaternion.
func (p Pose) Quaternion() quat.Number {
	return p.rot.Quaternion()
}

// Matrix returns the homogeneous 4x4 matrix of the pose.
func (p Pose) Matrix() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, p.rot.At(i, j))
		}
	}
	m.Set(0, 3, p.trans.X)
	m.Set(1, 3, p.trans.Y)
	m.Set(2, 3, p.trans.Z)
	m.Set(3, 3, 1)
	return m
}

func (p Pose) String() string {
	aa := R3ToR4(so3Log(p.rot))
	return fmt.Sprintf("{X:%.6f Y:%.6f Z:%.6f Theta:%.6f RX:%.4f RY:%.4f RZ:%.4f}",
		p.trans.X, p.trans.Y, p.trans.Z, aa.Theta, aa.RX, aa.RY, aa.RZ)
}

// PoseAlmostEqual reports whether the translations differ by at most tol and the relative
// rotation angle is at most tol radians.
func PoseAlmostEqual(a, b Pose, tol float64) bool {
	if a.trans.Sub(b.trans).Norm() > tol {
		return false
	}
	return a.rot.Transpose().Mul(b.rot).Angle() <= tol
}

// TranslationError is the euclidean distance between the translations of two poses.
func TranslationError(a, b Pose) float64 {
	return a.trans.Sub(b.trans).Norm()
}

// RotationError is the angle in radians of the rotation taking a to b.
func RotationError(a, b Pose) float64 {
	angle := a.rot.Transpose().Mul(b.rot).Angle()
	if math.IsNaN(angle) {
		return math.Pi
	}
	return angle
}
