package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// below this angle the closed form expressions switch to their Taylor expansions.
const smallAngle = 1e-8

// Twist is the minimal 6 parameter description of a rigid body motion: a rotation vector
// (axis times angle, radians) followed by a translation-like vector in the tangent space.
type Twist struct {
	Rotation    r3.Vector
	Translation r3.Vector
}

// NewTwist builds a twist from [phi_x, phi_y, phi_z, rho_x, rho_y, rho_z].
func NewTwist(v []float64) (Twist, error) {
	if len(v) != 6 {
		return Twist{}, errors.Errorf("twist needs 6 elements, got %d", len(v))
	}
	return Twist{
		Rotation:    r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		Translation: r3.Vector{X: v[3], Y: v[4], Z: v[5]},
	}, nil
}

// Vector returns the twist as [phi_x, phi_y, phi_z, rho_x, rho_y, rho_z].
func (tw Twist) Vector() []float64 {
	return []float64{
		tw.Rotation.X, tw.Rotation.Y, tw.Rotation.Z,
		tw.Translation.X, tw.Translation.Y, tw.Translation.Z,
	}
}

// Norm is the euclidean norm of the 6 parameters.
func (tw Twist) Norm() float64 {
	return math.Sqrt(tw.Rotation.Norm2() + tw.Translation.Norm2())
}

// so3Exp maps a rotation vector to a rotation matrix with the Rodrigues formula.
func so3Exp(phi r3.Vector) RotationMatrix {
	theta := phi.Norm()
	a, b := 1., 0.5
	if theta > smallAngle {
		a = math.Sin(theta) / theta
		b = (1 - math.Cos(theta)) / (theta * theta)
	}
	k := skew(phi)
	k2 := mulRaw(k, k)
	out := NewIdentityRotation()
	for i := range out.mat {
		out.mat[i] += a*k[i] + b*k2[i]
	}
	return out
}

// so3Log is the inverse of so3Exp, returning a rotation vector with angle in [0, pi].
func so3Log(rm RotationMatrix) r3.Vector {
	m := rm.mat
	cosTheta := math.Max(-1, math.Min(1, (m[0]+m[4]+m[8]-1)/2))
	theta := math.Acos(cosTheta)
	vee := r3.Vector{X: m[7] - m[5], Y: m[2] - m[6], Z: m[3] - m[1]}

	switch {
	case theta < smallAngle:
		return vee.Mul(0.5)
	case math.Pi-theta < 1e-6:
		// R + I = 2 n n^T around a half turn; take the best conditioned column.
		col := 0
		if m[4] > m[col*4] {
			col = 1
		}
		if m[8] > m[col*4] {
			col = 2
		}
		axis := r3.Vector{X: m[col], Y: m[3+col], Z: m[6+col]}
		switch col {
		case 0:
			axis.X++
		case 1:
			axis.Y++
		default:
			axis.Z++
		}
		return axis.Normalize().Mul(theta)
	default:
		return vee.Mul(theta / (2 * math.Sin(theta)))
	}
}

// leftJacobian is the V matrix of the SE(3) exponential: t = V * rho.
func leftJacobian(phi r3.Vector) [9]float64 {
	theta := phi.Norm()
	b, c := 0.5, 1./6
	if theta > smallAngle {
		b = (1 - math.Cos(theta)) / (theta * theta)
		c = (theta - math.Sin(theta)) / (theta * theta * theta)
	}
	k := skew(phi)
	k2 := mulRaw(k, k)
	out := [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	for i := range out {
		out[i] += b*k[i] + c*k2[i]
	}
	return out
}

// leftJacobianInverse is V^-1.
func leftJacobianInverse(phi r3.Vector) [9]float64 {
	theta := phi.Norm()
	c := 1. / 12
	if theta > 1e-5 {
		c = (1 - theta*math.Sin(theta)/(2*(1-math.Cos(theta)))) / (theta * theta)
	}
	k := skew(phi)
	k2 := mulRaw(k, k)
	out := [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	for i := range out {
		out[i] += -0.5*k[i] + c*k2[i]
	}
	return out
}

func mulRaw(a, b [9]float64) [9]float64 {
	return RotationMatrix{a}.Mul(RotationMatrix{b}).mat
}

func applyRaw(m [9]float64, v r3.Vector) r3.Vector {
	return RotationMatrix{m}.Apply(v)
}
