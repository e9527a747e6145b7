// Package spatialmath defines the rigid-body transforms used by the odometry pipeline.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// orthonormalTol is how far R*R^T may stray from identity before a matrix is rejected as a rotation.
const orthonormalTol = 1e-6

// RotationMatrix is a 3x3 orthonormal matrix with determinant +1, stored row major.
type RotationMatrix struct {
	mat [9]float64
}

// NewIdentityRotation returns the rotation that does nothing.
func NewIdentityRotation() RotationMatrix {
	return RotationMatrix{[9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewRotationMatrix creates a rotation from 9 row-major values. It fails if the values do not
// describe a proper rotation.
func NewRotationMatrix(m []float64) (RotationMatrix, error) {
	if len(m) != 9 {
		return RotationMatrix{}, errors.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	var rm RotationMatrix
	copy(rm.mat[:], m)
	if !rm.IsOrthonormal(orthonormalTol) {
		return RotationMatrix{}, errors.New("input is not an orthonormal matrix with determinant 1")
	}
	return rm, nil
}

// At returns the value in the rotation matrix at the given row and column.
func (rm RotationMatrix) At(row, col int) float64 {
	return rm.mat[row*3+col]
}

// Row returns the row of the rotation matrix as a vector.
func (rm RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[row*3], Y: rm.mat[row*3+1], Z: rm.mat[row*3+2]}
}

// Mul returns rm * other.
func (rm RotationMatrix) Mul(other RotationMatrix) RotationMatrix {
	var out RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += rm.mat[i*3+k] * other.mat[k*3+j]
			}
			out.mat[i*3+j] = sum
		}
	}
	return out
}

// Transpose returns the inverse rotation.
func (rm RotationMatrix) Transpose() RotationMatrix {
	m := rm.mat
	return RotationMatrix{[9]float64{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}}
}

// Apply rotates a vector.
func (rm RotationMatrix) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{X: rm.Row(0).Dot(v), Y: rm.Row(1).Dot(v), Z: rm.Row(2).Dot(v)}
}

// Det returns the determinant.
func (rm RotationMatrix) Det() float64 {
	return rm.Row(0).Dot(rm.Row(1).Cross(rm.Row(2)))
}

// IsOrthonormal reports whether R*R^T is identity within tol and det(R) is +1.
func (rm RotationMatrix) IsOrthonormal(tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.
			if i == j {
				want = 1
			}
			if math.Abs(rm.Row(i).Dot(rm.Row(j))-want) > tol {
				return false
			}
		}
	}
	return math.Abs(rm.Det()-1) <= tol
}

// Normalize projects the matrix back to the closest rotation using an SVD. Repeated
// compositions accumulate floating point drift, and this keeps R*R^T = I.
func (rm RotationMatrix) Normalize() RotationMatrix {
	var svd mat.SVD
	if ok := svd.Factorize(mat.NewDense(3, 3, rm.mat[:]), mat.SVDFull); !ok {
		return rm
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// flip the axis of the smallest singular value
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	var out RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.mat[i*3+j] = r.At(i, j)
		}
	}
	return out
}

// Angle returns the magnitude of the rotation in radians.
func (rm RotationMatrix) Angle() float64 {
	return so3Log(rm).Norm()
}

// Quaternion returns the unit quaternion describing this rotation.
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/matrixToQuaternion/
func (rm RotationMatrix) Quaternion() quat.Number {
	m := rm.mat
	trace := m[0] + m[4] + m[8]
	var q quat.Number
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{Real: 0.25 / s, Imag: (m[7] - m[5]) * s, Jmag: (m[2] - m[6]) * s, Kmag: (m[3] - m[1]) * s}
	case m[0] > m[4] && m[0] > m[8]:
		s := 2 * math.Sqrt(1+m[0]-m[4]-m[8])
		q = quat.Number{Real: (m[7] - m[5]) / s, Imag: 0.25 * s, Jmag: (m[1] + m[3]) / s, Kmag: (m[2] + m[6]) / s}
	case m[4] > m[8]:
		s := 2 * math.Sqrt(1+m[4]-m[0]-m[8])
		q = quat.Number{Real: (m[2] - m[6]) / s, Imag: (m[1] + m[3]) / s, Jmag: 0.25 * s, Kmag: (m[5] + m[7]) / s}
	default:
		s := 2 * math.Sqrt(1+m[8]-m[0]-m[4])
		q = quat.Number{Real: (m[3] - m[1]) / s, Imag: (m[2] + m[6]) / s, Jmag: (m[5] + m[7]) / s, Kmag: 0.25 * s}
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// skew returns the row-major cross product matrix [v]x such that [v]x * w = v x w.
func skew(v r3.Vector) [9]float64 {
	return [9]float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	}
}
