// Package spatialmath defines the rigid transform math used to represent camera poses.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a translation plus a unit quaternion orientation.
// Throughout the tracking core a camera pose is the camera-to-world transform,
// i.e. the translation is the camera center expressed in world coordinates.
type Pose struct {
	translation r3.Vector
	orientation quat.Number
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return Pose{orientation: quat.Number{Real: 1}}
}

// NewPose creates a pose from a translation and an orientation quaternion.
// The quaternion is normalized; a zero quaternion becomes the identity.
func NewPose(translation r3.Vector, orientation quat.Number) Pose {
	return Pose{translation, NormalizeQuat(orientation)}
}

// NewPoseFromAxisAngle creates a pose whose orientation is a rotation of
// theta radians about the given axis.
func NewPoseFromAxisAngle(translation, axis r3.Vector, theta float64) Pose {
	return Pose{translation, QuatFromAxisAngle(axis, theta)}
}

// NewPoseFromRotationMatrix creates a pose from a translation and a 3x3
// rotation matrix.
func NewPoseFromRotationMatrix(translation r3.Vector, rotation *mat.Dense) (Pose, error) {
	q, err := QuatFromRotationMatrix(rotation)
	if err != nil {
		return Pose{}, err
	}
	return Pose{translation, q}, nil
}

// Translation returns the translation component of the pose.
func (p Pose) Translation() r3.Vector {
	return p.translation
}

// Orientation returns the unit quaternion orientation of the pose.
func (p Pose) Orientation() quat.Number {
	return p.orientation
}

// TransformPoint applies the pose to a point: R*pt + t.
func (p Pose) TransformPoint(pt r3.Vector) r3.Vector {
	return RotateVectorByQuat(p.orientation, pt).Add(p.translation)
}

// Invert returns the inverse transform.
func (p Pose) Invert() Pose {
	qInv := quat.Conj(p.orientation)
	return Pose{RotateVectorByQuat(qInv, p.translation).Mul(-1), qInv}
}

// Compose returns the transform a∘b, i.e. the transform that applies b first
// and then a.
func Compose(a, b Pose) Pose {
	return Pose{
		translation: a.TransformPoint(b.translation),
		orientation: NormalizeQuat(quat.Mul(a.orientation, b.orientation)),
	}
}

// RotationMatrix returns the 3x3 rotation matrix of the pose orientation.
func (p Pose) RotationMatrix() *mat.Dense {
	return RotationMatrixFromQuat(p.orientation)
}

// Wire returns the pose in the 7-float wire layout [x y z qx qy qz qw].
func (p Pose) Wire() [7]float64 {
	return [7]float64{
		p.translation.X, p.translation.Y, p.translation.Z,
		p.orientation.Imag, p.orientation.Jmag, p.orientation.Kmag, p.orientation.Real,
	}
}

// AngleTo returns the rotation angle in radians between the orientations of
// two poses.
func (p Pose) AngleTo(o Pose) float64 {
	d := quat.Mul(quat.Conj(p.orientation), o.orientation)
	w := math.Abs(d.Real)
	if w > 1 {
		w = 1
	}
	return 2 * math.Acos(w)
}

// QuatNorm returns the norm of a quaternion.
func QuatNorm(q quat.Number) float64 {
	return math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// NormalizeQuat scales a quaternion to unit norm. A zero quaternion becomes
// the identity.
func NormalizeQuat(q quat.Number) quat.Number {
	n := QuatNorm(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// RotateVectorByQuat rotates a vector by a unit quaternion.
func RotateVectorByQuat(q quat.Number, v r3.Vector) r3.Vector {
	vq := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	rotated := quat.Mul(quat.Mul(q, vq), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// QuatFromAxisAngle returns the quaternion for a rotation of theta radians
// about the given axis.
func QuatFromAxisAngle(axis r3.Vector, theta float64) quat.Number {
	n := axis.Norm()
	if n == 0 {
		return quat.Number{Real: 1}
	}
	s := math.Sin(theta/2) / n
	return quat.Number{
		Real: math.Cos(theta / 2),
		Imag: axis.X * s,
		Jmag: axis.Y * s,
		Kmag: axis.Z * s,
	}
}

// QuatFromRotationVector returns the quaternion exp of a rotation vector
// (axis scaled by angle).
func QuatFromRotationVector(w r3.Vector) quat.Number {
	return QuatFromAxisAngle(w, w.Norm())
}

// RotationMatrixFromQuat returns the 3x3 rotation matrix for a unit quaternion.
func RotationMatrixFromQuat(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// QuatFromRotationMatrix converts a 3x3 rotation matrix into a unit
// quaternion using Shepperd's method.
func QuatFromRotationMatrix(m *mat.Dense) (quat.Number, error) {
	r, c := m.Dims()
	if r != 3 || c != 3 {
		return quat.Number{}, errors.Errorf("rotation matrix must be 3x3, got %dx%d", r, c)
	}
	m00, m01, m02 := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	m10, m11, m12 := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	m20, m21, m22 := m.At(2, 0), m.At(2, 1), m.At(2, 2)
	trace := m00 + m11 + m22

	var q quat.Number
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{
			Real: 0.25 / s,
			Imag: (m21 - m12) * s,
			Jmag: (m02 - m20) * s,
			Kmag: (m10 - m01) * s,
		}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1 + m00 - m11 - m22)
		q = quat.Number{
			Real: (m21 - m12) / s,
			Imag: 0.25 * s,
			Jmag: (m01 + m10) / s,
			Kmag: (m02 + m20) / s,
		}
	case m11 > m22:
		s := 2 * math.Sqrt(1 + m11 - m00 - m22)
		q = quat.Number{
			Real: (m02 - m20) / s,
			Imag: (m01 + m10) / s,
			Jmag: 0.25 * s,
			Kmag: (m12 + m21) / s,
		}
	default:
		s := 2 * math.Sqrt(1 + m22 - m00 - m11)
		q = quat.Number{
			Real: (m10 - m01) / s,
			Imag: (m02 + m20) / s,
			Jmag: (m12 + m21) / s,
			Kmag: 0.25 * s,
		}
	}
	return NormalizeQuat(q), nil
}

// ExpSO3 returns the 3x3 rotation matrix exp of a rotation vector via the
// Rodrigues formula.
func ExpSO3(w r3.Vector) *mat.Dense {
	theta := w.Norm()
	identity := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if theta < 1e-12 {
		return identity
	}
	k := w.Mul(1 / theta)
	kx := mat.NewDense(3, 3, []float64{
		0, -k.Z, k.Y,
		k.Z, 0, -k.X,
		-k.Y, k.X, 0,
	})
	var kx2 mat.Dense
	kx2.Mul(kx, kx)
	result := mat.NewDense(3, 3, nil)
	result.Scale(math.Sin(theta), kx)
	var tmp mat.Dense
	tmp.Scale(1-math.Cos(theta), &kx2)
	result.Add(result, &tmp)
	result.Add(result, identity)
	return result
}
