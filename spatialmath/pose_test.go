package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestNewPoseNormalizes(t *testing.T) {
	p := NewPose(r3.Vector{X: 1}, quat.Number{Real: 2, Imag: 0, Jmag: 0, Kmag: 2})
	test.That(t, QuatNorm(p.Orientation()), test.ShouldAlmostEqual, 1, 1e-12)

	zero := NewPose(r3.Vector{}, quat.Number{})
	test.That(t, zero.Orientation().Real, test.ShouldEqual, 1)
}

func TestTransformPointRoundTrip(t *testing.T) {
	p := NewPoseFromAxisAngle(r3.Vector{X: 1, Y: -2, Z: 0.5}, r3.Vector{X: 0, Y: 0, Z: 1}, math.Pi/3)
	pt := r3.Vector{X: 3, Y: 4, Z: 5}
	back := p.Invert().TransformPoint(p.TransformPoint(pt))
	test.That(t, back.X, test.ShouldAlmostEqual, pt.X, 1e-9)
	test.That(t, back.Y, test.ShouldAlmostEqual, pt.Y, 1e-9)
	test.That(t, back.Z, test.ShouldAlmostEqual, pt.Z, 1e-9)
}

func TestCompose(t *testing.T) {
	a := NewPoseFromAxisAngle(r3.Vector{X: 1, Y: 2, Z: 3}, r3.Vector{X: 1, Y: 0, Z: 0}, 0.4)
	b := NewPoseFromAxisAngle(r3.Vector{X: -0.5, Y: 0, Z: 2}, r3.Vector{X: 0, Y: 1, Z: 0}, -0.7)

	// Compose applies b first, then a
	pt := r3.Vector{X: 0.3, Y: -1, Z: 2}
	viaCompose := Compose(a, b).TransformPoint(pt)
	sequential := a.TransformPoint(b.TransformPoint(pt))
	test.That(t, viaCompose.X, test.ShouldAlmostEqual, sequential.X, 1e-9)
	test.That(t, viaCompose.Y, test.ShouldAlmostEqual, sequential.Y, 1e-9)
	test.That(t, viaCompose.Z, test.ShouldAlmostEqual, sequential.Z, 1e-9)

	identity := Compose(a, a.Invert())
	test.That(t, identity.Translation().Norm(), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, identity.AngleTo(NewZeroPose()), test.ShouldAlmostEqual, 0, 1e-9)
}

func TestWire(t *testing.T) {
	p := NewPoseFromAxisAngle(r3.Vector{X: 1, Y: 2, Z: 3}, r3.Vector{X: 0, Y: 0, Z: 1}, math.Pi/2)
	wire := p.Wire()
	test.That(t, wire[0], test.ShouldEqual, 1)
	test.That(t, wire[1], test.ShouldEqual, 2)
	test.That(t, wire[2], test.ShouldEqual, 3)
	test.That(t, wire[3], test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, wire[4], test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, wire[5], test.ShouldAlmostEqual, math.Sqrt2/2, 1e-12)
	test.That(t, wire[6], test.ShouldAlmostEqual, math.Sqrt2/2, 1e-12)

	zero := NewZeroPose().Wire()
	test.That(t, zero, test.ShouldResemble, [7]float64{0, 0, 0, 0, 0, 0, 1})
}

func TestQuatRotationMatrixRoundTrip(t *testing.T) {
	axes := []r3.Vector{
		{X: 0, Y: 0, Z: 1},
		{X: 1, Y: 0, Z: 0},
		{X: 1, Y: 1, Z: 1},
		{X: -2, Y: 0.5, Z: 1},
	}
	angles := []float64{0.1, math.Pi / 2, 2.5, -1.2}
	for i, axis := range axes {
		q := QuatFromAxisAngle(axis.Normalize(), angles[i])
		m := RotationMatrixFromQuat(q)
		q2, err := QuatFromRotationMatrix(m)
		test.That(t, err, test.ShouldBeNil)
		m2 := RotationMatrixFromQuat(q2)
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				test.That(t, m2.At(r, c), test.ShouldAlmostEqual, m.At(r, c), 1e-9)
			}
		}
	}
}

func TestRotateVectorByQuat(t *testing.T) {
	q := QuatFromAxisAngle(r3.Vector{X: 0, Y: 0, Z: 1}, math.Pi/2)
	rotated := RotateVectorByQuat(q, r3.Vector{X: 1, Y: 0, Z: 0})
	test.That(t, rotated.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, rotated.Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, rotated.Z, test.ShouldAlmostEqual, 0, 1e-12)
}

func TestExpSO3(t *testing.T) {
	identity := ExpSO3(r3.Vector{})
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			expected := 0.0
			if r == c {
				expected = 1.0
			}
			test.That(t, identity.At(r, c), test.ShouldAlmostEqual, expected, 1e-12)
		}
	}

	theta := 0.3
	m := ExpSO3(r3.Vector{X: 0, Y: 0, Z: theta})
	fromQuat := RotationMatrixFromQuat(QuatFromAxisAngle(r3.Vector{X: 0, Y: 0, Z: 1}, theta))
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			test.That(t, m.At(r, c), test.ShouldAlmostEqual, fromQuat.At(r, c), 1e-9)
		}
	}
}
