package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

var testIntrinsics = &PinholeCameraIntrinsics{
	Width: 640, Height: 480,
	Fx: 500, Fy: 500, Ppx: 320, Ppy: 240,
}

// syntheticScene builds a cloud of 3D points in the first camera frame, at
// varying depths so the correspondences are not degenerate.
func syntheticScene() []r3.Vector {
	points := []r3.Vector{}
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			points = append(points, r3.Vector{
				X: -0.8 + 0.4*float64(i),
				Y: -0.6 + 0.3*float64(j),
				Z: 4 + 0.35*float64(i) + 0.2*float64(j) + 0.15*float64(i*j%3),
			})
		}
	}
	return points
}

// rotationAboutY returns the 3x3 rotation matrix for an angle about the y
// axis.
func rotationAboutY(theta float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

func projectScene(points []r3.Vector, pose *RelativePose) ([]r2.Point, []r2.Point) {
	pts1 := make([]r2.Point, len(points))
	pts2 := make([]r2.Point, len(points))
	for i, pt := range points {
		pts1[i] = testIntrinsics.PointToPixel(pt)
		pts2[i] = testIntrinsics.PointToPixel(TransformToSecondCamera(pose, pt))
	}
	return pts1, pts2
}

func TestEstimateRelativePose(t *testing.T) {
	truth := &RelativePose{
		Rotation:    rotationAboutY(0.05),
		Translation: r3.Vector{X: -0.3, Y: 0.02, Z: 0.05},
	}
	points := syntheticScene()
	pts1, pts2 := projectScene(points, truth)

	estimated, err := EstimateRelativePose(pts1, pts2, testIntrinsics.GetCameraMatrix())
	test.That(t, err, test.ShouldBeNil)

	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			test.That(t, estimated.Rotation.At(r, c), test.ShouldAlmostEqual, truth.Rotation.At(r, c), 1e-6)
		}
	}
	// translation is recovered up to scale
	estT := estimated.Translation.Normalize()
	truthT := truth.Translation.Normalize()
	test.That(t, estT.X, test.ShouldAlmostEqual, truthT.X, 1e-6)
	test.That(t, estT.Y, test.ShouldAlmostEqual, truthT.Y, 1e-6)
	test.That(t, estT.Z, test.ShouldAlmostEqual, truthT.Z, 1e-6)
}

func TestComputeFundamentalMatrixErrors(t *testing.T) {
	few := make([]r2.Point, MinFundamentalMatrixPoints-1)
	_, err := ComputeFundamentalMatrix(few, few)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ComputeFundamentalMatrix(make([]r2.Point, 9), make([]r2.Point, 8))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFundamentalMatrixEpipolarConstraint(t *testing.T) {
	truth := &RelativePose{
		Rotation:    rotationAboutY(-0.03),
		Translation: r3.Vector{X: 0.2, Y: -0.05, Z: 0},
	}
	pts1, pts2 := projectScene(syntheticScene(), truth)
	f, err := ComputeFundamentalMatrix(pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	for i := range pts1 {
		x1 := mat.NewDense(3, 1, []float64{pts1[i].X, pts1[i].Y, 1})
		var fx1 mat.Dense
		fx1.Mul(f, x1)
		residual := pts2[i].X*fx1.At(0, 0) + pts2[i].Y*fx1.At(1, 0) + fx1.At(2, 0)
		test.That(t, residual, test.ShouldAlmostEqual, 0, 1e-6)
	}
}

func TestTriangulatePoint(t *testing.T) {
	truth := &RelativePose{
		Rotation:    rotationAboutY(0.04),
		Translation: r3.Vector{X: -0.25, Y: 0, Z: 0},
	}
	for _, pt := range syntheticScene() {
		ray1 := r3.Vector{X: pt.X / pt.Z, Y: pt.Y / pt.Z, Z: 1}
		inSecond := TransformToSecondCamera(truth, pt)
		ray2 := r3.Vector{X: inSecond.X / inSecond.Z, Y: inSecond.Y / inSecond.Z, Z: 1}
		recovered, err := TriangulatePoint(truth, ray1, ray2)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, recovered.X, test.ShouldAlmostEqual, pt.X, 1e-6)
		test.That(t, recovered.Y, test.ShouldAlmostEqual, pt.Y, 1e-6)
		test.That(t, recovered.Z, test.ShouldAlmostEqual, pt.Z, 1e-6)
	}
}

func TestParallaxAngle(t *testing.T) {
	// a point straight ahead at depth 1 with a unit lateral baseline
	// subtends 45 degrees
	pose := &RelativePose{
		Rotation:    rotationAboutY(0),
		Translation: r3.Vector{X: -1, Y: 0, Z: 0},
	}
	angle := ParallaxAngle(pose, r3.Vector{X: 0, Y: 0, Z: 1})
	test.That(t, angle, test.ShouldAlmostEqual, math.Pi/4, 1e-9)

	// no baseline means no parallax
	zero := &RelativePose{Rotation: rotationAboutY(0), Translation: r3.Vector{}}
	test.That(t, ParallaxAngle(zero, r3.Vector{X: 0.3, Y: 0.1, Z: 2}), test.ShouldAlmostEqual, 0, 1e-12)
}

func TestPinholeProjection(t *testing.T) {
	px := testIntrinsics.PointToPixel(r3.Vector{X: 0, Y: 0, Z: 2})
	test.That(t, px.X, test.ShouldEqual, 320)
	test.That(t, px.Y, test.ShouldEqual, 240)

	ray := testIntrinsics.PixelToRay(r2.Point{X: 420, Y: 240})
	test.That(t, ray.X, test.ShouldAlmostEqual, 0.2, 1e-12)
	test.That(t, ray.Y, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, ray.Z, test.ShouldEqual, 1)

	test.That(t, testIntrinsics.InImage(r2.Point{X: 0, Y: 0}, 0), test.ShouldBeTrue)
	test.That(t, testIntrinsics.InImage(r2.Point{X: 640, Y: 0}, 0), test.ShouldBeFalse)
	test.That(t, testIntrinsics.InImage(r2.Point{X: 645, Y: 0}, 10), test.ShouldBeTrue)

	bad := &PinholeCameraIntrinsics{}
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
	test.That(t, testIntrinsics.CheckValid(), test.ShouldBeNil)
}
