package slam

import (
	"image"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/monoslam/spatialmath"
	"go.viam.com/monoslam/transform"
	"go.viam.com/monoslam/vision/keypoints"
)

var trackerTestIntrinsics = &transform.PinholeCameraIntrinsics{
	Width: 640, Height: 480,
	Fx: 500, Fy: 500, Ppx: 320, Ppy: 240,
}

// landmarkGrid returns world points spread over the field of view at varying
// depths.
func landmarkGrid() []r3.Vector {
	points := []r3.Vector{}
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			points = append(points, r3.Vector{
				X: -1 + 0.4*float64(i),
				Y: -0.75 + 0.3*float64(j),
				Z: 4 + 0.3*float64(i) + 0.2*float64(j),
			})
		}
	}
	return points
}

func uniqueDescriptor(i int) keypoints.Descriptor {
	return keypoints.Descriptor{uint64(i)*2654435761 + 1, uint64(i)}
}

// projectFrame builds a frame whose keypoints are the pixel projections of
// the world points through the given camera-to-world pose.
func projectFrame(points []r3.Vector, pose spatialmath.Pose, timestamp float64) *Frame {
	worldToCam := pose.Invert()
	kps := make(keypoints.KeyPoints, len(points))
	descs := make(keypoints.Descriptors, len(points))
	for i, pt := range points {
		px := trackerTestIntrinsics.PointToPixel(worldToCam.TransformPoint(pt))
		kps[i] = image.Point{X: int(math.Round(px.X)), Y: int(math.Round(px.Y))}
		descs[i] = uniqueDescriptor(i)
	}
	return &Frame{
		Timestamp: timestamp, Width: 640, Height: 480,
		KeyPoints: kps, Descriptors: descs,
	}
}

// trackerTestMap builds a map with one keyframe at the origin observing all
// grid landmarks.
func trackerTestMap(points []r3.Vector) (*LocalMap, *Keyframe) {
	m := NewLocalMap()
	kf := m.AddKeyframe(projectFrame(points, spatialmath.NewZeroPose(), 0), spatialmath.NewZeroPose())
	for i, pt := range points {
		lm := m.AddLandmark(pt, uniqueDescriptor(i))
		m.AddObservation(lm, kf, i)
	}
	return m, kf
}

func TestOptimizePose(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tr := newTracker(trackerTestIntrinsics, logger)
	points := landmarkGrid()
	m, _ := trackerTestMap(points)

	truth := spatialmath.NewPoseFromAxisAngle(
		r3.Vector{X: 0.08, Y: -0.03, Z: 0.02}, r3.Vector{X: 0, Y: 1, Z: 0}, 0.01)
	worldToCam := truth.Invert()

	// exact correspondences converge back to the true pose
	corrs := make([]correspondence, 0, len(points))
	for i, pt := range points {
		lm, ok := m.Landmark(i)
		test.That(t, ok, test.ShouldBeTrue)
		px := trackerTestIntrinsics.PointToPixel(worldToCam.TransformPoint(pt))
		corrs = append(corrs, correspondence{landmark: lm, kpIdx: i, pixel: r2.Point{X: px.X, Y: px.Y}})
	}
	refined, inlierMask := tr.optimizePose(spatialmath.NewZeroPose(), corrs, gaussNewtonIterations)
	test.That(t, refined.Translation().X, test.ShouldAlmostEqual, truth.Translation().X, 1e-6)
	test.That(t, refined.Translation().Y, test.ShouldAlmostEqual, truth.Translation().Y, 1e-6)
	test.That(t, refined.Translation().Z, test.ShouldAlmostEqual, truth.Translation().Z, 1e-6)
	test.That(t, refined.AngleTo(truth), test.ShouldAlmostEqual, 0, 1e-6)
	for _, ok := range inlierMask {
		test.That(t, ok, test.ShouldBeTrue)
	}
}

func TestTrack(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tr := newTracker(trackerTestIntrinsics, logger)
	points := landmarkGrid()
	m, kf := trackerTestMap(points)

	truth := spatialmath.NewPoseFromAxisAngle(
		r3.Vector{X: 0.08, Y: -0.03, Z: 0.02}, r3.Vector{X: 0, Y: 1, Z: 0}, 0.005)
	frame := projectFrame(points, truth, 1)

	result, err := tr.track(frame, m, spatialmath.NewZeroPose(), kf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(result.inliers), test.ShouldBeGreaterThanOrEqualTo, minTrackingInliers)
	// keypoints are rounded to integer pixels, so recovery is approximate
	test.That(t, result.pose.Translation().X, test.ShouldAlmostEqual, truth.Translation().X, 0.02)
	test.That(t, result.pose.Translation().Y, test.ShouldAlmostEqual, truth.Translation().Y, 0.02)
	test.That(t, result.pose.Translation().Z, test.ShouldAlmostEqual, truth.Translation().Z, 0.05)
	test.That(t, result.pose.AngleTo(truth), test.ShouldBeLessThan, 0.01)
}

func TestTrackFailsWithoutMatches(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tr := newTracker(trackerTestIntrinsics, logger)
	points := landmarkGrid()
	m, kf := trackerTestMap(points)

	// a frame with too few keypoints cannot be tracked
	sparse := projectFrame(points[:5], spatialmath.NewZeroPose(), 1)
	_, err := tr.track(sparse, m, spatialmath.NewZeroPose(), kf)
	test.That(t, err, test.ShouldBeError, errTrackingFailed)

	// a frame whose keypoints are all far from the predictions cannot be
	// tracked either
	far := projectFrame(points, spatialmath.NewPose(r3.Vector{X: 3}, spatialmath.NewZeroPose().Orientation()), 1)
	_, err = tr.track(far, m, spatialmath.NewZeroPose(), kf)
	test.That(t, err, test.ShouldBeError, errTrackingFailed)
}
