package slam

import (
	"math"
	"sort"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/monoslam/spatialmath"
	"go.viam.com/monoslam/transform"
	"go.viam.com/monoslam/vision/keypoints"
)

const (
	// minInitMatches is the number of descriptor matches two frames need
	// before a bootstrap is attempted.
	minInitMatches = 30
	// minInitDisplacementPx is the median keypoint displacement below which
	// a frame pair is treated as parallax-free and rejected.
	minInitDisplacementPx = 1.0
	// minInitParallaxRad is the median triangulation parallax angle required
	// to accept a bootstrap; below it the two-view geometry is
	// ill-conditioned.
	minInitParallaxRad = 0.5 * math.Pi / 180
	// minPositiveDepthFraction is the fraction of triangulated points that
	// must land in front of both cameras.
	minPositiveDepthFraction = 0.9
	// maxInitReprojErrPx gates triangulated points on reprojection error.
	maxInitReprojErrPx = 2.0
)

// initializer bootstraps the map from two monocular frames with sufficient
// parallax, fixing the global scale so that the median scene depth is 1.
type initializer struct {
	intrinsics *transform.PinholeCameraIntrinsics
	matchCfg   *keypoints.MatchingConfig
	logger     golog.Logger
	reference  *Frame
}

func newInitializer(intrinsics *transform.PinholeCameraIntrinsics, matchCfg *keypoints.MatchingConfig, logger golog.Logger) *initializer {
	return &initializer{intrinsics: intrinsics, matchCfg: matchCfg, logger: logger}
}

func (ini *initializer) reset() {
	ini.reference = nil
}

// tryInitialize attempts the two-keyframe bootstrap between the stored
// reference frame and the given frame. On success the map is populated with
// two keyframes and the triangulated landmarks, and the second keyframe's
// camera-to-world pose is returned.
func (ini *initializer) tryInitialize(frame *Frame, localMap *LocalMap) (spatialmath.Pose, bool) {
	if ini.reference == nil || len(ini.reference.KeyPoints) < minInitMatches {
		ini.reference = frame
		return spatialmath.Pose{}, false
	}
	ref := ini.reference
	matches := keypoints.MatchDescriptors(ref.Descriptors, frame.Descriptors, ini.matchCfg, ini.logger)
	if matches == nil || len(matches.Indices) < minInitMatches {
		// a richer frame makes a better reference
		if len(frame.KeyPoints) > len(ref.KeyPoints) {
			ini.reference = frame
		}
		return spatialmath.Pose{}, false
	}

	pts1 := make([]r2.Point, len(matches.Indices))
	pts2 := make([]r2.Point, len(matches.Indices))
	for i, match := range matches.Indices {
		kp1 := ref.KeyPoints[match.Idx1]
		kp2 := frame.KeyPoints[match.Idx2]
		pts1[i] = r2.Point{X: float64(kp1.X), Y: float64(kp1.Y)}
		pts2[i] = r2.Point{X: float64(kp2.X), Y: float64(kp2.Y)}
	}
	if medianDisplacement(pts1, pts2) < minInitDisplacementPx {
		ini.logger.Debugw("bootstrap rejected, no parallax between frames",
			"reference_ts", ref.Timestamp, "frame_ts", frame.Timestamp)
		return spatialmath.Pose{}, false
	}

	relative, err := transform.EstimateRelativePose(pts1, pts2, ini.intrinsics.GetCameraMatrix())
	if err != nil {
		ini.logger.Debugw("bootstrap pose estimation failed", "error", err)
		return spatialmath.Pose{}, false
	}
	rays1 := make([]r3.Vector, len(pts1))
	rays2 := make([]r3.Vector, len(pts2))
	for i := range pts1 {
		rays1[i] = ini.intrinsics.PixelToRay(pts1[i])
		rays2[i] = ini.intrinsics.PixelToRay(pts2[i])
	}
	points, ok, err := transform.TriangulatePoints(relative, rays1, rays2)
	if err != nil {
		return spatialmath.Pose{}, false
	}

	good := make([]bool, len(points))
	nGood := 0
	parallaxes := []float64{}
	depths := []float64{}
	for i := range points {
		if !ok[i] || points[i].Z <= 0 {
			continue
		}
		inSecond := transform.TransformToSecondCamera(relative, points[i])
		if inSecond.Z <= 0 {
			continue
		}
		reproj1 := ini.intrinsics.PointToPixel(points[i])
		reproj2 := ini.intrinsics.PointToPixel(inSecond)
		if math.Hypot(reproj1.X-pts1[i].X, reproj1.Y-pts1[i].Y) > maxInitReprojErrPx ||
			math.Hypot(reproj2.X-pts2[i].X, reproj2.Y-pts2[i].Y) > maxInitReprojErrPx {
			continue
		}
		good[i] = true
		nGood++
		parallaxes = append(parallaxes, transform.ParallaxAngle(relative, points[i]))
		depths = append(depths, points[i].Z)
	}
	if nGood < minInitMatches || float64(nGood) < minPositiveDepthFraction*float64(len(points)) {
		ini.logger.Debugw("bootstrap rejected, too few well-conditioned points",
			"good", nGood, "total", len(points))
		return spatialmath.Pose{}, false
	}
	if median(parallaxes) < minInitParallaxRad {
		ini.logger.Debugw("bootstrap rejected, insufficient parallax angle",
			"median_rad", median(parallaxes))
		return spatialmath.Pose{}, false
	}

	// fix the monocular scale: median scene depth becomes 1
	scale := 1.0
	if d := median(depths); d > 0 {
		scale = 1 / d
	}

	refPose := spatialmath.NewZeroPose()
	secondPose, err := worldPoseFromRelative(relative, scale)
	if err != nil {
		return spatialmath.Pose{}, false
	}

	kf1 := localMap.AddKeyframe(ref, refPose)
	kf2 := localMap.AddKeyframe(frame, secondPose)
	for i, match := range matches.Indices {
		if !good[i] {
			continue
		}
		lm := localMap.AddLandmark(points[i].Mul(scale), frame.Descriptors[match.Idx2])
		localMap.AddObservation(lm, kf1, match.Idx1)
		localMap.AddObservation(lm, kf2, match.Idx2)
	}
	ini.logger.Infow("map bootstrapped from two keyframes",
		"landmarks", localMap.NumLandmarks(), "median_parallax_rad", median(parallaxes))
	ini.reference = nil
	return secondPose, true
}

// worldPoseFromRelative converts the up-to-scale world-to-camera relative
// pose of the second view into its scaled camera-to-world pose.
func worldPoseFromRelative(relative *transform.RelativePose, scale float64) (spatialmath.Pose, error) {
	q, err := spatialmath.QuatFromRotationMatrix(relative.Rotation)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	worldToCam := spatialmath.NewPose(relative.Translation.Mul(scale), q)
	return worldToCam.Invert(), nil
}

func medianDisplacement(pts1, pts2 []r2.Point) float64 {
	displacements := make([]float64, len(pts1))
	for i := range pts1 {
		displacements[i] = math.Hypot(pts2[i].X-pts1[i].X, pts2[i].Y-pts1[i].Y)
	}
	return median(displacements)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
