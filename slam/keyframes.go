package slam

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"

	"go.viam.com/monoslam/spatialmath"
	"go.viam.com/monoslam/transform"
	"go.viam.com/monoslam/vision/keypoints"
)

const (
	// maxFramesBetweenKeyframes forces a keyframe after this many tracked
	// frames regardless of quality.
	maxFramesBetweenKeyframes = 30
	// minFramesBetweenKeyframes throttles keyframe insertion.
	minFramesBetweenKeyframes = 3
	// keyframeTrackedRatio: a keyframe is inserted when the frame tracks
	// fewer than this fraction of the reference keyframe's landmarks.
	keyframeTrackedRatio = 0.75
	// minLandmarkObservations is the observation count below which a
	// landmark is culled.
	minLandmarkObservations = 2
	// redundantKeyframeCoverage: a keyframe is redundant when this fraction
	// of its landmarks is observed by at least three other keyframes.
	redundantKeyframeCoverage = 0.9
	// maxCullReprojErrPx culls landmarks whose reprojection error in any
	// observing keyframe exceeds this bound.
	maxCullReprojErrPx = 8.0
	// minTriangulationParallaxRad gates new-landmark triangulation between
	// keyframes.
	minTriangulationParallaxRad = 0.5 * math.Pi / 180
	// maxTriangulationReprojErrPx gates new landmarks on reprojection error.
	maxTriangulationReprojErrPx = 2.0
)

// keyframeManager decides when tracked frames become keyframes and maintains
// the keyframe/landmark structure of the map.
type keyframeManager struct {
	intrinsics          *transform.PinholeCameraIntrinsics
	matchCfg            *keypoints.MatchingConfig
	logger              golog.Logger
	framesSinceKeyframe int
}

func newKeyframeManager(intrinsics *transform.PinholeCameraIntrinsics, matchCfg *keypoints.MatchingConfig, logger golog.Logger) *keyframeManager {
	return &keyframeManager{intrinsics: intrinsics, matchCfg: matchCfg, logger: logger}
}

func (km *keyframeManager) reset() {
	km.framesSinceKeyframe = 0
}

// onFrameTracked advances the frame counter behind the insertion heuristics.
func (km *keyframeManager) onFrameTracked() {
	km.framesSinceKeyframe++
}

// needNewKeyframe applies the insertion heuristics: enough frames elapsed
// since the last keyframe, or tracking covisibility with the reference
// keyframe has decayed.
func (km *keyframeManager) needNewKeyframe(trackedInliers int, refKeyframe *Keyframe) bool {
	if refKeyframe == nil {
		return false
	}
	if km.framesSinceKeyframe >= maxFramesBetweenKeyframes {
		return true
	}
	if km.framesSinceKeyframe < minFramesBetweenKeyframes {
		return false
	}
	return float64(trackedInliers) < keyframeTrackedRatio*float64(refKeyframe.NumLandmarks())
}

// insertKeyframe promotes a tracked frame into the map, records its inlier
// observations, and triangulates new landmarks against the previous
// keyframe.
func (km *keyframeManager) insertKeyframe(localMap *LocalMap, frame *Frame, pose spatialmath.Pose, inliers []correspondence) *Keyframe {
	previous := localMap.LastKeyframe()
	kf := localMap.AddKeyframe(frame, pose)
	for _, corr := range inliers {
		localMap.AddObservation(corr.landmark, kf, corr.kpIdx)
	}
	km.framesSinceKeyframe = 0
	created := 0
	if previous != nil {
		created = km.triangulateNewLandmarks(localMap, previous, kf)
	}
	km.logger.Debugw("keyframe inserted",
		"keyframe", kf.ID, "observations", kf.NumLandmarks(), "new_landmarks", created)
	return kf
}

// triangulateNewLandmarks matches the unassigned keypoints of two keyframes
// and triangulates the pairs with sufficient parallax into new landmarks.
func (km *keyframeManager) triangulateNewLandmarks(localMap *LocalMap, kfA, kfB *Keyframe) int {
	freeA := kfA.unassignedKeypoints()
	freeB := kfB.unassignedKeypoints()
	if len(freeA) == 0 || len(freeB) == 0 {
		return 0
	}
	descsA := make(keypoints.Descriptors, len(freeA))
	for i, idx := range freeA {
		descsA[i] = kfA.Descriptors[idx]
	}
	descsB := make(keypoints.Descriptors, len(freeB))
	for i, idx := range freeB {
		descsB[i] = kfB.Descriptors[idx]
	}
	matches := keypoints.MatchDescriptors(descsA, descsB, km.matchCfg, km.logger)
	if matches == nil {
		return 0
	}

	// relative pose mapping camera-A coordinates into camera B
	relPose := spatialmath.Compose(kfB.Pose.Invert(), kfA.Pose)
	relative := &transform.RelativePose{
		Rotation:    relPose.RotationMatrix(),
		Translation: relPose.Translation(),
	}

	created := 0
	for _, match := range matches.Indices {
		idxA := freeA[match.Idx1]
		idxB := freeB[match.Idx2]
		kpA := kfA.KeyPoints[idxA]
		kpB := kfB.KeyPoints[idxB]
		pxA := r2.Point{X: float64(kpA.X), Y: float64(kpA.Y)}
		pxB := r2.Point{X: float64(kpB.X), Y: float64(kpB.Y)}
		rayA := km.intrinsics.PixelToRay(pxA)
		rayB := km.intrinsics.PixelToRay(pxB)
		point, err := transform.TriangulatePoint(relative, rayA, rayB)
		if err != nil || point.Z <= 0 {
			continue
		}
		inB := transform.TransformToSecondCamera(relative, point)
		if inB.Z <= 0 {
			continue
		}
		if transform.ParallaxAngle(relative, point) < minTriangulationParallaxRad {
			continue
		}
		reprojA := km.intrinsics.PointToPixel(point)
		reprojB := km.intrinsics.PointToPixel(inB)
		if math.Hypot(reprojA.X-pxA.X, reprojA.Y-pxA.Y) > maxTriangulationReprojErrPx ||
			math.Hypot(reprojB.X-pxB.X, reprojB.Y-pxB.Y) > maxTriangulationReprojErrPx {
			continue
		}
		world := kfA.Pose.TransformPoint(point)
		lm := localMap.AddLandmark(world, kfB.Descriptors[idxB])
		localMap.AddObservation(lm, kfA, idxA)
		localMap.AddObservation(lm, kfB, idxB)
		created++
	}
	return created
}

// cull removes landmarks observed by too few keyframes or with excessive
// reprojection error, then removes redundant keyframes whose observations
// are near-fully covered by their neighbors. Landmarks losing their last
// observer are removed in the same pass.
func (km *keyframeManager) cull(localMap *LocalMap) (int, int) {
	removedLandmarks := 0
	for id, lm := range localMap.landmarks {
		if lm.NumObservations() < minLandmarkObservations || km.worstReprojection(localMap, lm) > maxCullReprojErrPx {
			localMap.RemoveLandmark(id)
			removedLandmarks++
		}
	}

	removedKeyframes := 0
	for id, kf := range localMap.keyframes {
		if id == localMap.lastKeyframeID || kf.NumLandmarks() == 0 {
			continue
		}
		covered := 0
		for _, lmID := range kf.landmarks {
			lm, ok := localMap.Landmark(lmID)
			if !ok {
				continue
			}
			if lm.NumObservations() >= 4 { // observed by >= 3 other keyframes
				covered++
			}
		}
		if float64(covered) >= redundantKeyframeCoverage*float64(kf.NumLandmarks()) {
			localMap.RemoveKeyframe(id)
			removedKeyframes++
		}
	}

	// keyframe removal can strand landmarks below the observation floor
	for id, lm := range localMap.landmarks {
		if lm.NumObservations() < minLandmarkObservations {
			localMap.RemoveLandmark(id)
			removedLandmarks++
		}
	}
	return removedLandmarks, removedKeyframes
}

// worstReprojection returns the largest reprojection error of a landmark
// across its observing keyframes.
func (km *keyframeManager) worstReprojection(localMap *LocalMap, lm *Landmark) float64 {
	worst := 0.0
	for kfID, kpIdx := range lm.observations {
		kf, ok := localMap.Keyframe(kfID)
		if !ok || kpIdx >= len(kf.KeyPoints) {
			continue
		}
		inCam := kf.Pose.Invert().TransformPoint(lm.Position)
		if inCam.Z <= 0 {
			return math.Inf(1)
		}
		projected := km.intrinsics.PointToPixel(inCam)
		kp := kf.KeyPoints[kpIdx]
		err := math.Hypot(projected.X-float64(kp.X), projected.Y-float64(kp.Y))
		if err > worst {
			worst = err
		}
	}
	return worst
}
