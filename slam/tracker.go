package slam

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/monoslam/spatialmath"
	"go.viam.com/monoslam/transform"
	"go.viam.com/monoslam/vision/keypoints"
)

const (
	// minTrackingInliers is the minimum number of correspondences that must
	// survive the robust fit for a frame to count as tracked. Below it the
	// tracker declares failure and leaves the previous pose untouched.
	minTrackingInliers = 15
	// minTrackingMatches is the minimum number of projection-window matches
	// needed before optimization is attempted at all.
	minTrackingMatches = 20
	// searchWindowPx is the radius around a projected landmark within which
	// frame keypoints are considered as match candidates.
	searchWindowPx = 16.0
	// maxMatchHamming is the maximum descriptor distance for a projection
	// match (out of 256 bits).
	maxMatchHamming = 64
	// huberDeltaPx is the residual norm beyond which the Huber loss starts
	// downweighting a correspondence.
	huberDeltaPx = 3.0
	// maxReprojErrPx is the reprojection error bound for a correspondence to
	// count as an inlier after optimization.
	maxReprojErrPx = 5.0
	// gaussNewtonIterations bounds the pose refinement loop.
	gaussNewtonIterations = 10
)

// correspondence pairs a map landmark with the frame keypoint it matched.
type correspondence struct {
	landmark *Landmark
	kpIdx    int
	pixel    r2.Point
}

// trackResult is a successfully tracked frame pose with its surviving
// correspondences.
type trackResult struct {
	pose    spatialmath.Pose
	inliers []correspondence
}

// tracker estimates frame poses against the local map.
type tracker struct {
	intrinsics *transform.PinholeCameraIntrinsics
	logger     golog.Logger
}

func newTracker(intrinsics *transform.PinholeCameraIntrinsics, logger golog.Logger) *tracker {
	return &tracker{intrinsics: intrinsics, logger: logger}
}

// track estimates the pose of a frame: active landmarks are projected into
// the frame through the predicted pose, matched to extracted keypoints by
// descriptor distance within a search window, and the pose is refined by
// minimizing the reprojection error with a Huber-weighted Gauss-Newton
// solver. It fails without mutating anything when too few correspondences
// survive.
func (t *tracker) track(frame *Frame, localMap *LocalMap, predicted spatialmath.Pose, refKeyframe *Keyframe) (*trackResult, error) {
	candidates := localMap.ActiveLandmarks(refKeyframe)
	corrs := t.matchByProjection(frame, candidates, predicted)
	if len(corrs) < minTrackingMatches {
		t.logger.Debugw("not enough projection matches", "matches", len(corrs))
		return nil, errTrackingFailed
	}
	pose, inlierMask := t.optimizePose(predicted, corrs, gaussNewtonIterations)
	inliers := make([]correspondence, 0, len(corrs))
	for i, ok := range inlierMask {
		if ok {
			inliers = append(inliers, corrs[i])
		}
	}
	if len(inliers) < minTrackingInliers {
		t.logger.Debugw("not enough inliers after robust fit", "inliers", len(inliers))
		return nil, errTrackingFailed
	}
	return &trackResult{pose: pose, inliers: inliers}, nil
}

// matchByProjection projects landmarks into the frame through the given pose
// and pairs each with the closest-descriptor keypoint inside the search
// window.
func (t *tracker) matchByProjection(frame *Frame, candidates []*Landmark, pose spatialmath.Pose) []correspondence {
	worldToCam := pose.Invert()
	corrs := []correspondence{}
	usedKeypoints := map[int]bool{}
	for _, lm := range candidates {
		inCam := worldToCam.TransformPoint(lm.Position)
		if inCam.Z <= 0 {
			continue
		}
		projected := t.intrinsics.PointToPixel(inCam)
		if !t.intrinsics.InImage(projected, searchWindowPx) {
			continue
		}
		bestIdx, bestDist := -1, maxMatchHamming
		for i, kp := range frame.KeyPoints {
			if usedKeypoints[i] {
				continue
			}
			dx := float64(kp.X) - projected.X
			dy := float64(kp.Y) - projected.Y
			if dx*dx+dy*dy > searchWindowPx*searchWindowPx {
				continue
			}
			d, err := keypoints.HammingDistance(lm.Descriptor, frame.Descriptors[i])
			if err != nil {
				continue
			}
			if d < bestDist {
				bestIdx, bestDist = i, d
			}
		}
		if bestIdx >= 0 {
			usedKeypoints[bestIdx] = true
			kp := frame.KeyPoints[bestIdx]
			corrs = append(corrs, correspondence{
				landmark: lm,
				kpIdx:    bestIdx,
				pixel:    r2.Point{X: float64(kp.X), Y: float64(kp.Y)},
			})
		}
	}
	return corrs
}

// optimizePose refines a camera-to-world pose by Gauss-Newton minimization
// of the Huber-weighted reprojection error over the correspondences. It
// returns the refined pose and the per-correspondence inlier mask.
func (t *tracker) optimizePose(initial spatialmath.Pose, corrs []correspondence, iterations int) (spatialmath.Pose, []bool) {
	worldToCam := initial.Invert()
	rot := worldToCam.RotationMatrix()
	trans := worldToCam.Translation()
	fx, fy := t.intrinsics.Fx, t.intrinsics.Fy

	for iter := 0; iter < iterations; iter++ {
		h := mat.NewDense(6, 6, nil)
		b := mat.NewVecDense(6, nil)
		nUsed := 0
		for _, corr := range corrs {
			inCam := applyRT(rot, trans, corr.landmark.Position)
			if inCam.Z <= 1e-9 {
				continue
			}
			projected := t.intrinsics.PointToPixel(inCam)
			rx := projected.X - corr.pixel.X
			ry := projected.Y - corr.pixel.Y
			norm := math.Hypot(rx, ry)
			weight := 1.0
			if norm > huberDeltaPx {
				weight = huberDeltaPx / norm
			}
			x, y, z := inCam.X, inCam.Y, inCam.Z
			// jacobian of the pixel residual wrt [translation, rotation]
			// increments in the camera frame
			j := mat.NewDense(2, 6, []float64{
				fx / z, 0, -fx * x / (z * z),
				-fx * x * y / (z * z), fx * (1 + x*x/(z*z)), -fx * y / z,
				0, fy / z, -fy * y / (z * z),
				-fy * (1 + y*y/(z*z)), fy * x * y / (z * z), fy * x / z,
			})
			var jtj mat.Dense
			jtj.Mul(j.T(), j)
			jtj.Scale(weight, &jtj)
			h.Add(h, &jtj)
			residual := mat.NewVecDense(2, []float64{rx, ry})
			var jtr mat.VecDense
			jtr.MulVec(j.T(), residual)
			jtr.ScaleVec(weight, &jtr)
			b.AddVec(b, &jtr)
			nUsed++
		}
		if nUsed < 6 {
			break
		}
		var delta mat.VecDense
		if err := delta.SolveVec(h, b); err != nil {
			t.logger.Debugw("pose normal equations are singular", "iteration", iter)
			break
		}
		delta.ScaleVec(-1, &delta)
		dt := r3.Vector{X: delta.AtVec(0), Y: delta.AtVec(1), Z: delta.AtVec(2)}
		dw := r3.Vector{X: delta.AtVec(3), Y: delta.AtVec(4), Z: delta.AtVec(5)}
		// left-multiplicative update of the world-to-camera transform
		dr := spatialmath.ExpSO3(dw)
		var newRot mat.Dense
		newRot.Mul(dr, rot)
		rot = &newRot
		trans = rotateVec(dr, trans).Add(dt)
		if delta.Norm(2) < 1e-10 {
			break
		}
	}

	inliers := make([]bool, len(corrs))
	for i, corr := range corrs {
		inCam := applyRT(rot, trans, corr.landmark.Position)
		if inCam.Z <= 1e-9 {
			continue
		}
		projected := t.intrinsics.PointToPixel(inCam)
		if math.Hypot(projected.X-corr.pixel.X, projected.Y-corr.pixel.Y) < maxReprojErrPx {
			inliers[i] = true
		}
	}

	q, err := spatialmath.QuatFromRotationMatrix(rot)
	if err != nil {
		return initial, inliers
	}
	refined := spatialmath.NewPose(trans, q).Invert()
	return refined, inliers
}

func applyRT(rot *mat.Dense, trans, pt r3.Vector) r3.Vector {
	return rotateVec(rot, pt).Add(trans)
}

func rotateVec(rot *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rot.At(0, 0)*v.X + rot.At(0, 1)*v.Y + rot.At(0, 2)*v.Z,
		Y: rot.At(1, 0)*v.X + rot.At(1, 1)*v.Y + rot.At(1, 2)*v.Z,
		Z: rot.At(2, 0)*v.X + rot.At(2, 1)*v.Y + rot.At(2, 2)*v.Z,
	}
}
