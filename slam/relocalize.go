package slam

import (
	"sort"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"

	"go.viam.com/monoslam/spatialmath"
	"go.viam.com/monoslam/transform"
	"go.viam.com/monoslam/vision/keypoints"
)

const (
	// maxRelocCandidates bounds how many keyframes are tried per lost frame.
	maxRelocCandidates = 3
	// minRelocMatches is the minimum number of landmark matches needed before
	// attempting a pose fit against a candidate keyframe.
	minRelocMatches = 15
	// minRelocInliers is the minimum number of inliers for a recovered pose
	// to be accepted.
	minRelocInliers = 15
	// relocIterations runs the pose solver longer than regular tracking since
	// the candidate keyframe pose can be far from the true frame pose.
	relocIterations = 20
)

// Relocalizer recovers the pose of a frame against the map after tracking
// is lost.
type Relocalizer interface {
	Relocalize(frame *Frame, localMap *LocalMap) (spatialmath.Pose, bool)
	onKeyframeInserted(kf *Keyframe)
	onKeyframeRemoved(kfID int)
	reset()
}

// bowRelocalizer retrieves candidate keyframes through a bag-of-words
// inverted index and fits the frame pose against each candidate's landmarks.
// Without a vocabulary it falls back to scoring every keyframe.
type bowRelocalizer struct {
	vocab    *Vocabulary
	tracker  *tracker
	matchCfg *keypoints.MatchingConfig
	logger   golog.Logger

	bowVectors map[int]map[int]float64
	invIndex   map[int]map[int]bool
}

func newBowRelocalizer(
	vocab *Vocabulary,
	intrinsics *transform.PinholeCameraIntrinsics,
	matchCfg *keypoints.MatchingConfig,
	logger golog.Logger,
) *bowRelocalizer {
	return &bowRelocalizer{
		vocab:      vocab,
		tracker:    newTracker(intrinsics, logger),
		matchCfg:   matchCfg,
		logger:     logger,
		bowVectors: map[int]map[int]float64{},
		invIndex:   map[int]map[int]bool{},
	}
}

func (r *bowRelocalizer) onKeyframeInserted(kf *Keyframe) {
	if r.vocab == nil {
		return
	}
	bow := r.vocab.BagOfWords(kf.Descriptors)
	r.bowVectors[kf.ID] = bow
	for word := range bow {
		if r.invIndex[word] == nil {
			r.invIndex[word] = map[int]bool{}
		}
		r.invIndex[word][kf.ID] = true
	}
}

func (r *bowRelocalizer) onKeyframeRemoved(kfID int) {
	bow, ok := r.bowVectors[kfID]
	if !ok {
		return
	}
	delete(r.bowVectors, kfID)
	for word := range bow {
		if ids := r.invIndex[word]; ids != nil {
			delete(ids, kfID)
			if len(ids) == 0 {
				delete(r.invIndex, word)
			}
		}
	}
}

func (r *bowRelocalizer) reset() {
	r.bowVectors = map[int]map[int]float64{}
	r.invIndex = map[int]map[int]bool{}
}

// Relocalize tries the best-scoring candidate keyframes in order and returns
// the first recovered pose with enough inliers.
func (r *bowRelocalizer) Relocalize(frame *Frame, localMap *LocalMap) (spatialmath.Pose, bool) {
	for _, kfID := range r.candidates(frame, localMap) {
		kf, ok := localMap.Keyframe(kfID)
		if !ok {
			continue
		}
		pose, ok := r.fitAgainstKeyframe(frame, localMap, kf)
		if ok {
			r.logger.Debugw("relocalized against keyframe", "keyframe", kf.ID)
			return pose, true
		}
	}
	return spatialmath.NewZeroPose(), false
}

// candidates returns keyframe IDs ordered by decreasing similarity to the
// frame.
func (r *bowRelocalizer) candidates(frame *Frame, localMap *LocalMap) []int {
	type scored struct {
		kfID  int
		score float64
	}
	var ranked []scored
	if r.vocab != nil {
		queryBow := r.vocab.BagOfWords(frame.Descriptors)
		seen := map[int]bool{}
		for word := range queryBow {
			for kfID := range r.invIndex[word] {
				if seen[kfID] {
					continue
				}
				seen[kfID] = true
				ranked = append(ranked, scored{kfID, BowSimilarity(queryBow, r.bowVectors[kfID])})
			}
		}
	} else {
		for id, kf := range localMap.keyframes {
			matches := keypoints.MatchDescriptors(kf.Descriptors, frame.Descriptors, r.matchCfg, r.logger)
			if matches == nil {
				continue
			}
			ranked = append(ranked, scored{id, float64(len(matches.Indices))})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].kfID < ranked[j].kfID
	})
	if len(ranked) > maxRelocCandidates {
		ranked = ranked[:maxRelocCandidates]
	}
	ids := make([]int, len(ranked))
	for i, c := range ranked {
		ids[i] = c.kfID
	}
	return ids
}

// fitAgainstKeyframe matches the frame descriptors to the candidate's
// landmarks and refines the candidate pose over the resulting
// correspondences.
func (r *bowRelocalizer) fitAgainstKeyframe(frame *Frame, localMap *LocalMap, kf *Keyframe) (spatialmath.Pose, bool) {
	lms := []*Landmark{}
	descs := keypoints.Descriptors{}
	for _, lmID := range kf.landmarks {
		lm, ok := localMap.Landmark(lmID)
		if !ok {
			continue
		}
		lms = append(lms, lm)
		descs = append(descs, lm.Descriptor)
	}
	if len(lms) < minRelocMatches {
		return spatialmath.NewZeroPose(), false
	}
	matches := keypoints.MatchDescriptors(descs, frame.Descriptors, r.matchCfg, r.logger)
	if matches == nil || len(matches.Indices) < minRelocMatches {
		return spatialmath.NewZeroPose(), false
	}
	corrs := make([]correspondence, 0, len(matches.Indices))
	for _, match := range matches.Indices {
		kp := frame.KeyPoints[match.Idx2]
		corrs = append(corrs, correspondence{
			landmark: lms[match.Idx1],
			kpIdx:    match.Idx2,
			pixel:    r2.Point{X: float64(kp.X), Y: float64(kp.Y)},
		})
	}
	pose, inlierMask := r.tracker.optimizePose(kf.Pose, corrs, relocIterations)
	inliers := 0
	for _, ok := range inlierMask {
		if ok {
			inliers++
		}
	}
	if inliers < minRelocInliers {
		return spatialmath.NewZeroPose(), false
	}
	return pose, true
}
