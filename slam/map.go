package slam

import (
	"github.com/golang/geo/r3"

	"go.viam.com/monoslam/spatialmath"
	"go.viam.com/monoslam/vision/keypoints"
)

// Landmark is a triangulated 3D point in world coordinates, with a
// representative descriptor and back-references to the keyframes observing
// it. Landmarks do not own keyframes.
type Landmark struct {
	ID           int
	Position     r3.Vector
	Descriptor   keypoints.Descriptor
	observations map[int]int // keyframe ID -> keypoint index in that keyframe
}

// NumObservations returns the number of keyframes observing the landmark.
func (lm *Landmark) NumObservations() int {
	return len(lm.observations)
}

// ObservingKeyframes returns the IDs of the keyframes observing the landmark.
func (lm *Landmark) ObservingKeyframes() []int {
	ids := make([]int, 0, len(lm.observations))
	for id := range lm.observations {
		ids = append(ids, id)
	}
	return ids
}

// Keyframe is a frame promoted into the map: a pose plus the 2D-3D
// correspondences between its keypoints and landmarks. Keyframes are owned
// exclusively by the LocalMap.
type Keyframe struct {
	ID          int
	Timestamp   float64
	Pose        spatialmath.Pose // camera-to-world
	KeyPoints   keypoints.KeyPoints
	Descriptors keypoints.Descriptors
	landmarks   map[int]int // keypoint index -> landmark ID
}

// NumLandmarks returns the number of landmarks the keyframe observes.
func (kf *Keyframe) NumLandmarks() int {
	return len(kf.landmarks)
}

// LandmarkForKeypoint returns the landmark ID observed by a keypoint, if any.
func (kf *Keyframe) LandmarkForKeypoint(kpIdx int) (int, bool) {
	id, ok := kf.landmarks[kpIdx]
	return id, ok
}

// unassignedKeypoints returns the indices of keypoints with no landmark.
func (kf *Keyframe) unassignedKeypoints() []int {
	free := make([]int, 0, len(kf.KeyPoints))
	for i := range kf.KeyPoints {
		if _, ok := kf.landmarks[i]; !ok {
			free = append(free, i)
		}
	}
	return free
}

// LocalMap is the set of active keyframes and landmarks used for tracking.
// It is not safe for concurrent use; the owning session serializes access.
type LocalMap struct {
	keyframes      map[int]*Keyframe
	landmarks      map[int]*Landmark
	nextKeyframeID int
	nextLandmarkID int
	lastKeyframeID int
}

// NewLocalMap creates an empty map.
func NewLocalMap() *LocalMap {
	return &LocalMap{
		keyframes:      map[int]*Keyframe{},
		landmarks:      map[int]*Landmark{},
		lastKeyframeID: -1,
	}
}

// NumKeyframes returns the number of keyframes in the map.
func (m *LocalMap) NumKeyframes() int {
	return len(m.keyframes)
}

// NumLandmarks returns the number of landmarks in the map.
func (m *LocalMap) NumLandmarks() int {
	return len(m.landmarks)
}

// Keyframe returns a keyframe by ID.
func (m *LocalMap) Keyframe(id int) (*Keyframe, bool) {
	kf, ok := m.keyframes[id]
	return kf, ok
}

// Landmark returns a landmark by ID.
func (m *LocalMap) Landmark(id int) (*Landmark, bool) {
	lm, ok := m.landmarks[id]
	return lm, ok
}

// LastKeyframe returns the most recently inserted keyframe, or nil on an
// empty map.
func (m *LocalMap) LastKeyframe() *Keyframe {
	if m.lastKeyframeID < 0 {
		return nil
	}
	return m.keyframes[m.lastKeyframeID]
}

// AddKeyframe promotes a frame into the map with the given pose.
func (m *LocalMap) AddKeyframe(frame *Frame, pose spatialmath.Pose) *Keyframe {
	kf := &Keyframe{
		ID:          m.nextKeyframeID,
		Timestamp:   frame.Timestamp,
		Pose:        pose,
		KeyPoints:   frame.KeyPoints,
		Descriptors: frame.Descriptors,
		landmarks:   map[int]int{},
	}
	m.keyframes[kf.ID] = kf
	m.lastKeyframeID = kf.ID
	m.nextKeyframeID++
	return kf
}

// AddLandmark creates a new landmark with no observations yet.
func (m *LocalMap) AddLandmark(position r3.Vector, descriptor keypoints.Descriptor) *Landmark {
	lm := &Landmark{
		ID:           m.nextLandmarkID,
		Position:     position,
		Descriptor:   descriptor,
		observations: map[int]int{},
	}
	m.landmarks[lm.ID] = lm
	m.nextLandmarkID++
	return lm
}

// AddObservation records that a keyframe observes a landmark at a keypoint.
func (m *LocalMap) AddObservation(lm *Landmark, kf *Keyframe, kpIdx int) {
	lm.observations[kf.ID] = kpIdx
	kf.landmarks[kpIdx] = lm.ID
}

// RemoveLandmark removes a landmark and all its observations.
func (m *LocalMap) RemoveLandmark(id int) {
	lm, ok := m.landmarks[id]
	if !ok {
		return
	}
	for kfID, kpIdx := range lm.observations {
		if kf, ok := m.keyframes[kfID]; ok {
			delete(kf.landmarks, kpIdx)
		}
	}
	delete(m.landmarks, id)
}

// RemoveKeyframe removes a keyframe. Landmarks left without a live observing
// keyframe are removed in the same step, preserving the map invariant. The
// most recent keyframe cannot be removed.
func (m *LocalMap) RemoveKeyframe(id int) {
	if id == m.lastKeyframeID {
		return
	}
	kf, ok := m.keyframes[id]
	if !ok {
		return
	}
	for _, lmID := range kf.landmarks {
		lm, ok := m.landmarks[lmID]
		if !ok {
			continue
		}
		delete(lm.observations, id)
		if len(lm.observations) == 0 {
			delete(m.landmarks, lmID)
		}
	}
	delete(m.keyframes, id)
}

// CovisibleKeyframes returns the keyframes sharing at least minShared
// landmark observations with the given keyframe.
func (m *LocalMap) CovisibleKeyframes(kf *Keyframe, minShared int) []*Keyframe {
	shared := map[int]int{}
	for _, lmID := range kf.landmarks {
		lm, ok := m.landmarks[lmID]
		if !ok {
			continue
		}
		for otherID := range lm.observations {
			if otherID != kf.ID {
				shared[otherID]++
			}
		}
	}
	covisible := []*Keyframe{}
	for otherID, count := range shared {
		if count >= minShared {
			if other, ok := m.keyframes[otherID]; ok {
				covisible = append(covisible, other)
			}
		}
	}
	return covisible
}

// ActiveLandmarks returns the landmarks observed by a keyframe and its
// covisible neighbors: the bounded working set the tracker matches against.
func (m *LocalMap) ActiveLandmarks(kf *Keyframe) []*Landmark {
	if kf == nil {
		return nil
	}
	window := append(m.CovisibleKeyframes(kf, 1), kf)
	seen := map[int]bool{}
	active := []*Landmark{}
	for _, wkf := range window {
		for _, lmID := range wkf.landmarks {
			if seen[lmID] {
				continue
			}
			seen[lmID] = true
			if lm, ok := m.landmarks[lmID]; ok {
				active = append(active, lm)
			}
		}
	}
	return active
}

// Clear removes every keyframe and landmark.
func (m *LocalMap) Clear() {
	m.keyframes = map[int]*Keyframe{}
	m.landmarks = map[int]*Landmark{}
	m.lastKeyframeID = -1
}
