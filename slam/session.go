// Package slam implements a monocular visual tracking session: ORB feature
// extraction, two-view map bootstrapping, frame-to-map pose tracking, and a
// covisibility-bounded local map with keyframe insertion and culling.
package slam

import (
	"context"
	"image"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/monoslam/rimage"
	"go.viam.com/monoslam/spatialmath"
	"go.viam.com/monoslam/vision/keypoints"
)

// Session tracks the camera pose of a monocular image stream. All frame
// processing is serialized behind a single mutex; a background worker runs
// map maintenance between frames.
type Session struct {
	logger golog.Logger

	mu            sync.Mutex
	initialized   bool
	state         TrackingState
	lastTimestamp float64
	hasTimestamp  bool
	lastPose      spatialmath.Pose
	hasPose       bool
	// velocity is the camera motion between the two most recent tracked
	// frames, used as the constant-velocity pose prediction.
	velocity spatialmath.Pose

	extractor   FeatureExtractor
	localMap    *LocalMap
	tracker     *tracker
	initializer *initializer
	keyframes   *keyframeManager
	relocalizer Relocalizer

	cancelCtx               context.Context
	cancelFunc              func()
	maintenanceCh           chan struct{}
	activeBackgroundWorkers sync.WaitGroup
}

// NewSession returns a session in the NO_IMAGES_YET state. Initialize must
// be called before frames can be processed.
func NewSession(logger golog.Logger) *Session {
	return &Session{
		logger: logger,
		state:  StateNoImagesYet,
	}
}

// Initialize loads the YAML settings file and, when vocabPath is not empty,
// the bag-of-words vocabulary, then prepares the session for tracking.
func (s *Session) Initialize(ctx context.Context, settingsPath, vocabPath string) error {
	cfg, err := LoadSettings(settingsPath)
	if err != nil {
		return err
	}
	var vocab *Vocabulary
	if vocabPath != "" {
		vocab, err = LoadVocabulary(vocabPath)
		if err != nil {
			return err
		}
	}
	return s.InitializeFromConfig(ctx, cfg, vocab)
}

// InitializeFromConfig prepares the session from an already validated
// configuration. A nil vocabulary disables bag-of-words retrieval and
// relocalization falls back to exhaustive keyframe scoring.
func (s *Session) InitializeFromConfig(ctx context.Context, cfg *SettingsConfig, vocab *Vocabulary) error {
	if cfg == nil {
		return errors.New("cannot initialize session from a nil configuration")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return errors.New("session is already initialized")
	}
	intrinsics := cfg.Intrinsics()
	matchCfg := &keypoints.MatchingConfig{DoCrossCheck: true, MaxDist: maxMatchHamming}
	s.extractor = newORBExtractor(cfg.ORBConfig(), cfg.NFeatures)
	s.localMap = NewLocalMap()
	s.tracker = newTracker(intrinsics, s.logger)
	s.initializer = newInitializer(intrinsics, matchCfg, s.logger)
	s.keyframes = newKeyframeManager(intrinsics, matchCfg, s.logger)
	s.relocalizer = newBowRelocalizer(vocab, intrinsics, matchCfg, s.logger)
	s.velocity = spatialmath.NewZeroPose()
	s.state = StateNotInitialized
	s.initialized = true

	s.cancelCtx, s.cancelFunc = context.WithCancel(context.Background())
	s.maintenanceCh = make(chan struct{}, 1)
	s.activeBackgroundWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		s.maintenanceLoop(s.cancelCtx)
	})
	s.logger.Infow("session initialized",
		"width", cfg.Width, "height", cfg.Height, "features", cfg.NFeatures, "vocabulary", vocab != nil)
	return nil
}

// SetExtractor replaces the feature extractor. It is intended for injecting
// deterministic extractors in tests and must be called before the first
// frame.
func (s *Session) SetExtractor(extractor FeatureExtractor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extractor = extractor
}

// ProcessFrame feeds one image into the tracking pipeline and returns the
// camera-to-world pose estimate together with the tracking state after the
// frame. Tracking failures are reported through the LOST state, not through
// the returned error; errors are reserved for caller mistakes such as
// processing before Initialize or feeding a timestamp older than the
// previous frame.
func (s *Session) ProcessFrame(ctx context.Context, img image.Image, timestamp float64) (spatialmath.Pose, TrackingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return spatialmath.NewZeroPose(), s.state, ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return spatialmath.NewZeroPose(), s.state, err
	}
	if s.hasTimestamp && timestamp < s.lastTimestamp {
		return spatialmath.NewZeroPose(), s.state, &OutOfOrderTimestampError{Timestamp: timestamp, Last: s.lastTimestamp}
	}
	if img == nil || img.Bounds().Empty() {
		return s.handleDegenerateImage(timestamp)
	}

	gray := rimage.MakeGray(img)
	frame, err := newFrame(gray, timestamp, s.extractor)
	if err != nil {
		if s.state == StateOK || s.state == StateLost {
			s.logger.Warnw("feature extraction failed", "error", err)
			return s.handleDegenerateImage(timestamp)
		}
		return spatialmath.NewZeroPose(), s.state, errors.Wrap(err, "feature extraction failed")
	}
	s.lastTimestamp = timestamp
	s.hasTimestamp = true

	switch s.state {
	case StateNotInitialized:
		return s.bootstrap(frame)
	case StateOK:
		return s.trackFrame(frame)
	case StateLost:
		return s.relocalize(frame)
	}
	return spatialmath.NewZeroPose(), s.state, nil
}

// handleDegenerateImage applies the unusable-frame policy: while tracking,
// an empty image or a failed extraction drops the session to LOST without
// error; before the map exists it is a caller mistake.
func (s *Session) handleDegenerateImage(timestamp float64) (spatialmath.Pose, TrackingState, error) {
	switch s.state {
	case StateOK:
		s.lastTimestamp = timestamp
		s.hasTimestamp = true
		s.setState(StateLost)
		return s.lastPose, s.state, nil
	case StateLost:
		s.lastTimestamp = timestamp
		s.hasTimestamp = true
		return s.lastPose, s.state, nil
	default:
		return spatialmath.NewZeroPose(), s.state, ErrInvalidFrame
	}
}

func (s *Session) bootstrap(frame *Frame) (spatialmath.Pose, TrackingState, error) {
	pose, ok := s.initializer.tryInitialize(frame, s.localMap)
	if !ok {
		return spatialmath.NewZeroPose(), s.state, nil
	}
	for _, kf := range s.localMap.keyframes {
		s.relocalizer.onKeyframeInserted(kf)
	}
	s.lastPose = pose
	s.hasPose = true
	s.velocity = spatialmath.NewZeroPose()
	s.keyframes.reset()
	s.setState(StateOK)
	return pose, s.state, nil
}

func (s *Session) trackFrame(frame *Frame) (spatialmath.Pose, TrackingState, error) {
	predicted := spatialmath.Compose(s.lastPose, s.velocity)
	result, err := s.tracker.track(frame, s.localMap, predicted, s.localMap.LastKeyframe())
	if err != nil {
		s.setState(StateLost)
		return s.lastPose, s.state, nil
	}
	s.velocity = spatialmath.Compose(s.lastPose.Invert(), result.pose)
	s.lastPose = result.pose
	s.hasPose = true
	s.keyframes.onFrameTracked()
	if s.keyframes.needNewKeyframe(len(result.inliers), s.localMap.LastKeyframe()) {
		kf := s.keyframes.insertKeyframe(s.localMap, frame, result.pose, result.inliers)
		s.relocalizer.onKeyframeInserted(kf)
		s.requestMaintenance()
	}
	return result.pose, s.state, nil
}

func (s *Session) relocalize(frame *Frame) (spatialmath.Pose, TrackingState, error) {
	pose, ok := s.relocalizer.Relocalize(frame, s.localMap)
	if !ok {
		return s.lastPose, s.state, nil
	}
	s.lastPose = pose
	s.hasPose = true
	s.velocity = spatialmath.NewZeroPose()
	s.keyframes.reset()
	s.setState(StateOK)
	return pose, s.state, nil
}

// Reset discards the map and all tracking history, returning the session to
// the NOT_INITIALIZED state. The configuration is kept.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	s.localMap.Clear()
	s.initializer.reset()
	s.keyframes.reset()
	s.relocalizer.reset()
	s.velocity = spatialmath.NewZeroPose()
	s.hasPose = false
	s.hasTimestamp = false
	s.setState(StateNotInitialized)
	return nil
}

// Shutdown stops the background worker and releases the map. It is
// idempotent; after it returns, ProcessFrame fails with ErrNotInitialized
// until the session is initialized again.
func (s *Session) Shutdown() {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = false
	s.localMap.Clear()
	s.relocalizer.reset()
	s.hasPose = false
	s.hasTimestamp = false
	s.setState(StateNoImagesYet)
	cancel := s.cancelFunc
	s.mu.Unlock()

	cancel()
	s.activeBackgroundWorkers.Wait()
	s.logger.Info("session shut down")
}

// TrackingState returns the state after the most recently processed frame.
func (s *Session) TrackingState() TrackingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastPose returns the most recent successfully estimated camera-to-world
// pose, and whether one exists.
func (s *Session) LastPose() (spatialmath.Pose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPose {
		return spatialmath.NewZeroPose(), false
	}
	return s.lastPose, true
}

// KeyframeCount returns the number of keyframes in the map.
func (s *Session) KeyframeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localMap == nil {
		return 0
	}
	return s.localMap.NumKeyframes()
}

// LandmarkCount returns the number of landmarks in the map.
func (s *Session) LandmarkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localMap == nil {
		return 0
	}
	return s.localMap.NumLandmarks()
}

func (s *Session) setState(next TrackingState) {
	if next == s.state {
		return
	}
	s.logger.Infow("tracking state changed", "from", s.state.String(), "to", next.String())
	s.state = next
}

// requestMaintenance signals the background worker without blocking frame
// processing; a signal already pending covers this request.
func (s *Session) requestMaintenance() {
	select {
	case s.maintenanceCh <- struct{}{}:
	default:
	}
}

func (s *Session) maintenanceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.maintenanceCh:
		}
		s.maintain()
	}
}

// maintain culls redundant keyframes and weak landmarks, keeping the
// relocalizer's index in sync with the removed keyframes.
func (s *Session) maintain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return
	}
	before := make([]int, 0, s.localMap.NumKeyframes())
	for id := range s.localMap.keyframes {
		before = append(before, id)
	}
	removedLandmarks, removedKeyframes := s.keyframes.cull(s.localMap)
	if removedKeyframes > 0 {
		for _, id := range before {
			if _, ok := s.localMap.Keyframe(id); !ok {
				s.relocalizer.onKeyframeRemoved(id)
			}
		}
	}
	if removedLandmarks > 0 || removedKeyframes > 0 {
		s.logger.Debugw("map maintenance",
			"removed_landmarks", removedLandmarks, "removed_keyframes", removedKeyframes)
	}
}
