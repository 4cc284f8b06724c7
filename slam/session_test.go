package slam

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/monoslam/spatialmath"
	"go.viam.com/monoslam/vision/keypoints"
)

// scriptedFeatures is one precomputed extraction result.
type scriptedFeatures struct {
	kps   keypoints.KeyPoints
	descs keypoints.Descriptors
}

// scriptedExtractor replays precomputed features, ignoring pixel content, so
// session tests exercise the tracking pipeline with exact geometry.
type scriptedExtractor struct {
	frames []scriptedFeatures
	next   int
}

func (e *scriptedExtractor) Extract(*image.Gray) (keypoints.KeyPoints, keypoints.Descriptors, error) {
	if e.next >= len(e.frames) {
		return keypoints.KeyPoints{}, keypoints.Descriptors{}, nil
	}
	f := e.frames[e.next]
	e.next++
	return f.kps, f.descs, nil
}

// scriptLateralPath precomputes features for a camera translating along x by
// step world units per frame over the grid landmarks.
func scriptLateralPath(nFrames int, step float64) *scriptedExtractor {
	points := landmarkGrid()
	ex := &scriptedExtractor{}
	for k := 0; k < nFrames; k++ {
		pose := spatialmath.NewPose(r3.Vector{X: step * float64(k)}, spatialmath.NewZeroPose().Orientation())
		frame := projectFrame(points, pose, float64(k))
		ex.frames = append(ex.frames, scriptedFeatures{kps: frame.KeyPoints, descs: frame.Descriptors})
	}
	return ex
}

func newTestSession(t *testing.T, extractor FeatureExtractor) *Session {
	t.Helper()
	logger := golog.NewTestLogger(t)
	cfg, err := LoadSettings("testdata/settings.yaml")
	test.That(t, err, test.ShouldBeNil)
	session := NewSession(logger)
	test.That(t, session.InitializeFromConfig(context.Background(), cfg, nil), test.ShouldBeNil)
	if extractor != nil {
		session.SetExtractor(extractor)
	}
	return session
}

func testImage() image.Image {
	return image.NewGray(image.Rect(0, 0, 64, 48))
}

func TestSessionLifecycle(t *testing.T) {
	logger := golog.NewTestLogger(t)
	session := NewSession(logger)
	test.That(t, session.TrackingState(), test.ShouldEqual, StateNoImagesYet)

	// frames cannot be processed before initialization
	_, _, err := session.ProcessFrame(context.Background(), testImage(), 0)
	test.That(t, err, test.ShouldBeError, ErrNotInitialized)
	test.That(t, session.Reset(context.Background()), test.ShouldBeError, ErrNotInitialized)

	cfg, err := LoadSettings("testdata/settings.yaml")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, session.InitializeFromConfig(context.Background(), cfg, nil), test.ShouldBeNil)
	test.That(t, session.TrackingState(), test.ShouldEqual, StateNotInitialized)
	test.That(t, session.InitializeFromConfig(context.Background(), cfg, nil), test.ShouldNotBeNil)

	_, state, err := session.ProcessFrame(context.Background(), testImage(), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, StateNotInitialized)

	session.Shutdown()
	test.That(t, session.TrackingState(), test.ShouldEqual, StateNoImagesYet)
	_, _, err = session.ProcessFrame(context.Background(), testImage(), 1)
	test.That(t, err, test.ShouldBeError, ErrNotInitialized)
	// Shutdown is idempotent
	session.Shutdown()
}

func TestSessionTracksLateralPath(t *testing.T) {
	const nFrames = 8
	session := newTestSession(t, scriptLateralPath(nFrames, 0.15))
	defer session.Shutdown()
	ctx := context.Background()

	// first frame becomes the bootstrap reference
	_, state, err := session.ProcessFrame(ctx, testImage(), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, StateNotInitialized)

	// second frame has enough baseline to bootstrap the map
	basePose, state, err := session.ProcessFrame(ctx, testImage(), 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, StateOK)
	test.That(t, session.KeyframeCount(), test.ShouldEqual, 2)
	test.That(t, session.LandmarkCount(), test.ShouldBeGreaterThanOrEqualTo, minInitMatches)
	baseStep := basePose.Translation().X
	test.That(t, baseStep, test.ShouldBeGreaterThan, 0)

	// the remaining frames track with a constant-velocity prediction; the
	// trajectory is recovered up to the bootstrap scale
	for k := 2; k < nFrames; k++ {
		pose, state, err := session.ProcessFrame(ctx, testImage(), float64(k))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, state, test.ShouldEqual, StateOK)
		test.That(t, pose.Translation().X, test.ShouldAlmostEqual, baseStep*float64(k), 0.15*baseStep*float64(k))
		test.That(t, math.Abs(pose.Translation().Y), test.ShouldBeLessThan, 0.02)
		test.That(t, math.Abs(pose.Translation().Z), test.ShouldBeLessThan, 0.05)

		wire := pose.Wire()
		norm := math.Sqrt(wire[3]*wire[3] + wire[4]*wire[4] + wire[5]*wire[5] + wire[6]*wire[6])
		test.That(t, norm, test.ShouldAlmostEqual, 1, 1e-9)
	}

	last, ok := session.LastPose()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, last.Translation().X, test.ShouldBeGreaterThan, baseStep)
}

func TestSessionTimestampOrdering(t *testing.T) {
	session := newTestSession(t, scriptLateralPath(4, 0.15))
	defer session.Shutdown()
	ctx := context.Background()

	_, _, err := session.ProcessFrame(ctx, testImage(), 10)
	test.That(t, err, test.ShouldBeNil)
	stateBefore := session.TrackingState()

	// an older timestamp is rejected without mutating the session
	_, _, err = session.ProcessFrame(ctx, testImage(), 9.5)
	var ooe *OutOfOrderTimestampError
	test.That(t, errors.As(err, &ooe), test.ShouldBeTrue)
	test.That(t, ooe.Timestamp, test.ShouldEqual, 9.5)
	test.That(t, ooe.Last, test.ShouldEqual, 10.0)
	test.That(t, session.TrackingState(), test.ShouldEqual, stateBefore)

	// an equal timestamp is allowed
	_, _, err = session.ProcessFrame(ctx, testImage(), 10)
	test.That(t, err, test.ShouldBeNil)
}

func TestSessionEmptyFramePolicy(t *testing.T) {
	session := newTestSession(t, scriptLateralPath(6, 0.15))
	defer session.Shutdown()
	ctx := context.Background()

	// before the map exists, an unusable image is a caller error
	_, _, err := session.ProcessFrame(ctx, nil, 0)
	test.That(t, err, test.ShouldBeError, ErrInvalidFrame)

	_, _, err = session.ProcessFrame(ctx, testImage(), 0)
	test.That(t, err, test.ShouldBeNil)
	_, _, err = session.ProcessFrame(ctx, nil, 0.5)
	test.That(t, err, test.ShouldBeError, ErrInvalidFrame)
	_, state, err := session.ProcessFrame(ctx, testImage(), 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, StateOK)

	// while tracking, an unusable image drops the session to LOST without
	// an error, and the last pose stays available
	pose, state, err := session.ProcessFrame(ctx, image.NewGray(image.Rect(0, 0, 0, 0)), 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, StateLost)
	last, ok := session.LastPose()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, last.Translation(), test.ShouldResemble, pose.Translation())
}

// failingExtractor delegates to an inner extractor and fails on one chosen
// frame index.
type failingExtractor struct {
	inner  FeatureExtractor
	failAt int
	calls  int
}

func (e *failingExtractor) Extract(img *image.Gray) (keypoints.KeyPoints, keypoints.Descriptors, error) {
	idx := e.calls
	e.calls++
	if idx == e.failAt {
		return nil, nil, errors.New("sensor glitch")
	}
	return e.inner.Extract(img)
}

func TestSessionExtractionFailurePolicy(t *testing.T) {
	session := newTestSession(t, &failingExtractor{inner: scriptLateralPath(4, 0.15), failAt: 2})
	defer session.Shutdown()
	ctx := context.Background()

	_, _, err := session.ProcessFrame(ctx, testImage(), 0)
	test.That(t, err, test.ShouldBeNil)
	okPose, state, err := session.ProcessFrame(ctx, testImage(), 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, StateOK)

	// while tracking, a failed extraction drops the session to LOST
	// without an error instead of surfacing the extractor failure
	pose, state, err := session.ProcessFrame(ctx, testImage(), 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, StateLost)
	test.That(t, pose.Translation(), test.ShouldResemble, okPose.Translation())
	test.That(t, session.TrackingState(), test.ShouldEqual, StateLost)
}

func TestSessionRelocalizes(t *testing.T) {
	// script: two bootstrap frames, then a replay of the second frame's
	// features for relocalization after a dropout
	points := landmarkGrid()
	ex := &scriptedExtractor{}
	for _, step := range []float64{0, 0.15, 0.15} {
		pose := spatialmath.NewPose(r3.Vector{X: step}, spatialmath.NewZeroPose().Orientation())
		frame := projectFrame(points, pose, 0)
		ex.frames = append(ex.frames, scriptedFeatures{kps: frame.KeyPoints, descs: frame.Descriptors})
	}

	session := newTestSession(t, ex)
	defer session.Shutdown()
	ctx := context.Background()

	_, _, err := session.ProcessFrame(ctx, testImage(), 0)
	test.That(t, err, test.ShouldBeNil)
	okPose, state, err := session.ProcessFrame(ctx, testImage(), 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, StateOK)

	// drop the signal
	_, state, err = session.ProcessFrame(ctx, nil, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, StateLost)

	// the camera returns to the second keyframe's viewpoint
	pose, state, err := session.ProcessFrame(ctx, testImage(), 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, StateOK)
	test.That(t, pose.Translation().X, test.ShouldAlmostEqual, okPose.Translation().X, 0.02)
}

func TestSessionReset(t *testing.T) {
	session := newTestSession(t, scriptLateralPath(4, 0.15))
	defer session.Shutdown()
	ctx := context.Background()

	_, _, err := session.ProcessFrame(ctx, testImage(), 0)
	test.That(t, err, test.ShouldBeNil)
	_, state, err := session.ProcessFrame(ctx, testImage(), 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, StateOK)
	test.That(t, session.KeyframeCount(), test.ShouldEqual, 2)

	test.That(t, session.Reset(ctx), test.ShouldBeNil)
	test.That(t, session.TrackingState(), test.ShouldEqual, StateNotInitialized)
	test.That(t, session.KeyframeCount(), test.ShouldEqual, 0)
	test.That(t, session.LandmarkCount(), test.ShouldEqual, 0)
	_, ok := session.LastPose()
	test.That(t, ok, test.ShouldBeFalse)

	// the session keeps its configuration and accepts frames again,
	// including timestamps older than the pre-reset stream
	_, state, err = session.ProcessFrame(ctx, testImage(), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, StateNotInitialized)
}
