package slam

import (
	"image"

	"go.viam.com/monoslam/vision/keypoints"
)

// FeatureExtractor detects and describes keypoints in a grayscale frame.
// Implementations must be deterministic for a fixed configuration,
// side-effect free, and return empty results (not an error) on degenerate
// input such as a uniform image.
type FeatureExtractor interface {
	Extract(img *image.Gray) (keypoints.KeyPoints, keypoints.Descriptors, error)
}

// Frame is a single input image after feature extraction. It is immutable
// once created; frames are transient and either discarded after tracking or
// promoted into a map Keyframe.
type Frame struct {
	Timestamp   float64
	Width       int
	Height      int
	KeyPoints   keypoints.KeyPoints
	Descriptors keypoints.Descriptors
}

func newFrame(img *image.Gray, timestamp float64, extractor FeatureExtractor) (*Frame, error) {
	kps, descs, err := extractor.Extract(img)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Timestamp:   timestamp,
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		KeyPoints:   kps,
		Descriptors: descs,
	}, nil
}

// orbExtractor is the default FeatureExtractor, running the ORB pipeline.
type orbExtractor struct {
	cfg         *keypoints.ORBConfig
	samplePairs *keypoints.SamplePairs
	maxFeatures int
}

func newORBExtractor(cfg *keypoints.ORBConfig, maxFeatures int) *orbExtractor {
	sp := keypoints.GenerateSamplePairs(cfg.BRIEFConf.Sampling, cfg.BRIEFConf.N, cfg.BRIEFConf.PatchSize)
	return &orbExtractor{cfg: cfg, samplePairs: sp, maxFeatures: maxFeatures}
}

func (e *orbExtractor) Extract(img *image.Gray) (keypoints.KeyPoints, keypoints.Descriptors, error) {
	if img == nil || img.Bounds().Empty() {
		return keypoints.KeyPoints{}, keypoints.Descriptors{}, nil
	}
	descs, kps, err := keypoints.ComputeORBKeypoints(img, e.samplePairs, e.cfg)
	if err != nil {
		return nil, nil, err
	}
	if e.maxFeatures > 0 && len(kps) > e.maxFeatures {
		kps = kps[:e.maxFeatures]
		descs = descs[:e.maxFeatures]
	}
	return kps, descs, nil
}
