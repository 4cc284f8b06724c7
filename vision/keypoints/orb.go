package keypoints

import (
	"encoding/json"
	"image"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/monoslam/rimage"
)

// ORBConfig contains the parameters needed to compute ORB features.
type ORBConfig struct {
	Layers          int          `json:"n_layers"`
	DownscaleFactor float64      `json:"downscale_factor"`
	FastConf        *FASTConfig  `json:"fast"`
	BRIEFConf       *BRIEFConfig `json:"brief"`
}

// LoadORBConfiguration loads an ORBConfig from a json file.
func LoadORBConfiguration(file string) (*ORBConfig, error) {
	var config ORBConfig
	filePath := filepath.Clean(file)
	configFile, err := os.Open(filePath)
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err != nil {
		return nil, err
	}
	jsonParser := json.NewDecoder(configFile)
	if err = jsonParser.Decode(&config); err != nil {
		return nil, err
	}
	if err = config.Validate(file); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate ensures all parts of the ORBConfig are valid.
func (config *ORBConfig) Validate(path string) error {
	if config.Layers < 1 {
		return utils.NewConfigValidationError(path, errors.New("n_layers should be >= 1"))
	}
	if config.DownscaleFactor <= 1 {
		return utils.NewConfigValidationError(path, errors.New("downscale_factor should be greater than 1"))
	}
	if config.FastConf == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "fast")
	}
	if config.BRIEFConf == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "brief")
	}
	return nil
}

// ComputeORBKeypoints computes ORB keypoints and descriptors on a gray image:
// FAST corners with orientations on every level of a downscaled image
// pyramid, described with rotated BRIEF and mapped back to full-resolution
// coordinates.
func ComputeORBKeypoints(im *image.Gray, sp *SamplePairs, cfg *ORBConfig) (Descriptors, KeyPoints, error) {
	pyramid, err := imagePyramid(im, cfg.Layers, cfg.DownscaleFactor)
	if err != nil {
		return nil, nil, err
	}
	descs := Descriptors{}
	kps := KeyPoints{}
	for level, levelImg := range pyramid {
		fastKps, err := NewFASTKeypointsFromImage(levelImg, cfg.FastConf)
		if err != nil {
			return nil, nil, err
		}
		if len(fastKps.Points) == 0 {
			continue
		}
		levelDescs, err := ComputeBRIEFDescriptors(levelImg, sp, fastKps, cfg.BRIEFConf)
		if err != nil {
			return nil, nil, err
		}
		scale := math.Pow(cfg.DownscaleFactor, float64(level))
		rescaled := RescaleKeypoints(fastKps.Points, scale)
		kps = append(kps, rescaled...)
		descs = append(descs, levelDescs...)
	}
	return descs, kps, nil
}

// imagePyramid builds the successive downscalings of an image. Levels whose
// dimensions would collapse below the FAST circle are dropped.
func imagePyramid(im *image.Gray, layers int, factor float64) ([]*image.Gray, error) {
	if layers < 1 {
		return nil, errors.New("pyramid needs at least one layer")
	}
	bounds := im.Bounds()
	pyramid := make([]*image.Gray, 0, layers)
	pyramid = append(pyramid, im)
	for level := 1; level < layers; level++ {
		scale := math.Pow(factor, float64(level))
		w := int(math.Round(float64(bounds.Dx()) / scale))
		h := int(math.Round(float64(bounds.Dy()) / scale))
		if w < 8 || h < 8 {
			break
		}
		pyramid = append(pyramid, rimage.ResizeGray(im, w, h))
	}
	return pyramid, nil
}
