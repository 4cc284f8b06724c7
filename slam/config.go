package slam

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gopkg.in/yaml.v3"

	"go.viam.com/monoslam/transform"
	"go.viam.com/monoslam/vision/keypoints"
)

// settingsFileVersion is the settings file version this package understands.
const settingsFileVersion = "1.0"

// SettingsConfig is the camera and extractor configuration of a session,
// stored as a YAML file with flat ORB-SLAM style keys.
type SettingsConfig struct {
	FileVersion  string  `yaml:"File.version"`
	CamType      string  `yaml:"Camera.type"`
	Width        int     `yaml:"Camera.width"`
	Height       int     `yaml:"Camera.height"`
	FPSCamera    int16   `yaml:"Camera.fps"`
	Fx           float64 `yaml:"Camera1.fx"`
	Fy           float64 `yaml:"Camera1.fy"`
	Ppx          float64 `yaml:"Camera1.cx"`
	Ppy          float64 `yaml:"Camera1.cy"`
	RadialK1     float64 `yaml:"Camera1.k1"`
	RadialK2     float64 `yaml:"Camera1.k2"`
	RadialK3     float64 `yaml:"Camera1.k3"`
	TangentialP1 float64 `yaml:"Camera1.p1"`
	TangentialP2 float64 `yaml:"Camera1.p2"`
	NFeatures    int     `yaml:"ORBextractor.nFeatures"`
	ScaleFactor  float64 `yaml:"ORBextractor.scaleFactor"`
	NLevels      int     `yaml:"ORBextractor.nLevels"`
	ThFAST       float64 `yaml:"ORBextractor.thFAST"`
}

// LoadSettings loads and validates a settings YAML file.
func LoadSettings(path string) (*SettingsConfig, error) {
	filePath := filepath.Clean(path)
	//nolint:gosec
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read settings file")
	}
	var config SettingsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "cannot parse settings file")
	}
	if err := config.Validate(filePath); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate ensures all parts of the settings are valid, reporting every
// offending field.
func (config *SettingsConfig) Validate(path string) error {
	var err error
	if config.FileVersion != settingsFileVersion {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.Errorf("File.version must be %q", settingsFileVersion)))
	}
	if config.Width <= 0 || config.Height <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.New("Camera.width and Camera.height must be positive")))
	}
	if config.Fx <= 0 || config.Fy <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.New("Camera1.fx and Camera1.fy must be positive")))
	}
	if config.NFeatures <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.New("ORBextractor.nFeatures must be positive")))
	}
	if config.ScaleFactor <= 1 {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.New("ORBextractor.scaleFactor must be greater than 1")))
	}
	if config.NLevels < 1 {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.New("ORBextractor.nLevels must be at least 1")))
	}
	if config.ThFAST <= 0 || config.ThFAST >= 1 {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.New("ORBextractor.thFAST must be in (0,1)")))
	}
	return err
}

// Intrinsics returns the pinhole camera model described by the settings.
func (config *SettingsConfig) Intrinsics() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width:  config.Width,
		Height: config.Height,
		Fx:     config.Fx,
		Fy:     config.Fy,
		Ppx:    config.Ppx,
		Ppy:    config.Ppy,
		Distortion: transform.DistortionModel{
			RadialK1:     config.RadialK1,
			RadialK2:     config.RadialK2,
			RadialK3:     config.RadialK3,
			TangentialP1: config.TangentialP1,
			TangentialP2: config.TangentialP2,
		},
	}
}

// ORBConfig returns the extractor configuration described by the settings.
func (config *SettingsConfig) ORBConfig() *keypoints.ORBConfig {
	return &keypoints.ORBConfig{
		Layers:          config.NLevels,
		DownscaleFactor: config.ScaleFactor,
		FastConf: &keypoints.FASTConfig{
			NMSWinSize:     7,
			Threshold:      config.ThFAST,
			NMatchesCircle: 9,
			Oriented:       true,
		},
		BRIEFConf: &keypoints.BRIEFConfig{
			N:              256,
			Sampling:       keypoints.SamplingNormal,
			UseOrientation: true,
			PatchSize:      31,
		},
	}
}
