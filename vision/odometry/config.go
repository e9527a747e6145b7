package odometry

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gopkg.in/yaml.v3"

	"go.viam.com/stereovo/rimage/transform"
	"go.viam.com/stereovo/vision/keypoints"
)

// LandmarkConfig controls how temporal matches are turned into landmarks.
type LandmarkConfig struct {
	// PixelSigma is the standard deviation of a pixel observation.
	PixelSigma float64 `json:"pixel_sigma"`
	// MaxDepth discards points recovered further than this from the camera.
	MaxDepth float64 `json:"max_depth_m"`
}

// Validate ensures all parts of the LandmarkConfig are valid.
func (cfg *LandmarkConfig) Validate(path string) error {
	var err error
	if !(cfg.PixelSigma > 0) || math.IsInf(cfg.PixelSigma, 0) {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("pixel_sigma should be > 0")))
	}
	if !(cfg.MaxDepth > 0) {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("max_depth_m should be > 0")))
	}
	return err
}

const (
	defaultMinLandmarks = 6
	minLandmarksFloor   = 3
)

// OptimizerConfig contains the Levenberg-Marquardt parameters of the pose optimizer.
type OptimizerConfig struct {
	MaxIterations int     `json:"max_iterations"`
	MinError      float64 `json:"min_error"`
	MinErrorDelta float64 `json:"min_error_delta"`
	InitialLambda float64 `json:"initial_lambda"`
	// LambdaUp and LambdaDown scale the damping after a rejected and an accepted step.
	LambdaUp   float64 `json:"lambda_up"`
	LambdaDown float64 `json:"lambda_down"`
	// MinLandmarks is the number of distinct valid landmarks required before solving.
	MinLandmarks int `json:"min_landmarks"`
}

// requiredLandmarks is the landmark count below which a solve is refused. An unset
// MinLandmarks means the default of 6, and no setting goes below 3.
func (cfg *OptimizerConfig) requiredLandmarks() int {
	switch {
	case cfg.MinLandmarks <= 0:
		return defaultMinLandmarks
	case cfg.MinLandmarks < minLandmarksFloor:
		return minLandmarksFloor
	default:
		return cfg.MinLandmarks
	}
}

// Validate ensures all parts of the OptimizerConfig are valid.
func (cfg *OptimizerConfig) Validate(path string) error {
	var err error
	if cfg.MaxIterations < 1 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("max_iterations should be >= 1")))
	}
	if cfg.MinError < 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("min_error should be >= 0")))
	}
	if cfg.MinErrorDelta < 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("min_error_delta should be >= 0")))
	}
	if !(cfg.InitialLambda > 0) {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("initial_lambda should be > 0")))
	}
	if !(cfg.LambdaUp > 1) {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("lambda_up should be > 1")))
	}
	if !(cfg.LambdaDown > 0 && cfg.LambdaDown < 1) {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("lambda_down should be in (0, 1)")))
	}
	// three points are the least that can pin down a rigid motion
	if cfg.MinLandmarks < minLandmarksFloor {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("min_landmarks should be >= 3")))
	}
	return err
}

// Config contains everything needed to run stereo visual odometry.
type Config struct {
	Camera           *transform.StereoCameraModel `json:"camera"`
	StereoMatching   keypoints.MatchingConfig     `json:"stereo_matching"`
	TemporalMatching keypoints.MatchingConfig     `json:"temporal_matching"`
	Landmarks        LandmarkConfig               `json:"landmarks"`
	Optimizer        OptimizerConfig              `json:"optimizer"`
}

// DefaultConfig returns a configuration with default tuning and no camera.
func DefaultConfig() *Config {
	return &Config{
		StereoMatching: keypoints.MatchingConfig{
			MaxEpipolarDist:  5,
			MinDistanceRatio: 0.9,
		},
		TemporalMatching: keypoints.MatchingConfig{
			MinDistanceRatio: 0.9,
		},
		Landmarks: LandmarkConfig{
			PixelSigma: 2.0,
			MaxDepth:   100,
		},
		Optimizer: OptimizerConfig{
			MaxIterations: 20,
			MinError:      1e-7,
			MinErrorDelta: 1e-9,
			InitialLambda: 1e-3,
			LambdaUp:      10,
			LambdaDown:    0.1,
			MinLandmarks:  defaultMinLandmarks,
		},
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	var err error
	if cfg.Camera == nil {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path, "camera"))
	} else if camErr := cfg.Camera.CheckValid(); camErr != nil {
		err = multierr.Append(err, utils.NewConfigValidationError(joinPath(path, "camera"), camErr))
	}
	err = multierr.Combine(
		err,
		cfg.StereoMatching.Validate(joinPath(path, "stereo_matching")),
		cfg.TemporalMatching.Validate(joinPath(path, "temporal_matching")),
		cfg.Landmarks.Validate(joinPath(path, "landmarks")),
		cfg.Optimizer.Validate(joinPath(path, "optimizer")),
	)
	return err
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

// ConfigFromAttributes decodes a generic attribute map, such as parsed YAML, on top of
// DefaultConfig and validates the result.
func ConfigFromAttributes(attrs map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, newConfigurationError(err)
	}
	if err := cfg.Validate(""); err != nil {
		return nil, newConfigurationError(err)
	}
	return cfg, nil
}

// LoadConfig reads a JSON or YAML (.yaml, .yml) configuration file. Missing fields keep
// their default values.
func LoadConfig(path string) (*Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var attrs map[string]interface{}
		if err := yaml.Unmarshal(data, &attrs); err != nil {
			return nil, newConfigurationError(errors.Wrapf(err, "cannot parse %q", path))
		}
		return ConfigFromAttributes(attrs)
	default:
		cfg := DefaultConfig()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, newConfigurationError(errors.Wrapf(err, "cannot parse %q", path))
		}
		if err := cfg.Validate(""); err != nil {
			return nil, newConfigurationError(err)
		}
		return cfg, nil
	}
}
