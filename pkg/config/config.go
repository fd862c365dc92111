// Package config provides configuration loading and management for the
// reconstruction pipeline. It handles loading configuration from YAML
// files, provides reference default values, and converts the file
// representation into the typed configuration values the numerical
// packages consume.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"lorentztie/internal/models"
	"lorentztie/pkg/mask"
	"lorentztie/pkg/registration"
	"lorentztie/pkg/tie"
)

// Fallback policies applied when registration fails.
const (
	FallbackAbort    = "abort"
	FallbackIdentity = "identity"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Physical acquisition parameters, all in SI units.
	Physics struct {
		// AcceleratingVoltage of the microscope in volts.
		AcceleratingVoltage float64 `yaml:"acceleratingVoltage"`

		// DefocusSeparation between the defocused and in-focus planes in meters.
		DefocusSeparation float64 `yaml:"defocusSeparation"`

		// SampleThickness of the specimen in meters.
		SampleThickness float64 `yaml:"sampleThickness"`

		// PixelPitch is the physical length per detector sample in meters.
		PixelPitch float64 `yaml:"pixelPitch"`

		// Planck, ElectronMass and ElectronCharge override the built-in
		// constants when positive; zero selects the SI defaults.
		Planck         float64 `yaml:"planck"`
		ElectronMass   float64 `yaml:"electronMass"`
		ElectronCharge float64 `yaml:"electronCharge"`
	} `yaml:"physics"`

	// Processing parameters
	Processing struct {
		// RebinFactor decimates both input grids by block averaging before
		// alignment. 1 disables decimation.
		RebinFactor int `yaml:"rebinFactor"`
	} `yaml:"processing"`

	// Registration optimizer parameters
	Registration struct {
		// MaxIterations bounds each ECC stage. Reference value 3000.
		MaxIterations int `yaml:"maxIterations"`

		// Epsilon is the parameter-update convergence criterion. Reference
		// value 1e-10.
		Epsilon float64 `yaml:"epsilon"`

		// Stage1Model and Stage2Model select the motion model per stage:
		// "translation" or "homography".
		Stage1Model string `yaml:"stage1Model"`
		Stage2Model string `yaml:"stage2Model"`

		// Fallback chooses the policy when registration fails:
		// "abort" or "identity".
		Fallback string `yaml:"fallback"`
	} `yaml:"registration"`

	// Mask geometry and frequency parameters
	Mask struct {
		// ThetaDeg is the rotation angle of the quadrilateral crop.
		ThetaDeg float64 `yaml:"thetaDeg"`

		// Intercepts holds the four bounding-line intercepts; an empty
		// list leaves the crop wide open.
		Intercepts []float64 `yaml:"intercepts"`

		CutoffFraction           float64 `yaml:"cutoffFraction"`
		DenoiseThresholdFraction float64 `yaml:"denoiseThresholdFraction"`
		FringeWindow             int     `yaml:"fringeWindow"`
		FringeThresholdFraction  float64 `yaml:"fringeThresholdFraction"`
		Acceptance               float64 `yaml:"acceptance"`
	} `yaml:"mask"`

	// TIE solver parameters
	TIE struct {
		// RegularizationDivisor sets the k_perp offset to max/divisor.
		RegularizationDivisor float64 `yaml:"regularizationDivisor"`

		// IntensityEpsilon is the additive intensity constant; zero
		// selects an automatic value.
		IntensityEpsilon float64 `yaml:"intensityEpsilon"`

		// RefinementIterations enables the bounded nonlinear refinement
		// when positive. The default single-pass solve uses zero.
		RefinementIterations int `yaml:"refinementIterations"`
	} `yaml:"tie"`

	// Field reconstruction parameters
	Field struct {
		// FrameRotationDeg is the detector-to-sample rotation applied to
		// the reconstructed field components.
		FrameRotationDeg float64 `yaml:"frameRotationDeg"`
	} `yaml:"field"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults enables per-stage grid exports.
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir receives the exports.
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Verbose controls the level of progress output.
		Verbose bool `yaml:"verbose"`

		// ColorMap enables the color-wheel field export.
		ColorMap bool `yaml:"colorMap"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with the reference values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Physics.AcceleratingVoltage = 300e3
	cfg.Physics.DefocusSeparation = 1e-3
	cfg.Physics.SampleThickness = 20e-9
	cfg.Physics.PixelPitch = 5e-9

	cfg.Processing.RebinFactor = 1

	cfg.Registration.MaxIterations = 3000
	cfg.Registration.Epsilon = 1e-10
	cfg.Registration.Stage1Model = "translation"
	cfg.Registration.Stage2Model = "homography"
	cfg.Registration.Fallback = FallbackAbort

	cfg.Mask.CutoffFraction = 1.0 / 3.0
	cfg.Mask.DenoiseThresholdFraction = 0.9
	cfg.Mask.FringeWindow = 9
	cfg.Mask.FringeThresholdFraction = 0.6
	cfg.Mask.Acceptance = 1.0

	cfg.TIE.RegularizationDivisor = 50

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Verbose = true
	cfg.Output.ColorMap = false

	return cfg
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks the configuration for values no pipeline stage can work
// with.
func (c *Config) Validate() error {
	if err := c.Physical().Validate(); err != nil {
		return err
	}
	if c.Processing.RebinFactor < 1 {
		return models.Configf("rebin factor must be >= 1, got %d", c.Processing.RebinFactor)
	}
	if c.Registration.MaxIterations <= 0 {
		return models.Configf("registration iteration cap must be positive, got %d", c.Registration.MaxIterations)
	}
	if c.Registration.Epsilon <= 0 {
		return models.Configf("registration epsilon must be positive, got %g", c.Registration.Epsilon)
	}
	if _, err := parseMotion(c.Registration.Stage1Model); err != nil {
		return err
	}
	if _, err := parseMotion(c.Registration.Stage2Model); err != nil {
		return err
	}
	switch c.Registration.Fallback {
	case FallbackAbort, FallbackIdentity:
	default:
		return models.Configf("unknown registration fallback %q (want %q or %q)",
			c.Registration.Fallback, FallbackAbort, FallbackIdentity)
	}
	if n := len(c.Mask.Intercepts); n != 0 && n != 4 {
		return models.Configf("mask intercepts must hold exactly 4 values, got %d", n)
	}
	if c.TIE.RefinementIterations < 0 {
		return models.Configf("refinement iterations must be >= 0, got %d", c.TIE.RefinementIterations)
	}
	return nil
}

// Physical builds the injectable physical configuration value.
func (c *Config) Physical() models.PhysicalConfiguration {
	return models.PhysicalConfiguration{
		AcceleratingVoltage: c.Physics.AcceleratingVoltage,
		DefocusSeparation:   c.Physics.DefocusSeparation,
		SampleThickness:     c.Physics.SampleThickness,
		PixelPitch:          c.Physics.PixelPitch,
		FrameRotation:       c.Field.FrameRotationDeg * math.Pi / 180,
		Planck:              c.Physics.Planck,
		Mass:                c.Physics.ElectronMass,
		Charge:              c.Physics.ElectronCharge,
	}
}

// RegistrationConfig builds the ECC optimizer configuration.
func (c *Config) RegistrationConfig() (registration.Config, error) {
	stage1, err := parseMotion(c.Registration.Stage1Model)
	if err != nil {
		return registration.Config{}, err
	}
	stage2, err := parseMotion(c.Registration.Stage2Model)
	if err != nil {
		return registration.Config{}, err
	}
	cfg := registration.DefaultConfig()
	cfg.MaxIterations = c.Registration.MaxIterations
	cfg.Epsilon = c.Registration.Epsilon
	cfg.Stage1 = stage1
	cfg.Stage2 = stage2
	return cfg, nil
}

// MaskConfig builds the mask builder configuration.
func (c *Config) MaskConfig() mask.Config {
	cfg := mask.DefaultConfig()
	cfg.ThetaDeg = c.Mask.ThetaDeg
	if len(c.Mask.Intercepts) == 4 {
		copy(cfg.Intercepts[:], c.Mask.Intercepts)
	}
	if c.Mask.CutoffFraction > 0 {
		cfg.CutoffFraction = c.Mask.CutoffFraction
	}
	if c.Mask.DenoiseThresholdFraction > 0 {
		cfg.DenoiseThresholdFraction = c.Mask.DenoiseThresholdFraction
	}
	if c.Mask.FringeWindow > 0 {
		cfg.FringeWindow = c.Mask.FringeWindow
	}
	if c.Mask.FringeThresholdFraction > 0 {
		cfg.FringeThresholdFraction = c.Mask.FringeThresholdFraction
	}
	if c.Mask.Acceptance > 0 {
		cfg.Acceptance = c.Mask.Acceptance
	}
	return cfg
}

// TIEConfig builds the phase retrieval configuration.
func (c *Config) TIEConfig() tie.Config {
	cfg := tie.DefaultConfig()
	if c.TIE.RegularizationDivisor > 0 {
		cfg.RegularizationDivisor = c.TIE.RegularizationDivisor
	}
	cfg.IntensityEpsilon = c.TIE.IntensityEpsilon
	return cfg
}

func parseMotion(name string) (registration.Motion, error) {
	switch name {
	case "translation":
		return registration.MotionTranslation, nil
	case "homography":
		return registration.MotionHomography, nil
	}
	return 0, models.Configf("unknown motion model %q (want \"translation\" or \"homography\")", name)
}
