package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"lorentztie/internal/models"
	"lorentztie/pkg/registration"
)

// TestDefaultConfig pins the reference values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Physics.AcceleratingVoltage != 300e3 {
		t.Errorf("Expected 300 kV default, got %g", cfg.Physics.AcceleratingVoltage)
	}
	if cfg.Registration.MaxIterations != 3000 {
		t.Errorf("Expected 3000 iterations default, got %d", cfg.Registration.MaxIterations)
	}
	if cfg.Registration.Epsilon != 1e-10 {
		t.Errorf("Expected epsilon 1e-10, got %g", cfg.Registration.Epsilon)
	}
	if cfg.Registration.Fallback != FallbackAbort {
		t.Errorf("Expected abort fallback default, got %q", cfg.Registration.Fallback)
	}
	if math.Abs(cfg.Mask.CutoffFraction-1.0/3.0) > 1e-15 {
		t.Errorf("Expected cutoff fraction 1/3, got %g", cfg.Mask.CutoffFraction)
	}
	if cfg.TIE.RegularizationDivisor != 50 {
		t.Errorf("Expected regularization divisor 50, got %g", cfg.TIE.RegularizationDivisor)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected the default configuration to validate, got %v", err)
	}
}

// TestLoadConfigMissingFile returns defaults when the file does not exist
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed for missing file: %v", err)
	}
	if cfg.Physics.AcceleratingVoltage != 300e3 {
		t.Errorf("Expected defaults for missing file, got voltage %g", cfg.Physics.AcceleratingVoltage)
	}
}

// TestSaveLoadRoundTrip verifies the YAML round trip preserves values
func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Physics.DefocusSeparation = 2.5e-3
	cfg.Processing.RebinFactor = 4
	cfg.Registration.Fallback = FallbackIdentity
	cfg.Mask.ThetaDeg = 12
	cfg.Mask.Intercepts = []float64{10, 200, 20, 220}
	cfg.Field.FrameRotationDeg = 90

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.Physics.DefocusSeparation != 2.5e-3 {
		t.Errorf("Expected defocus 2.5e-3, got %g", loaded.Physics.DefocusSeparation)
	}
	if loaded.Processing.RebinFactor != 4 {
		t.Errorf("Expected rebin factor 4, got %d", loaded.Processing.RebinFactor)
	}
	if loaded.Registration.Fallback != FallbackIdentity {
		t.Errorf("Expected identity fallback, got %q", loaded.Registration.Fallback)
	}
	if len(loaded.Mask.Intercepts) != 4 || loaded.Mask.Intercepts[3] != 220 {
		t.Errorf("Expected intercepts preserved, got %v", loaded.Mask.Intercepts)
	}
}

// TestCreateDefaultConfigFile writes a loadable file
func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected config file on disk: %v", err)
	}
	if _, err := LoadConfig(path); err != nil {
		t.Errorf("Expected written file to load, got %v", err)
	}
}

// TestValidate walks the rejection cases
func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero voltage", func(c *Config) { c.Physics.AcceleratingVoltage = 0 }},
		{"zero rebin", func(c *Config) { c.Processing.RebinFactor = 0 }},
		{"zero iterations", func(c *Config) { c.Registration.MaxIterations = 0 }},
		{"negative epsilon", func(c *Config) { c.Registration.Epsilon = -1 }},
		{"bad stage model", func(c *Config) { c.Registration.Stage1Model = "affine" }},
		{"bad fallback", func(c *Config) { c.Registration.Fallback = "retry" }},
		{"short intercepts", func(c *Config) { c.Mask.Intercepts = []float64{1, 2} }},
		{"negative refinement", func(c *Config) { c.TIE.RefinementIterations = -1 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("Expected validation error for %s, got nil", tc.name)
			continue
		}
		var cfgErr *models.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("Expected ConfigurationError for %s, got %T", tc.name, err)
		}
	}
}

// TestPhysicalConversion checks the degree-to-radian conversion of the
// frame rotation
func TestPhysicalConversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Field.FrameRotationDeg = 180

	physics := cfg.Physical()
	if math.Abs(physics.FrameRotation-math.Pi) > 1e-12 {
		t.Errorf("Expected frame rotation pi, got %g", physics.FrameRotation)
	}
}

// TestRegistrationConfig maps the stage model names onto motion models
func TestRegistrationConfig(t *testing.T) {
	cfg := DefaultConfig()
	regCfg, err := cfg.RegistrationConfig()
	if err != nil {
		t.Fatalf("RegistrationConfig failed: %v", err)
	}
	if regCfg.Stage1 != registration.MotionTranslation {
		t.Errorf("Expected translation stage 1, got %s", regCfg.Stage1)
	}
	if regCfg.Stage2 != registration.MotionHomography {
		t.Errorf("Expected homography stage 2, got %s", regCfg.Stage2)
	}

	cfg.Registration.Stage2Model = "spline"
	if _, err := cfg.RegistrationConfig(); err == nil {
		t.Errorf("Expected error for unknown stage model, got nil")
	}
}

// TestMaskConfig copies the configured intercepts over the wide-open
// defaults
func TestMaskConfig(t *testing.T) {
	cfg := DefaultConfig()
	maskCfg := cfg.MaskConfig()
	if !math.IsInf(maskCfg.Intercepts[0], -1) || !math.IsInf(maskCfg.Intercepts[1], 1) {
		t.Errorf("Expected wide-open intercepts by default, got %v", maskCfg.Intercepts)
	}

	cfg.Mask.Intercepts = []float64{1, 2, 3, 4}
	maskCfg = cfg.MaskConfig()
	if maskCfg.Intercepts != [4]float64{1, 2, 3, 4} {
		t.Errorf("Expected configured intercepts, got %v", maskCfg.Intercepts)
	}
}
