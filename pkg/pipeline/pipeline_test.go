package pipeline

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lorentztie/pkg/config"
)

// writeTestImage renders a smooth synthetic micrograph to a grayscale PNG:
// a bright background with two dark wells, enough structure for both the
// registration and the mask builder.
func writeTestImage(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := 1.0
			for _, c := range [][2]float64{{18, 22}, {42, 38}} {
				dx := float64(x) - c[0]
				dy := float64(y) - c[1]
				v -= 0.5 * math.Exp(-(dx*dx+dy*dy)/(2*36))
			}
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(v * 255))})
		}
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
}

// TestLoadMicrograph verifies decoding, normalization and metadata
func TestLoadMicrograph(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ref.png")
	writeTestImage(t, path, 32, 32)

	m, err := LoadMicrograph(path, 5e-9, 300e3, 0)
	if err != nil {
		t.Fatalf("LoadMicrograph failed: %v", err)
	}
	if m.Pixels.Width != 32 || m.Pixels.Height != 32 {
		t.Errorf("Expected 32x32 grid, got %dx%d", m.Pixels.Width, m.Pixels.Height)
	}
	min, max := m.Pixels.MinMax()
	if min < 0 || max > 1 {
		t.Errorf("Expected normalized samples in [0,1], got [%g, %g]", min, max)
	}
	if m.Filename != "ref.png" {
		t.Errorf("Expected filename metadata, got %q", m.Filename)
	}
}

// TestLoadMicrographMissing reports an input error for unreadable paths
func TestLoadMicrographMissing(t *testing.T) {
	_, err := LoadMicrograph(filepath.Join(t.TempDir(), "nope.png"), 5e-9, 300e3, 0)
	if err == nil {
		t.Errorf("Expected error for missing file, got nil")
	}
}

// TestProcess runs the full pipeline end to end on an identical pair and
// checks the exports land on disk
func TestProcess(t *testing.T) {
	dir := t.TempDir()
	refPath := filepath.Join(dir, "ref.png")
	defPath := filepath.Join(dir, "def.png")
	writeTestImage(t, refPath, 64, 64)
	writeTestImage(t, defPath, 64, 64)

	cfg := config.DefaultConfig()
	cfg.Output.Verbose = false
	cfg.Output.SaveIntermediaryResults = true
	cfg.Output.ColorMap = true
	cfg.Registration.Epsilon = 1e-7
	cfg.Registration.Fallback = config.FallbackIdentity

	runner, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	outDir := filepath.Join(dir, "out")
	result, err := runner.Process(Params{
		ReferencePath: refPath,
		DefocusedPath: defPath,
		OutputDir:     outDir,
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.Mask == nil || result.Mask.Count() == 0 {
		t.Errorf("Expected a non-empty region mask")
	}
	if result.Phase == nil || result.Phase.HasNonFinite() {
		t.Errorf("Expected a finite phase map")
	}
	if result.Field == nil {
		t.Fatalf("Expected a reconstructed field")
	}
	// An identical pair carries no phase contrast.
	if math.Abs(result.Field.MeanBx) > 1e-6 || math.Abs(result.Field.MeanBy) > 1e-6 {
		t.Errorf("Expected near-zero mean field for an identical pair, got (%g, %g)",
			result.Field.MeanBx, result.Field.MeanBy)
	}

	for _, name := range []string{
		"phase.png",
		"field.png",
		filepath.Join(cfg.Output.IntermediaryDir, "reference.png"),
		filepath.Join(cfg.Output.IntermediaryDir, "aligned.png"),
		filepath.Join(cfg.Output.IntermediaryDir, "mask.png"),
	} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("Expected export %s on disk: %v", name, err)
		}
	}
}

// TestProcessShapeMismatch rejects a pair of differently sized images
func TestProcessShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	refPath := filepath.Join(dir, "ref.png")
	defPath := filepath.Join(dir, "def.png")
	writeTestImage(t, refPath, 32, 32)
	writeTestImage(t, defPath, 16, 16)

	cfg := config.DefaultConfig()
	cfg.Output.Verbose = false

	runner, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := runner.Process(Params{ReferencePath: refPath, DefocusedPath: defPath}); err == nil {
		t.Errorf("Expected error for mismatched image sizes, got nil")
	}
}

// TestProcessRebin checks that decimation shrinks the working grids
func TestProcessRebin(t *testing.T) {
	dir := t.TempDir()
	refPath := filepath.Join(dir, "ref.png")
	defPath := filepath.Join(dir, "def.png")
	writeTestImage(t, refPath, 64, 64)
	writeTestImage(t, defPath, 64, 64)

	cfg := config.DefaultConfig()
	cfg.Output.Verbose = false
	cfg.Processing.RebinFactor = 2
	cfg.Registration.Epsilon = 1e-7
	cfg.Registration.Fallback = config.FallbackIdentity

	runner, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	result, err := runner.Process(Params{ReferencePath: refPath, DefocusedPath: defPath})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Phase.Width != 32 || result.Phase.Height != 32 {
		t.Errorf("Expected 32x32 decimated phase map, got %dx%d", result.Phase.Width, result.Phase.Height)
	}
}

// TestProcessVerboseOutput checks the stage progress messages: the
// concurrent alignment/mask launch is announced once, and the per-stage
// outcomes are reported only after both stages have finished
func TestProcessVerboseOutput(t *testing.T) {
	dir := t.TempDir()
	refPath := filepath.Join(dir, "ref.png")
	defPath := filepath.Join(dir, "def.png")
	writeTestImage(t, refPath, 64, 64)
	writeTestImage(t, defPath, 64, 64)

	cfg := config.DefaultConfig()
	cfg.Output.Verbose = true
	cfg.Registration.Epsilon = 1e-7
	cfg.Registration.Fallback = config.FallbackIdentity

	runner, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	os.Stdout = w
	_, procErr := runner.Process(Params{ReferencePath: refPath, DefocusedPath: defPath})
	w.Close()
	os.Stdout = old
	captured, readErr := io.ReadAll(r)
	if readErr != nil {
		t.Fatalf("Failed to read captured output: %v", readErr)
	}
	if procErr != nil {
		t.Fatalf("Process failed: %v", procErr)
	}

	out := string(captured)
	launch := strings.Index(out, "building region mask")
	maskDone := strings.Index(out, "Region mask accepts")
	regDone := strings.Index(out, "Registration converged")
	if launch < 0 {
		t.Fatalf("Expected a launch message for the concurrent stages, got:\n%s", out)
	}
	if maskDone < launch {
		t.Errorf("Expected the mask outcome after the launch message, got:\n%s", out)
	}
	if regDone < launch {
		t.Errorf("Expected the registration outcome after the launch message, got:\n%s", out)
	}
	if strings.Count(out, "building region mask") != 1 {
		t.Errorf("Expected exactly one launch message, got:\n%s", out)
	}
}

// TestNewRejectsInvalidConfig verifies validation happens at construction
func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Registration.Fallback = "retry"
	if _, err := New(cfg); err == nil {
		t.Errorf("Expected error for invalid configuration, got nil")
	}
}
