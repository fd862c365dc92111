// Package pipeline orchestrates the full reconstruction: loading the
// defocus pair, decimation, registration of the defocused grid onto the
// in-focus reference, region-mask construction, phase retrieval and the
// final induction-field reconstruction with its exports. Registration and
// mask construction only share the immutable reference grid, so they run
// concurrently.
package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"

	"lorentztie/internal/models"
	"lorentztie/pkg/config"
	"lorentztie/pkg/grid"
	"lorentztie/pkg/induction"
	"lorentztie/pkg/mask"
	"lorentztie/pkg/registration"
	"lorentztie/pkg/tie"
	"lorentztie/pkg/visualization"
)

// Params holds the per-run inputs of a reconstruction.
type Params struct {
	// ReferencePath and DefocusedPath locate the in-focus and defocused
	// micrograph image files.
	ReferencePath string
	DefocusedPath string

	// OutputDir receives the reconstruction exports.
	OutputDir string
}

// Result collects every stage output of a completed reconstruction.
type Result struct {
	// Registration is the alignment outcome, nil when the identity
	// fallback was taken.
	Registration *registration.Result

	// UsedIdentityFallback records that registration failed and the
	// configured fallback substituted the unwarped defocused grid.
	UsedIdentityFallback bool

	// Mask is the accepted region of interest.
	Mask *mask.RegionMask

	// Phase is the recovered phase map.
	Phase *grid.Grid

	// Field is the reconstructed in-plane induction with its masked means.
	Field *induction.Field
}

// Pipeline runs reconstructions for a fixed configuration.
type Pipeline struct {
	cfg *config.Config
}

// New creates a pipeline after validating the configuration.
func New(cfg *config.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg}, nil
}

// Process runs the complete reconstruction for one defocus pair.
func (p *Pipeline) Process(params Params) (*Result, error) {
	cfg := p.cfg
	physics := cfg.Physical()

	p.logf("Loading micrographs...")
	reference, err := LoadMicrograph(params.ReferencePath, physics.PixelPitch, physics.AcceleratingVoltage, 0)
	if err != nil {
		return nil, err
	}
	defocused, err := LoadMicrograph(params.DefocusedPath, physics.PixelPitch, physics.AcceleratingVoltage, physics.DefocusSeparation)
	if err != nil {
		return nil, err
	}
	if !reference.Pixels.SameShape(defocused.Pixels) {
		return nil, models.Inputf("reference %dx%d and defocused %dx%d images differ in shape",
			reference.Pixels.Width, reference.Pixels.Height,
			defocused.Pixels.Width, defocused.Pixels.Height)
	}

	if factor := cfg.Processing.RebinFactor; factor > 1 {
		p.logf("Decimating by factor %d...", factor)
		if reference, err = reference.Decimate(factor); err != nil {
			return nil, err
		}
		if defocused, err = defocused.Decimate(factor); err != nil {
			return nil, err
		}
		physics.PixelPitch = reference.PixelPitch
	}

	result := &Result{}

	// Registration and mask construction both read only the reference
	// grid, so they run concurrently.
	regCfg, err := cfg.RegistrationConfig()
	if err != nil {
		return nil, err
	}
	maskCfg := cfg.MaskConfig()

	type regOutcome struct {
		result *registration.Result
		err    error
	}
	type maskOutcome struct {
		mask *mask.RegionMask
		err  error
	}
	regCh := make(chan regOutcome, 1)
	maskCh := make(chan maskOutcome, 1)

	p.logf("Aligning defocused image (stages: %s, %s) and building region mask...",
		regCfg.Stage1, regCfg.Stage2)
	go func() {
		r, err := registration.Align(reference.Pixels, defocused.Pixels, regCfg)
		regCh <- regOutcome{result: r, err: err}
	}()
	go func() {
		m, err := mask.Build(reference.Pixels, maskCfg)
		maskCh <- maskOutcome{mask: m, err: err}
	}()

	reg := <-regCh
	msk := <-maskCh

	if msk.err != nil {
		return nil, msk.err
	}
	result.Mask = msk.mask
	p.logf("Region mask accepts %d pixels", result.Mask.Count())

	aligned := defocused.Pixels
	switch {
	case reg.err == nil:
		result.Registration = reg.result
		aligned = reg.result.Aligned
		p.logf("Registration converged in %d iterations (correlation %.4f)",
			reg.result.Iterations, reg.result.Correlation)
	default:
		var failure *registration.Failure
		if !errors.As(reg.err, &failure) {
			return nil, reg.err
		}
		if cfg.Registration.Fallback != config.FallbackIdentity {
			return nil, reg.err
		}
		result.UsedIdentityFallback = true
		p.logf("Registration failed (%v); continuing with identity alignment", failure)
	}

	if err := p.saveIntermediaries(params, reference.Pixels, aligned, result.Mask); err != nil {
		return nil, err
	}

	p.logf("Retrieving phase map...")
	solver := tie.NewSolver(physics, cfg.TIEConfig())
	if n := cfg.TIE.RefinementIterations; n > 0 {
		solver = solver.WithStrategy(tie.BoundedRefinement{Iterations: n})
	}
	phase, err := solver.Retrieve(aligned, reference.Pixels)
	if err != nil {
		return nil, err
	}
	result.Phase = phase

	p.logf("Reconstructing induction field...")
	field, err := induction.Reconstruct(phase, physics, result.Mask)
	if err != nil {
		return nil, err
	}
	result.Field = field

	if err := p.saveOutputs(params, result); err != nil {
		return nil, err
	}

	p.logf("Mean induction: Bx = %.4g T, By = %.4g T (%d pixels)",
		field.MeanBx, field.MeanBy, result.Mask.Count())
	return result, nil
}

// saveIntermediaries exports the per-stage grids when configured.
func (p *Pipeline) saveIntermediaries(params Params, reference, aligned *grid.Grid, region *mask.RegionMask) error {
	if !p.cfg.Output.SaveIntermediaryResults {
		return nil
	}
	dir := p.cfg.Output.IntermediaryDir
	if params.OutputDir != "" {
		dir = filepath.Join(params.OutputDir, dir)
	}
	p.logf("Saving intermediary results to %s...", dir)
	exports := map[string]*grid.Grid{
		"reference.png": reference,
		"aligned.png":   aligned,
		"mask.png":      region.Grid,
	}
	for name, g := range exports {
		if err := visualization.SaveGrid(g, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("error saving intermediary %s: %w", name, err)
		}
	}
	return nil
}

// saveOutputs exports the phase map and, when configured, the color-coded
// field map.
func (p *Pipeline) saveOutputs(params Params, result *Result) error {
	if params.OutputDir == "" {
		return nil
	}
	if err := visualization.SaveGrid(result.Phase, filepath.Join(params.OutputDir, "phase.png")); err != nil {
		return fmt.Errorf("error saving phase map: %w", err)
	}
	if p.cfg.Output.ColorMap {
		img := visualization.EncodeField(result.Field, result.Mask)
		if err := visualization.SavePNG(img, filepath.Join(params.OutputDir, "field.png")); err != nil {
			return fmt.Errorf("error saving field map: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.cfg.Output.Verbose {
		fmt.Printf(format+"\n", args...)
	}
}
