// Package tie recovers the electron phase map from an aligned defocus
// intensity pair by solving the linearized Transport-of-Intensity Equation
// in the spatial-frequency domain. The spectral-division core is shared by
// every solve; the optional nonlinear refinement is a strategy layered on
// top of it rather than a separate code path.
package tie

import (
	"math"

	"lorentztie/internal/models"
	"lorentztie/pkg/grid"
	"lorentztie/pkg/spectral"
)

// Config holds the numerical settings of the solver.
type Config struct {
	// RegularizationDivisor sets the additive k_perp offset to
	// max(k_perp)/divisor. Reference value 50.
	RegularizationDivisor float64

	// IntensityEpsilon is the additive constant applied to both intensity
	// grids before forming the normalized axial derivative. Zero selects
	// an automatic value of 1e-6 times the pair's mean intensity.
	IntensityEpsilon float64
}

// DefaultConfig returns the reference solver settings.
func DefaultConfig() Config {
	return Config{RegularizationDivisor: 50}
}

// Strategy produces a phase map from the measured axial derivative term.
// Implementations share the solver's spectral-division core.
type Strategy interface {
	Name() string
	retrieve(s *Solver, rhs, reference *grid.Grid, pitch float64) *grid.Grid
}

// Solver solves the single-defocus TIE for a fixed physical configuration.
type Solver struct {
	physics  models.PhysicalConfiguration
	config   Config
	strategy Strategy
}

// NewSolver builds a solver with the single-pass linear strategy.
func NewSolver(physics models.PhysicalConfiguration, cfg Config) *Solver {
	if cfg.RegularizationDivisor <= 0 {
		cfg.RegularizationDivisor = 50
	}
	return &Solver{physics: physics, config: cfg, strategy: SinglePass{}}
}

// WithStrategy returns a copy of the solver using the given strategy.
func (s *Solver) WithStrategy(strategy Strategy) *Solver {
	out := *s
	out.strategy = strategy
	return &out
}

// Retrieve recovers the phase map from the aligned intensity pair. The
// result is defined up to an additive constant and a positive global
// scale; only its gradient is physically meaningful.
func (s *Solver) Retrieve(defocused, reference *grid.Grid) (*grid.Grid, error) {
	if !defocused.SameShape(reference) {
		return nil, models.Configf("defocused %dx%d and reference %dx%d grids differ in shape",
			defocused.Width, defocused.Height, reference.Width, reference.Height)
	}
	dz := s.physics.DefocusSeparation
	if dz == 0 {
		return nil, models.Configf("defocus separation must be nonzero")
	}
	kz := s.physics.Wavenumber()
	if math.IsNaN(kz) || math.IsInf(kz, 0) || kz <= 0 {
		return nil, models.Configf("electron wavenumber is not finite and positive: %g", kz)
	}
	pitch := s.physics.PixelPitch
	if pitch <= 0 {
		return nil, models.Configf("pixel pitch must be positive, got %g", pitch)
	}

	// Normalized axial intensity derivative, an estimate of d(ln I)/dz.
	// The additive epsilon keeps the division regular on vacuum or
	// shadowed pixels.
	eps := s.config.IntensityEpsilon
	if eps <= 0 {
		eps = 1e-6 * defocused.Add(reference).Scale(0.5).Mean()
		if eps <= 0 {
			eps = 1e-12
		}
	}
	num := defocused.AddScalar(eps).Sub(reference.AddScalar(eps))
	den := defocused.AddScalar(eps).Add(reference.AddScalar(eps)).Scale(0.5 * dz)
	rhs := num.DivElem(den).Scale(kz)

	return s.strategy.retrieve(s, rhs, reference, pitch), nil
}

// spectralDivide runs the shared core of the solve: forward transform of
// the derivative term, centered division by the regularized k_perp
// squared, and inverse transform. The complex result is returned so
// strategies can choose between magnitude (final output) and the signed
// real part (iterative corrections).
func (s *Solver) spectralDivide(rhs *grid.Grid, pitch float64) []complex128 {
	width, height := rhs.Width, rhs.Height

	coeffs := spectral.FFT2(rhs)
	coeffs = spectral.Shift(coeffs, width, height)

	kperp := spectral.TransverseFrequency(width, height, pitch)
	kperp = spectral.Regularize(kperp, s.config.RegularizationDivisor)
	for i, c := range coeffs {
		k := kperp.Data[i]
		coeffs[i] = c / complex(k*k, 0)
	}

	coeffs = spectral.Unshift(coeffs, width, height)
	return spectral.IFFT2(coeffs, width, height)
}

// SinglePass is the default linear strategy: one spectral division, with
// the magnitude absorbing residual numerical imaginary noise (the analytic
// solution is real).
type SinglePass struct{}

func (SinglePass) Name() string { return "linear-single-pass" }

func (SinglePass) retrieve(s *Solver, rhs, reference *grid.Grid, pitch float64) *grid.Grid {
	return spectral.Magnitude(s.spectralDivide(rhs, pitch), rhs.Width, rhs.Height)
}

// BoundedRefinement runs a fixed number of defect-correction iterations on
// top of the single-pass solve. Each iteration recomputes the derivative
// term from the finite-difference Laplacian of the current phase plus the
// cross term between the phase gradient and the reference-image gradient,
// and re-solves the residual through the same spectral core. Not exercised
// by default.
type BoundedRefinement struct {
	Iterations int
}

func (r BoundedRefinement) Name() string { return "bounded-iterative-refinement" }

func (r BoundedRefinement) retrieve(s *Solver, rhs, reference *grid.Grid, pitch float64) *grid.Grid {
	phase := SinglePass{}.retrieve(s, rhs, reference, pitch)

	// ln I_ref gradient for the cross term; the mean offset keeps the
	// logarithm regular.
	safeRef := reference.AddScalar(1e-6 * (reference.Mean() + 1e-30))
	logRef := grid.New(safeRef.Width, safeRef.Height)
	for i, v := range safeRef.Data {
		logRef.Data[i] = math.Log(v)
	}
	logRefX := logRef.CentralGradientX().Scale(1 / pitch)
	logRefY := logRef.CentralGradientY().Scale(1 / pitch)

	for iter := 0; iter < r.Iterations; iter++ {
		lap := laplacian(phase, pitch)
		cross := phase.CentralGradientX().Scale(1 / pitch).MulElem(logRefX).
			Add(phase.CentralGradientY().Scale(1 / pitch).MulElem(logRefY))
		estimate := lap.Add(cross)

		residual := rhs.Sub(estimate)
		correction := s.spectralDivide(residual, pitch)
		update := grid.New(phase.Width, phase.Height)
		for i, c := range correction {
			update.Data[i] = real(c)
		}
		// The spectral division inverts the negative Laplacian
		// (F[lap u] = -k^2 F[u]), so the correction enters with a
		// minus sign.
		phase = phase.Sub(update)
	}
	return phase
}

// laplacian computes the 5-point finite-difference Laplacian scaled by the
// pixel pitch. Border samples are left at zero.
func laplacian(g *grid.Grid, pitch float64) *grid.Grid {
	out := grid.New(g.Width, g.Height)
	inv := 1 / (pitch * pitch)
	for y := 1; y < g.Height-1; y++ {
		for x := 1; x < g.Width-1; x++ {
			idx := y*g.Width + x
			out.Data[idx] = (g.Data[idx-1] + g.Data[idx+1] + g.Data[idx-g.Width] + g.Data[idx+g.Width] - 4*g.Data[idx]) * inv
		}
	}
	return out
}
