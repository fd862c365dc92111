// Package mask derives the boolean region-of-interest grid that keeps edge
// and Fresnel-fringe artifacts out of the field aggregation. The mask is
// the pointwise intersection of three independent criteria, each computed
// from the reference micrograph alone: a frequency-domain denoise of the
// specimen interior, a rotated quadrilateral crop, and an exclusion band
// along high-gradient fringe regions.
package mask

import (
	"math"
	"math/cmplx"

	"lorentztie/internal/models"
	"lorentztie/pkg/grid"
	"lorentztie/pkg/spectral"
)

// Config holds the fixed geometry and frequency settings of the builder.
type Config struct {
	// ThetaDeg is the rotation angle of the quadrilateral crop in degrees.
	ThetaDeg float64

	// Intercepts are the four line intercepts bounding the crop: with
	// t = tan(theta), a pixel (x, y) is retained iff
	// Intercepts[0] <= x - t*y <= Intercepts[1] and
	// Intercepts[2] <= y + t*x <= Intercepts[3].
	Intercepts [4]float64

	// CutoffFraction scales the low-pass disk radius relative to the
	// frequency-grid half-extent. The reference pipeline uses 1/3.
	CutoffFraction float64

	// DenoiseThresholdFraction re-thresholds the low-pass filtered grid
	// at this fraction of its own mean. Reference value 0.9.
	DenoiseThresholdFraction float64

	// FringeWindow is the side of the uniform smoothing window applied to
	// the mask gradient before fringe thresholding.
	FringeWindow int

	// FringeThresholdFraction flags the fringe band where the smoothed
	// gradient exceeds this fraction of its own mean. Reference value 0.6.
	FringeThresholdFraction float64

	// Acceptance is the threshold at which consumers treat mask values as
	// inside the region of interest.
	Acceptance float64
}

// DefaultConfig returns the reference builder settings. The crop defaults
// to the whole grid (intercepts wide open) so that geometry only restricts
// the mask when configured.
func DefaultConfig() Config {
	return Config{
		ThetaDeg:                 0,
		Intercepts:               [4]float64{math.Inf(-1), math.Inf(1), math.Inf(-1), math.Inf(1)},
		CutoffFraction:           1.0 / 3.0,
		DenoiseThresholdFraction: 0.9,
		FringeWindow:             9,
		FringeThresholdFraction:  0.6,
		Acceptance:               1.0,
	}
}

// RegionMask is the accepted region-of-interest grid. Values live in
// [0,1]; samples at or above the acceptance threshold are inside.
type RegionMask struct {
	Grid       *grid.Grid
	Acceptance float64
}

// Inside reports whether the pixel at (x, y) belongs to the region.
func (m *RegionMask) Inside(x, y int) bool {
	return m.Grid.At(x, y) >= m.Acceptance
}

// Weights returns a 0/1 grid usable directly as statistical weights.
func (m *RegionMask) Weights() *grid.Grid {
	out := grid.New(m.Grid.Width, m.Grid.Height)
	for i, v := range m.Grid.Data {
		if v >= m.Acceptance {
			out.Data[i] = 1
		}
	}
	return out
}

// Count returns the number of accepted pixels.
func (m *RegionMask) Count() int {
	count := 0
	for _, v := range m.Grid.Data {
		if v >= m.Acceptance {
			count++
		}
	}
	return count
}

// Build constructs the region mask from the reference grid. The result is
// read-only thereafter; each criterion is a pure transform and the final
// mask is their explicit composition, so removing any single criterion can
// only enlarge the accepted set.
func Build(ref *grid.Grid, cfg Config) (*RegionMask, error) {
	crop, err := GeometricCrop(ref.Width, ref.Height, cfg)
	if err != nil {
		return nil, err
	}
	denoised := FrequencyDenoise(ref, cfg)
	combined := denoised.MulElem(crop)
	band := FringeBand(combined, cfg)
	final := combined.Sub(band).Clamp(0, 1)

	acceptance := cfg.Acceptance
	if acceptance <= 0 {
		acceptance = 1.0
	}
	return &RegionMask{Grid: final, Acceptance: acceptance}, nil
}

// FrequencyDenoise extracts a clean binary interior mask from the
// reference grid. The grid is binarized at its mean, low-pass filtered in
// the frequency domain with a centered disk, and re-thresholded at a
// fraction of the filtered result's own mean. The low-pass step removes
// the high-frequency speckle that a plain threshold leaves behind.
func FrequencyDenoise(ref *grid.Grid, cfg Config) *grid.Grid {
	width, height := ref.Width, ref.Height

	binary := ref.Threshold(ref.Mean())

	coeffs := spectral.FFT2(binary)
	coeffs = spectral.Shift(coeffs, width, height)

	cutoff := cfg.CutoffFraction
	if cutoff <= 0 {
		cutoff = 1.0 / 3.0
	}
	halfExtent := float64(min(width, height)) / 2
	radius := cutoff * halfExtent
	cx, cy := width/2, height/2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := float64(x - cx)
			dy := float64(y - cy)
			if math.Hypot(dx, dy) > radius {
				coeffs[y*width+x] = complex(0, 0)
			}
		}
	}

	coeffs = spectral.Unshift(coeffs, width, height)
	inv := spectral.IFFT2(coeffs, width, height)
	filtered := grid.New(width, height)
	for i, c := range inv {
		filtered.Data[i] = cmplx.Abs(c)
	}

	frac := cfg.DenoiseThresholdFraction
	if frac <= 0 {
		frac = 0.9
	}
	return filtered.Threshold(frac * filtered.Mean())
}

// GeometricCrop builds the rotated quadrilateral criterion. A degenerate
// configuration enclosing no pixel at all is rejected, since aggregating
// over an empty region is meaningless.
func GeometricCrop(width, height int, cfg Config) (*grid.Grid, error) {
	t := math.Tan(cfg.ThetaDeg * math.Pi / 180)
	out := grid.New(width, height)
	count := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			u := float64(x) - t*float64(y)
			v := float64(y) + t*float64(x)
			if u >= cfg.Intercepts[0] && u <= cfg.Intercepts[1] &&
				v >= cfg.Intercepts[2] && v <= cfg.Intercepts[3] {
				out.Data[y*width+x] = 1
				count++
			}
		}
	}
	if count == 0 {
		return nil, models.Configf("mask geometry (theta %.2f deg, intercepts %v) encloses no pixels",
			cfg.ThetaDeg, cfg.Intercepts)
	}
	return out, nil
}

// FringeBand flags the boundary strip dominated by defocus diffraction
// fringes: the absolute row-axis gradient of the mask is box-smoothed and
// thresholded at a fraction of its own mean. Subtracting the band from the
// mask erodes the region away from specimen edges.
func FringeBand(m *grid.Grid, cfg Config) *grid.Grid {
	window := cfg.FringeWindow
	if window <= 0 {
		window = 9
	}
	frac := cfg.FringeThresholdFraction
	if frac <= 0 {
		frac = 0.6
	}
	smoothed := m.GradientY().Abs().BoxFilter(window)
	mean := smoothed.Mean()
	if mean == 0 {
		// A mask without any interior edge produces no band at all.
		return grid.New(m.Width, m.Height)
	}
	return smoothed.Threshold(frac * mean)
}
