// Package induction turns a recovered phase map into the in-plane magnetic
// induction field. The TIE relation puts B perpendicular to the phase
// gradient, so the reconstruction is a gradient, a physical scaling by
// h/(2*pi*e) and the sample thickness, and a rotation into the sample
// frame, followed by aggregation over the region mask.
package induction

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"lorentztie/internal/models"
	"lorentztie/pkg/grid"
	"lorentztie/pkg/mask"
)

// Field holds the reconstructed induction components in teslas, expressed
// in the rotated (physical) frame, together with their masked means.
type Field struct {
	Bx *grid.Grid
	By *grid.Grid

	// MeanBx and MeanBy are the arithmetic means over the accepted mask
	// region, the scalar summary outputs of the pipeline.
	MeanBx float64
	MeanBy float64
}

// Reconstruct derives the induction field from a phase map.
//
// The phase gradients use forward differences scaled by the pixel pitch;
// the last row and column of each gradient grid stay at zero because no
// forward neighbor exists there. This boundary convention is preserved
// deliberately for numerical compatibility with reference outputs.
func Reconstruct(phase *grid.Grid, physics models.PhysicalConfiguration, region *mask.RegionMask) (*Field, error) {
	if physics.SampleThickness <= 0 {
		return nil, models.Configf("sample thickness must be positive, got %g", physics.SampleThickness)
	}
	if physics.PixelPitch <= 0 {
		return nil, models.Configf("pixel pitch must be positive, got %g", physics.PixelPitch)
	}
	if region != nil && !region.Grid.SameShape(phase) {
		return nil, models.Configf("mask %dx%d does not match phase map %dx%d",
			region.Grid.Width, region.Grid.Height, phase.Width, phase.Height)
	}

	pitch := physics.PixelPitch
	gradX := phase.GradientX().Scale(1 / pitch)
	gradY := phase.GradientY().Scale(1 / pitch)

	// B is perpendicular to the phase gradient: the row-axis gradient
	// feeds Bx and the column-axis gradient feeds -By.
	scale := physics.FieldCoefficient() / physics.SampleThickness
	bx := gradY.Scale(scale)
	by := gradX.Scale(-scale)

	// Rotate into the sample frame.
	if physics.FrameRotation != 0 {
		cos := math.Cos(physics.FrameRotation)
		sin := math.Sin(physics.FrameRotation)
		rbx := grid.New(bx.Width, bx.Height)
		rby := grid.New(by.Width, by.Height)
		for i := range bx.Data {
			rbx.Data[i] = cos*bx.Data[i] - sin*by.Data[i]
			rby.Data[i] = sin*bx.Data[i] + cos*by.Data[i]
		}
		bx, by = rbx, rby
	}

	field := &Field{Bx: bx, By: by}

	if region != nil {
		weights := region.Weights()
		if region.Count() == 0 {
			return nil, models.Configf("region mask accepts no pixels, nothing to aggregate")
		}
		field.MeanBx = stat.Mean(bx.Data, weights.Data)
		field.MeanBy = stat.Mean(by.Data, weights.Data)
	}

	return field, nil
}

// Magnitude returns |B| per pixel.
func (f *Field) Magnitude() *grid.Grid {
	out := grid.New(f.Bx.Width, f.Bx.Height)
	for i := range out.Data {
		out.Data[i] = math.Hypot(f.Bx.Data[i], f.By.Data[i])
	}
	return out
}

// Angle returns the in-plane field direction per pixel in [0, 2*pi).
func (f *Field) Angle() *grid.Grid {
	out := grid.New(f.Bx.Width, f.Bx.Height)
	for i := range out.Data {
		a := math.Atan2(f.By.Data[i], f.Bx.Data[i])
		if a < 0 {
			a += 2 * math.Pi
		}
		out.Data[i] = a
	}
	return out
}
