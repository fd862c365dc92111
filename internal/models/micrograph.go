package models

import (
	"math"

	"lorentztie/pkg/grid"
)

// Micrograph represents a single defocused or in-focus intensity image
// together with its acquisition metadata.
type Micrograph struct {
	// Pixels holds the intensity samples normalized to the [0,1] range.
	Pixels *grid.Grid

	// PixelPitch is the physical length per sample in meters.
	PixelPitch float64

	// Voltage is the accelerating voltage in volts.
	Voltage float64

	// Defocus is the nominal defocus distance of this image in meters.
	// Zero for the in-focus reference.
	Defocus float64

	// Filename is the source file the image was loaded from, when known.
	Filename string
}

// NewMicrograph validates the raw grid and wraps it with its metadata.
// Malformed input (empty grid, non-finite samples, non-positive pitch)
// is rejected with an InputError.
func NewMicrograph(pixels *grid.Grid, pitch, voltage, defocus float64) (*Micrograph, error) {
	if pixels == nil || pixels.Width == 0 || pixels.Height == 0 {
		return nil, Inputf("micrograph grid is empty")
	}
	if pixels.HasNonFinite() {
		return nil, Inputf("micrograph contains non-finite intensity samples")
	}
	if pitch <= 0 || math.IsNaN(pitch) || math.IsInf(pitch, 0) {
		return nil, Inputf("pixel pitch must be positive and finite, got %g", pitch)
	}
	return &Micrograph{
		Pixels:     pixels,
		PixelPitch: pitch,
		Voltage:    voltage,
		Defocus:    defocus,
	}, nil
}

// Decimate returns a copy rebinned by the given integer factor. The pixel
// pitch scales by the same factor so the physical extent is preserved.
func (m *Micrograph) Decimate(factor int) (*Micrograph, error) {
	if factor <= 1 {
		return m, nil
	}
	rebinned, err := m.Pixels.Rebin(factor)
	if err != nil {
		return nil, Inputf("decimation failed: %v", err)
	}
	return &Micrograph{
		Pixels:     rebinned,
		PixelPitch: m.PixelPitch * float64(factor),
		Voltage:    m.Voltage,
		Defocus:    m.Defocus,
		Filename:   m.Filename,
	}, nil
}
