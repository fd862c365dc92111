// Package spectral implements the 2D Fourier machinery used by the mask
// builder and the phase retrieval engine: forward and inverse transforms,
// quadrant shifting, and construction of the regularized transverse
// spatial-frequency grid.
package spectral

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"lorentztie/pkg/grid"
)

// FFT2 performs a 2D Fast Fourier Transform of a real grid.
//
// The transform is separable: rows are transformed first, then columns of
// the row spectra. Both passes use Gonum's complex FFT so the grid does not
// need to be square or power-of-two sized.
//
// Returns the full complex spectrum as a flat row-major array with the same
// shape as the input.
func FFT2(g *grid.Grid) []complex128 {
	data := make([]complex128, len(g.Data))
	for i, v := range g.Data {
		data[i] = complex(v, 0)
	}
	return fft2(data, g.Width, g.Height, false)
}

// IFFT2 performs the inverse 2D transform of a spectrum with the given
// shape, including the 1/(width*height) normalization.
func IFFT2(coeffs []complex128, width, height int) []complex128 {
	out := fft2(coeffs, width, height, true)
	norm := complex(float64(width*height), 0)
	for i := range out {
		out[i] /= norm
	}
	return out
}

// fft2 runs the separable row/column passes. Gonum's CmplxFFT is
// unnormalized in both directions; IFFT2 applies the normalization.
func fft2(data []complex128, width, height int, inverse bool) []complex128 {
	result := make([]complex128, len(data))
	copy(result, data)

	// Row-wise pass
	rowFFT := fourier.NewCmplxFFT(width)
	rowIn := make([]complex128, width)
	rowOut := make([]complex128, width)
	for y := 0; y < height; y++ {
		copy(rowIn, result[y*width:(y+1)*width])
		if inverse {
			rowFFT.Sequence(rowOut, rowIn)
		} else {
			rowFFT.Coefficients(rowOut, rowIn)
		}
		copy(result[y*width:(y+1)*width], rowOut)
	}

	// Column-wise pass
	colFFT := fourier.NewCmplxFFT(height)
	colIn := make([]complex128, height)
	colOut := make([]complex128, height)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			colIn[y] = result[y*width+x]
		}
		if inverse {
			colFFT.Sequence(colOut, colIn)
		} else {
			colFFT.Coefficients(colOut, colIn)
		}
		for y := 0; y < height; y++ {
			result[y*width+x] = colOut[y]
		}
	}

	return result
}

// Shift moves the zero-frequency component to the center of the spectrum,
// mirroring the quadrant-swap convention of numerical FFT libraries.
func Shift(coeffs []complex128, width, height int) []complex128 {
	return circularShift(coeffs, width, height, width/2, height/2)
}

// Unshift is the inverse of Shift, restoring the zero-frequency component
// to the first element. For odd dimensions the two operations differ, so
// they must be paired rather than applied twice.
func Unshift(coeffs []complex128, width, height int) []complex128 {
	return circularShift(coeffs, width, height, width-width/2, height-height/2)
}

func circularShift(coeffs []complex128, width, height, dx, dy int) []complex128 {
	out := make([]complex128, len(coeffs))
	for y := 0; y < height; y++ {
		ny := (y + dy) % height
		for x := 0; x < width; x++ {
			nx := (x + dx) % width
			out[ny*width+nx] = coeffs[y*width+x]
		}
	}
	return out
}

// Magnitude converts a complex spectrum (or inverse-transform result) back
// to a real grid by taking the modulus of every element.
func Magnitude(coeffs []complex128, width, height int) *grid.Grid {
	out := grid.New(width, height)
	for i, c := range coeffs {
		out.Data[i] = cmplx.Abs(c)
	}
	return out
}

// TransverseFrequency builds the transverse spatial-frequency magnitude
// grid k_perp for a grid of the given shape and pixel pitch, laid out in
// the centered (shifted) convention so it matches a spectrum that has been
// passed through Shift.
//
// Per-axis angular frequencies follow the standard FFT bin convention
// k = 2*pi*n/(N*pitch); the grid holds their Euclidean combination. The
// center element is exactly zero, which is why Regularize must be applied
// before the grid is used as a spectral divisor.
func TransverseFrequency(width, height int, pitch float64) *grid.Grid {
	out := grid.New(width, height)
	for y := 0; y < height; y++ {
		ky := 2 * math.Pi * float64(y-height/2) / (float64(height) * pitch)
		for x := 0; x < width; x++ {
			kx := 2 * math.Pi * float64(x-width/2) / (float64(width) * pitch)
			out.Data[y*width+x] = math.Hypot(kx, ky)
		}
	}
	return out
}

// Regularize adds max(k_perp)/divisor to the whole frequency grid. The
// additive offset guarantees strict positivity everywhere, removing the
// division singularity at zero frequency and damping the amplification of
// low-frequency noise in the spectral solve.
func Regularize(kperp *grid.Grid, divisor float64) *grid.Grid {
	if divisor <= 0 {
		divisor = 50
	}
	_, max := kperp.MinMax()
	return kperp.AddScalar(max / divisor)
}
