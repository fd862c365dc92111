// Package grid provides the 2D real-valued grid type shared by every stage
// of the reconstruction pipeline, together with the pure transforms the
// stages are composed from. All operations return new grids; no function in
// this package mutates its receiver or its arguments.
package grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Grid is a 2D grid of real samples stored as a flat array in row-major
// order, so the sample at column x and row y lives at Data[y*Width+x].
type Grid struct {
	Data   []float64
	Width  int
	Height int
}

// New creates a zero-filled grid with the given dimensions.
func New(width, height int) *Grid {
	return &Grid{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// FromData wraps an existing flat array as a grid. The array length must
// match width*height exactly.
func FromData(data []float64, width, height int) (*Grid, error) {
	if len(data) != width*height {
		return nil, fmt.Errorf("grid data length %d does not match %dx%d", len(data), width, height)
	}
	return &Grid{Data: data, Width: width, Height: height}, nil
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	out := New(g.Width, g.Height)
	copy(out.Data, g.Data)
	return out
}

// At returns the sample at column x, row y.
func (g *Grid) At(x, y int) float64 {
	return g.Data[y*g.Width+x]
}

// Set stores a sample at column x, row y.
func (g *Grid) Set(x, y int, v float64) {
	g.Data[y*g.Width+x] = v
}

// SameShape reports whether two grids have identical dimensions.
func (g *Grid) SameShape(other *Grid) bool {
	return g.Width == other.Width && g.Height == other.Height
}

// Mean returns the arithmetic mean of all samples.
func (g *Grid) Mean() float64 {
	return stat.Mean(g.Data, nil)
}

// MinMax returns the smallest and largest sample values.
func (g *Grid) MinMax() (min, max float64) {
	return floats.Min(g.Data), floats.Max(g.Data)
}

// HasNonFinite reports whether any sample is NaN or infinite.
func (g *Grid) HasNonFinite() bool {
	for _, v := range g.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// Clamp returns a copy with every sample clamped to [lo, hi].
func (g *Grid) Clamp(lo, hi float64) *Grid {
	out := g.Clone()
	for i, v := range out.Data {
		if v < lo {
			out.Data[i] = lo
		} else if v > hi {
			out.Data[i] = hi
		}
	}
	return out
}

// Rescale returns a copy linearly mapped onto [0, 1]. A constant grid maps
// to all zeros rather than dividing by a zero range.
func (g *Grid) Rescale() *Grid {
	min, max := g.MinMax()
	out := New(g.Width, g.Height)
	span := max - min
	if span == 0 {
		return out
	}
	for i, v := range g.Data {
		out.Data[i] = (v - min) / span
	}
	return out
}

// Threshold returns a binary grid holding 1 where the sample is strictly
// greater than thresh and 0 elsewhere.
func (g *Grid) Threshold(thresh float64) *Grid {
	out := New(g.Width, g.Height)
	for i, v := range g.Data {
		if v > thresh {
			out.Data[i] = 1
		}
	}
	return out
}

// Scale returns a copy with every sample multiplied by s.
func (g *Grid) Scale(s float64) *Grid {
	out := g.Clone()
	floats.Scale(s, out.Data)
	return out
}

// AddScalar returns a copy with c added to every sample.
func (g *Grid) AddScalar(c float64) *Grid {
	out := g.Clone()
	floats.AddConst(c, out.Data)
	return out
}

// Add returns the elementwise sum of two grids of identical shape.
func (g *Grid) Add(other *Grid) *Grid {
	out := g.Clone()
	floats.Add(out.Data, other.Data)
	return out
}

// Sub returns the elementwise difference g - other.
func (g *Grid) Sub(other *Grid) *Grid {
	out := g.Clone()
	floats.Sub(out.Data, other.Data)
	return out
}

// MulElem returns the elementwise product of two grids of identical shape.
func (g *Grid) MulElem(other *Grid) *Grid {
	out := g.Clone()
	floats.Mul(out.Data, other.Data)
	return out
}

// DivElem returns the elementwise quotient g / other.
func (g *Grid) DivElem(other *Grid) *Grid {
	out := g.Clone()
	floats.Div(out.Data, other.Data)
	return out
}

// Abs returns a copy with every sample replaced by its absolute value.
func (g *Grid) Abs() *Grid {
	out := New(g.Width, g.Height)
	for i, v := range g.Data {
		out.Data[i] = math.Abs(v)
	}
	return out
}

// GradientX returns the forward-difference gradient along the column axis.
// The last column has no forward neighbor and is left at zero; downstream
// consumers rely on this exact boundary convention, so it must not be
// replaced by a one-sided backward difference.
func (g *Grid) GradientX() *Grid {
	out := New(g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width-1; x++ {
			out.Data[y*g.Width+x] = g.Data[y*g.Width+x+1] - g.Data[y*g.Width+x]
		}
	}
	return out
}

// GradientY returns the forward-difference gradient along the row axis.
// The last row is left at zero; see GradientX for the boundary convention.
func (g *Grid) GradientY() *Grid {
	out := New(g.Width, g.Height)
	for y := 0; y < g.Height-1; y++ {
		for x := 0; x < g.Width; x++ {
			out.Data[y*g.Width+x] = g.Data[(y+1)*g.Width+x] - g.Data[y*g.Width+x]
		}
	}
	return out
}

// CentralGradientX returns the central-difference gradient along the column
// axis with one-sided differences at the borders. Used where a symmetric
// estimate matters more than the forward-difference boundary convention,
// e.g. for the image gradients that drive the registration optimizer.
func (g *Grid) CentralGradientX() *Grid {
	out := New(g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			x0, x1 := x-1, x+1
			den := 2.0
			if x0 < 0 {
				x0, den = x, 1
			}
			if x1 >= g.Width {
				x1, den = x, den-1
			}
			if den <= 0 {
				continue
			}
			out.Data[y*g.Width+x] = (g.Data[y*g.Width+x1] - g.Data[y*g.Width+x0]) / den
		}
	}
	return out
}

// CentralGradientY is the row-axis counterpart of CentralGradientX.
func (g *Grid) CentralGradientY() *Grid {
	out := New(g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		y0, y1 := y-1, y+1
		den := 2.0
		if y0 < 0 {
			y0, den = y, 1
		}
		if y1 >= g.Height {
			y1, den = y, den-1
		}
		if den <= 0 {
			continue
		}
		for x := 0; x < g.Width; x++ {
			out.Data[y*g.Width+x] = (g.Data[y1*g.Width+x] - g.Data[y0*g.Width+x]) / den
		}
	}
	return out
}

// BoxFilter returns the grid smoothed with a uniform square window of the
// given odd size. Samples beyond the border are clamped to the nearest
// valid sample.
func (g *Grid) BoxFilter(window int) *Grid {
	if window < 1 {
		window = 1
	}
	if window%2 == 0 {
		window++
	}
	half := window / 2
	out := New(g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			sum := 0.0
			for dy := -half; dy <= half; dy++ {
				for dx := -half; dx <= half; dx++ {
					sx := x + dx
					sy := y + dy
					if sx < 0 {
						sx = 0
					} else if sx >= g.Width {
						sx = g.Width - 1
					}
					if sy < 0 {
						sy = 0
					} else if sy >= g.Height {
						sy = g.Height - 1
					}
					sum += g.Data[sy*g.Width+sx]
				}
			}
			out.Data[y*g.Width+x] = sum / float64(window*window)
		}
	}
	return out
}

// BilinearSample interpolates the grid at fractional coordinates (x, y).
// The second return value is false when the sample point lies outside the
// grid extent.
func (g *Grid) BilinearSample(x, y float64) (float64, bool) {
	if x < 0 || y < 0 || x > float64(g.Width-1) || y > float64(g.Height-1) {
		return 0, false
	}
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1 := x0 + 1
	if x1 > g.Width-1 {
		x1 = g.Width - 1
	}
	y1 := y0 + 1
	if y1 > g.Height-1 {
		y1 = g.Height - 1
	}
	xr := x - float64(x0)
	yr := y - float64(y0)

	p00 := g.Data[y0*g.Width+x0]
	p01 := g.Data[y0*g.Width+x1]
	p10 := g.Data[y1*g.Width+x0]
	p11 := g.Data[y1*g.Width+x1]

	top := p00 + xr*(p01-p00)
	bottom := p10 + xr*(p11-p10)
	return top + yr*(bottom-top), true
}

// Rebin decimates the grid by averaging non-overlapping factor x factor
// blocks. Trailing rows and columns that do not fill a whole block are
// discarded.
func (g *Grid) Rebin(factor int) (*Grid, error) {
	if factor < 1 {
		return nil, fmt.Errorf("rebin factor must be >= 1, got %d", factor)
	}
	if factor == 1 {
		return g.Clone(), nil
	}
	w := g.Width / factor
	h := g.Height / factor
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("rebin factor %d exceeds grid dimensions %dx%d", factor, g.Width, g.Height)
	}
	out := New(w, h)
	norm := float64(factor * factor)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0.0
			for dy := 0; dy < factor; dy++ {
				for dx := 0; dx < factor; dx++ {
					sum += g.Data[(y*factor+dy)*g.Width+x*factor+dx]
				}
			}
			out.Data[y*w+x] = sum / norm
		}
	}
	return out, nil
}

// CountAbove returns the number of samples strictly greater than thresh.
func (g *Grid) CountAbove(thresh float64) int {
	count := 0
	for _, v := range g.Data {
		if v > thresh {
			count++
		}
	}
	return count
}
