package registration

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"lorentztie/pkg/grid"
)

// Motion selects the parametric warp model used by the optimizer.
type Motion int

const (
	// MotionTranslation is the 2-parameter pure-translation model.
	MotionTranslation Motion = iota

	// MotionHomography is the full 8-parameter projective model.
	MotionHomography
)

func (m Motion) String() string {
	switch m {
	case MotionTranslation:
		return "translation"
	case MotionHomography:
		return "homography"
	}
	return fmt.Sprintf("Motion(%d)", int(m))
}

// paramCount returns the number of free parameters of the model.
func (m Motion) paramCount() int {
	if m == MotionTranslation {
		return 2
	}
	return 8
}

// Transform is a homogeneous 3x3 projective mapping from reference-frame
// coordinates to moving-image coordinates. The bottom-right element is
// fixed at 1.
type Transform struct {
	m *mat.Dense
}

// Identity returns the identity transform.
func Identity() *Transform {
	return &Transform{m: mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})}
}

// Translation returns a pure translation by (tx, ty).
func Translation(tx, ty float64) *Transform {
	return &Transform{m: mat.NewDense(3, 3, []float64{
		1, 0, tx,
		0, 1, ty,
		0, 0, 1,
	})}
}

// fromParams materializes the transform for a parameter vector of the
// given motion model. The homography parameterization follows the usual
// additive-around-identity convention:
//
//	H = | 1+p0  p2   p4 |
//	    | p1    1+p3 p5 |
//	    | p6    p7   1  |
func fromParams(model Motion, p []float64) *Transform {
	if model == MotionTranslation {
		return Translation(p[0], p[1])
	}
	return &Transform{m: mat.NewDense(3, 3, []float64{
		1 + p[0], p[2], p[4],
		p[1], 1 + p[3], p[5],
		p[6], p[7], 1,
	})}
}

// Apply maps a reference-frame point into the moving image's frame.
func (t *Transform) Apply(x, y float64) (float64, float64) {
	u := t.m.At(0, 0)*x + t.m.At(0, 1)*y + t.m.At(0, 2)
	v := t.m.At(1, 0)*x + t.m.At(1, 1)*y + t.m.At(1, 2)
	w := t.m.At(2, 0)*x + t.m.At(2, 1)*y + t.m.At(2, 2)
	return u / w, v / w
}

// Compose returns the transform that applies other first and then t, i.e.
// the mapping x -> t(other(x)). Used to fold the stage-one translation and
// the stage-two homography into a single resampling pass.
func (t *Transform) Compose(other *Transform) *Transform {
	var out mat.Dense
	out.Mul(t.m, other.m)
	// Renormalize so the bottom-right element stays 1.
	if s := out.At(2, 2); s != 0 && s != 1 {
		out.Scale(1/s, &out)
	}
	return &Transform{m: &out}
}

// Matrix returns a copy of the underlying 3x3 matrix.
func (t *Transform) Matrix() *mat.Dense {
	return mat.DenseCopyOf(t.m)
}

// Parameters returns the flattened row-major matrix elements, mostly for
// logging and tests.
func (t *Transform) Parameters() []float64 {
	out := make([]float64, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = t.m.At(r, c)
		}
	}
	return out
}

// Warp resamples src through the transform by inverse mapping with
// bilinear interpolation: every output pixel looks up its pre-image in
// src. Points that fall outside src's extent produce zero.
func Warp(src *grid.Grid, t *Transform) *grid.Grid {
	out := grid.New(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			u, v := t.Apply(float64(x), float64(y))
			if val, ok := src.BilinearSample(u, v); ok {
				out.Data[y*src.Width+x] = val
			}
		}
	}
	return out
}
