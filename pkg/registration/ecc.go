// Package registration aligns a defocused micrograph grid to its in-focus
// reference by maximizing the enhanced correlation coefficient (ECC) under
// a parametric warp. The alignment runs in two stages: a 2-parameter
// translation removes the gross shift, then an 8-parameter homography
// recovers residual rotation and shear on the translation-corrected grid.
package registration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"lorentztie/internal/models"
	"lorentztie/pkg/grid"
)

// Config holds the optimizer settings. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// MaxIterations bounds the ECC update loop of each stage.
	MaxIterations int

	// Epsilon is the convergence criterion: the loop stops once the
	// parameter update's Euclidean norm falls below it.
	Epsilon float64

	// Stage1 and Stage2 select the motion model of each stage.
	Stage1 Motion
	Stage2 Motion

	// DisableStage2 skips the second stage entirely, returning the
	// stage-one transform.
	DisableStage2 bool

	// Weights is the correlation weighting grid over the reference domain.
	// Nil means uniform support (all ones). Exposed as an input rather
	// than hardwiring any exclusion.
	Weights *grid.Grid
}

// DefaultConfig returns the reference optimizer settings.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 3000,
		Epsilon:       1e-10,
		Stage1:        MotionTranslation,
		Stage2:        MotionHomography,
	}
}

// Result holds the outcome of a two-stage alignment.
type Result struct {
	// Aligned is the original (unclipped) moving grid resampled into the
	// reference frame through the composed transform.
	Aligned *grid.Grid

	// Transform is the composed mapping from reference coordinates to
	// moving-image coordinates.
	Transform *Transform

	// Correlation is the final enhanced correlation coefficient of the
	// last stage executed.
	Correlation float64

	// Iterations is the total number of optimizer iterations across both
	// stages.
	Iterations int
}

// Failure reports that the ECC optimization did not produce a usable
// transform. The caller decides whether to fall back to an identity
// transform or abort; that policy is deliberately not made here.
type Failure struct {
	Reason     string
	Model      Motion
	Iterations int
	LastDelta  float64
}

func (e *Failure) Error() string {
	return fmt.Sprintf("registration failure (%s, %d iterations, last update %.3g): %s",
		e.Model, e.Iterations, e.LastDelta, e.Reason)
}

// Align registers moving against ref and resamples it into ref's frame.
//
// Both grids are preprocessed independently before correlation: samples
// are clipped to [0, mean] (suppressing bright outliers so mid-to-low
// intensity structure drives the alignment) and rescaled to [0,1]. The
// preprocessed copies only steer the optimizer; the returned aligned grid
// is the original moving grid warped by the recovered transform.
func Align(ref, moving *grid.Grid, cfg Config) (*Result, error) {
	if !ref.SameShape(moving) {
		return nil, models.Configf("reference %dx%d and moving %dx%d grids differ in shape",
			ref.Width, ref.Height, moving.Width, moving.Height)
	}
	weights := cfg.Weights
	if weights == nil {
		w := grid.New(ref.Width, ref.Height)
		for i := range w.Data {
			w.Data[i] = 1
		}
		weights = w
	} else if !weights.SameShape(ref) {
		return nil, models.Configf("weight grid %dx%d does not match reference %dx%d",
			weights.Width, weights.Height, ref.Width, ref.Height)
	}

	preRef := preprocess(ref)
	preMov := preprocess(moving)

	// Stage 1: remove gross translation.
	stage1, err := solveECC(preRef, preMov, weights, cfg.Stage1, cfg.MaxIterations, cfg.Epsilon)
	if err != nil {
		return nil, err
	}
	total := stage1.transform
	corr := stage1.correlation
	iters := stage1.iterations

	// Stage 2: recover residual rotation/shear on the translation-corrected
	// grid. Removing the gross shift first keeps the nonlinear homography
	// search inside its convergence basin.
	if !cfg.DisableStage2 {
		corrected := Warp(preMov, stage1.transform)
		stage2, err := solveECC(preRef, corrected, weights, cfg.Stage2, cfg.MaxIterations, cfg.Epsilon)
		if err != nil {
			return nil, err
		}
		total = stage1.transform.Compose(stage2.transform)
		corr = stage2.correlation
		iters += stage2.iterations
	}

	return &Result{
		Aligned:     Warp(moving, total),
		Transform:   total,
		Correlation: corr,
		Iterations:  iters,
	}, nil
}

// preprocess clips a grid to [0, mean] and rescales it to [0,1] for
// correlation evaluation.
func preprocess(g *grid.Grid) *grid.Grid {
	return g.Clamp(0, g.Mean()).Rescale()
}

type stageResult struct {
	transform   *Transform
	correlation float64
	iterations  int
}

// solveECC iteratively maximizes the enhanced correlation coefficient
// between template and image under the given motion model, following the
// forward-additive scheme of Evangelidis and Psarakis.
func solveECC(template, image, weights *grid.Grid, model Motion, maxIter int, eps float64) (*stageResult, error) {
	if maxIter <= 0 {
		maxIter = 1
	}
	k := model.paramCount()
	width, height := template.Width, template.Height
	n := width * height

	// Image gradients are computed once and resampled at the warped
	// positions each iteration.
	gradX := image.CentralGradientX()
	gradY := image.CentralGradientY()

	params := make([]float64, k)

	// Per-iteration scratch, reused across iterations.
	valid := make([]bool, n)
	warpedVal := make([]float64, n)
	jac := make([]float64, n*k)
	jrow := make([]float64, k)

	gtg := make([]float64, k*k)
	gtIC := make([]float64, k)
	gtTC := make([]float64, k)
	delta := make([]float64, k)

	const tiny = 1e-14
	lastDelta := math.Inf(1)
	correlation := 0.0

	for iter := 1; iter <= maxIter; iter++ {
		warp := fromParams(model, params)

		// Pass 1: warp the image and its gradients into the template
		// frame, building the Jacobian of the warp w.r.t. the parameters.
		sumW, sumT, sumI := 0.0, 0.0, 0.0
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				idx := y*width + x
				valid[idx] = false
				w := weights.Data[idx]
				if w <= 0 {
					continue
				}
				u, v := warp.Apply(float64(x), float64(y))
				iw, ok := image.BilinearSample(u, v)
				if !ok {
					continue
				}
				gx, _ := gradX.BilinearSample(u, v)
				gy, _ := gradY.BilinearSample(u, v)

				jacobianRow(model, params, float64(x), float64(y), gx, gy, jrow)
				copy(jac[idx*k:(idx+1)*k], jrow)

				valid[idx] = true
				warpedVal[idx] = iw
				sumW += w
				sumT += w * template.Data[idx]
				sumI += w * iw
			}
		}
		if sumW <= 0 {
			return nil, &Failure{
				Reason:     "no overlap between template support and warped image",
				Model:      model,
				Iterations: iter,
				LastDelta:  lastDelta,
			}
		}
		meanT := sumT / sumW
		meanI := sumI / sumW

		// Pass 2: zero-mean both sides under the weights and accumulate
		// the projected normal equations.
		for i := range gtg {
			gtg[i] = 0
		}
		for i := 0; i < k; i++ {
			gtIC[i] = 0
			gtTC[i] = 0
		}
		normTC, normIC, dotTI := 0.0, 0.0, 0.0
		for idx := 0; idx < n; idx++ {
			if !valid[idx] {
				continue
			}
			sw := math.Sqrt(weights.Data[idx])
			tc := sw * (template.Data[idx] - meanT)
			ic := sw * (warpedVal[idx] - meanI)
			normTC += tc * tc
			normIC += ic * ic
			dotTI += tc * ic
			row := jac[idx*k : (idx+1)*k]
			for a := 0; a < k; a++ {
				ga := sw * row[a]
				gtIC[a] += ga * ic
				gtTC[a] += ga * tc
				for b := a; b < k; b++ {
					gtg[a*k+b] += ga * sw * row[b]
				}
			}
		}
		for a := 0; a < k; a++ {
			for b := 0; b < a; b++ {
				gtg[a*k+b] = gtg[b*k+a]
			}
		}

		if normTC < tiny || normIC < tiny {
			return nil, &Failure{
				Reason:     "near-constant image, correlation numerically degenerate",
				Model:      model,
				Iterations: iter,
				LastDelta:  lastDelta,
			}
		}
		correlation = dotTI / math.Sqrt(normTC*normIC)

		// Solve GtG a = Gt*ic and GtG b = Gt*tc.
		var chol mat.Cholesky
		sym := mat.NewSymDense(k, gtg)
		if ok := chol.Factorize(sym); !ok {
			return nil, &Failure{
				Reason:     "normal matrix is singular, image lacks gradient structure",
				Model:      model,
				Iterations: iter,
				LastDelta:  lastDelta,
			}
		}
		var a, b mat.VecDense
		if err := chol.SolveVecTo(&a, mat.NewVecDense(k, gtIC)); err != nil {
			return nil, &Failure{Reason: err.Error(), Model: model, Iterations: iter, LastDelta: lastDelta}
		}
		if err := chol.SolveVecTo(&b, mat.NewVecDense(k, gtTC)); err != nil {
			return nil, &Failure{Reason: err.Error(), Model: model, Iterations: iter, LastDelta: lastDelta}
		}

		icProj := floats.Dot(gtIC, a.RawVector().Data)
		tcProj := floats.Dot(gtTC, a.RawVector().Data)
		den := dotTI - tcProj
		if den <= 0 {
			return nil, &Failure{
				Reason:     "non-positive ECC projection denominator",
				Model:      model,
				Iterations: iter,
				LastDelta:  lastDelta,
			}
		}
		lambda := (normIC - icProj) / den

		for i := 0; i < k; i++ {
			delta[i] = lambda*b.AtVec(i) - a.AtVec(i)
			params[i] += delta[i]
		}
		lastDelta = floats.Norm(delta, 2)
		if lastDelta < eps {
			return &stageResult{
				transform:   fromParams(model, params),
				correlation: correlation,
				iterations:  iter,
			}, nil
		}
	}

	return nil, &Failure{
		Reason:     fmt.Sprintf("no convergence within %d iterations (correlation %.4f)", maxIter, correlation),
		Model:      model,
		Iterations: maxIter,
		LastDelta:  lastDelta,
	}
}

// jacobianRow fills dst with the steepest-descent entries for one pixel:
// the image gradient at the warped position chained with the warp's
// Jacobian with respect to the parameters.
func jacobianRow(model Motion, p []float64, x, y, gx, gy float64, dst []float64) {
	if model == MotionTranslation {
		dst[0] = gx
		dst[1] = gy
		return
	}
	// Homography parameterization, see fromParams.
	u := (1+p[0])*x + p[2]*y + p[4]
	v := p[1]*x + (1+p[3])*y + p[5]
	w := p[6]*x + p[7]*y + 1
	inv := 1 / w
	X := u * inv
	Y := v * inv

	dst[0] = gx * x * inv
	dst[1] = gy * x * inv
	dst[2] = gx * y * inv
	dst[3] = gy * y * inv
	dst[4] = gx * inv
	dst[5] = gy * inv
	dst[6] = -(gx*X + gy*Y) * x * inv
	dst[7] = -(gx*X + gy*Y) * y * inv
}
