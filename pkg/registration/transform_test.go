package registration

import (
	"math"
	"testing"

	"lorentztie/pkg/grid"
)

// TestApplyTranslation checks the homogeneous mapping of a pure shift
func TestApplyTranslation(t *testing.T) {
	tr := Translation(3, -2)
	x, y := tr.Apply(10, 10)
	if x != 13 || y != 8 {
		t.Errorf("Expected (13,8), got (%f,%f)", x, y)
	}
}

// TestCompose verifies that Compose applies the right-hand transform first
func TestCompose(t *testing.T) {
	a := Translation(1, 0)
	b := Translation(0, 2)

	c := a.Compose(b)
	x, y := c.Apply(0, 0)
	if x != 1 || y != 2 {
		t.Errorf("Expected composed shift (1,2), got (%f,%f)", x, y)
	}

	// Identity composed either way is a no-op.
	id := Identity()
	x, y = a.Compose(id).Apply(5, 5)
	if x != 6 || y != 5 {
		t.Errorf("Expected (6,5) composing with identity, got (%f,%f)", x, y)
	}
}

// TestComposeRenormalizes checks that the bottom-right element stays 1
// after composing projective transforms
func TestComposeRenormalizes(t *testing.T) {
	h := fromParams(MotionHomography, []float64{0, 0, 0, 0, 0, 0, 0.001, 0.002})
	c := h.Compose(h)
	if p := c.Parameters(); math.Abs(p[8]-1) > 1e-12 {
		t.Errorf("Expected normalized bottom-right element 1, got %g", p[8])
	}
}

// TestWarpIdentity ensures the identity warp reproduces the source grid
func TestWarpIdentity(t *testing.T) {
	src := grid.New(8, 8)
	for i := range src.Data {
		src.Data[i] = float64(i)
	}
	out := Warp(src, Identity())
	for i := range src.Data {
		if out.Data[i] != src.Data[i] {
			t.Errorf("Expected identity warp to preserve sample %d", i)
		}
	}
}

// TestWarpTranslation checks inverse-mapping semantics: warping by a
// translation samples the source at shifted coordinates, zero outside
func TestWarpTranslation(t *testing.T) {
	src := grid.New(4, 4)
	src.Set(2, 2, 1)

	out := Warp(src, Translation(1, 1))
	if out.At(1, 1) != 1 {
		t.Errorf("Expected impulse to move to (1,1), got %f", out.At(1, 1))
	}
	if out.At(2, 2) != 0 {
		t.Errorf("Expected original position cleared, got %f", out.At(2, 2))
	}

	// Pixels whose pre-image falls outside the source produce zero.
	out = Warp(src, Translation(10, 0))
	for i, v := range out.Data {
		if v != 0 {
			t.Errorf("Expected all-zero warp outside extent, got %f at %d", v, i)
		}
	}
}

// TestMotionString covers the model names used in failure messages
func TestMotionString(t *testing.T) {
	if MotionTranslation.String() != "translation" {
		t.Errorf("Expected \"translation\", got %q", MotionTranslation.String())
	}
	if MotionHomography.String() != "homography" {
		t.Errorf("Expected \"homography\", got %q", MotionHomography.String())
	}
}
