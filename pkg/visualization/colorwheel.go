// Package visualization renders the reconstruction outputs: the
// color-wheel encoding of the induction field and grayscale exports of
// intermediate grids. Rendering is a presentation concern, but the
// color-wheel mapping law is part of the reproducible contract for
// color-coded output compatibility.
package visualization

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"lorentztie/pkg/grid"
	"lorentztie/pkg/induction"
	"lorentztie/pkg/mask"
)

// wheel holds the three primary colors anchoring the 120-degree sectors of
// the direction encoding.
var wheel = [3][3]float64{
	{1, 0, 0}, // 0 degrees
	{0, 1, 0}, // 120 degrees
	{0, 0, 1}, // 240 degrees
}

// EncodeField maps the in-plane field to a color image: the direction
// selects a hue on a three-sector wheel with linear interpolation between
// the primaries, and the opacity is the field magnitude normalized by the
// maximum magnitude inside the mask. Pixels outside the mask are fully
// transparent.
func EncodeField(field *induction.Field, region *mask.RegionMask) *image.NRGBA {
	width, height := field.Bx.Width, field.Bx.Height
	magnitude := field.Magnitude()
	angle := field.Angle()

	maxMag := 0.0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if region != nil && !region.Inside(x, y) {
				continue
			}
			if m := magnitude.At(x, y); m > maxMag {
				maxMag = m
			}
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if region != nil && !region.Inside(x, y) {
				img.SetNRGBA(x, y, color.NRGBA{})
				continue
			}
			r, g, b := hueFor(angle.At(x, y))
			alpha := 0.0
			if maxMag > 0 {
				alpha = magnitude.At(x, y) / maxMag
			}
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(math.Round(r * 255)),
				G: uint8(math.Round(g * 255)),
				B: uint8(math.Round(b * 255)),
				A: uint8(math.Round(alpha * 255)),
			})
		}
	}
	return img
}

// hueFor interpolates linearly between the wheel primaries for a direction
// in [0, 2*pi).
func hueFor(angle float64) (r, g, b float64) {
	sectorWidth := 2 * math.Pi / 3
	pos := math.Mod(angle, 2*math.Pi) / sectorWidth
	sector := int(pos) % 3
	frac := pos - math.Floor(pos)

	from := wheel[sector]
	to := wheel[(sector+1)%3]
	r = from[0] + frac*(to[0]-from[0])
	g = from[1] + frac*(to[1]-from[1])
	b = from[2] + frac*(to[2]-from[2])
	return r, g, b
}

// SavePNG writes an image to disk, creating the parent directory when
// needed.
func SavePNG(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return png.Encode(file, img)
}

// SaveGrid writes a grid as a normalized 16-bit grayscale PNG. Used for
// intermediary stage exports.
func SaveGrid(g *grid.Grid, path string) error {
	normalized := g.Rescale()
	img := image.NewGray16(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			value := uint16(math.Max(0, math.Min(65535, normalized.At(x, y)*65535)))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return SavePNG(img, path)
}
