package pipeline

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"lorentztie/internal/models"
	"lorentztie/pkg/grid"
)

// LoadMicrograph reads an intensity image from disk and wraps it as a
// validated micrograph. PNG, JPEG and TIFF inputs are supported; samples
// are converted to luminance and normalized to [0, 1].
func LoadMicrograph(path string, pitch, voltage, defocus float64) (*models.Micrograph, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, models.Inputf("error opening image %s: %v", path, err)
	}
	defer file.Close()

	var img image.Image
	if strings.EqualFold(filepath.Ext(path), ".tif") || strings.EqualFold(filepath.Ext(path), ".tiff") {
		img, err = tiff.Decode(file)
	} else {
		img, _, err = image.Decode(file)
	}
	if err != nil {
		return nil, models.Inputf("error decoding image %s: %v", path, err)
	}

	g := gridFromImage(img)
	micrograph, err := models.NewMicrograph(g, pitch, voltage, defocus)
	if err != nil {
		return nil, fmt.Errorf("invalid micrograph %s: %w", path, err)
	}
	micrograph.Filename = filepath.Base(path)
	return micrograph, nil
}

// gridFromImage converts an image to a luminance grid normalized to [0, 1].
func gridFromImage(img image.Image) *grid.Grid {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	g := grid.New(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, gc, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// Rec. 601 luma over the 16-bit channel range.
			luma := 0.299*float64(r) + 0.587*float64(gc) + 0.114*float64(b)
			g.Data[y*width+x] = luma / 65535.0
		}
	}
	return g
}
