// Package render turns rasters into 8-bit RGB display buffers.
package render

import (
	"errors"
	"image"
	"math"

	"github.com/anthonynsimon/bild/transform"
	"golang.org/x/image/draw"

	"github.com/tstromberg/bandcrop/pkg/raster"
)

const (
	MinZoom = 0.1
	MaxZoom = 5.0
)

// ClampZoom limits a zoom factor to [MinZoom, MaxZoom].
func ClampZoom(z float64) float64 {
	switch {
	case math.IsNaN(z):
		return 1
	case z < MinZoom:
		return MinZoom
	case z > MaxZoom:
		return MaxZoom
	}
	return z
}

// Renderer holds display options. The zero value uses a min-max stretch.
type Renderer struct {
	Stretch Stretch
}

// Render draws the raster in the given mode with the default min-max stretch.
func Render(r *raster.Raster, mode DisplayMode, zoom float64) (*image.RGBA, error) {
	return Renderer{}.Render(r, mode, zoom)
}

// Render builds the composite for mode and resamples it by zoom, which is
// clamped to [MinZoom, MaxZoom]. The raster is only read.
func (rd Renderer) Render(r *raster.Raster, mode DisplayMode, zoom float64) (*image.RGBA, error) {
	if r == nil {
		return nil, errors.New("nil raster")
	}
	if err := mode.Validate(r); err != nil {
		return nil, err
	}

	img := rd.composite(r, mode)
	zoom = ClampZoom(zoom)
	if zoom == 1 {
		return img, nil
	}
	w := max(1, int(math.Round(float64(r.Width)*zoom)))
	h := max(1, int(math.Round(float64(r.Height)*zoom)))
	return transform.Resize(img, w, h, transform.Lanczos), nil
}

func (rd Renderer) composite(r *raster.Raster, mode DisplayMode) *image.RGBA {
	var ch [3][]uint8

	switch mode.Kind {
	case SingleBand, RGBNatural, FalseColorIR, RedEdgeEnhanced, NDVILike:
		idx, _ := mode.Bands()
		done := map[int][]uint8{}
		for c, k := range idx {
			if _, ok := done[k]; !ok {
				done[k] = rd.Stretch.Normalize(r.Bands[k-1])
			}
			ch[c] = done[k]
		}
	case RGBColor:
		ch = rd.color(r)
	case Grayscale:
		ch = rd.color(r)
		if r.BandCount() >= 3 {
			y := luma(ch)
			ch = [3][]uint8{y, y, y}
		}
	}

	img := image.NewRGBA(r.Bounds())
	for i := range ch[0] {
		img.Pix[i*4] = ch[0][i]
		img.Pix[i*4+1] = ch[1][i]
		img.Pix[i*4+2] = ch[2][i]
		img.Pix[i*4+3] = 0xff
	}
	return img
}

// color returns the 8-bit red, green and blue samples of an RGB-kind raster.
// A single band is replicated.
func (rd Renderer) color(r *raster.Raster) [3][]uint8 {
	pick := []int{0, 1, 2}
	if r.BandCount() < 3 {
		pick = []int{0, 0, 0}
	}
	var ch [3][]uint8
	for c, b := range pick {
		if c > 0 && b == pick[c-1] {
			ch[c] = ch[c-1]
			continue
		}
		ch[c] = to8(r.Bands[b], r.DType, rd.Stretch)
	}
	return ch
}

func to8(band []float32, dt raster.DType, s Stretch) []uint8 {
	if dt == raster.Float32 {
		return s.Normalize(band)
	}
	div := 1.0
	if dt == raster.Uint16 {
		div = 257
	}
	out := make([]uint8, len(band))
	for i, v := range band {
		out[i] = clamp8(float64(v) / div)
	}
	return out
}

func luma(ch [3][]uint8) []uint8 {
	out := make([]uint8, len(ch[0]))
	for i := range out {
		out[i] = clamp8(0.299*float64(ch[0][i]) + 0.587*float64(ch[1][i]) + 0.114*float64(ch[2][i]))
	}
	return out
}

// Scale resizes img to side x side for the crop preview.
func Scale(img image.Image, side int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
