package superpixel

import (
	"image"
	"image/color"
)

// Superpixel methods.
const (
	MethodSLIC         = "slic"
	MethodFelzenszwalb = "felzenszwalb"
)

// Segments is a per-pixel superpixel labeling.
type Segments struct {
	W, H   int
	Labels []int
	n      int
}

// Count returns the number of superpixels.
func (s *Segments) Count() int {
	return s.n
}

// At returns the label at x, y.
func (s *Segments) At(x, y int) (int, bool) {
	if x < 0 || y < 0 || x >= s.W || y >= s.H {
		return 0, false
	}
	return s.Labels[y*s.W+x], true
}

// Bounds returns the bounding rectangle of a label, or an empty rectangle
// if the label does not exist.
func (s *Segments) Bounds(label int) image.Rectangle {
	r := image.Rectangle{}
	found := false
	for i, l := range s.Labels {
		if l != label {
			continue
		}
		p := image.Rect(i%s.W, i/s.W, i%s.W+1, i/s.W+1)
		if !found {
			r, found = p, true
			continue
		}
		r = r.Union(p)
	}
	return r
}

// Size returns the pixel count of a label.
func (s *Segments) Size(label int) int {
	n := 0
	for _, l := range s.Labels {
		if l == label {
			n++
		}
	}
	return n
}

// Overlay draws the boundaries between superpixels in c on a transparent
// image, for compositing over the display.
func (s *Segments) Overlay(c color.Color) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, s.W, s.H))
	for y := 0; y < s.H; y++ {
		for x := 0; x < s.W; x++ {
			l := s.Labels[y*s.W+x]
			edge := (x+1 < s.W && s.Labels[y*s.W+x+1] != l) ||
				(y+1 < s.H && s.Labels[(y+1)*s.W+x] != l)
			if edge {
				out.Set(x, y, c)
			}
		}
	}
	return out
}

const (
	paddingFraction = 0.1
	minPadding      = 5
	minCropSize     = 32
)

// CropFor returns the center and side of a square crop around a superpixel's
// bounds: padded by 10% of each side (at least 5 pixels), and at least 32
// pixels wide.
func CropFor(bounds image.Rectangle) (image.Point, int) {
	w, h := bounds.Dx(), bounds.Dy()
	padX := max(minPadding, int(float64(w)*paddingFraction))
	padY := max(minPadding, int(float64(h)*paddingFraction))
	c := image.Pt((bounds.Min.X+bounds.Max.X-1)/2, (bounds.Min.Y+bounds.Max.Y-1)/2)
	side := max(w+2*padX, h+2*padY, minCropSize)
	return c, side
}
