// Package crop cuts square regions out of rasters.
package crop

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/tstromberg/bandcrop/pkg/raster"
)

const (
	MinSize     = 16
	MaxSize     = 512
	DefaultSize = 64
)

// Presets are the commonly used square sizes.
var Presets = []int{16, 32, 48, 64, 96, 128, 192, 256, 384, 512}

var (
	ErrInvalidSize = errors.New("crop size must be positive")
	ErrEmptyCrop   = errors.New("crop region does not overlap the image")
)

// Reason flags why a crop is not a full, centred square.
type Reason uint8

const (
	NearLeftEdge Reason = 1 << iota
	NearTopEdge
	NearRightEdge
	NearBottomEdge
	// Asymmetric marks odd sizes, whose extra row and column fall right and
	// below the center.
	Asymmetric
)

var reasonNames = []struct {
	flag Reason
	name string
}{
	{NearLeftEdge, "near_left_edge"},
	{NearTopEdge, "near_top_edge"},
	{NearRightEdge, "near_right_edge"},
	{NearBottomEdge, "near_bottom_edge"},
	{Asymmetric, "asymmetric"},
}

// Has reports whether every flag in f is set.
func (r Reason) Has(f Reason) bool {
	return r&f == f
}

// Edge reports whether any edge flag is set.
func (r Reason) Edge() bool {
	return r&(NearLeftEdge|NearTopEdge|NearRightEdge|NearBottomEdge) != 0
}

func (r Reason) String() string {
	var parts []string
	for _, rn := range reasonNames {
		if r.Has(rn.flag) {
			parts = append(parts, rn.name)
		}
	}
	return strings.Join(parts, ",")
}

// Result is an extracted crop.
type Result struct {
	// Raster holds every band of the clipped region.
	Raster *raster.Raster
	// Bounds is the clipped region in source pixels.
	Bounds image.Rectangle
	// Requested is the full square before clipping.
	Requested image.Rectangle
	// Valid is true for a full, symmetric square inside the image.
	Valid  bool
	Reason Reason
}

func (r *Result) String() string {
	s := fmt.Sprintf("%dx%d crop at %v", r.Bounds.Dx(), r.Bounds.Dy(), r.Bounds.Min)
	if !r.Valid {
		s += " (" + r.Reason.String() + ")"
	}
	return s
}

// Square returns the size x size square whose center is (cx, cy): it starts
// size/2 (rounded down) before the center on each axis.
func Square(cx, cy, size int) image.Rectangle {
	half := size / 2
	return image.Rect(cx-half, cy-half, cx-half+size, cy-half+size)
}

// Extract copies the square around (cx, cy) out of r. Squares that cross the
// image edge are clipped and flagged rather than rejected.
func Extract(r *raster.Raster, cx, cy, size int) (*Result, error) {
	if r == nil {
		return nil, errors.New("nil raster")
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	req := Square(cx, cy, size)
	clipped := req.Intersect(r.Bounds())
	if clipped.Empty() {
		return nil, fmt.Errorf("%w: %v outside %v", ErrEmptyCrop, req, r.Bounds())
	}

	var why Reason
	if req.Min.X < 0 {
		why |= NearLeftEdge
	}
	if req.Min.Y < 0 {
		why |= NearTopEdge
	}
	if req.Max.X > r.Width {
		why |= NearRightEdge
	}
	if req.Max.Y > r.Height {
		why |= NearBottomEdge
	}
	if size%2 == 1 {
		why |= Asymmetric
	}

	return &Result{
		Raster:    r.SubRaster(clipped),
		Bounds:    clipped,
		Requested: req,
		Valid:     why == 0,
		Reason:    why,
	}, nil
}

// Fit shifts the square around center so it lies inside a w x h image. It
// returns false when the image is too small to hold the full square, in which
// case the rectangle is the shifted square clipped to the image.
func Fit(center image.Point, size, w, h int) (image.Rectangle, bool) {
	req := Square(center.X, center.Y, size)
	if req.Min.X < 0 {
		req = req.Add(image.Pt(-req.Min.X, 0))
	} else if req.Max.X > w {
		req = req.Sub(image.Pt(req.Max.X-w, 0))
	}
	if req.Min.Y < 0 {
		req = req.Add(image.Pt(0, -req.Min.Y))
	} else if req.Max.Y > h {
		req = req.Sub(image.Pt(0, req.Max.Y-h))
	}
	out := req.Intersect(image.Rect(0, 0, w, h))
	return out, out.Dx() == size && out.Dy() == size
}

// Center inverts Square for a square starting at rect.Min.
func Center(rect image.Rectangle, size int) image.Point {
	return image.Pt(rect.Min.X+size/2, rect.Min.Y+size/2)
}

// ClampSize limits n to [MinSize, MaxSize].
func ClampSize(n int) int {
	return min(max(n, MinSize), MaxSize)
}
