// Package raster loads, holds and writes multi-band images.
package raster

import (
	"fmt"
	"image"
)

// Kind is the image-type tag assigned at load time.
type Kind int

const (
	// RGB is a standard color (or single band) raster.
	RGB Kind = iota
	// Multispectral is a multi-band raster from a TIFF container.
	Multispectral
)

func (k Kind) String() string {
	switch k {
	case Multispectral:
		return "multispectral"
	case RGB:
		return "rgb"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText lets a Kind appear as a string in JSON metadata.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the names produced by MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "multispectral":
		*k = Multispectral
	case "rgb":
		*k = RGB
	default:
		return fmt.Errorf("unknown image kind %q", b)
	}
	return nil
}

// DType is the sample format of the source file.
type DType int

const (
	Uint8 DType = iota + 1
	Uint16
	Float32
)

func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// Bits returns the sample width in bits.
func (d DType) Bits() int {
	switch d {
	case Uint8:
		return 8
	case Uint16:
		return 16
	case Float32:
		return 32
	default:
		return 0
	}
}

// Raster is an ordered sequence of equally sized bands.
//
// Samples are kept as float32, which holds uint8, uint16 and float32 sources
// exactly; DType records what the samples were on disk so they can be written
// back without re-quantizing. A Raster is treated as immutable once built:
// nothing in this module writes into a loaded raster's bands.
type Raster struct {
	Width  int
	Height int
	DType  DType
	Kind   Kind
	// Bands[b][y*Width+x]
	Bands [][]float32
}

// New allocates a zeroed raster.
func New(width, height, bands int, dt DType, kind Kind) *Raster {
	r := &Raster{
		Width:  width,
		Height: height,
		DType:  dt,
		Kind:   kind,
		Bands:  make([][]float32, bands),
	}
	for i := range r.Bands {
		r.Bands[i] = make([]float32, width*height)
	}
	return r
}

// BandCount returns the number of bands.
func (r *Raster) BandCount() int {
	return len(r.Bands)
}

// Bounds returns the pixel rectangle covered by the raster.
func (r *Raster) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.Width, r.Height)
}

// At returns the sample of a 0-based band at x, y.
func (r *Raster) At(band, x, y int) float32 {
	return r.Bands[band][y*r.Width+x]
}

// Band returns the samples of a 1-based band index.
func (r *Raster) Band(k int) ([]float32, error) {
	if k < 1 || k > len(r.Bands) {
		return nil, fmt.Errorf("band %d out of range [1,%d]", k, len(r.Bands))
	}
	return r.Bands[k-1], nil
}

// Pixel returns every band's sample at x, y, or false if outside the raster.
func (r *Raster) Pixel(x, y int) ([]float32, bool) {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return nil, false
	}
	out := make([]float32, len(r.Bands))
	for b := range r.Bands {
		out[b] = r.At(b, x, y)
	}
	return out, true
}

// SubRaster copies rect (clipped to the raster) into a new raster with the
// same band count, dtype and kind.
func (r *Raster) SubRaster(rect image.Rectangle) *Raster {
	rect = rect.Intersect(r.Bounds())
	out := New(rect.Dx(), rect.Dy(), len(r.Bands), r.DType, r.Kind)
	for b, src := range r.Bands {
		dst := out.Bands[b]
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			row := src[y*r.Width+rect.Min.X : y*r.Width+rect.Max.X]
			copy(dst[(y-rect.Min.Y)*out.Width:], row)
		}
	}
	return out
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	return r.SubRaster(r.Bounds())
}

func (r *Raster) String() string {
	return fmt.Sprintf("%s %dx%d %d bands %s", r.Kind, r.Width, r.Height, len(r.Bands), r.DType)
}
