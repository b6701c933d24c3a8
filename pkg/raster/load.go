package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"golang.org/x/image/tiff"
	"k8s.io/klog/v2"
)

// ErrUnsupportedFormat is returned for files that are neither a TIFF nor a
// PNG/JPEG, or that cannot be decoded.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Format is a supported file family, derived from the extension.
type Format int

const (
	FormatUnknown Format = iota
	FormatTIFF
	FormatPNG
	FormatJPEG
)

// FormatOf returns the format for a path based on its (case-insensitive)
// extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return FormatTIFF
	case ".png":
		return FormatPNG
	case ".jpg", ".jpeg":
		return FormatJPEG
	default:
		return FormatUnknown
	}
}

// Supported reports whether Load accepts the path's extension.
func Supported(path string) bool {
	return FormatOf(path) != FormatUnknown
}

// Load reads a multispectral TIFF or a PNG/JPEG into a Raster. The returned
// raster's Kind is Multispectral when a TIFF yields more than one band.
func Load(path string) (*Raster, error) {
	var (
		r   *Raster
		err error
	)
	switch FormatOf(path) {
	case FormatTIFF:
		r, err = loadTIFF(path)
	case FormatPNG, FormatJPEG:
		r, err = loadStandard(path)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("loaded %s: %s", path, r)
	return r, nil
}

func loadTIFF(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	r, err := decodeTIFF(f)
	if errors.Is(err, errLayout) {
		klog.V(1).Infof("%s: %v, falling back to x/image/tiff", path, err)
		if _, err := f.Seek(0, 0); err != nil {
			return nil, fmt.Errorf("seek: %w", err)
		}
		img, derr := tiff.Decode(f)
		if derr != nil {
			return nil, fmt.Errorf("%s: %w: %v", path, ErrUnsupportedFormat, derr)
		}
		r = FromImage(img)
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrUnsupportedFormat, err)
	}

	r.Kind = RGB
	if r.BandCount() > 1 {
		r.Kind = Multispectral
	}
	return r, nil
}

func loadStandard(path string) (*Raster, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	img, err := imgio.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrUnsupportedFormat, err)
	}
	r := FromImage(img)
	if r.BandCount() == 1 {
		r = expandGray(r)
	}
	r.Kind = RGB
	return r, nil
}

// FromImage converts a decoded image into a raster: one band for gray
// images, three for everything else. 16-bit models keep 16-bit samples.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch m := img.(type) {
	case *image.Gray:
		r := New(w, h, 1, Uint8, RGB)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r.Bands[0][y*w+x] = float32(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return r
	case *image.Gray16:
		r := New(w, h, 1, Uint16, RGB)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r.Bands[0][y*w+x] = float32(m.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return r
	}

	dt := Uint8
	switch img.ColorModel() {
	case color.RGBA64Model, color.NRGBA64Model:
		dt = Uint16
	}

	r := New(w, h, 3, dt, RGB)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			i := y*w + x
			if dt == Uint16 {
				r.Bands[0][i] = float32(c.R)
				r.Bands[1][i] = float32(c.G)
				r.Bands[2][i] = float32(c.B)
				continue
			}
			r.Bands[0][i] = float32(c.R >> 8)
			r.Bands[1][i] = float32(c.G >> 8)
			r.Bands[2][i] = float32(c.B >> 8)
		}
	}
	return r
}

func expandGray(r *Raster) *Raster {
	out := &Raster{Width: r.Width, Height: r.Height, DType: r.DType, Kind: RGB}
	for i := 0; i < 3; i++ {
		out.Bands = append(out.Bands, r.Bands[0])
	}
	return out
}
