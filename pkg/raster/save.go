package raster

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	"github.com/anthonynsimon/bild/imgio"
)

// Encode writes r to w in the given format. TIFF keeps every band and the
// source sample format; PNG and JPEG need a 3-band (or 1-band) raster.
func Encode(w io.Writer, r *Raster, f Format) error {
	switch f {
	case FormatTIFF:
		return encodeTIFF(w, r)
	case FormatPNG:
		img, err := r.Image()
		if err != nil {
			return err
		}
		return imgio.PNGEncoder()(w, img)
	case FormatJPEG:
		img, err := r.Image()
		if err != nil {
			return err
		}
		return imgio.JPEGEncoder(95)(w, img)
	default:
		return ErrUnsupportedFormat
	}
}

// Save writes r to path, choosing the encoder from the extension.
func Save(path string, r *Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if err := Encode(f, r, FormatOf(path)); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// Image returns the raster as a standard image for 1- and 3-band rasters with
// integer samples. No rescaling is applied.
func (r *Raster) Image() (image.Image, error) {
	if r.DType == Float32 {
		return nil, fmt.Errorf("float samples cannot be stored as an 8/16-bit image")
	}
	rect := r.Bounds()
	switch r.BandCount() {
	case 1:
		if r.DType == Uint16 {
			img := image.NewGray16(rect)
			for i, v := range r.Bands[0] {
				img.SetGray16(i%r.Width, i/r.Width, color.Gray16{Y: uint16(v)})
			}
			return img, nil
		}
		img := image.NewGray(rect)
		for i, v := range r.Bands[0] {
			img.Pix[i] = uint8(v)
		}
		return img, nil
	case 3:
		if r.DType == Uint16 {
			img := image.NewNRGBA64(rect)
			for i := range r.Bands[0] {
				img.SetNRGBA64(i%r.Width, i/r.Width, color.NRGBA64{
					R: uint16(r.Bands[0][i]),
					G: uint16(r.Bands[1][i]),
					B: uint16(r.Bands[2][i]),
					A: 0xffff,
				})
			}
			return img, nil
		}
		img := image.NewNRGBA(rect)
		for i := range r.Bands[0] {
			img.Pix[i*4] = uint8(r.Bands[0][i])
			img.Pix[i*4+1] = uint8(r.Bands[1][i])
			img.Pix[i*4+2] = uint8(r.Bands[2][i])
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%d bands cannot be stored as a standard image", r.BandCount())
	}
}
