package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/tiff"
	"golang.org/x/image/tiff/lzw"
	"k8s.io/klog/v2"
)

// TIFF tags understood by the band reader and writer.
const (
	tagNewSubfileType  = 254
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPageNumber      = 297
	tagPredictor       = 317
	tagTileWidth       = 322
	tagSampleFormat    = 339
)

const (
	compressionNone     = 1
	compressionLZW      = 5
	compressionDeflate  = 8
	compressionPackBits = 32773
	compressionDeflate2 = 32946

	sampleFormatUint  = 1
	sampleFormatFloat = 3

	maxPixels  = 1 << 28
	maxPages   = 1024
	maxSamples = 64
)

// errLayout marks files that are valid TIFF but outside what the band
// reader handles; Load falls back to x/image/tiff for those.
var errLayout = errors.New("unsupported tiff layout")

type ifd struct {
	width, height   int
	bits            []int
	samplesPerPixel int
	sampleFormat    int
	compression     int
	planar          int
	predictor       int
	rowsPerStrip    int
	subfileType     int
	offsets         []int64
	counts          []int64
	tiled           bool
}

func (d *ifd) dtype() (DType, error) {
	for _, b := range d.bits {
		if b != d.bits[0] {
			return 0, fmt.Errorf("%w: mixed bits per sample %v", errLayout, d.bits)
		}
	}
	switch {
	case d.bits[0] == 8 && d.sampleFormat == sampleFormatUint:
		return Uint8, nil
	case d.bits[0] == 16 && d.sampleFormat == sampleFormatUint:
		return Uint16, nil
	case d.bits[0] == 32 && d.sampleFormat == sampleFormatFloat:
		return Float32, nil
	}
	return 0, fmt.Errorf("%w: %d-bit samples, format %d", errLayout, d.bits[0], d.sampleFormat)
}

type tiffDecoder struct {
	br   tiff.BReader
	bo   binary.ByteOrder
	size int64
}

// decodeTIFF reads every full-resolution page of a TIFF and stacks all
// samples of all pages as bands.
func decodeTIFF(r tiff.ReadAtReadSeeker) (*Raster, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}
	hdr := make([]byte, 8)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	bo := tiff.GetByteOrder(binary.BigEndian.Uint16(hdr[0:2]))
	if bo == nil {
		return nil, fmt.Errorf("not a tiff file: %q", hdr[0:2])
	}
	if vers := bo.Uint16(hdr[2:4]); vers != tiff.Version {
		return nil, fmt.Errorf("%w: version %d", errLayout, vers)
	}
	d := &tiffDecoder{br: tiff.NewBReader(r, bo), bo: bo, size: size}

	var out *Raster
	seen := map[int64]bool{}
	off := int64(bo.Uint32(hdr[4:8]))
	for page := 0; off != 0; page++ {
		if page >= maxPages || seen[off] {
			return nil, fmt.Errorf("ifd chain loops at offset %d", off)
		}
		seen[off] = true

		fd, next, err := d.readIFD(off)
		if err != nil {
			return nil, fmt.Errorf("ifd %d: %w", page, err)
		}
		off = next

		if fd.subfileType&1 != 0 {
			klog.V(2).Infof("skipping reduced-resolution page %d", page)
			continue
		}

		bands, dt, err := d.decodePage(fd)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		if out == nil {
			out = &Raster{Width: fd.width, Height: fd.height, DType: dt}
		} else if fd.width != out.Width || fd.height != out.Height || dt != out.DType {
			klog.Warningf("skipping page %d: %dx%d %s does not match %dx%d %s", page, fd.width, fd.height, dt, out.Width, out.Height, out.DType)
			continue
		}
		out.Bands = append(out.Bands, bands...)
	}

	if out == nil || len(out.Bands) == 0 {
		return nil, errors.New("no image pages")
	}
	return out, nil
}

// checkIFD walks the raw entries at off and rejects any whose value would
// extend past the end of the file, so ParseIFD never allocates more than the
// file holds.
func (d *tiffDecoder) checkIFD(off int64) error {
	if off < 8 || off+2 > d.size {
		return fmt.Errorf("offset %d outside file of %d bytes", off, d.size)
	}
	if _, err := d.br.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	var n uint16
	if err := d.br.BRead(&n); err != nil {
		return fmt.Errorf("read entry count: %w", err)
	}
	if end := off + 2 + int64(n)*12 + 4; end > d.size {
		return fmt.Errorf("%d entries run past end of file", n)
	}
	for i := 0; i < int(n); i++ {
		e, err := tiff.ParseEntry(d.br)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		vlen := int64(e.Count()) * int64(tiff.DefaultFieldTypeSpace.GetFieldType(e.TypeID()).Size())
		if vlen <= 4 {
			continue
		}
		vo := e.ValueOffset()
		if at := int64(d.bo.Uint32(vo[:])); at+vlen > d.size {
			return fmt.Errorf("tag %d: %d bytes at %d run past end of file", e.TagID(), vlen, at)
		}
	}
	return nil
}

func (d *tiffDecoder) readIFD(off int64) (*ifd, int64, error) {
	if err := d.checkIFD(off); err != nil {
		return nil, 0, err
	}
	dir, err := tiff.ParseIFD(d.br, uint64(off), nil, nil)
	if err != nil {
		return nil, 0, err
	}

	fd := &ifd{
		samplesPerPixel: 1,
		sampleFormat:    sampleFormatUint,
		compression:     compressionNone,
		planar:          1,
		predictor:       1,
	}
	for _, f := range dir.Fields() {
		vals := values(f)
		if len(vals) == 0 {
			continue
		}
		switch f.Tag().ID() {
		case tagNewSubfileType:
			fd.subfileType = int(vals[0])
		case tagImageWidth:
			fd.width = int(vals[0])
		case tagImageLength:
			fd.height = int(vals[0])
		case tagBitsPerSample:
			for _, v := range vals {
				fd.bits = append(fd.bits, int(v))
			}
		case tagCompression:
			fd.compression = int(vals[0])
		case tagStripOffsets:
			fd.offsets = toInt64(vals)
		case tagSamplesPerPixel:
			fd.samplesPerPixel = int(vals[0])
		case tagRowsPerStrip:
			fd.rowsPerStrip = int(vals[0])
		case tagStripByteCounts:
			fd.counts = toInt64(vals)
		case tagPlanarConfig:
			fd.planar = int(vals[0])
		case tagPredictor:
			fd.predictor = int(vals[0])
		case tagTileWidth:
			fd.tiled = true
		case tagSampleFormat:
			fd.sampleFormat = int(vals[0])
		}
	}

	if fd.width <= 0 || fd.height <= 0 || fd.width > maxPixels || fd.height > maxPixels {
		return nil, 0, fmt.Errorf("bad dimensions %dx%d", fd.width, fd.height)
	}
	if fd.samplesPerPixel <= 0 || fd.samplesPerPixel > maxSamples {
		return nil, 0, fmt.Errorf("bad samples per pixel %d", fd.samplesPerPixel)
	}
	if len(fd.bits) == 0 {
		fd.bits = []int{1}
	}
	for len(fd.bits) < fd.samplesPerPixel {
		fd.bits = append(fd.bits, fd.bits[0])
	}
	if fd.rowsPerStrip <= 0 || fd.rowsPerStrip > fd.height {
		fd.rowsPerStrip = fd.height
	}
	return fd, int64(dir.NextOffset()), nil
}

// values decodes BYTE, SHORT and LONG fields; other field types are ignored.
func values(f tiff.Field) []uint64 {
	size := f.Type().Size()
	switch f.Type().ID() {
	case 1, 3, 4:
	default:
		return nil
	}
	raw := f.Value().Bytes()
	bo := f.Value().Order()
	n := min(f.Count(), uint64(len(raw))/size)

	out := make([]uint64, n)
	for i := range out {
		switch size {
		case 1:
			out[i] = uint64(raw[i])
		case 2:
			out[i] = uint64(bo.Uint16(raw[i*2:]))
		case 4:
			out[i] = uint64(bo.Uint32(raw[i*4:]))
		}
	}
	return out
}

func (d *tiffDecoder) decodePage(fd *ifd) ([][]float32, DType, error) {
	if fd.tiled {
		return nil, 0, fmt.Errorf("%w: tiled", errLayout)
	}
	dt, err := d.dtypeOf(fd)
	if err != nil {
		return nil, 0, err
	}
	if int64(fd.width)*int64(fd.height) > int64(maxPixels/fd.samplesPerPixel) {
		return nil, 0, fmt.Errorf("image too large: %dx%dx%d", fd.width, fd.height, fd.samplesPerPixel)
	}
	if len(fd.offsets) == 0 || len(fd.offsets) != len(fd.counts) {
		return nil, 0, fmt.Errorf("strip tables: %d offsets, %d counts", len(fd.offsets), len(fd.counts))
	}

	spp := fd.samplesPerPixel
	bps := dt.Bits() / 8
	stripsPerPlane := (fd.height + fd.rowsPerStrip - 1) / fd.rowsPerStrip

	bands := make([][]float32, spp)
	for i := range bands {
		bands[i] = make([]float32, fd.width*fd.height)
	}

	planes := 1
	rowSamples := fd.width * spp
	if fd.planar == 2 {
		planes = spp
		rowSamples = fd.width
	}
	if len(fd.offsets) < planes*stripsPerPlane {
		return nil, 0, fmt.Errorf("have %d strips, need %d", len(fd.offsets), planes*stripsPerPlane)
	}

	for p := 0; p < planes; p++ {
		for s := 0; s < stripsPerPlane; s++ {
			idx := p*stripsPerPlane + s
			y0 := s * fd.rowsPerStrip
			rows := min(fd.rowsPerStrip, fd.height-y0)

			data, err := d.strip(fd, idx, rows*rowSamples*bps)
			if err != nil {
				return nil, 0, fmt.Errorf("strip %d: %w", idx, err)
			}
			if fd.predictor == 2 {
				undoPredictor(data, d.bo, rowSamples, bps, spp/planes)
			}

			for r := 0; r < rows; r++ {
				row := data[r*rowSamples*bps:]
				base := (y0 + r) * fd.width
				for i := 0; i < rowSamples; i++ {
					v := d.sample(row[i*bps:], dt)
					if fd.planar == 2 {
						bands[p][base+i] = v
					} else {
						bands[i%spp][base+i/spp] = v
					}
				}
			}
		}
	}
	return bands, dt, nil
}

func (d *tiffDecoder) dtypeOf(fd *ifd) (DType, error) {
	switch fd.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflate2, compressionPackBits:
	default:
		return 0, fmt.Errorf("%w: compression %d", errLayout, fd.compression)
	}
	if fd.predictor != 1 && fd.predictor != 2 {
		return 0, fmt.Errorf("%w: predictor %d", errLayout, fd.predictor)
	}
	dt, err := fd.dtype()
	if err != nil {
		return 0, err
	}
	if fd.predictor == 2 && dt == Float32 {
		return 0, fmt.Errorf("%w: horizontal predictor on float samples", errLayout)
	}
	return dt, nil
}

// strip reads and decompresses one strip, returning at least want bytes.
func (d *tiffDecoder) strip(fd *ifd, idx int, want int) ([]byte, error) {
	off, n := fd.offsets[idx], fd.counts[idx]
	if off < 0 || off >= d.size || n <= 0 {
		return nil, fmt.Errorf("bad strip at %d, %d bytes", off, n)
	}
	n = min(n, d.size-off)
	if fd.compression == compressionNone {
		n = min(n, int64(want))
	}
	raw := make([]byte, n)
	if _, err := d.br.ReadAt(raw, off); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read: %w", err)
	}

	var data []byte
	switch fd.compression {
	case compressionNone:
		data = raw
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		b, err := io.ReadAll(io.LimitReader(rc, int64(want)))
		if err != nil {
			return nil, fmt.Errorf("lzw: %w", err)
		}
		data = b
	case compressionDeflate, compressionDeflate2:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		b, err := io.ReadAll(io.LimitReader(zr, int64(want)))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		data = b
	case compressionPackBits:
		data = unpackBits(raw, want)
	}

	if len(data) < want {
		return nil, fmt.Errorf("short strip: %d of %d bytes", len(data), want)
	}
	return data, nil
}

func (d *tiffDecoder) sample(b []byte, dt DType) float32 {
	switch dt {
	case Uint8:
		return float32(b[0])
	case Uint16:
		return float32(d.bo.Uint16(b))
	default:
		return math.Float32frombits(d.bo.Uint32(b))
	}
}

// undoPredictor reverses horizontal differencing in place.
func undoPredictor(data []byte, bo binary.ByteOrder, rowSamples, bps, stride int) {
	rowBytes := rowSamples * bps
	for start := 0; start+rowBytes <= len(data); start += rowBytes {
		row := data[start : start+rowBytes]
		for i := stride; i < rowSamples; i++ {
			switch bps {
			case 1:
				row[i] += row[i-stride]
			case 2:
				v := bo.Uint16(row[i*2:]) + bo.Uint16(row[(i-stride)*2:])
				bo.PutUint16(row[i*2:], v)
			}
		}
	}
}

func unpackBits(src []byte, want int) []byte {
	dst := make([]byte, 0, want)
	for i := 0; i < len(src) && len(dst) < want; {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			end := min(i+n+1, len(src))
			dst = append(dst, src[i:end]...)
			i = end
		case n != -128:
			if i >= len(src) {
				return dst
			}
			for j := 0; j < 1-n; j++ {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	return dst
}

func toInt64(vals []uint64) []int64 {
	out := make([]int64, len(vals))
	for i, v := range vals {
		out[i] = int64(v)
	}
	return out
}
