package raster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	typeShort = 3
	typeLong  = 4
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value uint32
}

// encodeTIFF writes one uncompressed BlackIsZero page per band, keeping the
// raster's sample format. Every reader, including x/image/tiff for the first
// page, can open the result.
func encodeTIFF(w io.Writer, r *Raster) error {
	if len(r.Bands) == 0 {
		return fmt.Errorf("no bands")
	}
	bits := r.DType.Bits()
	if bits == 0 {
		return fmt.Errorf("unknown dtype %v", r.DType)
	}
	bps := bits / 8
	dataLen := int64(r.Width) * int64(r.Height) * int64(bps)
	pad := dataLen % 2

	const numEntries = 11
	ifdLen := int64(2 + numEntries*12 + 4)
	if total := 8 + int64(len(r.Bands))*(dataLen+pad+ifdLen); total > math.MaxUint32 {
		return fmt.Errorf("raster too large for tiff: %d bytes", total)
	}

	bw := bufio.NewWriter(w)
	bo := binary.LittleEndian

	// Header: the first IFD follows the first band's pixel data.
	hdr := []byte{'I', 'I', 0, 0, 0, 0, 0, 0}
	bo.PutUint16(hdr[2:], 42)
	bo.PutUint32(hdr[4:], uint32(8+dataLen+pad))
	if _, err := bw.Write(hdr); err != nil {
		return err
	}

	format := uint32(sampleFormatUint)
	if r.DType == Float32 {
		format = sampleFormatFloat
	}

	off := int64(8)
	buf := make([]byte, 4)
	for i, band := range r.Bands {
		dataOff := off
		for _, v := range band {
			switch r.DType {
			case Uint8:
				buf[0] = uint8(clampTo(v, math.MaxUint8))
			case Uint16:
				bo.PutUint16(buf, uint16(clampTo(v, math.MaxUint16)))
			case Float32:
				bo.PutUint32(buf, math.Float32bits(v))
			}
			if _, err := bw.Write(buf[:bps]); err != nil {
				return err
			}
		}
		if pad == 1 {
			if err := bw.WriteByte(0); err != nil {
				return err
			}
		}
		off += dataLen + pad

		next := uint32(0)
		if i < len(r.Bands)-1 {
			next = uint32(off + ifdLen + dataLen + pad)
		}

		entries := []ifdEntry{
			{tagNewSubfileType, typeLong, 1, 0},
			{tagImageWidth, typeLong, 1, uint32(r.Width)},
			{tagImageLength, typeLong, 1, uint32(r.Height)},
			{tagBitsPerSample, typeShort, 1, uint32(bits)},
			{tagCompression, typeShort, 1, compressionNone},
			{tagPhotometric, typeShort, 1, 1},
			{tagStripOffsets, typeLong, 1, uint32(dataOff)},
			{tagSamplesPerPixel, typeShort, 1, 1},
			{tagRowsPerStrip, typeLong, 1, uint32(r.Height)},
			{tagStripByteCounts, typeLong, 1, uint32(dataLen)},
			{tagSampleFormat, typeShort, 1, format},
		}
		if err := writeIFD(bw, bo, entries, next); err != nil {
			return err
		}
		off += ifdLen
	}
	return bw.Flush()
}

func writeIFD(w io.Writer, bo binary.ByteOrder, entries []ifdEntry, next uint32) error {
	b := make([]byte, 2+len(entries)*12+4)
	bo.PutUint16(b, uint16(len(entries)))
	for i, e := range entries {
		p := b[2+i*12:]
		bo.PutUint16(p[0:], e.tag)
		bo.PutUint16(p[2:], e.typ)
		bo.PutUint32(p[4:], e.count)
		if e.typ == typeShort {
			bo.PutUint16(p[8:], uint16(e.value))
		} else {
			bo.PutUint32(p[8:], e.value)
		}
	}
	bo.PutUint32(b[len(b)-4:], next)
	_, err := w.Write(b)
	return err
}

func clampTo(v float32, hi float64) float64 {
	f := math.Round(float64(v))
	if f < 0 {
		return 0
	}
	if f > hi {
		return hi
	}
	return f
}
