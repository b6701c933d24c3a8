package render

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tstromberg/bandcrop/pkg/raster"
)

// Stretch maps band values onto 0-255 for display.
type Stretch int

const (
	// StretchMinMax maps each band's minimum to 0 and maximum to 255.
	StretchMinMax Stretch = iota
	// StretchPercentile maps the 2nd and 98th percentiles to 0 and 255.
	StretchPercentile
)

const (
	lowPercentile  = 0.02
	highPercentile = 0.98
)

func (s Stretch) String() string {
	switch s {
	case StretchMinMax:
		return "minmax"
	case StretchPercentile:
		return "percentile"
	}
	return fmt.Sprintf("stretch(%d)", int(s))
}

// ParseStretch is the inverse of String.
func ParseStretch(s string) (Stretch, error) {
	switch s {
	case "minmax", "":
		return StretchMinMax, nil
	case "percentile":
		return StretchPercentile, nil
	}
	return 0, fmt.Errorf("unknown stretch %q", s)
}

func (s Stretch) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stretch) UnmarshalText(b []byte) error {
	p, err := ParseStretch(string(b))
	if err != nil {
		return err
	}
	*s = p
	return nil
}

// Range returns the band values mapped to 0 and 255.
func (s Stretch) Range(band []float32) (lo, hi float64) {
	if len(band) == 0 {
		return 0, 0
	}
	v := raster.Float64s(band)
	if s == StretchPercentile {
		sort.Float64s(v)
		return stat.Quantile(lowPercentile, stat.LinInterp, v, nil), stat.Quantile(highPercentile, stat.LinInterp, v, nil)
	}
	return floats.Min(v), floats.Max(v)
}

// Normalize rescales a band to 8 bits. A flat band is all zeros.
func (s Stretch) Normalize(band []float32) []uint8 {
	out := make([]uint8, len(band))
	lo, hi := s.Range(band)
	if !(hi > lo) {
		return out
	}
	scale := 255 / (hi - lo)
	for i, v := range band {
		out[i] = clamp8((float64(v) - lo) * scale)
	}
	return out
}

func clamp8(f float64) uint8 {
	f = math.Round(f)
	switch {
	case f > 255:
		return 255
	case f > 0:
		return uint8(f)
	default:
		// includes NaN
		return 0
	}
}
