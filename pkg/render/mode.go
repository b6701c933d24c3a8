package render

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tstromberg/bandcrop/pkg/raster"
)

// ErrUnsupportedMode is matched by every *UnsupportedModeError.
var ErrUnsupportedMode = errors.New("unsupported display mode")

// UnsupportedModeError reports a display mode that the raster cannot show.
type UnsupportedModeError struct {
	Mode  DisplayMode
	Kind  raster.Kind
	Bands int
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("display mode %s is not available for a %d-band %s image", e.Mode, e.Bands, e.Kind)
}

func (e *UnsupportedModeError) Is(target error) bool {
	return target == ErrUnsupportedMode
}

// ModeKind selects how bands become display channels.
type ModeKind int

const (
	// SingleBand shows one band as gray.
	SingleBand ModeKind = iota + 1
	RGBNatural
	FalseColorIR
	RedEdgeEnhanced
	NDVILike
	// RGBColor shows the samples of a color image as they are.
	RGBColor
	// Grayscale shows the luma of a color image.
	Grayscale
)

// DisplayMode is a ModeKind plus, for SingleBand, the 1-based band index.
type DisplayMode struct {
	Kind ModeKind
	Band int
}

var (
	ModeRGBNatural      = DisplayMode{Kind: RGBNatural}
	ModeFalseColorIR    = DisplayMode{Kind: FalseColorIR}
	ModeRedEdgeEnhanced = DisplayMode{Kind: RedEdgeEnhanced}
	ModeNDVILike        = DisplayMode{Kind: NDVILike}
	ModeRGBColor        = DisplayMode{Kind: RGBColor}
	ModeGrayscale       = DisplayMode{Kind: Grayscale}
)

// Band returns the single-band mode for a 1-based band index.
func Band(k int) DisplayMode {
	return DisplayMode{Kind: SingleBand, Band: k}
}

var names = map[ModeKind]string{
	RGBNatural:      "rgb_natural",
	FalseColorIR:    "false_color",
	RedEdgeEnhanced: "red_edge",
	NDVILike:        "ndvi_like",
	RGBColor:        "rgb",
	Grayscale:       "grayscale",
}

// MicaSense RedEdge band order.
var bandNames = []string{
	"Blue (475nm)",
	"Green (560nm)",
	"Red (668nm)",
	"Red Edge (717nm)",
	"Near-IR (840nm)",
}

// String returns the stable name used in metadata and on the command line.
func (m DisplayMode) String() string {
	if m.Kind == SingleBand {
		return fmt.Sprintf("band_%d", m.Band)
	}
	if n, ok := names[m.Kind]; ok {
		return n
	}
	return fmt.Sprintf("mode(%d)", int(m.Kind))
}

// Label is a human readable description.
func (m DisplayMode) Label() string {
	switch m.Kind {
	case SingleBand:
		if m.Band >= 1 && m.Band <= len(bandNames) {
			return fmt.Sprintf("Band %d - %s", m.Band, bandNames[m.Band-1])
		}
		return fmt.Sprintf("Band %d", m.Band)
	case RGBNatural:
		return "RGB Natural (3,2,1)"
	case FalseColorIR:
		return "False Color IR (5,3,2)"
	case RedEdgeEnhanced:
		return "Red Edge Enhanced (4,3,2)"
	case NDVILike:
		return "NDVI-like (5,4,3)"
	case RGBColor:
		return "RGB Color"
	case Grayscale:
		return "Grayscale"
	}
	return m.String()
}

// ParseMode is the inverse of String.
func ParseMode(s string) (DisplayMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if rest, ok := strings.CutPrefix(s, "band_"); ok {
		k, err := strconv.Atoi(rest)
		if err != nil || k < 1 {
			return DisplayMode{}, fmt.Errorf("bad band in mode %q", s)
		}
		return Band(k), nil
	}
	for k, n := range names {
		if n == s {
			return DisplayMode{Kind: k}, nil
		}
	}
	return DisplayMode{}, fmt.Errorf("unknown display mode %q", s)
}

func (m DisplayMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *DisplayMode) UnmarshalText(b []byte) error {
	p, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = p
	return nil
}

// Bands returns the 1-based source bands feeding the red, green and blue
// channels. It returns false for modes that do not select bands.
func (m DisplayMode) Bands() ([3]int, bool) {
	switch m.Kind {
	case SingleBand:
		return [3]int{m.Band, m.Band, m.Band}, true
	case RGBNatural:
		return [3]int{3, 2, 1}, true
	case FalseColorIR:
		return [3]int{5, 3, 2}, true
	case RedEdgeEnhanced:
		return [3]int{4, 3, 2}, true
	case NDVILike:
		return [3]int{5, 4, 3}, true
	case RGBColor, Grayscale:
		return [3]int{}, false
	}
	return [3]int{}, false
}

// Validate returns an *UnsupportedModeError unless the raster can be shown
// in this mode. A nil raster supports no mode.
func (m DisplayMode) Validate(r *raster.Raster) error {
	if r == nil {
		return &UnsupportedModeError{Mode: m}
	}
	n := r.BandCount()
	fail := &UnsupportedModeError{Mode: m, Kind: r.Kind, Bands: n}

	switch m.Kind {
	case SingleBand, RGBNatural, FalseColorIR, RedEdgeEnhanced, NDVILike:
		if r.Kind != raster.Multispectral {
			return fail
		}
		idx, _ := m.Bands()
		for _, k := range idx {
			if k < 1 || k > n {
				return fail
			}
		}
		return nil
	case RGBColor, Grayscale:
		if r.Kind != raster.RGB || (n != 1 && n < 3) {
			return fail
		}
		return nil
	default:
		return fail
	}
}

// ModesFor lists every mode valid for the raster, in menu order. It returns
// nil for a nil raster.
func ModesFor(r *raster.Raster) []DisplayMode {
	if r == nil {
		return nil
	}
	var candidates []DisplayMode
	switch r.Kind {
	case raster.Multispectral:
		for k := 1; k <= r.BandCount(); k++ {
			candidates = append(candidates, Band(k))
		}
		candidates = append(candidates, ModeRGBNatural, ModeFalseColorIR, ModeRedEdgeEnhanced, ModeNDVILike)
	case raster.RGB:
		candidates = []DisplayMode{ModeRGBColor, ModeGrayscale}
	}

	out := []DisplayMode{}
	for _, m := range candidates {
		if m.Validate(r) == nil {
			out = append(out, m)
		}
	}
	return out
}

// DefaultMode is natural color when the raster has the bands for it, and
// band 1 otherwise.
func DefaultMode(r *raster.Raster) DisplayMode {
	if r.Kind == raster.RGB {
		return ModeRGBColor
	}
	if ModeRGBNatural.Validate(r) == nil {
		return ModeRGBNatural
	}
	return Band(1)
}
