package crop

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tstromberg/bandcrop/pkg/raster"
)

func testRaster(w, h int) *raster.Raster {
	r := raster.New(w, h, 5, raster.Uint16, raster.Multispectral)
	for b := range r.Bands {
		for i := range r.Bands[b] {
			r.Bands[b][i] = float32(b*10000 + i)
		}
	}
	return r
}

func TestExtractInside(t *testing.T) {
	r := testRaster(100, 80)
	for _, tc := range []struct{ cx, cy, size int }{
		{50, 40, 16},
		{8, 8, 16},
		{92, 72, 16},
		{50, 40, 64},
		{40, 40, 80},
	} {
		res, err := Extract(r, tc.cx, tc.cy, tc.size)
		require.NoError(t, err)
		require.True(t, res.Valid, "%+v: %s", tc, res.Reason)
		require.Equal(t, Reason(0), res.Reason)
		require.Equal(t, tc.size, res.Raster.Width)
		require.Equal(t, tc.size, res.Raster.Height)
		require.Equal(t, 5, res.Raster.BandCount())
		require.Equal(t, raster.Uint16, res.Raster.DType)
		require.Equal(t, raster.Multispectral, res.Raster.Kind)

		x0, y0 := tc.cx-tc.size/2, tc.cy-tc.size/2
		require.Equal(t, r.At(4, x0, y0), res.Raster.At(4, 0, 0))
		require.Equal(t, r.At(2, x0+tc.size-1, y0+tc.size-1), res.Raster.At(2, tc.size-1, tc.size-1))
	}
}

func TestExtractNearEdges(t *testing.T) {
	r := testRaster(100, 80)
	tests := []struct {
		name   string
		cx, cy int
		want   Reason
		bounds image.Rectangle
	}{
		{"left", 5, 40, NearLeftEdge, image.Rect(0, 24, 21, 56)},
		{"top", 50, 0, NearTopEdge, image.Rect(34, 0, 66, 16)},
		{"right", 99, 40, NearRightEdge, image.Rect(83, 24, 100, 56)},
		{"bottom", 50, 70, NearBottomEdge, image.Rect(34, 54, 66, 80)},
		{"corner", 0, 79, NearLeftEdge | NearBottomEdge, image.Rect(0, 63, 16, 80)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Extract(r, tc.cx, tc.cy, 32)
			require.NoError(t, err)
			require.False(t, res.Valid)
			require.Equal(t, tc.want, res.Reason)
			require.True(t, res.Reason.Edge())
			require.Equal(t, tc.bounds, res.Bounds)
			require.Equal(t, tc.bounds.Dx(), res.Raster.Width)
			require.LessOrEqual(t, res.Raster.Width, r.Width)
			require.LessOrEqual(t, res.Raster.Height, r.Height)
			require.Equal(t, 5, res.Raster.BandCount())
		})
	}
}

func TestExtractLargerThanImage(t *testing.T) {
	r := testRaster(20, 10)
	res, err := Extract(r, 10, 5, 64)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, NearLeftEdge|NearTopEdge|NearRightEdge|NearBottomEdge, res.Reason)
	require.Equal(t, r.Bounds(), res.Bounds)
	require.Equal(t, "near_left_edge,near_top_edge,near_right_edge,near_bottom_edge", res.Reason.String())
}

func TestExtractOddSize(t *testing.T) {
	r := testRaster(100, 80)
	res, err := Extract(r, 50, 40, 17)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, Asymmetric, res.Reason)
	require.False(t, res.Reason.Edge())
	require.Equal(t, image.Rect(42, 32, 59, 49), res.Bounds)
	require.Equal(t, 17, res.Raster.Width)
}

func TestExtractErrors(t *testing.T) {
	r := testRaster(10, 10)
	_, err := Extract(r, 5, 5, 0)
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = Extract(r, 5, 5, -4)
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = Extract(r, 500, 500, 16)
	require.ErrorIs(t, err, ErrEmptyCrop)
	_, err = Extract(nil, 5, 5, 16)
	require.Error(t, err)
}

func TestExtractDoesNotAlias(t *testing.T) {
	r := testRaster(40, 40)
	before := r.Clone()
	res, err := Extract(r, 20, 20, 16)
	require.NoError(t, err)
	res.Raster.Bands[0][0] = -1
	require.Equal(t, before.Bands, r.Bands)
}

func TestFit(t *testing.T) {
	got, ok := Fit(image.Pt(2, 3), 32, 100, 80)
	require.True(t, ok)
	require.Equal(t, image.Rect(0, 0, 32, 32), got)

	got, ok = Fit(image.Pt(99, 79), 32, 100, 80)
	require.True(t, ok)
	require.Equal(t, image.Rect(68, 48, 100, 80), got)

	got, ok = Fit(image.Pt(50, 40), 32, 100, 80)
	require.True(t, ok)
	require.Equal(t, Square(50, 40, 32), got)

	got, ok = Fit(image.Pt(5, 5), 64, 40, 100)
	require.False(t, ok)
	require.Equal(t, image.Rect(0, 0, 40, 64), got)
}

func TestCenterInvertsSquare(t *testing.T) {
	for _, size := range []int{16, 17, 64} {
		require.Equal(t, image.Pt(30, 40), Center(Square(30, 40, size), size))
	}
}

func TestClampSize(t *testing.T) {
	require.Equal(t, 16, ClampSize(0))
	require.Equal(t, 16, ClampSize(-5))
	require.Equal(t, 100, ClampSize(100))
	require.Equal(t, 512, ClampSize(4096))
}
