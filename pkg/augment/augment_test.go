package augment

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tstromberg/bandcrop/pkg/raster"
)

// solid is a w by h image of one gray level with a marker in the top-left
// pixel.
func solid(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	img.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255})
	return img
}

func TestApplyGeometry(t *testing.T) {
	img := solid(6, 4, 100)

	for _, kind := range []string{Rot90, Rot270} {
		out, err := Apply(img, kind)
		require.NoError(t, err)
		require.Equal(t, 4, out.Bounds().Dx(), kind)
		require.Equal(t, 6, out.Bounds().Dy(), kind)
	}
	out, err := Apply(img, Rot180)
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), out.Bounds())

	out, err = Apply(img, FlipH)
	require.NoError(t, err)
	require.Equal(t, color.RGBA{255, 0, 0, 255}, out.RGBAAt(5, 0))
	require.Equal(t, color.RGBA{100, 100, 100, 255}, out.RGBAAt(0, 0))

	out, err = Apply(img, FlipV)
	require.NoError(t, err)
	require.Equal(t, color.RGBA{255, 0, 0, 255}, out.RGBAAt(0, 3))
}

func TestApplyTone(t *testing.T) {
	img := solid(4, 4, 100)
	level := func(kind string) uint8 {
		out, err := Apply(img, kind)
		require.NoError(t, err)
		return out.RGBAAt(2, 2).G
	}
	require.Greater(t, level(BrightUp), uint8(100))
	require.Less(t, level(BrightDown), uint8(100))
	// Contrast moves values away from, or towards, mid-gray.
	require.Less(t, level(ContrastUp), uint8(100))
	require.Greater(t, level(ContrastDown), uint8(100))
}

func TestApplyNoise(t *testing.T) {
	img := solid(64, 64, 100)
	out, err := Apply(img, Noise)
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), out.Bounds())

	sum := 0
	for y := 1; y < 64; y++ {
		for x := 0; x < 64; x++ {
			c := out.RGBAAt(x, y)
			require.GreaterOrEqual(t, c.R, uint8(99))
			require.Less(t, c.R, uint8(140))
			require.Equal(t, uint8(255), c.A)
			sum += int(c.R)
		}
	}
	require.Greater(t, float64(sum)/(63*64), 100.5)
}

func TestApplyUnknown(t *testing.T) {
	_, err := Apply(solid(2, 2, 0), "shear")
	require.Error(t, err)
}

func listPNGs(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, de := range des {
		if strings.HasSuffix(de.Name(), ".png") {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)
	return names
}

func TestDataset(t *testing.T) {
	in := filepath.Join(t.TempDir(), "crops")
	require.NoError(t, os.MkdirAll(filepath.Join(in, "poplar"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(in, "willow"), 0o755))

	rgb := raster.New(8, 8, 3, raster.Uint8, raster.RGB)
	for i := range rgb.Bands[1] {
		rgb.Bands[1][i] = float32(i * 3)
	}
	ms := raster.New(8, 8, 5, raster.Uint16, raster.Multispectral)
	for b := range ms.Bands {
		for i := range ms.Bands[b] {
			ms.Bands[b][i] = float32(1000*b + i)
		}
	}
	require.NoError(t, raster.Save(filepath.Join(in, "poplar", "a.png"), rgb))
	require.NoError(t, raster.Save(filepath.Join(in, "poplar", "b.tif"), ms))
	require.NoError(t, raster.Save(filepath.Join(in, "willow", "c.tif"), ms))
	require.NoError(t, raster.Save(filepath.Join(in, "loose.png"), rgb))
	require.NoError(t, os.WriteFile(filepath.Join(in, "willow", "notes.txt"), []byte("x"), 0o644))

	out := filepath.Join(t.TempDir(), "augmented")
	counts, err := Dataset(in, out, Options{Target: 5, Seed: 7})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"poplar": 5, "willow": 5, "crops": 5}, counts)

	poplar := listPNGs(t, filepath.Join(out, "poplar"))
	require.Len(t, poplar, 5)
	require.Contains(t, poplar, "poplar_original_000.png")
	require.Contains(t, poplar, "poplar_original_001.png")
	augmented := 0
	for _, n := range poplar {
		if strings.HasPrefix(n, "poplar_aug_") {
			augmented++
		}
	}
	require.Equal(t, 3, augmented)

	img, err := raster.Load(filepath.Join(out, "willow", "willow_original_000.png"))
	require.NoError(t, err)
	require.Equal(t, 8, img.Width)

	// The same seed picks the same augmentations.
	again := filepath.Join(t.TempDir(), "again")
	_, err = Dataset(in, again, Options{Target: 5, Seed: 7})
	require.NoError(t, err)
	require.Equal(t, poplar, listPNGs(t, filepath.Join(again, "poplar")))
}

func TestDatasetTargetReached(t *testing.T) {
	in := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(in, "oak"), 0o755))
	rgb := raster.New(4, 4, 3, raster.Uint8, raster.RGB)
	for _, n := range []string{"a.png", "b.png", "c.png"} {
		require.NoError(t, raster.Save(filepath.Join(in, "oak", n), rgb))
	}

	out := t.TempDir()
	counts, err := Dataset(in, out, Options{Target: 2})
	require.NoError(t, err)
	require.Equal(t, 3, counts["oak"])
	require.Len(t, listPNGs(t, filepath.Join(out, "oak")), 3)
}

func TestDatasetEmpty(t *testing.T) {
	_, err := Dataset(t.TempDir(), t.TempDir(), Options{Target: 3})
	require.Error(t, err)
}
