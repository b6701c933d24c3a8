package project

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tstromberg/bandcrop/pkg/raster"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "projects"))
	require.NoError(t, err)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("image bytes"), 0o644))
	return path
}

func multispectralCrop() *raster.Raster {
	r := raster.New(16, 16, 5, raster.Uint16, raster.Multispectral)
	for b := range r.Bands {
		for i := range r.Bands[b] {
			r.Bands[b][i] = float32(b*1000 + i)
		}
	}
	return r
}

func TestCreate(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Create("Field A / 2024")
	require.NoError(t, err)
	require.Equal(t, "Field A / 2024", p.Name)
	require.Equal(t, "FieldA2024", p.SafeName)
	require.DirExists(t, p.OriginalsPath())
	require.DirExists(t, p.CropsPath())
	require.FileExists(t, p.MetadataPath())

	again, err := s.Create("Field A / 2024")
	require.NoError(t, err)
	require.Equal(t, "FieldA2024_1", again.SafeName)

	third, err := s.Create("FieldA2024")
	require.NoError(t, err)
	require.Equal(t, "FieldA2024_2", third.SafeName)
}

func TestCreateEmptyName(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("")
	require.NoError(t, err)
	require.Equal(t, "labeling_project_20240501_120001", p.SafeName)

	p, err = s.Create("???")
	require.NoError(t, err)
	require.Regexp(t, `^project_20240501_\d{6}$`, p.SafeName)
}

func TestLoad(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("roundtrip")
	require.NoError(t, err)
	src := writeSource(t, "IMG_0001.tif")
	_, err = s.AddOriginal(p, src)
	require.NoError(t, err)

	got, err := s.Load(p.Dir)
	require.NoError(t, err)
	require.Equal(t, p.Name, got.Name)
	require.Equal(t, p.Originals[0].Path, got.Originals[0].Path)
	require.True(t, got.Accessed.After(p.Accessed))
}

func TestLoadErrors(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(filepath.Join(s.Root, "nope"))
	require.ErrorIs(t, err, fs.ErrNotExist)

	p, err := s.Create("broken")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p.MetadataPath(), []byte("{not json"), 0o644))

	_, err = s.Load(p.Dir)
	require.ErrorIs(t, err, ErrCorruptMetadata)
	var cme *CorruptMetadataError
	require.ErrorAs(t, err, &cme)
	require.Equal(t, p.MetadataPath(), cme.Path)
}

func TestAddOriginalIdempotent(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("dups")
	require.NoError(t, err)
	src := writeSource(t, "a.png")

	added, err := s.AddOriginal(p, src)
	require.NoError(t, err)
	require.True(t, added)

	added, err = s.AddOriginal(p, filepath.Join(filepath.Dir(src), ".", "a.png"))
	require.NoError(t, err)
	require.False(t, added)
	require.Len(t, p.Originals, 1)
	require.Equal(t, 1, p.Stats.Originals)

	onDisk, err := s.Load(p.Dir)
	require.NoError(t, err)
	require.Len(t, onDisk.Originals, 1)
}

func TestAddOriginalMissingFile(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("missing")
	require.NoError(t, err)
	_, err = s.AddOriginal(p, filepath.Join(t.TempDir(), "gone.tif"))
	require.ErrorIs(t, err, fs.ErrNotExist)
	require.Empty(t, p.Originals)
}

func TestAddOriginalCopies(t *testing.T) {
	s := newTestStore(t)
	s.CopyOriginals = true
	p, err := s.Create("copies")
	require.NoError(t, err)

	r := multispectralCrop()
	src := writeSource(t, "IMG_0002.tif")
	added, err := s.AddRaster(p, src, r)
	require.NoError(t, err)
	require.True(t, added)

	o := p.Originals[0]
	require.Equal(t, "IMG_0002.tif", o.Copy)
	require.Equal(t, "multispectral", o.Kind)
	require.Equal(t, 5, o.Bands)
	require.FileExists(t, filepath.Join(p.OriginalsPath(), o.Copy))
}

func TestSaveCrop(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("crops")
	require.NoError(t, err)
	buf := multispectralCrop()

	rec := CropRecord{Source: "/data/IMG_0001_1.tif", X: 100, Y: 200, Size: 16, Mode: "rgb_natural"}
	got, err := s.SaveCrop(p, rec, buf)
	require.NoError(t, err)
	require.Equal(t, "IMG_0001_1_crop_100_200_16x16.tif", got.File)
	require.Equal(t, "IMG_0001_1.tif", got.SourceName)
	require.Positive(t, got.Bytes)
	require.Len(t, p.Crops, 1)
	require.Equal(t, 1, p.Stats.Crops)

	back, err := raster.Load(filepath.Join(p.CropsPath(), got.File))
	require.NoError(t, err)
	require.Equal(t, buf.Bands, back.Bands)
	require.Equal(t, raster.Uint16, back.DType)

	// Same center and size: the name must not collide.
	second, err := s.SaveCrop(p, rec, buf)
	require.NoError(t, err)
	require.Equal(t, "IMG_0001_1_crop_100_200_16x16_1.tif", second.File)

	onDisk, err := s.Load(p.Dir)
	require.NoError(t, err)
	require.Len(t, onDisk.Crops, 2)
	require.Equal(t, got.File, onDisk.Crops[0].File)

	entries, err := os.ReadDir(p.CropsPath())
	require.NoError(t, err)
	require.Len(t, entries, 2, "no temp files left behind")
}

func TestSaveCropRGB(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("rgb")
	require.NoError(t, err)

	buf := raster.New(16, 16, 3, raster.Uint8, raster.RGB)
	got, err := s.SaveCrop(p, CropRecord{Source: "photo.JPG", X: 8, Y: 8, Size: 16, Mode: "rgb"}, buf)
	require.NoError(t, err)
	require.Equal(t, "photo_crop_8_8_16x16.png", got.File)

	s.RGBCropExt = ".tif"
	got, err = s.SaveCrop(p, CropRecord{Source: "photo.JPG", X: 8, Y: 8, Size: 16, Mode: "rgb"}, buf)
	require.NoError(t, err)
	require.Equal(t, "photo_crop_8_8_16x16.tif", got.File)
}

func TestSaveCropMetadataFailure(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	s := newTestStore(t)
	p, err := s.Create("readonly")
	require.NoError(t, err)

	// Crops can be written, but the project directory cannot take the
	// metadata temp file.
	require.NoError(t, os.Chmod(p.Dir, 0o555))
	t.Cleanup(func() { os.Chmod(p.Dir, 0o755) })

	_, err = s.SaveCrop(p, CropRecord{Source: "a.tif", X: 8, Y: 8, Size: 16}, multispectralCrop())
	require.Error(t, err)
	require.Empty(t, p.Crops)
	require.Equal(t, 0, p.Stats.Crops)

	entries, err := os.ReadDir(p.CropsPath())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPruneIfEmpty(t *testing.T) {
	s := newTestStore(t)

	empty, err := s.Create("empty")
	require.NoError(t, err)
	removed, err := s.PruneIfEmpty(empty)
	require.NoError(t, err)
	require.True(t, removed)
	require.NoDirExists(t, empty.Dir)

	withCrop, err := s.Create("busy")
	require.NoError(t, err)
	_, err = s.SaveCrop(withCrop, CropRecord{Source: "a.tif", X: 8, Y: 8, Size: 16}, multispectralCrop())
	require.NoError(t, err)
	removed, err = s.PruneIfEmpty(withCrop)
	require.NoError(t, err)
	require.False(t, removed)
	require.DirExists(t, withCrop.Dir)

	stray, err := s.Create("stray")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(stray.CropsPath(), "by_hand.tif"), []byte("x"), 0o644))
	removed, err = s.PruneIfEmpty(stray)
	require.NoError(t, err)
	require.False(t, removed, "untracked crop files are kept")
	require.FileExists(t, filepath.Join(stray.CropsPath(), "by_hand.tif"))

	withOriginal, err := s.Create("originals")
	require.NoError(t, err)
	_, err = s.AddOriginal(withOriginal, writeSource(t, "x.tif"))
	require.NoError(t, err)
	removed, err = s.PruneIfEmpty(withOriginal)
	require.NoError(t, err)
	require.False(t, removed)

	reg, err := s.Registry()
	require.NoError(t, err)
	require.NotContains(t, reg.Projects, "empty")
	require.Contains(t, reg.Projects, "busy")
	require.Equal(t, 1, reg.Projects["busy"].Crops)
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	a, err := s.Create("alpha")
	require.NoError(t, err)
	_, err = s.Create("beta")
	require.NoError(t, err)
	// Touch alpha last.
	_, err = s.AddOriginal(a, writeSource(t, "x.png"))
	require.NoError(t, err)

	broken, err := s.Create("broken")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(broken.MetadataPath(), []byte("]"), 0o644))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "alpha", list[0].SafeName)
	require.Equal(t, 1, list[0].Originals)
	require.Equal(t, "beta", list[1].SafeName)
}

func TestRegistryRebuiltWhenCorrupt(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("one")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root, RegistryFile), []byte("garbage"), 0o644))

	reg, err := s.Registry()
	require.NoError(t, err)
	require.Contains(t, reg.Projects, "one")
}

func TestSanitize(t *testing.T) {
	require.Equal(t, "my-project_1", Sanitize("my-project_1"))
	require.Equal(t, "campo2024", Sanitize(" campo 2024! "))
	require.Equal(t, "città", Sanitize("città"))
	require.Equal(t, "", Sanitize("../"))
}

func TestCropName(t *testing.T) {
	require.Equal(t, "IMG_0001_crop_3_4_64x64.tif", CropName("/a/b/IMG_0001.tif", 3, 4, 64, ".tif"))
}
