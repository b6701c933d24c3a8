package labeler

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tstromberg/bandcrop/pkg/project"
	"github.com/tstromberg/bandcrop/pkg/raster"
	"github.com/tstromberg/bandcrop/pkg/render"
	"github.com/tstromberg/bandcrop/pkg/superpixel"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ProjectsDir = filepath.Join(t.TempDir(), "projects")
	s, err := NewSession(cfg)
	require.NoError(t, err)
	return s
}

func TestSessionNoImage(t *testing.T) {
	s := newTestSession(t)

	_, err := s.Display()
	require.ErrorIs(t, err, ErrNoImage)
	require.ErrorIs(t, s.SetMode(render.Band(1)), ErrNoImage)
	_, err = s.Preview()
	require.ErrorIs(t, err, ErrNoImage)
	_, err = s.Select(1, 1)
	require.ErrorIs(t, err, ErrNoImage)
	_, err = s.Segment()
	require.ErrorIs(t, err, ErrNoImage)
	require.Nil(t, s.Modes())

	err = s.LoadImage(filepath.Join(t.TempDir(), "notes.txt"))
	require.ErrorIs(t, err, raster.ErrUnsupportedFormat)
	require.Nil(t, s.Project(), "failed loads do not create projects")
	require.NoError(t, s.Close())
}

func TestSessionLoadImage(t *testing.T) {
	s := newTestSession(t)
	path := writeMultispectral(t, t.TempDir(), "IMG_0001_1.tif", 100, 80)

	require.NoError(t, s.LoadImage(path))
	p := s.Project()
	require.NotNil(t, p)
	require.Len(t, p.Originals, 1)
	require.Equal(t, 5, p.Originals[0].Bands)
	require.Equal(t, render.ModeRGBNatural, s.Mode())
	require.Equal(t, 1.0, s.Zoom())
	require.Len(t, s.Modes(), 9)

	require.FileExists(t, s.Log().Path())
	require.Equal(t, p.Dir, filepath.Dir(s.Log().Path()))
	require.Equal(t, 1, s.Log().Stats.ImagesLoaded)

	// Reloading the same image does not duplicate the original.
	s.SetZoom(3)
	require.NoError(t, s.LoadImage(path))
	require.Len(t, p.Originals, 1)
	require.Equal(t, 1.0, s.Zoom())
}

func TestSessionLoadFailureLeavesNoProject(t *testing.T) {
	s := newTestSession(t)
	path := writeMultispectral(t, t.TempDir(), "IMG_0002_1.tif", 20, 20)

	addRaster = func(*project.Store, *project.Project, string, *raster.Raster) (bool, error) {
		return false, errors.New("disk full")
	}
	t.Cleanup(func() { addRaster = (*project.Store).AddRaster })

	require.ErrorContains(t, s.LoadImage(path), "disk full")
	require.Nil(t, s.Project())
	require.Nil(t, s.Raster())
	require.Empty(t, s.Log().Path())

	des, err := os.ReadDir(s.Config().ProjectsDir)
	require.NoError(t, err)
	require.Empty(t, des)
}

func TestSessionMode(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.LoadImage(writeMultispectral(t, t.TempDir(), "ms.tif", 20, 10)))

	require.ErrorIs(t, s.SetMode(render.ModeRGBColor), render.ErrUnsupportedMode)
	require.ErrorIs(t, s.SetMode(render.Band(6)), render.ErrUnsupportedMode)
	require.Equal(t, render.ModeRGBNatural, s.Mode())

	require.NoError(t, s.SetMode(render.Band(4)))
	require.NoError(t, s.SetMode(render.Band(4)))
	require.Equal(t, render.Band(4), s.Mode())
	require.Equal(t, 1, s.Log().Stats.ModeChanges)
}

func TestSessionZoom(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.LoadImage(writeMultispectral(t, t.TempDir(), "ms.tif", 100, 80)))

	require.InDelta(t, 1.2, s.ZoomIn(), 1e-9)
	require.InDelta(t, 1.0, s.ZoomOut(), 1e-9)
	require.Equal(t, render.MaxZoom, s.SetZoom(100))
	require.Equal(t, render.MinZoom, s.SetZoom(0))

	s.SetZoom(0.5)
	img, err := s.Display()
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 50, 40), img.Bounds())
}

func TestSessionSelect(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.LoadImage(writeMultispectral(t, t.TempDir(), "ms.tif", 100, 80)))

	s.SetZoom(2)
	p, err := s.Select(101, 61)
	require.NoError(t, err)
	require.Equal(t, image.Pt(50, 30), p)
	got, ok := s.Selection()
	require.True(t, ok)
	require.Equal(t, p, got)

	_, err = s.Select(250, 10)
	require.Error(t, err)
	_, err = s.Select(-1, 0)
	require.Error(t, err)

	// Rejected points leave the selection alone.
	got, _ = s.Selection()
	require.Equal(t, image.Pt(50, 30), got)
	require.Equal(t, 1, s.Log().Stats.Selections)
}

func TestSessionPreview(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.LoadImage(writeMultispectral(t, t.TempDir(), "ms.tif", 100, 80)))

	_, err := s.Preview()
	require.ErrorIs(t, err, ErrNoSelection)

	require.Equal(t, 32, s.SetCropSize(32))
	require.Equal(t, 512, s.SetCropSize(9000))
	s.SetCropSize(32)
	s.SelectSource(image.Pt(50, 40))

	pv, err := s.Preview()
	require.NoError(t, err)
	require.True(t, pv.Crop.Valid)
	require.Equal(t, image.Rect(34, 24, 66, 56), pv.Crop.Bounds)
	require.Equal(t, 5, pv.Crop.Raster.BandCount())
	require.Equal(t, image.Rect(0, 0, 190, 190), pv.Image.Bounds())
}

func TestSessionSaveCrop(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.LoadImage(writeMultispectral(t, t.TempDir(), "IMG_0001_1.tif", 100, 80)))

	s.SetCropSize(32)
	s.SelectSource(image.Pt(50, 40))
	rec, err := s.SaveCrop()
	require.NoError(t, err)
	require.Equal(t, "IMG_0001_1_crop_50_40_32x32.tif", rec.File)
	require.Equal(t, "rgb_natural", rec.Mode)
	require.Empty(t, rec.Reason)

	saved, err := raster.Load(filepath.Join(s.Project().CropsPath(), rec.File))
	require.NoError(t, err)
	require.Equal(t, 5, saved.BandCount())
	require.Equal(t, raster.Uint16, saved.DType)
	require.Equal(t, float32(1000+7*34+3*24), saved.At(0, 0, 0))

	require.Equal(t, 1, s.Project().Stats.Crops)
	require.Equal(t, 1, s.Log().Stats.CropsCreated)
}

func TestSessionEdgeCrops(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.LoadImage(writeMultispectral(t, t.TempDir(), "ms.tif", 100, 80)))
	s.Config().AllowEdgeCrops = false

	s.SelectSource(image.Pt(2, 2))
	_, err := s.SaveCrop()
	require.ErrorIs(t, err, ErrEdgeCrop)
	require.Empty(t, s.Project().Crops)

	s.Config().AllowEdgeCrops = true
	rec, err := s.SaveCrop()
	require.NoError(t, err)
	require.Equal(t, "near_left_edge,near_top_edge", rec.Reason)
	require.Equal(t, 34, rec.Width)
	require.Equal(t, 34, rec.Height)
	require.Equal(t, 64, rec.Size)
}

func TestSessionAsymmetricCrop(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.LoadImage(writeMultispectral(t, t.TempDir(), "ms.tif", 100, 80)))

	s.SetCropSize(33)
	s.SelectSource(image.Pt(50, 40))
	rec, err := s.SaveCrop()
	require.NoError(t, err)
	require.Equal(t, "asymmetric", rec.Reason)
	require.Equal(t, 33, rec.Width)
}

func TestSessionAddDirectory(t *testing.T) {
	s := newTestSession(t)
	dir := t.TempDir()
	writeMultispectral(t, dir, "b.tif", 20, 20)
	first := writeRGB(t, dir, "a.png", 20, 20)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	n, err := s.AddDirectory(dir)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, first, s.ImagePath())
	require.Equal(t, render.ModeRGBColor, s.Mode())
	require.Len(t, s.Project().Originals, 2)

	_, err = s.AddDirectory(t.TempDir())
	require.Error(t, err)
}

func TestSessionProjects(t *testing.T) {
	s := newTestSession(t)

	a, err := s.NewProject("Survey A")
	require.NoError(t, err)
	require.DirExists(t, a.Dir)

	// Switching away from an empty project removes it.
	b, err := s.NewProject("Survey B")
	require.NoError(t, err)
	require.NoDirExists(t, a.Dir)
	require.NoError(t, s.LoadImage(writeRGB(t, t.TempDir(), "rgb.png", 16, 16)))
	require.Equal(t, b.Dir, s.Project().Dir)

	other := newTestSession(t)
	other.store.Root = s.store.Root
	p, err := other.OpenProject(b.Dir)
	require.NoError(t, err)
	require.Equal(t, "Survey B", p.Name)
	require.Len(t, p.Originals, 1)
	require.NoError(t, other.Close())
	require.DirExists(t, b.Dir)
}

func TestSessionCloseRemovesEmptyProject(t *testing.T) {
	s := newTestSession(t)
	p, err := s.NewProject("scratch")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoDirExists(t, p.Dir)

	ls, err := s.Store().List()
	require.NoError(t, err)
	require.Empty(t, ls)
}

func TestSessionFelzenszwalb(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.LoadImage(writeRGB(t, t.TempDir(), "field.png", 64, 64)))
	s.Config().Superpixel.Method = superpixel.MethodFelzenszwalb

	seg, err := s.Segment()
	require.NoError(t, err)
	require.Greater(t, seg.Count(), 1)
	left, _ := seg.At(2, 32)
	right, _ := seg.At(61, 32)
	require.NotEqual(t, left, right)
}

func TestSessionSuperpixelCrop(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.LoadImage(writeRGB(t, t.TempDir(), "field.png", 128, 128)))
	s.Config().AllowEdgeCrops = false

	_, err := s.SelectSuperpixel(5, 5)
	require.ErrorIs(t, err, ErrNoSegments)

	s.Config().Superpixel.Segments = 16
	seg, err := s.Segment()
	require.NoError(t, err)
	require.Greater(t, seg.Count(), 1)

	label, err := s.SelectSuperpixel(5, 5)
	require.NoError(t, err)
	want, _ := seg.At(5, 5)
	require.Equal(t, want, label)

	rec, err := s.SaveSuperpixelCrop(label)
	require.NoError(t, err)
	require.GreaterOrEqual(t, rec.Size, 32)
	require.Equal(t, rec.Size, rec.Width, "shifted inside the image")
	require.Equal(t, rec.Size, rec.Height)
	require.Equal(t, ".png", filepath.Ext(rec.File))

	_, err = s.SaveSuperpixelCrop(seg.Count() + 10)
	require.Error(t, err)
}
