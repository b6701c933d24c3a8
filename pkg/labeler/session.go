package labeler

import (
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/crop"
	"github.com/tstromberg/bandcrop/pkg/project"
	"github.com/tstromberg/bandcrop/pkg/raster"
	"github.com/tstromberg/bandcrop/pkg/render"
	"github.com/tstromberg/bandcrop/pkg/superpixel"
)

// ZoomStep is the factor applied by ZoomIn and ZoomOut.
const ZoomStep = 1.2

var (
	ErrNoImage     = errors.New("no image loaded")
	ErrNoSelection = errors.New("no point selected")
	ErrNoSegments  = errors.New("no superpixels computed")
	// ErrEdgeCrop is returned by SaveCrop for crops that cross the image
	// edge when the config does not allow them.
	ErrEdgeCrop = errors.New("crop crosses the image edge")
)

// addRaster records a loaded image; tests replace it to fail the store.
var addRaster = (*project.Store).AddRaster

// Session owns everything the operator is working on: the active project,
// the loaded image and the view and crop settings. It is not safe for
// concurrent use.
type Session struct {
	cfg      *Config
	store    *project.Store
	renderer render.Renderer
	log      *ActivityLog

	project  *project.Project
	path     string
	raster   *raster.Raster
	mode     render.DisplayMode
	zoom     float64
	sel      *image.Point
	size     int
	segments *superpixel.Segments
}

// NewSession opens the projects directory named by cfg.
func NewSession(cfg *Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	rd, err := cfg.Renderer()
	if err != nil {
		return nil, err
	}
	st, err := project.NewStore(cfg.ProjectsDir)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	st.CopyOriginals = cfg.CopyOriginals
	st.RGBCropExt = "." + cfg.RGBCropFormat

	s := &Session{
		cfg:      cfg,
		store:    st,
		renderer: rd,
		zoom:     1,
		size:     cfg.CropSize,
	}
	if cfg.SessionLog {
		s.log = NewActivityLog()
	}
	return s, nil
}

func (s *Session) Config() *Config { return s.cfg }

func (s *Session) Store() *project.Store { return s.store }

// Project returns the active project, or nil before the first load.
func (s *Session) Project() *project.Project { return s.project }

func (s *Session) Raster() *raster.Raster { return s.raster }

func (s *Session) ImagePath() string { return s.path }

func (s *Session) Mode() render.DisplayMode { return s.mode }

func (s *Session) Zoom() float64 { return s.zoom }

func (s *Session) CropSize() int { return s.size }

// Log returns the activity log, or nil if session logging is disabled.
func (s *Session) Log() *ActivityLog { return s.log }

func (s *Session) Segments() *superpixel.Segments { return s.segments }

func (s *Session) record(typ string, details map[string]any) {
	if s.log != nil {
		s.log.Record(typ, details)
	}
}

// NewProject creates a project and makes it active. The previous project is
// pruned if it is empty.
func (s *Session) NewProject(name string) (*project.Project, error) {
	p, err := s.store.Create(name)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.activate(p, "created")
	return p, nil
}

// OpenProject loads an existing project directory and makes it active.
func (s *Session) OpenProject(dir string) (*project.Project, error) {
	p, err := s.store.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("open project: %w", err)
	}
	s.activate(p, "loaded")
	return p, nil
}

func (s *Session) activate(p *project.Project, action string) {
	if s.project != nil && s.project.Dir != p.Dir {
		if _, err := s.store.PruneIfEmpty(s.project); err != nil {
			klog.Warningf("prune %s: %v", s.project.Dir, err)
		}
	}
	s.project = p
	if s.log != nil {
		s.log.Attach(p.Dir)
	}
	s.record(ActivityProject, map[string]any{"action": action, "name": p.Name, "safe_name": p.SafeName})
}

// discardProject removes a project this session created but never used.
func (s *Session) discardProject() {
	if _, err := s.store.PruneIfEmpty(s.project); err != nil {
		klog.Warningf("prune %s: %v", s.project.Dir, err)
	}
	s.project = nil
	if s.log != nil {
		s.log.Detach()
	}
}

func (s *Session) ensureProject() error {
	if s.project != nil {
		return nil
	}
	_, err := s.NewProject("")
	return err
}

// LoadImage makes path the current image, creating a project if none is
// active and recording the image as an original. Zoom resets to 1 and the
// mode to the image's default.
func (s *Session) LoadImage(path string) error {
	r, err := raster.Load(path)
	if err != nil {
		s.record(ActivityError, map[string]any{"error_type": "load", "error_message": err.Error()})
		return err
	}
	created := s.project == nil
	if err := s.ensureProject(); err != nil {
		return err
	}
	if _, err := addRaster(s.store, s.project, path, r); err != nil {
		if created {
			s.discardProject()
		}
		return fmt.Errorf("add original: %w", err)
	}

	s.path = path
	s.raster = r
	s.mode = render.DefaultMode(r)
	s.zoom = 1
	s.sel = nil
	s.segments = nil

	klog.Infof("loaded %s: %s, mode %s", path, r, s.mode)
	s.record(ActivityImageLoaded, map[string]any{
		"file_path": path,
		"filename":  filepath.Base(path),
		"bands":     r.BandCount(),
		"width":     r.Width,
		"height":    r.Height,
	})
	return nil
}

// AddOriginal records path in the active project without loading it.
func (s *Session) AddOriginal(path string) (bool, error) {
	if err := s.ensureProject(); err != nil {
		return false, err
	}
	return s.store.AddOriginal(s.project, path)
}

// AddDirectory records every supported image below dir and loads the first.
// It returns the number of images found.
func (s *Session) AddDirectory(dir string) (int, error) {
	paths, err := raster.Find(dir)
	if err != nil {
		return 0, fmt.Errorf("find: %w", err)
	}
	if len(paths) == 0 {
		return 0, fmt.Errorf("no supported images in %s", dir)
	}
	for _, p := range paths[1:] {
		if _, err := s.AddOriginal(p); err != nil {
			return 0, err
		}
	}
	if err := s.LoadImage(paths[0]); err != nil {
		return 0, err
	}
	return len(paths), nil
}

// Modes lists the display modes for the current image.
func (s *Session) Modes() []render.DisplayMode {
	if s.raster == nil {
		return nil
	}
	return render.ModesFor(s.raster)
}

// SetMode changes the display mode.
func (s *Session) SetMode(m render.DisplayMode) error {
	if s.raster == nil {
		return ErrNoImage
	}
	if err := m.Validate(s.raster); err != nil {
		return err
	}
	if m == s.mode {
		return nil
	}
	prev := s.mode
	s.mode = m
	s.segments = nil
	s.record(ActivityModeChanged, map[string]any{"new_mode": m.String(), "previous_mode": prev.String()})
	return nil
}

// SetZoom sets the zoom factor, clamped to the supported range, and returns
// the value in effect.
func (s *Session) SetZoom(z float64) float64 {
	s.zoom = render.ClampZoom(z)
	return s.zoom
}

func (s *Session) ZoomIn() float64  { return s.SetZoom(s.zoom * ZoomStep) }
func (s *Session) ZoomOut() float64 { return s.SetZoom(s.zoom / ZoomStep) }

// Display renders the current image at the current mode and zoom.
func (s *Session) Display() (*image.RGBA, error) {
	if s.raster == nil {
		return nil, ErrNoImage
	}
	return s.renderer.Render(s.raster, s.mode, s.zoom)
}

// ToSource converts a point on the zoomed display to source pixels.
func (s *Session) ToSource(dx, dy float64) (image.Point, error) {
	if s.raster == nil {
		return image.Point{}, ErrNoImage
	}
	p := image.Pt(int(math.Floor(dx/s.zoom)), int(math.Floor(dy/s.zoom)))
	if !p.In(s.raster.Bounds()) {
		return p, fmt.Errorf("point %v is outside the %dx%d image", p, s.raster.Width, s.raster.Height)
	}
	return p, nil
}

// Select sets the crop center from display coordinates and returns it in
// source pixels.
func (s *Session) Select(dx, dy float64) (image.Point, error) {
	p, err := s.ToSource(dx, dy)
	if err != nil {
		return p, err
	}
	s.SelectSource(p)
	return p, nil
}

// SelectSource sets the crop center in source pixels.
func (s *Session) SelectSource(p image.Point) {
	s.sel = &p
	s.record(ActivitySelected, map[string]any{"x": p.X, "y": p.Y, "image_file": s.path})
}

// Selection returns the crop center, if any.
func (s *Session) Selection() (image.Point, bool) {
	if s.sel == nil {
		return image.Point{}, false
	}
	return *s.sel, true
}

// SetCropSize clamps n to the supported sizes and returns the value in effect.
func (s *Session) SetCropSize(n int) int {
	s.size = crop.ClampSize(n)
	return s.size
}

// Preview is a crop plus its rendering, scaled to the preview size.
type Preview struct {
	Crop  *crop.Result
	Image *image.RGBA
}

// Preview extracts the selected crop and renders it in the current mode.
func (s *Session) Preview() (*Preview, error) {
	res, err := s.extract()
	if err != nil {
		return nil, err
	}
	img, err := s.renderer.Render(res.Raster, s.mode, 1)
	if err != nil {
		return nil, err
	}
	return &Preview{Crop: res, Image: render.Scale(img, s.cfg.PreviewSize)}, nil
}

func (s *Session) extract() (*crop.Result, error) {
	if s.raster == nil {
		return nil, ErrNoImage
	}
	if s.sel == nil {
		return nil, ErrNoSelection
	}
	return crop.Extract(s.raster, s.sel.X, s.sel.Y, s.size)
}

// SaveCrop extracts the selected crop and saves it into the project.
func (s *Session) SaveCrop() (project.CropRecord, error) {
	res, err := s.extract()
	if err != nil {
		return project.CropRecord{}, err
	}
	return s.save(res, *s.sel, s.size)
}

func (s *Session) save(res *crop.Result, center image.Point, size int) (project.CropRecord, error) {
	if res.Reason.Edge() {
		if !s.cfg.AllowEdgeCrops {
			return project.CropRecord{}, fmt.Errorf("%w: %s", ErrEdgeCrop, res.Reason)
		}
		klog.Warningf("crop at (%d,%d) is clipped to %dx%d: %s", center.X, center.Y, res.Bounds.Dx(), res.Bounds.Dy(), res.Reason)
	}
	if res.Reason.Has(crop.Asymmetric) {
		klog.Warningf("odd crop size %d: the extra pixel falls right and below (%d,%d)", size, center.X, center.Y)
	}
	if err := s.ensureProject(); err != nil {
		return project.CropRecord{}, err
	}

	rec := project.CropRecord{
		Source: s.path,
		X:      center.X,
		Y:      center.Y,
		Size:   size,
		Mode:   s.mode.String(),
		Reason: res.Reason.String(),
	}
	rec, err := s.store.SaveCrop(s.project, rec, res.Raster)
	if err != nil {
		s.record(ActivityError, map[string]any{"error_type": "save_crop", "error_message": err.Error()})
		return rec, err
	}

	s.record(ActivityCropCreated, map[string]any{
		"crop_filename":  rec.File,
		"original_image": rec.Source,
		"coordinates":    []int{rec.X, rec.Y},
		"crop_size":      rec.Size,
		"view_mode":      rec.Mode,
	})
	return rec, nil
}

// Segment computes superpixels over the current display at zoom 1.
func (s *Session) Segment() (*superpixel.Segments, error) {
	if s.raster == nil {
		return nil, ErrNoImage
	}
	img, err := s.renderer.Render(s.raster, s.mode, 1)
	if err != nil {
		return nil, err
	}
	s.segments = s.cfg.Segment(img)
	klog.Infof("%d %s superpixels", s.segments.Count(), s.cfg.Superpixel.Method)
	return s.segments, nil
}

// SelectSuperpixel returns the superpixel under a display point.
func (s *Session) SelectSuperpixel(dx, dy float64) (int, error) {
	if s.segments == nil {
		return 0, ErrNoSegments
	}
	p, err := s.ToSource(dx, dy)
	if err != nil {
		return 0, err
	}
	label, _ := s.segments.At(p.X, p.Y)
	return label, nil
}

// SaveSuperpixelCrop saves a padded square around a superpixel, shifted
// inside the image where possible.
func (s *Session) SaveSuperpixelCrop(label int) (project.CropRecord, error) {
	if s.segments == nil {
		return project.CropRecord{}, ErrNoSegments
	}
	b := s.segments.Bounds(label)
	if b.Empty() {
		return project.CropRecord{}, fmt.Errorf("no superpixel %d", label)
	}

	c, side := superpixel.CropFor(b)
	side = crop.ClampSize(side)
	if rect, ok := crop.Fit(c, side, s.raster.Width, s.raster.Height); ok {
		c = crop.Center(rect, side)
	}

	res, err := crop.Extract(s.raster, c.X, c.Y, side)
	if err != nil {
		return project.CropRecord{}, err
	}
	klog.Infof("superpixel %d: %v -> %s", label, b, res)
	return s.save(res, c, side)
}

// Close ends the session log and removes the active project if it is empty.
func (s *Session) Close() error {
	if s.log != nil {
		s.log.End()
	}
	if s.project == nil {
		return nil
	}
	if _, err := s.store.PruneIfEmpty(s.project); err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	return nil
}
