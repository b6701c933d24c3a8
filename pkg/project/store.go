package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/raster"
)

// Store manages the projects below a root directory.
type Store struct {
	Root string
	// CopyOriginals copies each added original into the project.
	CopyOriginals bool
	// RGBCropExt is the extension for crops of RGB images: ".png" or ".tif".
	RGBCropExt string

	now func() time.Time
}

// NewStore creates root if needed.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &Store{Root: abs, RGBCropExt: ".png", now: time.Now}, nil
}

// Create makes a new project directory. An empty name gets a timestamped
// one, and a name that is already taken gets a _N suffix.
func (s *Store) Create(name string) (*Project, error) {
	now := s.now()
	if strings.TrimSpace(name) == "" {
		name = "labeling_project_" + now.Format(timestampLayout)
	}
	safe := Sanitize(name)
	if safe == "" {
		safe = "project_" + now.Format(timestampLayout)
	}

	dir := filepath.Join(s.Root, safe)
	for n := 1; ; n++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("mkdir: %w", err)
		}
		dir = filepath.Join(s.Root, fmt.Sprintf("%s_%d", safe, n))
	}

	p := &Project{
		Name:        name,
		SafeName:    filepath.Base(dir),
		Description: "Multispectral labeling project",
		Version:     Version,
		Created:     now,
		Modified:    now,
		Accessed:    now,
		Originals:   []Original{},
		Crops:       []CropRecord{},
		Dir:         dir,
	}
	for _, sub := range []string{p.OriginalsPath(), p.CropsPath()} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir: %w", err)
		}
	}
	if err := s.save(p); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	klog.Infof("created project %q in %s", p.Name, p.Dir)
	s.register(p)
	return p, nil
}

// Load reads a project directory. Malformed metadata is reported as a
// *CorruptMetadataError.
func (s *Store) Load(dir string) (*Project, error) {
	p, err := readProject(dir)
	if err != nil {
		return nil, err
	}
	p.Accessed = s.now()
	if err := s.save(p); err != nil {
		return nil, err
	}
	s.register(p)
	return p, nil
}

func readProject(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("abs: %w", err)
	}
	path := filepath.Join(abs, MetadataFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	p := &Project{}
	if err := json.Unmarshal(b, p); err != nil {
		return nil, &CorruptMetadataError{Path: path, Err: err}
	}
	p.Dir = abs
	if p.SafeName == "" {
		p.SafeName = filepath.Base(abs)
	}
	if p.Originals == nil {
		p.Originals = []Original{}
	}
	if p.Crops == nil {
		p.Crops = []CropRecord{}
	}
	return p, nil
}

// AddOriginal records path as an original. It returns false, leaving the
// project unchanged, if the path is already recorded.
func (s *Store) AddOriginal(p *Project, path string) (bool, error) {
	return s.AddRaster(p, path, nil)
}

// AddRaster is AddOriginal with the dimensions of an already loaded image.
func (s *Store) AddRaster(p *Project, path string, r *raster.Raster) (bool, error) {
	key := cleanPath(path)
	if _, ok := p.Original(key); ok {
		klog.V(1).Infof("%s already in project %s", key, p.SafeName)
		return false, nil
	}

	fi, err := os.Stat(key)
	if err != nil {
		return false, fmt.Errorf("stat: %w", err)
	}

	o := Original{
		Path:  key,
		Name:  filepath.Base(key),
		Bytes: fi.Size(),
		Added: s.now(),
	}
	if r != nil {
		o.Kind = r.Kind.String()
		o.Bands = r.BandCount()
		o.Width = r.Width
		o.Height = r.Height
	}

	if s.CopyOriginals {
		dst := uniquePath(p.OriginalsPath(), o.Name, nil)
		if err := copy.Copy(key, dst); err != nil {
			return false, fmt.Errorf("copy: %w", err)
		}
		o.Copy = filepath.Base(dst)
	}

	prev := *p
	p.Originals = append(p.Originals, o)
	p.Stats.Originals = len(p.Originals)
	p.Modified = o.Added
	if err := s.save(p); err != nil {
		p.Originals, p.Stats, p.Modified = prev.Originals, prev.Stats, prev.Modified
		if o.Copy != "" {
			os.Remove(filepath.Join(p.OriginalsPath(), o.Copy))
		}
		return false, err
	}

	klog.V(1).Infof("added %s to project %s", key, p.SafeName)
	s.register(p)
	return true, nil
}

// CropExt is the extension a crop of r is stored with.
func (s *Store) CropExt(r *raster.Raster) string {
	if r.Kind == raster.Multispectral || s.RGBCropExt == ".tif" {
		return ".tif"
	}
	if _, err := r.Image(); err != nil {
		return ".tif"
	}
	if s.RGBCropExt == "" {
		return ".png"
	}
	return s.RGBCropExt
}

// SaveCrop writes buf into the crops directory and appends rec to the
// project. rec needs Source, X, Y, Size and Mode; the rest is filled in. The
// crop file is removed again if the metadata cannot be saved.
func (s *Store) SaveCrop(p *Project, rec CropRecord, buf *raster.Raster) (CropRecord, error) {
	if buf == nil {
		return rec, errors.New("nil crop")
	}

	taken := map[string]bool{}
	for _, c := range p.Crops {
		taken[c.File] = true
	}
	ext := s.CropExt(buf)
	path := uniquePath(p.CropsPath(), CropName(rec.Source, rec.X, rec.Y, rec.Size, ext), taken)

	if err := writeAtomic(path, func(f *os.File) error {
		return raster.Encode(f, buf, raster.FormatOf(path))
	}); err != nil {
		return rec, fmt.Errorf("write crop: %w", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		os.Remove(path)
		return rec, fmt.Errorf("stat: %w", err)
	}

	rec.SourceName = filepath.Base(rec.Source)
	rec.File = filepath.Base(path)
	rec.Width = buf.Width
	rec.Height = buf.Height
	rec.Created = s.now()
	rec.Bytes = fi.Size()

	prev := *p
	p.Crops = append(p.Crops, rec)
	p.Stats.Crops = len(p.Crops)
	p.Stats.CropBytes += rec.Bytes
	p.Modified = rec.Created
	if err := s.save(p); err != nil {
		p.Crops, p.Stats, p.Modified = prev.Crops, prev.Stats, prev.Modified
		if rerr := os.Remove(path); rerr != nil {
			klog.Errorf("remove %s: %v", path, rerr)
		}
		return rec, err
	}

	klog.Infof("saved %s (%dx%d, %d bytes)", path, rec.Width, rec.Height, rec.Bytes)
	s.register(p)
	return rec, nil
}

// PruneIfEmpty removes the project directory if it has no originals and no
// crops. It returns whether the project was removed.
func (s *Store) PruneIfEmpty(p *Project) (bool, error) {
	if !p.Empty() {
		return false, nil
	}
	des, err := os.ReadDir(p.CropsPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("readdir: %w", err)
	}
	if len(des) > 0 {
		klog.Warningf("%s has %d untracked files in %s, keeping it", p.SafeName, len(des), CropsDir)
		return false, nil
	}

	if err := os.RemoveAll(p.Dir); err != nil {
		return false, fmt.Errorf("remove: %w", err)
	}
	klog.Infof("removed empty project %s", p.Dir)
	s.unregister(p.SafeName)
	return true, nil
}

// List returns every readable project, most recently modified first.
func (s *Store) List() ([]Summary, error) {
	des, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("readdir: %w", err)
	}

	out := []Summary{}
	for _, de := range des {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(s.Root, de.Name())
		if _, err := os.Stat(filepath.Join(dir, MetadataFile)); err != nil {
			continue
		}
		p, err := readProject(dir)
		if err != nil {
			klog.Warningf("skipping %s: %v", dir, err)
			continue
		}
		out = append(out, p.Summary())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Modified.After(out[j].Modified)
	})
	return out, nil
}

func (s *Store) save(p *Project) error {
	if err := WriteJSON(p.MetadataPath(), p); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// uniquePath returns dir/name, or dir/stem_N.ext for the first N that is
// neither on disk nor in taken.
func uniquePath(dir, name string, taken map[string]bool) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 1; ; n++ {
		path := filepath.Join(dir, candidate)
		if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) && !taken[candidate] {
			return path
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
}
