package labeler

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/project"
	"github.com/tstromberg/bandcrop/pkg/raster"
	"github.com/tstromberg/bandcrop/pkg/render"
)

//go:embed assets/report.tmpl
var reportTmpl string

//go:embed assets/style.css
var styleText string

// ThumbHeight and ThumbQuality describe report thumbnails.
var (
	ThumbHeight  = 180
	ThumbQuality = 75
)

// ReportCrop is a crop as shown in the report.
type ReportCrop struct {
	project.CropRecord
	View  render.DisplayMode
	Href  string
	Thumb string
	Err   string
}

// WriteReport writes an index.html for a project's crops into outDir, with
// thumbnails under outDir/_. It returns the path of the index.
func WriteReport(p *project.Project, outDir string) (string, error) {
	thumbDir := filepath.Join(outDir, "_")
	if err := os.MkdirAll(thumbDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}

	crops := []ReportCrop{}
	for _, c := range p.Crops {
		src := filepath.Join(p.CropsPath(), c.File)
		rc := ReportCrop{CropRecord: c, Href: src}
		if rel, err := filepath.Rel(outDir, src); err == nil {
			rc.Href = filepath.ToSlash(rel)
		}
		thumb, mode, err := cropThumb(src, c.Mode, thumbDir)
		if err != nil {
			klog.Warningf("thumbnail for %s: %v", c.File, err)
			rc.Err = err.Error()
		} else {
			rc.Thumb = "_/" + filepath.Base(thumb)
			rc.View = mode
		}
		crops = append(crops, rc)
	}

	bs, err := renderReport(p, crops)
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	path := filepath.Join(outDir, "index.html")
	klog.V(1).Infof("Writing report to %s", path)
	if err := os.WriteFile(path, bs, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// cropMode returns the mode to show a crop in: the mode it was saved in
// when the crop supports it, else the crop's default.
func cropMode(r *raster.Raster, saved string) (*raster.Raster, render.DisplayMode) {
	m, err := render.ParseMode(saved)
	if err != nil {
		return r, render.DefaultMode(r)
	}
	// RGB crops kept as TIFF load back as multispectral.
	if (m == render.ModeRGBColor || m == render.ModeGrayscale) && r.Kind == raster.Multispectral {
		rgb := *r
		rgb.Kind = raster.RGB
		r = &rgb
	}
	if m.Validate(r) != nil {
		return r, render.DefaultMode(r)
	}
	return r, m
}

func thumbPath(src, thumbDir string) string {
	base := filepath.Base(src)
	noExt := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(thumbDir, fmt.Sprintf("%s@y%d.jpg", noExt, ThumbHeight))
}

func cropThumb(src, saved, thumbDir string) (string, render.DisplayMode, error) {
	sst, err := os.Stat(src)
	if err != nil {
		return "", render.DisplayMode{}, fmt.Errorf("stat: %w", err)
	}

	r, err := raster.Load(src)
	if err != nil {
		return "", render.DisplayMode{}, err
	}
	r, mode := cropMode(r, saved)
	dst := thumbPath(src, thumbDir)

	dst0, err := os.Stat(dst)
	if err == nil && dst0.Size() > 128 && !sst.ModTime().After(dst0.ModTime()) {
		klog.V(1).Infof("%s is up to date", dst)
		return dst, mode, nil
	}

	img, err := render.Render(r, mode, 1)
	if err != nil {
		return "", mode, err
	}
	if err := createThumb(img, dst); err != nil {
		return "", mode, err
	}
	return dst, mode, nil
}

func createThumb(i image.Image, path string) error {
	if i.Bounds().Dy() == 0 || i.Bounds().Dx() == 0 {
		return fmt.Errorf("empty image: %v", i.Bounds())
	}
	x := max(1, int(math.Round(float64(i.Bounds().Dx()*ThumbHeight)/float64(i.Bounds().Dy()))))

	klog.V(1).Infof("creating %dx%d thumb: %s", x, ThumbHeight, path)
	rimg := transform.Resize(i, x, ThumbHeight, transform.Lanczos)
	if err := imgio.Save(path, rimg, imgio.JPEGEncoder(ThumbQuality)); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

func renderReport(p *project.Project, crops []ReportCrop) ([]byte, error) {
	tmpl, err := template.New("report").Funcs(tmplFunctions()).Parse(reportTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	data := struct {
		Project   *project.Project
		Crops     []ReportCrop
		Generated time.Time
		Style     template.CSS
	}{
		Project:   p,
		Crops:     crops,
		Generated: time.Now(),
		Style:     template.CSS(styleText),
	}

	var tpl bytes.Buffer
	if err = tmpl.Execute(&tpl, data); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	return tpl.Bytes(), nil
}

// tmplFunctions are functions available to the report template.
func tmplFunctions() template.FuncMap {
	return template.FuncMap{
		"Odd": func(i int) bool {
			return i%2 == 1
		},
		"Date": func(t time.Time) string {
			return t.Format("2006-01-02 15:04")
		},
		"Bytes": func(n int64) string {
			switch {
			case n >= 1<<20:
				return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
			case n >= 1<<10:
				return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
			}
			return fmt.Sprintf("%d B", n)
		},
		"BasePath": filepath.Base,
	}
}
