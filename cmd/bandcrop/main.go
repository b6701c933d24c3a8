// bandcrop loads an image into a labeling project, renders it, and saves a
// square crop around a selected point.
package main

import (
	"flag"
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/imgio"
	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/labeler"
	"github.com/tstromberg/bandcrop/pkg/render"
)

var (
	configPath  = flag.String("config", "bandcrop.yaml", "YAML config file (optional)")
	projectsDir = flag.String("projects", "", "projects directory (overrides config)")
	projectName = flag.String("project", "", "create a project with this name")
	projectDir  = flag.String("open", "", "open an existing project directory")
	imagePath   = flag.String("image", "", "image to load")
	inDir       = flag.String("dir", "", "load every image in a directory, selecting the first")
	modeFlag    = flag.String("mode", "", "display mode, e.g. rgb_natural, false_color, band_3")
	zoom        = flag.Float64("zoom", 1, "display zoom, 0.1 to 5")
	x           = flag.Float64("x", math.NaN(), "display x of the crop center")
	y           = flag.Float64("y", math.NaN(), "display y of the crop center")
	size        = flag.Int("size", 0, "crop size in pixels (overrides config)")
	displayOut  = flag.String("display", "", "write the rendered display to this PNG")
	previewOut  = flag.String("preview", "", "write the crop preview to this PNG")
	save        = flag.Bool("save", false, "save the crop into the project")
	superpixel  = flag.Bool("superpixel", false, "crop the superpixel under x,y instead of a fixed square")
	spMethod    = flag.String("method", "", "superpixel method, slic or felzenszwalb (overrides config)")
	strictEdges = flag.Bool("strict-edges", false, "refuse to save crops that cross the image edge")
	listModes   = flag.Bool("modes", false, "list the display modes for the image")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *imagePath == "" && *inDir == "" {
		klog.Exitf("--image or --dir is a required flag")
	}

	c, err := labeler.LoadConfig(*configPath)
	if err != nil {
		klog.Exitf("config failed: %v", err)
	}
	if err := c.ApplyEnv(); err != nil {
		klog.Exitf("env failed: %v", err)
	}
	if *projectsDir != "" {
		c.ProjectsDir = *projectsDir
	}
	if *strictEdges {
		c.AllowEdgeCrops = false
	}
	if *spMethod != "" {
		c.Superpixel.Method = *spMethod
	}

	s, err := labeler.NewSession(c)
	if err != nil {
		klog.Exitf("session failed: %v", err)
	}

	err = run(s)
	if cerr := s.Close(); cerr != nil {
		klog.Errorf("close: %v", cerr)
	}
	if err != nil {
		klog.Exitf("bandcrop failed: %v", err)
	}
}

func run(s *labeler.Session) error {
	switch {
	case *projectDir != "":
		if _, err := s.OpenProject(*projectDir); err != nil {
			return err
		}
	case *projectName != "":
		if _, err := s.NewProject(*projectName); err != nil {
			return err
		}
	}

	if *inDir != "" {
		n, err := s.AddDirectory(*inDir)
		if err != nil {
			return fmt.Errorf("add directory: %w", err)
		}
		klog.Infof("found %d images in %s", n, *inDir)
	}
	if *imagePath != "" {
		if err := s.LoadImage(*imagePath); err != nil {
			return fmt.Errorf("load: %w", err)
		}
	}
	klog.Infof("project %s: %s", s.Project().Name, s.Project().Dir)

	if *listModes {
		for _, m := range s.Modes() {
			fmt.Printf("%-12s %s\n", m, m.Label())
		}
	}

	if *modeFlag != "" {
		m, err := render.ParseMode(*modeFlag)
		if err != nil {
			return err
		}
		if err := s.SetMode(m); err != nil {
			return err
		}
	}
	s.SetZoom(*zoom)
	if *size > 0 {
		s.SetCropSize(*size)
	}

	if *displayOut != "" {
		img, err := s.Display()
		if err != nil {
			return fmt.Errorf("display: %w", err)
		}
		if err := imgio.Save(*displayOut, img, imgio.PNGEncoder()); err != nil {
			return fmt.Errorf("save display: %w", err)
		}
		klog.Infof("wrote %s display (%s, zoom %.2f) to %s", img.Bounds().Size(), s.Mode().Label(), s.Zoom(), *displayOut)
	}

	if math.IsNaN(*x) || math.IsNaN(*y) {
		return nil
	}

	if *superpixel {
		return cropSuperpixel(s)
	}

	p, err := s.Select(*x, *y)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	pv, err := s.Preview()
	if err != nil {
		return fmt.Errorf("preview: %w", err)
	}
	fmt.Printf("center %v: %s\n", p, pv.Crop)
	if *previewOut != "" {
		if err := writePreview(pv.Image, *previewOut); err != nil {
			return err
		}
	}

	if !*save {
		return nil
	}
	rec, err := s.SaveCrop()
	if err != nil {
		return fmt.Errorf("save crop: %w", err)
	}
	fmt.Printf("saved %s (%dx%d, %d bytes)\n", rec.File, rec.Width, rec.Height, rec.Bytes)
	return nil
}

func cropSuperpixel(s *labeler.Session) error {
	seg, err := s.Segment()
	if err != nil {
		return fmt.Errorf("segment: %w", err)
	}
	label, err := s.SelectSuperpixel(*x, *y)
	if err != nil {
		return fmt.Errorf("select superpixel: %w", err)
	}
	fmt.Printf("superpixel %d of %d: %v\n", label, seg.Count(), seg.Bounds(label))
	if !*save {
		return nil
	}
	rec, err := s.SaveSuperpixelCrop(label)
	if err != nil {
		return fmt.Errorf("save crop: %w", err)
	}
	fmt.Printf("saved %s (%dx%d, %d bytes)\n", rec.File, rec.Width, rec.Height, rec.Bytes)
	return nil
}

func writePreview(img image.Image, path string) error {
	if err := imgio.Save(path, img, imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("save preview: %w", err)
	}
	klog.Infof("wrote preview to %s", path)
	return nil
}
