// Package labeler drives a labeling session: loading images into projects,
// rendering them, selecting regions and saving crops.
package labeler

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/crop"
	"github.com/tstromberg/bandcrop/pkg/render"
	"github.com/tstromberg/bandcrop/pkg/superpixel"
)

// Config holds configuration for a labeling session.
type Config struct {
	// ProjectsDir holds one directory per project plus the registry.
	ProjectsDir string `yaml:"projectsDir"`
	// CopyOriginals copies loaded images into the project's originals/.
	CopyOriginals bool `yaml:"copyOriginals"`
	// RGBCropFormat is "png" or "tif". Multispectral crops are always tif.
	RGBCropFormat string `yaml:"rgbCropFormat"`
	// Stretch is "minmax" or "percentile".
	Stretch        string `yaml:"stretch"`
	CropSize       int    `yaml:"cropSize"`
	PreviewSize    int    `yaml:"previewSize"`
	// AllowEdgeCrops saves clipped crops with a warning instead of refusing
	// them.
	AllowEdgeCrops bool `yaml:"allowEdgeCrops"`
	SessionLog     bool `yaml:"sessionLog"`

	Superpixel struct {
		// Method is "slic" or "felzenszwalb".
		Method      string  `yaml:"method"`
		Segments    int     `yaml:"segments"`
		Compactness float64 `yaml:"compactness"`
		Sigma       float64 `yaml:"sigma"`
		// Scale and MinSize only apply to felzenszwalb. A zero Scale is
		// derived from Segments.
		Scale   float64 `yaml:"scale"`
		MinSize int     `yaml:"minSize"`
	} `yaml:"superpixel"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	c := &Config{
		ProjectsDir:    "projects",
		RGBCropFormat:  "png",
		Stretch:        render.StretchMinMax.String(),
		CropSize:       crop.DefaultSize,
		PreviewSize:    190,
		AllowEdgeCrops: true,
		SessionLog:     true,
	}
	sp := superpixel.DefaultOptions()
	c.Superpixel.Method = superpixel.MethodSLIC
	c.Superpixel.MinSize = superpixel.DefaultGraphOptions().MinSize
	c.Superpixel.Segments = sp.Segments
	c.Superpixel.Compactness = sp.Compactness
	c.Superpixel.Sigma = sp.Sigma
	return c
}

// LoadConfig reads a YAML file over the defaults. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		klog.V(1).Infof("%s does not exist, using defaults", path)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, c.Validate()
}

// SaveConfig writes c as YAML.
func SaveConfig(c *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Environment overrides, applied by ApplyEnv.
const (
	EnvProjectsDir   = "BANDCROP_PROJECTS_DIR"
	EnvCopyOriginals = "BANDCROP_COPY_ORIGINALS"
	EnvStretch       = "BANDCROP_STRETCH"
)

// ApplyEnv loads an optional .env file and applies BANDCROP_* overrides.
func (c *Config) ApplyEnv(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env: %w", err)
	}

	if v := os.Getenv(EnvProjectsDir); v != "" {
		c.ProjectsDir = v
	}
	if v := os.Getenv(EnvCopyOriginals); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCopyOriginals, err)
		}
		c.CopyOriginals = b
	}
	if v := os.Getenv(EnvStretch); v != "" {
		c.Stretch = v
	}
	return c.Validate()
}

// Validate normalizes sizes and rejects unknown formats.
func (c *Config) Validate() error {
	c.RGBCropFormat = strings.TrimPrefix(strings.ToLower(c.RGBCropFormat), ".")
	switch c.RGBCropFormat {
	case "png", "tif":
	case "tiff":
		c.RGBCropFormat = "tif"
	case "":
		c.RGBCropFormat = "png"
	default:
		return fmt.Errorf("rgbCropFormat %q: want png or tif", c.RGBCropFormat)
	}
	if _, err := render.ParseStretch(c.Stretch); err != nil {
		return err
	}
	c.CropSize = crop.ClampSize(c.CropSize)
	if c.PreviewSize <= 0 {
		c.PreviewSize = DefaultConfig().PreviewSize
	}
	c.Superpixel.Method = strings.ToLower(c.Superpixel.Method)
	switch c.Superpixel.Method {
	case superpixel.MethodSLIC, superpixel.MethodFelzenszwalb:
	case "":
		c.Superpixel.Method = superpixel.MethodSLIC
	default:
		return fmt.Errorf("superpixel method %q: want %s or %s", c.Superpixel.Method, superpixel.MethodSLIC, superpixel.MethodFelzenszwalb)
	}
	return nil
}

// Renderer returns the renderer for the configured stretch.
func (c *Config) Renderer() (render.Renderer, error) {
	s, err := render.ParseStretch(c.Stretch)
	if err != nil {
		return render.Renderer{}, err
	}
	return render.Renderer{Stretch: s}, nil
}

// SuperpixelOptions returns the SLIC options.
func (c *Config) SuperpixelOptions() superpixel.Options {
	o := superpixel.DefaultOptions()
	if c.Superpixel.Segments > 0 {
		o.Segments = c.Superpixel.Segments
	}
	if c.Superpixel.Compactness > 0 {
		o.Compactness = c.Superpixel.Compactness
	}
	if c.Superpixel.Sigma >= 0 {
		o.Sigma = c.Superpixel.Sigma
	}
	return o
}

// GraphOptions returns the Felzenszwalb options. Without an explicit scale,
// a quarter of the segment count is used.
func (c *Config) GraphOptions() superpixel.GraphOptions {
	o := superpixel.DefaultGraphOptions()
	switch {
	case c.Superpixel.Scale > 0:
		o.Scale = c.Superpixel.Scale
	case c.Superpixel.Segments > 0:
		o.Scale = float64(c.Superpixel.Segments) / 4
	}
	if c.Superpixel.Sigma >= 0 {
		o.Sigma = c.Superpixel.Sigma
	}
	if c.Superpixel.MinSize > 0 {
		o.MinSize = c.Superpixel.MinSize
	}
	return o
}

// Segment runs the configured superpixel method over img.
func (c *Config) Segment(img image.Image) *superpixel.Segments {
	if c.Superpixel.Method == superpixel.MethodFelzenszwalb {
		return superpixel.Felzenszwalb(img, c.GraphOptions())
	}
	return superpixel.SLIC(img, c.SuperpixelOptions())
}
