// Package augment grows a dataset of crops with light transformations:
// quarter rotations, flips, brightness and contrast shifts, and noise.
package augment

import (
	"fmt"
	"image"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blend"
	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/noise"
	"github.com/anthonynsimon/bild/transform"
	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/raster"
	"github.com/tstromberg/bandcrop/pkg/render"
)

// Augmentations, as used in output file names.
const (
	Rot90        = "rot90"
	Rot180       = "rot180"
	Rot270       = "rot270"
	FlipH        = "flip_h"
	FlipV        = "flip_v"
	BrightUp     = "bright_up"
	BrightDown   = "bright_down"
	ContrastUp   = "contrast_up"
	ContrastDown = "contrast_down"
	Noise        = "noise"
)

// Kinds lists every augmentation.
var Kinds = []string{Rot90, Rot180, Rot270, FlipH, FlipV, BrightUp, BrightDown, ContrastUp, ContrastDown, Noise}

// NoiseSigma is the standard deviation of the added noise, in 8-bit levels.
var NoiseSigma = 3.0

// Apply returns a transformed copy of img.
func Apply(img image.Image, kind string) (*image.RGBA, error) {
	switch kind {
	case Rot90:
		return transform.Rotate(img, 90, &transform.RotationOptions{ResizeBounds: true}), nil
	case Rot180:
		return transform.Rotate(img, 180, &transform.RotationOptions{ResizeBounds: true}), nil
	case Rot270:
		return transform.Rotate(img, 270, &transform.RotationOptions{ResizeBounds: true}), nil
	case FlipH:
		return transform.FlipH(img), nil
	case FlipV:
		return transform.FlipV(img), nil
	case BrightUp:
		return adjust.Brightness(img, 0.1), nil
	case BrightDown:
		return adjust.Brightness(img, -0.1), nil
	case ContrastUp:
		return adjust.Contrast(img, 0.2), nil
	case ContrastDown:
		return adjust.Contrast(img, -0.2), nil
	case Noise:
		b := img.Bounds()
		n := noise.Generate(b.Dx(), b.Dy(), &noise.Options{NoiseFn: gaussian(NoiseSigma)})
		return blend.Add(img, n), nil
	}
	return nil, fmt.Errorf("unknown augmentation %q", kind)
}

// gaussian draws half-normal values, since blend.Add can only brighten.
func gaussian(sigma float64) noise.Fn {
	return func() uint8 {
		return uint8(min(math.Abs(rand.NormFloat64()*sigma), 255))
	}
}

// Options control Dataset.
type Options struct {
	// Target is the number of images per class, originals included.
	Target int
	// Seed makes the choice of images and augmentations repeatable.
	Seed uint64
	// Mode is the display mode used to turn crops into 8-bit images. Empty
	// selects each crop's default.
	Mode     string
	Renderer render.Renderer
}

// Dataset writes every crop under in as PNG to out, one directory per class,
// and tops each class up to opt.Target images with random augmentations.
// Classes are the subdirectories of in; images directly in in form a class
// named after it. It returns the number of images written per class.
func Dataset(in, out string, opt Options) (map[string]int, error) {
	classes, err := findClasses(in)
	if err != nil {
		return nil, err
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("no images in %s", in)
	}

	var mode *render.DisplayMode
	if opt.Mode != "" {
		m, err := render.ParseMode(opt.Mode)
		if err != nil {
			return nil, err
		}
		mode = &m
	}

	rng := rand.New(rand.NewPCG(opt.Seed, opt.Seed^0x9e3779b97f4a7c15))
	counts := map[string]int{}
	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		n, err := augmentClass(name, classes[name], filepath.Join(out, name), mode, rng, opt)
		if err != nil {
			return counts, fmt.Errorf("%s: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}

func findClasses(in string) (map[string][]string, error) {
	des, err := os.ReadDir(in)
	if err != nil {
		return nil, fmt.Errorf("readdir: %w", err)
	}
	classes := map[string][]string{}
	for _, de := range des {
		if de.Name()[0] == '.' {
			continue
		}
		path := filepath.Join(in, de.Name())
		if !de.IsDir() {
			if raster.Supported(path) {
				root := filepath.Base(filepath.Clean(in))
				classes[root] = append(classes[root], path)
			}
			continue
		}
		sub, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("readdir: %w", err)
		}
		for _, f := range sub {
			p := filepath.Join(path, f.Name())
			if !f.IsDir() && f.Name()[0] != '.' && raster.Supported(p) {
				classes[de.Name()] = append(classes[de.Name()], p)
			}
		}
	}
	for name, paths := range classes {
		sort.Strings(paths)
		klog.V(1).Infof("class %s: %d images", name, len(paths))
	}
	return classes, nil
}

func augmentClass(name string, paths []string, out string, mode *render.DisplayMode, rng *rand.Rand, opt Options) (int, error) {
	var imgs []image.Image
	for _, p := range paths {
		r, err := raster.Load(p)
		if err != nil {
			klog.Warningf("skipping %s: %v", p, err)
			continue
		}
		m := render.DefaultMode(r)
		if mode != nil {
			m = *mode
		}
		img, err := opt.Renderer.Render(r, m, 1)
		if err != nil {
			klog.Warningf("skipping %s: %v", p, err)
			continue
		}
		imgs = append(imgs, img)
	}
	if len(imgs) == 0 {
		klog.Warningf("no usable images for class %s", name)
		return 0, nil
	}

	if err := os.MkdirAll(out, 0o755); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}
	for i, img := range imgs {
		path := filepath.Join(out, fmt.Sprintf("%s_original_%03d.png", name, i))
		if err := imgio.Save(path, img, imgio.PNGEncoder()); err != nil {
			return i, fmt.Errorf("save: %w", err)
		}
	}

	need := opt.Target - len(imgs)
	if need <= 0 {
		klog.Infof("%s already has %d images (target %d)", name, len(imgs), opt.Target)
		return len(imgs), nil
	}
	for i := 0; i < need; i++ {
		base := imgs[rng.IntN(len(imgs))]
		kind := Kinds[rng.IntN(len(Kinds))]
		img, err := Apply(base, kind)
		if err != nil {
			return len(imgs) + i, err
		}
		path := filepath.Join(out, fmt.Sprintf("%s_aug_%s_%03d.png", name, kind, i))
		if err := imgio.Save(path, img, imgio.PNGEncoder()); err != nil {
			return len(imgs) + i, fmt.Errorf("save: %w", err)
		}
	}
	klog.Infof("%s: %d originals, %d augmented", name, len(imgs), need)
	return opt.Target, nil
}
