// augment writes a lightly augmented PNG copy of a crop dataset, topping up
// every class to a target number of images.
package main

import (
	"flag"
	"path/filepath"
	"sort"
	"time"

	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/augment"
	"github.com/tstromberg/bandcrop/pkg/labeler"
	"github.com/tstromberg/bandcrop/pkg/project"
)

var (
	configPath = flag.String("config", "bandcrop.yaml", "YAML config file (optional)")
	inDir      = flag.String("in", "", "dataset directory: one subdirectory of crops per class")
	projectDir = flag.String("project", "", "use the crops of this project directory as the input")
	outDir     = flag.String("out", "", "output directory")
	target     = flag.Int("target", 20, "images per class, originals included")
	seed       = flag.Uint64("seed", 0, "random seed (default: current time)")
	modeFlag   = flag.String("mode", "", "display mode for multispectral crops (default: per crop)")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *outDir == "" {
		klog.Exitf("--out is a required flag")
	}
	in := *inDir
	if *projectDir != "" {
		st, err := project.NewStore(filepath.Dir(filepath.Clean(*projectDir)))
		if err != nil {
			klog.Exitf("store failed: %v", err)
		}
		p, err := st.Load(*projectDir)
		if err != nil {
			klog.Exitf("load failed: %v", err)
		}
		in = p.CropsPath()
	}
	if in == "" {
		klog.Exitf("--in or --project is a required flag")
	}

	c, err := labeler.LoadConfig(*configPath)
	if err != nil {
		klog.Exitf("config failed: %v", err)
	}
	rd, err := c.Renderer()
	if err != nil {
		klog.Exitf("renderer failed: %v", err)
	}

	s := *seed
	if s == 0 {
		s = uint64(time.Now().UnixNano())
	}
	counts, err := augment.Dataset(in, *outDir, augment.Options{Target: *target, Seed: s, Mode: *modeFlag, Renderer: rd})
	if err != nil {
		klog.Exitf("augment failed: %v", err)
	}

	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		klog.Infof("%s: %d images", n, counts[n])
	}
	klog.Infof("wrote %d classes to %s (seed %d)", len(counts), *outDir, s)
}
