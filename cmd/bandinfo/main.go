// bandinfo prints the layout, per-band statistics and camera metadata of
// images.
package main

import (
	"flag"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/raster"
	"github.com/tstromberg/bandcrop/pkg/render"
)

var (
	exifFlag = flag.Bool("exif", true, "read band metadata with exiftool")
	recurse  = flag.Bool("r", false, "treat arguments as directories and scan them")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if flag.NArg() == 0 {
		klog.Exitf("usage: bandinfo [flags] <image|dir> ...")
	}

	paths := flag.Args()
	if *recurse {
		paths = nil
		for _, d := range flag.Args() {
			ps, err := raster.Find(d)
			if err != nil {
				klog.Exitf("find failed: %v", err)
			}
			paths = append(paths, ps...)
		}
	}

	for _, p := range paths {
		r, err := raster.Load(p)
		if err != nil {
			klog.Errorf("%s: %v", p, err)
			continue
		}
		fmt.Printf("%s: %s\n", p, r)
		for _, st := range raster.Stats(r) {
			fmt.Printf("  band %d: min=%g max=%g mean=%.2f stddev=%.2f\n", st.Band, st.Min, st.Max, st.Mean, st.StdDev)
		}
		modes := []string{}
		for _, m := range render.ModesFor(r) {
			modes = append(modes, m.String())
		}
		fmt.Printf("  modes: %v (default %s)\n", modes, render.DefaultMode(r))
	}

	if !*exifFlag || len(paths) == 0 {
		return
	}
	infos, err := raster.ReadBandInfo(paths...)
	if err != nil {
		klog.Warningf("band metadata unavailable: %v", err)
	}
	for _, bi := range infos {
		fmt.Printf("%s: %s %s band=%q wavelength=%gnm %dx%d\n", bi.Path, bi.Make, bi.Model, bi.BandName, bi.Wavelength, bi.Width, bi.Height)
	}
}
