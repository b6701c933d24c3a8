// bandreport writes an HTML page of a project's crops.
package main

import (
	"flag"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/labeler"
	"github.com/tstromberg/bandcrop/pkg/project"
)

var (
	projectsDir = flag.String("projects", "projects", "projects directory")
	projectDir  = flag.String("project", "", "project directory")
	outDir      = flag.String("out", "", "output directory (default <project>/report)")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *projectDir == "" {
		klog.Exitf("--project is a required flag")
	}

	st, err := project.NewStore(*projectsDir)
	if err != nil {
		klog.Exitf("store failed: %v", err)
	}
	p, err := st.Load(*projectDir)
	if err != nil {
		klog.Exitf("load failed: %v", err)
	}

	out := *outDir
	if out == "" {
		out = filepath.Join(p.Dir, "report")
	}
	index, err := labeler.WriteReport(p, out)
	if err != nil {
		klog.Exitf("report failed: %v", err)
	}
	klog.Infof("wrote %d crops to %s", len(p.Crops), index)
}
