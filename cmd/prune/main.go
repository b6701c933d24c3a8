// prune lists labeling projects and removes the ones with no images and no
// crops.
package main

import (
	"flag"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/project"
)

var (
	projectsDir = flag.String("projects", "projects", "projects directory")
	dryRun      = flag.Bool("n", false, "dry-run mode, don't remove things")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	st, err := project.NewStore(*projectsDir)
	if err != nil {
		klog.Exitf("store failed: %v", err)
	}
	ps, err := st.List()
	if err != nil {
		klog.Exitf("list failed: %v", err)
	}

	removed := 0
	for _, s := range ps {
		fmt.Printf("%-32s %4d images %4d crops  modified %s\n", s.Name, s.Originals, s.Crops, s.Modified.Format("2006-01-02 15:04"))
		if s.Originals > 0 || s.Crops > 0 {
			continue
		}
		klog.Infof("%s is empty", s.Path)
		if *dryRun {
			continue
		}
		p, err := st.Load(s.Path)
		if err != nil {
			klog.Errorf("load %s: %v", s.Path, err)
			continue
		}
		ok, err := st.PruneIfEmpty(p)
		if err != nil {
			klog.Errorf("prune %s: %v", s.Path, err)
			continue
		}
		if ok {
			removed++
		}
	}
	klog.Infof("removed %d of %d projects", removed, len(ps))
}
