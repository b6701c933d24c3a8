// bandwatch records images that appear in a directory as originals of a
// labeling project.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/labeler"
)

var (
	configPath  = flag.String("config", "bandcrop.yaml", "YAML config file (optional)")
	projectsDir = flag.String("projects", "", "projects directory (overrides config)")
	inDir       = flag.String("in", "", "directory to watch")
	projectName = flag.String("project", "", "create a project with this name")
	projectDir  = flag.String("open", "", "add to an existing project directory")
	existing    = flag.Bool("existing", false, "also add images already in the directory")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *inDir == "" {
		klog.Exitf("--in is a required flag")
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

	s, err := labeler.NewSession(c)
	if err != nil {
		klog.Exitf("session failed: %v", err)
	}
	if *projectDir != "" {
		_, err = s.OpenProject(*projectDir)
	} else {
		_, err = s.NewProject(*projectName)
	}
	if err != nil {
		klog.Exitf("project failed: %v", err)
	}
	if *existing {
		if _, err := s.AddDirectory(*inDir); err != nil {
			klog.Warningf("existing images: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	klog.Infof("watching %s into %s ...", *inDir, s.Project().Dir)
	werr := labeler.Watch(ctx, s, *inDir)
	if err := s.Close(); err != nil {
		klog.Errorf("close: %v", err)
	}
	if werr != nil {
		klog.Exitf("watch failed: %v", werr)
	}
}
