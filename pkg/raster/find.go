package raster

import (
	"path/filepath"
	"sort"

	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// Find returns every loadable image below root, sorted by path. Dot files and
// dot directories are skipped.
func Find(root string) ([]string, error) {
	found := []string{}

	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path != root && filepath.Base(path)[0] == '.' {
				return godirwalk.SkipThis
			}
			if de.IsDir() || !Supported(path) {
				return nil
			}
			klog.V(1).Infof("found %s", path)
			found = append(found, path)
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(found)
	return found, nil
}

// Dirs returns root and every directory below it, skipping dot directories.
func Dirs(root string) ([]string, error) {
	dirs := []string{}
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path != root && filepath.Base(path)[0] == '.' {
				return godirwalk.SkipThis
			}
			if de.IsDir() {
				dirs = append(dirs, path)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(dirs)
	return dirs, nil
}
