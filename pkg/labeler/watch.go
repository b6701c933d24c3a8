package labeler

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/raster"
)

// Watcher records images that appear in a directory tree as originals of the
// session's active project. Its mutex serializes access to the session
// between the event loop and callers using Do.
type Watcher struct {
	mu  sync.Mutex
	s   *Session
	dir string
	w   *fsnotify.Watcher

	// Added is called after an image is recorded, with the mutex held.
	Added func(path string)
}

// NewWatcher watches dir and every directory below it.
func NewWatcher(s *Session, dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new watcher: %w", err)
	}
	w := &Watcher{s: s, dir: dir, w: fw}
	if err := w.addTree(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	dirs, err := raster.Dirs(dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}
	klog.Infof("watching %d dirs under %s ...", len(dirs), dir)
	for _, d := range dirs {
		if err := w.w.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}
	return nil
}

// Do runs fn with exclusive access to the session.
func (w *Watcher) Do(fn func(*Session) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn(w.s)
}

// Run handles events until ctx is done or the watcher fails, then closes it.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			klog.V(1).Infof("event: %s", event)
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.handle(event.Name)
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}
	}
}

func (w *Watcher) handle(path string) {
	st, err := os.Stat(path)
	if err != nil {
		klog.V(1).Infof("stat %s: %v", path, err)
		return
	}
	if st.IsDir() {
		if err := w.addTree(path); err != nil {
			klog.Warningf("%v", err)
		}
		return
	}
	if !raster.Supported(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	added, err := w.s.AddOriginal(path)
	if err != nil {
		klog.Warningf("add %s: %v", path, err)
		return
	}
	if added {
		klog.Infof("added %s to %s", path, w.s.Project().Name)
		if w.Added != nil {
			w.Added(path)
		}
	}
}

// Watch records images appearing under dir until ctx is done.
func Watch(ctx context.Context, s *Session, dir string) error {
	w, err := NewWatcher(s, dir)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
