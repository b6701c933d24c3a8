package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"k8s.io/klog/v2"
)

// Registry lists every known project in the projects root.
type Registry struct {
	Updated  time.Time          `json:"last_updated"`
	Projects map[string]Summary `json:"projects"`
}

// Sorted returns the registry entries, most recently modified first.
func (r *Registry) Sorted() []Summary {
	out := make([]Summary, 0, len(r.Projects))
	for _, s := range r.Projects {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Modified.Equal(out[j].Modified) {
			return out[i].SafeName < out[j].SafeName
		}
		return out[i].Modified.After(out[j].Modified)
	})
	return out
}

func (s *Store) registryPath() string {
	return filepath.Join(s.Root, RegistryFile)
}

// Registry reads registry.json. A missing or unreadable registry is rebuilt
// from the project directories.
func (s *Store) Registry() (*Registry, error) {
	b, err := os.ReadFile(s.registryPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s.rebuildRegistry()
	case err != nil:
		return nil, fmt.Errorf("read registry: %w", err)
	}

	reg := &Registry{}
	if err := json.Unmarshal(b, reg); err != nil {
		klog.Warningf("registry %s is corrupt, rebuilding: %v", s.registryPath(), err)
		return s.rebuildRegistry()
	}
	if reg.Projects == nil {
		reg.Projects = map[string]Summary{}
	}
	return reg, nil
}

func (s *Store) rebuildRegistry() (*Registry, error) {
	list, err := s.List()
	if err != nil {
		return nil, err
	}
	reg := &Registry{Updated: s.now(), Projects: map[string]Summary{}}
	for _, sum := range list {
		reg.Projects[sum.SafeName] = sum
	}
	return reg, nil
}

func (s *Store) updateRegistry(fn func(*Registry)) error {
	reg, err := s.Registry()
	if err != nil {
		return err
	}
	fn(reg)
	reg.Updated = s.now()
	return WriteJSON(s.registryPath(), reg)
}

// register and unregister log failures rather than returning them; the
// registry can always be rebuilt from the project directories.
func (s *Store) register(p *Project) {
	if err := s.updateRegistry(func(r *Registry) { r.Projects[p.SafeName] = p.Summary() }); err != nil {
		klog.Warningf("update registry: %v", err)
	}
}

func (s *Store) unregister(safe string) {
	if err := s.updateRegistry(func(r *Registry) { delete(r.Projects, safe) }); err != nil {
		klog.Warningf("update registry: %v", err)
	}
}
