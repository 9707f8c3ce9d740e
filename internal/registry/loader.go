package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"llavad/internal/common/fsutil"
)

// ErrUnknownModel is returned for ids that are not in the catalog.
var ErrUnknownModel = errors.New("unknown model")

// ErrInsufficientRAM is returned by CheckRAM when the device is too small.
var ErrInsufficientRAM = errors.New("insufficient device RAM")

// Registry is the model catalog plus on-disk presence for one models directory.
type Registry struct {
	mu      sync.RWMutex
	dir     string
	catalog []Descriptor
}

// NewRegistry builds a registry rooted at dir and computes initial presence.
func NewRegistry(dir string, catalog []Descriptor) (*Registry, error) {
	abs, err := fsutil.AbsDir(dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(catalog))
	for _, d := range catalog {
		if d.ID == "" || d.FileName == "" {
			return nil, fmt.Errorf("catalog entry %q: id and file name required", d.ID)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate catalog id %q", d.ID)
		}
		seen[d.ID] = true
	}
	r := &Registry{dir: abs, catalog: append([]Descriptor(nil), catalog...)}
	r.Refresh()
	return r, nil
}

// Dir returns the absolute models directory.
func (r *Registry) Dir() string { return r.dir }

// Refresh recomputes presence by existence check only.
func (r *Registry) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.catalog {
		if fsutil.IsFile(filepath.Join(r.dir, r.catalog[i].FileName)) {
			r.catalog[i].Presence = Present
		} else {
			r.catalog[i].Presence = Absent
		}
	}
}

// List returns a copy of the catalog reflecting the last Refresh.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// Get looks up a descriptor by id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.catalog {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Locate returns the filesystem path for id, whether or not it exists yet.
func (r *Registry) Locate(id string) (string, error) {
	d, ok := r.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return filepath.Join(r.dir, d.FileName), nil
}

// Scan lists *.gguf files in the models directory that are not catalog
// entries. A missing directory yields no results.
func (r *Registry) Scan() ([]Descriptor, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	known := make(map[string]bool)
	for _, d := range r.List() {
		known[d.FileName] = true
	}
	var out []Descriptor
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || known[name] {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		out = append(out, Descriptor{ID: name, DisplayName: name, FileName: name, Presence: Present, Sideloaded: true})
	}
	return out, nil
}

// CheckRAM reports whether a device with ramGiB can run d. Zero ramGiB means
// unknown and always passes.
func CheckRAM(d Descriptor, ramGiB int) error {
	if ramGiB <= 0 || d.MinRAMGiB <= 0 {
		return nil
	}
	if ramGiB < d.MinRAMGiB {
		return fmt.Errorf("%w: %s needs %d GiB, device has %d GiB", ErrInsufficientRAM, d.ID, d.MinRAMGiB, ramGiB)
	}
	return nil
}
