package bundle

import (
	"fmt"
	"sort"
	"sync"
)

// Source locates bundles.
type Source interface {
	// Bundle returns the bundle with exactly this coordinate.
	Bundle(coord Coordinate) (*Bundle, bool)

	// Bundles returns every bundle that defines the named type.
	Bundles(typeName string) []*Bundle
}

// Registry is an in-memory Source.
type Registry struct {
	mu      sync.RWMutex
	bundles map[Coordinate]*Bundle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bundles: make(map[Coordinate]*Bundle)}
}

// Add registers a bundle. The coordinate must carry a semantic version and
// must not be registered yet.
func (r *Registry) Add(b *Bundle) error {
	if b == nil {
		return fmt.Errorf("bundle is nil")
	}
	if b.Coordinate.Group == "" || b.Coordinate.Artifact == "" {
		return fmt.Errorf("bundle group and artifact are required")
	}
	if _, err := b.Coordinate.SemVer(); err != nil {
		return err
	}
	if b.Dependency != nil && *b.Dependency == b.Coordinate {
		return fmt.Errorf("bundle %s declares itself as dependency", b.Coordinate)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bundles[b.Coordinate]; exists {
		return fmt.Errorf("bundle %s already registered", b.Coordinate)
	}
	r.bundles[b.Coordinate] = b
	return nil
}

// Remove unregisters a bundle.
func (r *Registry) Remove(coord Coordinate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bundles, coord)
}

// Bundle implements Source.
func (r *Registry) Bundle(coord Coordinate) (*Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bundles[coord]
	return b, ok
}

// Bundles implements Source. Results are ordered by descending version, then
// by group and artifact.
func (r *Registry) Bundles(typeName string) []*Bundle {
	r.mu.RLock()
	var out []*Bundle
	for _, b := range r.bundles {
		if b.Defines(typeName) {
			out = append(out, b)
		}
	}
	r.mu.RUnlock()

	sortBundles(out)
	return out
}

// List returns all registered bundles, ordered like Bundles.
func (r *Registry) List() []*Bundle {
	r.mu.RLock()
	out := make([]*Bundle, 0, len(r.bundles))
	for _, b := range r.bundles {
		out = append(out, b)
	}
	r.mu.RUnlock()

	sortBundles(out)
	return out
}

func sortBundles(bundles []*Bundle) {
	sort.Slice(bundles, func(i, j int) bool {
		a, b := bundles[i].Coordinate, bundles[j].Coordinate
		va, errA := a.SemVer()
		vb, errB := b.SemVer()
		if errA == nil && errB == nil {
			if cmp := va.Compare(vb); cmp != 0 {
				return cmp > 0
			}
		}
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Artifact != b.Artifact {
			return a.Artifact < b.Artifact
		}
		return a.Version < b.Version
	})
}
