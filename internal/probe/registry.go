package probe

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned for an unknown probe id.
	ErrNotFound = errors.New("probe not found")

	// ErrDuplicateID is returned when adding a probe whose id is taken.
	ErrDuplicateID = errors.New("probe id already registered")
)

// Registry is the concurrency-safe index of live probes.
type Registry struct {
	mu    sync.RWMutex
	store Store
}

// NewRegistry returns a registry over an in-memory store.
func NewRegistry() *Registry {
	return NewRegistryWithStore(NewInMemoryStore())
}

func NewRegistryWithStore(store Store) *Registry {
	return &Registry{store: store}
}

// Add registers p. Ids are never reused.
func (r *Registry) Add(p *Probe) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.store.GetProbe(p.ID); exists {
		return ErrDuplicateID
	}
	r.store.SetProbe(p)
	return nil
}

func (r *Registry) Get(id ID) (*Probe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.store.GetProbe(id)
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Remove unregisters id and returns the probe so the caller can tear it down.
func (r *Registry) Remove(id ID) (*Probe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.store.GetProbe(id)
	if !ok {
		return nil, ErrNotFound
	}
	r.store.DeleteProbe(id)
	return p, nil
}

// List returns every probe ordered by creation time.
func (r *Registry) List() []*Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.store.ListProbeIDs()
	out := make([]*Probe, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.store.GetProbe(id); ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of registered probes. Used for metrics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.ListProbeIDs())
}
