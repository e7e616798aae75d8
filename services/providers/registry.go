package providers

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/upb/tiered-gateway/services/routing"
)

var (
	// ErrBackendNotFound is returned when a backend is not registered
	ErrBackendNotFound = errors.New("backend not found")

	// ErrBackendAlreadyRegistered is returned when trying to register a duplicate backend
	ErrBackendAlreadyRegistered = errors.New("backend already registered")
)

// Backend binds a backend identifier to a provider and model
type Backend struct {
	ID       routing.BackendID
	Model    string
	Provider Provider
}

// Registry maps backend identifiers to invocable backends
type Registry struct {
	mu       sync.RWMutex
	backends map[routing.BackendID]Backend
}

// NewRegistry creates a new backend registry
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[routing.BackendID]Backend),
	}
}

// Register adds a backend
func (r *Registry) Register(b Backend) error {
	if b.Provider == nil {
		return errors.New("provider cannot be nil")
	}
	if b.ID == "" {
		return errors.New("backend id cannot be empty")
	}
	if b.Model == "" {
		return fmt.Errorf("backend %s: model cannot be empty", b.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[b.ID]; exists {
		return fmt.Errorf("%w: %s", ErrBackendAlreadyRegistered, b.ID)
	}

	r.backends[b.ID] = b
	return nil
}

// Get retrieves a backend by identifier
func (r *Registry) Get(id routing.BackendID) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.backends[id]
	if !exists {
		return Backend{}, fmt.Errorf("%w: %s", ErrBackendNotFound, id)
	}
	return b, nil
}

// IDs returns every registered backend identifier, sorted
func (r *Registry) IDs() []routing.BackendID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]routing.BackendID, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered backends
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.backends)
}
