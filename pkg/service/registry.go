package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/compconf/pkg/bundle"
	"github.com/openfroyo/compconf/pkg/engine"
)

// Registry holds the controller services of a flow together with the bundles
// that provide their implementations. It implements engine.ServiceProvider.
type Registry struct {
	*bundle.Registry

	logger zerolog.Logger

	mu        sync.RWMutex
	nodes     map[string]*Node
	listeners []StateListener
}

var _ engine.ServiceProvider = (*Registry)(nil)

// NewRegistry creates an empty service registry over the given bundles.
func NewRegistry(bundles *bundle.Registry, logger zerolog.Logger) *Registry {
	if bundles == nil {
		bundles = bundle.NewRegistry()
	}
	return &Registry{
		Registry: bundles,
		logger:   logger.With().Str("component", "service-registry").Logger(),
		nodes:    make(map[string]*Node),
	}
}

// Create registers a new disabled service. The implementation type must be
// defined by a registered bundle.
func (r *Registry) Create(id, typeName string, coord bundle.Coordinate) (*Node, error) {
	if id == "" {
		return nil, engine.NewInvalidConfigurationError("controller service identifier is required", nil)
	}
	b, ok := r.Bundle(coord)
	if !ok {
		return nil, engine.NewNotFoundError(fmt.Sprintf("bundle %s is not registered", coord), nil).
			WithResource(id)
	}
	if !b.Defines(typeName) {
		return nil, engine.NewNotFoundError(fmt.Sprintf("bundle %s does not define %s", coord, typeName), nil).
			WithResource(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[id]; exists {
		return nil, engine.NewConflictError(fmt.Sprintf("controller service %s already exists", id), nil).
			WithCode(engine.ErrCodeAlreadyExists).
			WithResource(id)
	}

	n := NewNode(id, typeName, coord, r.logger)
	n.setListener(r.notify)
	r.nodes[id] = n
	r.logger.Debug().Str("service_id", id).Str("type", typeName).Str("bundle", coord.String()).Msg("Controller service created")
	return n, nil
}

// Get returns the service with the given identifier.
func (r *Registry) Get(id string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// ControllerServiceNode implements engine.ServiceProvider.
func (r *Registry) ControllerServiceNode(id string) (engine.ServiceNode, bool) {
	n, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return n, true
}

// Remove unregisters a disabled, unreferenced service.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return engine.NewNotFoundError(fmt.Sprintf("controller service %s not found", id), nil).WithResource(id)
	}
	if refs := n.References(); len(refs) > 0 {
		return engine.NewConflictError(
			fmt.Sprintf("controller service %s is referenced by %d components", id, len(refs)), nil).
			WithCode(engine.ErrCodeServiceReferenced).
			WithResource(id).
			WithDetail("references", refs)
	}
	if state := n.State(); state != engine.ServiceDisabled {
		return engine.NewConflictError(
			fmt.Sprintf("controller service %s must be disabled before removal, state is %s", id, state), nil).
			WithCode(engine.ErrCodeInvalidStateTransition).
			WithResource(id)
	}

	n.setListener(nil)
	delete(r.nodes, id)
	r.logger.Debug().Str("service_id", id).Msg("Controller service removed")
	return nil
}

// List returns every service sorted by identifier.
func (r *Registry) List() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Subscribe registers a listener for service state changes. Listeners run
// synchronously on the goroutine that changed the state.
func (r *Registry) Subscribe(l StateListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify(id string, from, to engine.ServiceState) {
	r.mu.RLock()
	listeners := append([]StateListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, l := range listeners {
		l(id, from, to)
	}
}
