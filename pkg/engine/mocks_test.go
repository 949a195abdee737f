package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/openfroyo/compconf/pkg/bundle"
	"github.com/openfroyo/compconf/pkg/parameter"
)

type modification struct {
	name     string
	oldValue *string
	newValue *string
}

// mockComponent records calls and validates with an optional hook.
type mockComponent struct {
	mu            sync.Mutex
	descriptors   map[string]*PropertyDescriptor
	dynamic       bool
	validateFn    func(ctx context.Context, vctx *ValidationContext) ([]ValidationResult, error)
	validateCalls int
	modifications []modification
	panicOnModify bool
}

func newMockComponent(descriptors ...*PropertyDescriptor) *mockComponent {
	c := &mockComponent{descriptors: make(map[string]*PropertyDescriptor)}
	for _, d := range descriptors {
		c.descriptors[d.Name] = d
	}
	return c
}

func (c *mockComponent) PropertyDescriptors() []*PropertyDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*PropertyDescriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *mockComponent) PropertyDescriptor(name string) *PropertyDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.descriptors[name]
}

func (c *mockComponent) CustomDescriptor(name string) *PropertyDescriptor {
	if !c.dynamic {
		return nil
	}
	return &PropertyDescriptor{Name: name, Dynamic: true}
}

func (c *mockComponent) setDescriptor(d *PropertyDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descriptors[d.Name] = d
}

func (c *mockComponent) Validate(ctx context.Context, vctx *ValidationContext) ([]ValidationResult, error) {
	c.mu.Lock()
	c.validateCalls++
	fn := c.validateFn
	c.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, vctx)
}

func (c *mockComponent) OnPropertyModified(d *PropertyDescriptor, oldValue, newValue *string) {
	c.mu.Lock()
	c.modifications = append(c.modifications, modification{name: d.Name, oldValue: oldValue, newValue: newValue})
	shouldPanic := c.panicOnModify
	c.mu.Unlock()
	if shouldPanic {
		panic("modification handler failed")
	}
}

func (c *mockComponent) recorded() []modification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]modification(nil), c.modifications...)
}

func (c *mockComponent) validations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateCalls
}

type mockGroup struct {
	id     string
	lookup parameter.Lookup
}

func (g *mockGroup) ID() string { return g.id }

func (g *mockGroup) ParameterContext() parameter.Lookup { return g.lookup }

type mockServiceNode struct {
	mu       sync.Mutex
	id       string
	typeName string
	coord    bundle.Coordinate
	state    ServiceState
	refs     map[string]bool
}

func newMockServiceNode(id, typeName string, coord bundle.Coordinate, state ServiceState) *mockServiceNode {
	return &mockServiceNode{id: id, typeName: typeName, coord: coord, state: state, refs: make(map[string]bool)}
}

func (s *mockServiceNode) ID() string { return s.id }

func (s *mockServiceNode) TypeName() string { return s.typeName }

func (s *mockServiceNode) BundleCoordinate() bundle.Coordinate { return s.coord }

func (s *mockServiceNode) State() ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *mockServiceNode) AddReference(componentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[componentID] = true
}

func (s *mockServiceNode) RemoveReference(componentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refs, componentID)
}

func (s *mockServiceNode) referencedBy(componentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[componentID]
}

type mockServices struct {
	*bundle.Registry
	nodes map[string]*mockServiceNode
}

func newMockServices(nodes ...*mockServiceNode) *mockServices {
	s := &mockServices{Registry: bundle.NewRegistry(), nodes: make(map[string]*mockServiceNode)}
	for _, n := range nodes {
		s.nodes[n.id] = n
	}
	return s
}

func (s *mockServices) ControllerServiceNode(id string) (ServiceNode, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	return n, true
}

// recordingTrigger records scheduling requests without running them.
type recordingTrigger struct {
	mu        sync.Mutex
	triggered []string
}

func (t *recordingTrigger) TriggerAsync(v Validatable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.triggered = append(t.triggered, v.ID())
}

func (t *recordingTrigger) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.triggered)
}

type mockClasspath struct {
	mu      sync.Mutex
	reloads [][]string
	fail    bool
}

func (c *mockClasspath) Fingerprint(resources []string) (string, error) {
	fp := ""
	for _, r := range resources {
		fp += r + ";"
	}
	return fp, nil
}

func (c *mockClasspath) Reload(ctx context.Context, resources []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloads = append(c.reloads, resources)
	if c.fail {
		return errors.New("reload failed")
	}
	return nil
}

func (c *mockClasspath) reloadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reloads)
}
