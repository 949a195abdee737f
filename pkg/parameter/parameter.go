// Package parameter models parameter contexts and the parsing of parameter
// references (#{name}) inside raw property values.
package parameter

import (
	"fmt"
	"sort"
	"sync"
)

// Parameter is a single named value supplied to components through a parameter context.
type Parameter struct {
	// Name is the parameter name referenced as #{Name}.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Value is the parameter value. A nil value means the parameter is defined but unset.
	Value *string `json:"value,omitempty" yaml:"value,omitempty"`

	// Sensitive marks the parameter as holding secret material.
	Sensitive bool `json:"sensitive" yaml:"sensitive"`

	// Description is a human-readable description.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Lookup resolves parameters by name.
type Lookup interface {
	// Parameter returns the parameter with the given name.
	Parameter(name string) (Parameter, bool)

	// IsEmpty reports whether the lookup defines no parameters.
	IsEmpty() bool

	// Version is a monotonic version number, bumped on every modification.
	Version() int64
}

// Update describes a modified parameter together with its previous state.
type Update struct {
	// Name is the parameter name.
	Name string

	// Previous is the value before the modification, nil if it was unset or undefined.
	Previous *string

	// PreviousSensitive is the sensitivity before the modification.
	PreviousSensitive bool

	// Defined reports whether the parameter existed before the modification.
	Defined bool
}

// Snapshot is an immutable point-in-time view of a parameter context.
type Snapshot struct {
	id      string
	version int64
	params  map[string]Parameter
}

// NewSnapshot creates a snapshot holding the given parameters.
func NewSnapshot(id string, version int64, params []Parameter) *Snapshot {
	m := make(map[string]Parameter, len(params))
	for _, p := range params {
		m[p.Name] = p
	}
	return &Snapshot{id: id, version: version, params: m}
}

// ID returns the identifier of the context this snapshot belongs to.
func (s *Snapshot) ID() string {
	return s.id
}

// Parameter implements Lookup.
func (s *Snapshot) Parameter(name string) (Parameter, bool) {
	p, ok := s.params[name]
	return p, ok
}

// IsEmpty implements Lookup.
func (s *Snapshot) IsEmpty() bool {
	return len(s.params) == 0
}

// Version implements Lookup.
func (s *Snapshot) Version() int64 {
	return s.version
}

// Names returns the parameter names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.params))
	for name := range s.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Listener is notified after parameters of a context were modified.
type Listener func(updates map[string]Update)

// Context is a mutable, named parameter context. Readers always observe an
// immutable Snapshot; every modification publishes a new one.
type Context struct {
	id   string
	name string

	mu        sync.RWMutex
	current   *Snapshot
	listeners []Listener
}

// NewContext creates a parameter context with an initial parameter set.
func NewContext(id, name string, params []Parameter) *Context {
	return &Context{
		id:      id,
		name:    name,
		current: NewSnapshot(id, 1, params),
	}
}

// ID returns the context identifier.
func (c *Context) ID() string {
	return c.id
}

// Name returns the context name.
func (c *Context) Name() string {
	return c.name
}

// Snapshot returns the current immutable view of the context.
func (c *Context) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Parameter implements Lookup against the current snapshot.
func (c *Context) Parameter(name string) (Parameter, bool) {
	return c.Snapshot().Parameter(name)
}

// IsEmpty implements Lookup against the current snapshot.
func (c *Context) IsEmpty() bool {
	return c.Snapshot().IsEmpty()
}

// Version implements Lookup against the current snapshot.
func (c *Context) Version() int64 {
	return c.Snapshot().Version()
}

// Subscribe registers a listener invoked after every effective modification.
func (c *Context) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Apply sets or removes parameters. A nil entry removes the parameter. It
// returns the updates that actually changed something; listeners are invoked
// with the same map outside of the context lock.
func (c *Context) Apply(changes map[string]*Parameter) (map[string]Update, error) {
	c.mu.Lock()

	prev := c.current
	next := make(map[string]Parameter, len(prev.params))
	for name, p := range prev.params {
		next[name] = p
	}

	updates := make(map[string]Update)
	for name, change := range changes {
		old, existed := prev.params[name]
		if change == nil {
			if !existed {
				continue
			}
			delete(next, name)
		} else {
			if change.Name != "" && change.Name != name {
				c.mu.Unlock()
				return nil, fmt.Errorf("parameter name mismatch: key=%s, name=%s", name, change.Name)
			}
			p := *change
			p.Name = name
			if existed && parametersEqual(old, p) {
				continue
			}
			next[name] = p
		}
		updates[name] = Update{
			Name:              name,
			Previous:          old.Value,
			PreviousSensitive: old.Sensitive,
			Defined:           existed,
		}
	}

	if len(updates) == 0 {
		c.mu.Unlock()
		return updates, nil
	}

	params := make([]Parameter, 0, len(next))
	for _, p := range next {
		params = append(params, p)
	}
	c.current = NewSnapshot(c.id, prev.version+1, params)
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l(updates)
	}
	return updates, nil
}

func parametersEqual(a, b Parameter) bool {
	if a.Sensitive != b.Sensitive || a.Description != b.Description {
		return false
	}
	if a.Value == nil || b.Value == nil {
		return a.Value == nil && b.Value == nil
	}
	return *a.Value == *b.Value
}

// previousValueLookup answers with the previous value for updated parameters
// and delegates to the current lookup for everything else.
type previousValueLookup struct {
	current Lookup
	updates map[string]Update
}

// NewPreviousValueLookup returns a Lookup that resolves every parameter named in
// updates to the value it had before the update, and all other parameters
// against current.
func NewPreviousValueLookup(current Lookup, updates map[string]Update) Lookup {
	return &previousValueLookup{current: current, updates: updates}
}

func (l *previousValueLookup) Parameter(name string) (Parameter, bool) {
	if u, ok := l.updates[name]; ok {
		if !u.Defined {
			return Parameter{}, false
		}
		return Parameter{Name: name, Value: u.Previous, Sensitive: u.PreviousSensitive}, true
	}
	if l.current == nil {
		return Parameter{}, false
	}
	return l.current.Parameter(name)
}

func (l *previousValueLookup) IsEmpty() bool {
	if len(l.updates) > 0 {
		return false
	}
	return l.current == nil || l.current.IsEmpty()
}

func (l *previousValueLookup) Version() int64 {
	if l.current == nil {
		return 0
	}
	return l.current.Version()
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
