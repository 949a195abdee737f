package engine

import (
	"sort"

	"github.com/openfroyo/compconf/pkg/parameter"
)

// snapshotter is implemented by parameter contexts that can hand out an
// immutable view of themselves.
type snapshotter interface {
	Snapshot() *parameter.Snapshot
}

// ValidationContext is the immutable snapshot a validation pass runs against:
// the property map, annotation data, owning group and parameter context.
type ValidationContext struct {
	componentID    string
	groupID        string
	annotationData string
	descriptors    map[string]*PropertyDescriptor
	properties     map[string]*PropertyConfiguration
	parameters     parameter.Lookup
}

func newValidationContext(
	componentID, groupID, annotationData string,
	supported []*PropertyDescriptor,
	configured map[string]*propertyEntry,
	parameters parameter.Lookup,
) *ValidationContext {
	if s, ok := parameters.(snapshotter); ok {
		parameters = s.Snapshot()
	}
	c := &ValidationContext{
		componentID:    componentID,
		groupID:        groupID,
		annotationData: annotationData,
		descriptors:    make(map[string]*PropertyDescriptor, len(supported)+len(configured)),
		properties:     make(map[string]*PropertyConfiguration, len(configured)),
		parameters:     parameters,
	}
	for _, d := range supported {
		c.descriptors[d.Name] = d
	}
	for name, entry := range configured {
		c.descriptors[name] = entry.descriptor
		c.properties[name] = entry.config
	}
	return c
}

// ComponentID returns the identifier of the validated component.
func (c *ValidationContext) ComponentID() string { return c.componentID }

// GroupID returns the identifier of the owning group, "" if none.
func (c *ValidationContext) GroupID() string { return c.groupID }

// AnnotationData returns the component's annotation data.
func (c *ValidationContext) AnnotationData() string { return c.annotationData }

// ParameterLookup returns the parameter context the snapshot was taken with, nil if none.
func (c *ValidationContext) ParameterLookup() parameter.Lookup { return c.parameters }

// Descriptors returns every known descriptor sorted by name.
func (c *ValidationContext) Descriptors() []*PropertyDescriptor {
	out := make([]*PropertyDescriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Descriptor returns the named descriptor, nil if unknown.
func (c *ValidationContext) Descriptor(name string) *PropertyDescriptor {
	return c.descriptors[name]
}

// ConfiguredProperties returns the names of configured properties in sorted order.
func (c *ValidationContext) ConfiguredProperties() []string {
	names := make([]string, 0, len(c.properties))
	for name := range c.properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RawValue returns the configured raw value of a property.
func (c *ValidationContext) RawValue(name string) (string, bool) {
	conf, ok := c.properties[name]
	if !ok {
		return "", false
	}
	return conf.RawValue(), true
}

// Property returns the effective value of a property: the configured value
// with parameters substituted, or the descriptor default when unset.
func (c *ValidationContext) Property(name string) *string {
	if conf, ok := c.properties[name]; ok {
		return effectiveValue(conf, c.parameters)
	}
	if d := c.descriptors[name]; d != nil && d.DefaultValue != nil {
		v := *d.DefaultValue
		return &v
	}
	return nil
}

// Properties returns the effective value of every known property.
func (c *ValidationContext) Properties() map[string]*string {
	out := make(map[string]*string, len(c.descriptors))
	for name := range c.descriptors {
		out[name] = c.Property(name)
	}
	return out
}

// ReferencedParameters returns the parameter names substituted into the named property.
func (c *ValidationContext) ReferencedParameters(name string) []string {
	conf, ok := c.properties[name]
	if !ok {
		return nil
	}
	return conf.Tokens().Names()
}

// IsDependencySatisfied reports whether every dependency of d holds. A
// dependency holds when the depended-on property has a value, matching one of
// the dependent values if any are listed, and its own dependencies hold.
func (c *ValidationContext) IsDependencySatisfied(d *PropertyDescriptor) bool {
	return c.dependencySatisfied(d, map[string]bool{})
}

func (c *ValidationContext) dependencySatisfied(d *PropertyDescriptor, visiting map[string]bool) bool {
	if len(d.Dependencies) == 0 {
		return true
	}
	if visiting[d.Name] {
		return false
	}
	visiting[d.Name] = true
	defer delete(visiting, d.Name)

	for _, dep := range d.Dependencies {
		target := c.descriptors[dep.PropertyName]
		if target == nil {
			return false
		}
		if !c.dependencySatisfied(target, visiting) {
			return false
		}
		value := c.Property(dep.PropertyName)
		if value == nil {
			return false
		}
		if len(dep.DependentValues) == 0 {
			continue
		}
		matched := false
		for _, v := range dep.DependentValues {
			if v == *value {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
