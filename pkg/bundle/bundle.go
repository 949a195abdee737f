// Package bundle describes plugin bundles, the types they define, and the
// compatibility rules between a service API and a service implementation.
package bundle

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Coordinate identifies a bundle.
type Coordinate struct {
	Group    string `json:"group" yaml:"group" validate:"required"`
	Artifact string `json:"artifact" yaml:"artifact" validate:"required"`
	Version  string `json:"version" yaml:"version" validate:"required"`
}

// String renders the coordinate as group:artifact:version.
func (c Coordinate) String() string {
	return c.Group + ":" + c.Artifact + ":" + c.Version
}

// IsZero reports whether the coordinate is unset.
func (c Coordinate) IsZero() bool {
	return c == Coordinate{}
}

// SemVer parses the coordinate version.
func (c Coordinate) SemVer() (*semver.Version, error) {
	v, err := semver.NewVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q for bundle %s:%s: %w", c.Version, c.Group, c.Artifact, err)
	}
	return v, nil
}

// ParseCoordinate parses group:artifact:version.
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Coordinate{}, fmt.Errorf("invalid bundle coordinate %q: expected group:artifact:version", s)
	}
	return Coordinate{Group: parts[0], Artifact: parts[1], Version: parts[2]}, nil
}

// AnyServiceType is the universal service API marker. Every controller
// service implementation is compatible with it.
const AnyServiceType = "*"

// ServiceAPI is the capability interface a property may require.
type ServiceAPI struct {
	// Type is the interface type name.
	Type string `json:"type" yaml:"type" validate:"required"`

	// Bundle is the coordinate of the bundle that defines the interface.
	Bundle Coordinate `json:"bundle" yaml:"bundle"`
}

// IsAny reports whether the API is the universal marker.
func (a ServiceAPI) IsAny() bool {
	return a.Type == AnyServiceType
}

func (a ServiceAPI) String() string {
	if a.IsAny() || a.Bundle.IsZero() {
		return a.Type
	}
	return a.Type + " [" + a.Bundle.String() + "]"
}

// Method is the signature of a single method of a type.
type Method struct {
	Name    string   `json:"name" yaml:"name" validate:"required"`
	Params  []string `json:"params,omitempty" yaml:"params,omitempty"`
	Results []string `json:"results,omitempty" yaml:"results,omitempty"`
}

func (m Method) signature() string {
	return m.Name + "(" + strings.Join(m.Params, ",") + ")(" + strings.Join(m.Results, ",") + ")"
}

// TypeInfo describes a type defined by a bundle.
type TypeInfo struct {
	Name      string   `json:"name" yaml:"name" validate:"required"`
	Interface bool     `json:"interface" yaml:"interface"`
	Methods   []Method `json:"methods,omitempty" yaml:"methods,omitempty" validate:"dive"`
}

// Implements reports whether t provides every method of api with an identical signature.
func (t TypeInfo) Implements(api TypeInfo) bool {
	have := make(map[string]string, len(t.Methods))
	for _, m := range t.Methods {
		have[m.Name] = m.signature()
	}
	for _, m := range api.Methods {
		sig, ok := have[m.Name]
		if !ok || sig != m.signature() {
			return false
		}
	}
	return true
}

// TypeInfoOf derives a TypeInfo from a Go type. Concrete types are described
// by their pointer method set.
func TypeInfoOf(t reflect.Type) TypeInfo {
	info := TypeInfo{Name: t.Name(), Interface: t.Kind() == reflect.Interface}
	if !info.Interface && t.Kind() != reflect.Pointer {
		t = reflect.PointerTo(t)
	}
	if info.Name == "" && t.Kind() == reflect.Pointer {
		info.Name = t.Elem().Name()
	}

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		mt := m.Type
		first := 0
		if !info.Interface {
			// skip the receiver
			first = 1
		}
		method := Method{Name: m.Name}
		for j := first; j < mt.NumIn(); j++ {
			method.Params = append(method.Params, mt.In(j).String())
		}
		for j := 0; j < mt.NumOut(); j++ {
			method.Results = append(method.Results, mt.Out(j).String())
		}
		info.Methods = append(info.Methods, method)
	}
	sort.Slice(info.Methods, func(i, j int) bool { return info.Methods[i].Name < info.Methods[j].Name })
	return info
}

// Bundle is a loaded plugin bundle.
type Bundle struct {
	Coordinate Coordinate

	// Dependency is the single parent bundle this bundle declares, if any.
	Dependency *Coordinate

	// Types are the types defined by the bundle, keyed by name.
	Types map[string]TypeInfo
}

// Type returns the named type defined by the bundle.
func (b *Bundle) Type(name string) (TypeInfo, bool) {
	t, ok := b.Types[name]
	return t, ok
}

// Defines reports whether the bundle defines the named type.
func (b *Bundle) Defines(name string) bool {
	_, ok := b.Types[name]
	return ok
}
