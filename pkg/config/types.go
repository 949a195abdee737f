package config

import (
	"fmt"
	"strings"

	"github.com/openfroyo/compconf/pkg/bundle"
	"github.com/openfroyo/compconf/pkg/engine"
	"github.com/openfroyo/compconf/pkg/parameter"
)

// Definition is a component definition document. It declares the bundles,
// controller services and parameter context a set of components is
// configured against.
type Definition struct {
	// Name identifies the definition and names the group owning the components.
	Name string `yaml:"name" validate:"required"`

	// BundleDirs are scanned for <bundle>/bundle.yaml manifests.
	BundleDirs []string `yaml:"bundle_dirs,omitempty"`

	// Bundles are manifests declared inline.
	Bundles []bundle.Manifest `yaml:"bundles,omitempty" validate:"dive"`

	// Parameters is the parameter context shared by all components.
	Parameters *ParameterContextConfig `yaml:"parameter_context,omitempty"`

	Services []ServiceConfig `yaml:"services,omitempty" validate:"dive"`

	Components []ComponentConfig `yaml:"components" validate:"required,min=1,dive"`

	// Policies lists Rego policy files or directories applied to every component.
	Policies []string `yaml:"policies,omitempty"`

	// Source is the file the definition was loaded from, "inline" otherwise.
	Source string `yaml:"-"`
}

// ParameterContextConfig declares a parameter context.
type ParameterContextConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name,omitempty"`

	// File is an optional parameter file. Its parameters override inline ones
	// and it can be watched for changes.
	File string `yaml:"file,omitempty"`

	Parameters []parameter.Parameter `yaml:"parameters,omitempty" validate:"dive"`
}

// ServiceConfig declares a controller service.
type ServiceConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Type string `yaml:"type" validate:"required"`

	// Bundle is the implementation bundle as group:artifact:version.
	Bundle string `yaml:"bundle" validate:"required"`

	// State is the initial lifecycle state. Defaults to DISABLED.
	State string `yaml:"state,omitempty" validate:"omitempty,oneof=DISABLED ENABLING ENABLED"`

	Properties map[string]string `yaml:"properties,omitempty"`
}

// ComponentConfig declares a component and its initial configuration.
type ComponentConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name,omitempty"`
	Type string `yaml:"type" validate:"required"`

	// Bundle is the bundle providing the component type, if known.
	Bundle string `yaml:"bundle,omitempty"`

	AnnotationData string `yaml:"annotation_data,omitempty"`

	// DynamicProperties allows user-defined properties.
	DynamicProperties bool `yaml:"dynamic_properties,omitempty"`

	// ClasspathDir resolves classpath-modifier property values. Defaults to
	// the directory of the definition.
	ClasspathDir string `yaml:"classpath_dir,omitempty"`

	Descriptors []DescriptorConfig `yaml:"descriptors,omitempty" validate:"dive"`

	// Properties are the initial raw values. A null value leaves the property unset.
	Properties map[string]*string `yaml:"properties,omitempty"`

	// Script is Starlark source defining validate(properties).
	Script string `yaml:"script,omitempty"`

	// ScriptFile is read when Script is empty.
	ScriptFile string `yaml:"script_file,omitempty"`
}

// DescriptorConfig is a property descriptor together with its value rules.
type DescriptorConfig struct {
	engine.PropertyDescriptor `yaml:",inline"`

	Rules []RuleConfig `yaml:"rules,omitempty" validate:"dive"`
}

// RuleConfig constrains the effective value of a property.
type RuleConfig struct {
	// Pattern is a regular expression the whole value must match.
	Pattern string `yaml:"pattern,omitempty"`

	MinLength *int `yaml:"min_length,omitempty" validate:"omitempty,min=0"`
	MaxLength *int `yaml:"max_length,omitempty" validate:"omitempty,min=0"`

	// Format is a well-known value format.
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=url uri email hostname ip cidr number boolean"`

	// Min and Max bound numeric values.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// Message replaces the generated explanation.
	Message string `yaml:"message,omitempty"`
}

// ValidationError represents a definition error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending field (e.g., "components[0].descriptors").
	Path string `json:"path,omitempty"`

	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// DefinitionError collects every problem found in a definition.
type DefinitionError struct {
	Source string
	Errors []ValidationError
}

func (e *DefinitionError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return fmt.Sprintf("invalid definition %s: %s", e.Source, strings.Join(msgs, "; "))
}

// Component returns the named component configuration.
func (d *Definition) Component(id string) (*ComponentConfig, bool) {
	for i := range d.Components {
		if d.Components[i].ID == id {
			return &d.Components[i], true
		}
	}
	return nil, false
}
