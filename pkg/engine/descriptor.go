package engine

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/compconf/pkg/bundle"
)

var descriptorValidator = validator.New()

// PropertyDependency makes a property relevant only when another property is
// set. When DependentValues is non-empty the other property must also hold one
// of those values.
type PropertyDependency struct {
	PropertyName    string   `json:"property" yaml:"property" validate:"required"`
	DependentValues []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// PropertyDescriptor describes a single configurable property of a component.
// Descriptors are immutable once handed to the engine.
type PropertyDescriptor struct {
	// Name uniquely identifies the property within its component.
	Name string `json:"name" yaml:"name" validate:"required"`

	// DisplayName is the human-readable name.
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`

	// Description explains the property.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Required properties must have a value for the component to be valid.
	Required bool `json:"required" yaml:"required"`

	// Sensitive properties hold secrets. They may only reference a single
	// sensitive parameter that spans the whole value.
	Sensitive bool `json:"sensitive" yaml:"sensitive"`

	// ExpressionLanguageSupported enables expression-language aware parsing of
	// parameter references. The flag is fixed for the lifetime of a configured property.
	ExpressionLanguageSupported bool `json:"expression_language" yaml:"expression_language"`

	// ServiceAPI binds the property to a controller service. The property
	// value is then the identifier of a service implementing the API.
	ServiceAPI *bundle.ServiceAPI `json:"service_api,omitempty" yaml:"service_api,omitempty" validate:"-"`

	// Dynamic marks descriptors created for user-defined properties.
	Dynamic bool `json:"dynamic" yaml:"dynamic"`

	// DynamicClasspathModifier properties contribute comma separated resources
	// to the component's additional classpath.
	DynamicClasspathModifier bool `json:"classpath_modifier" yaml:"classpath_modifier"`

	// DefaultValue is used when the property is not configured.
	DefaultValue *string `json:"default_value,omitempty" yaml:"default_value,omitempty"`

	// AllowableValues restricts the effective value when non-empty.
	AllowableValues []string `json:"allowable_values,omitempty" yaml:"allowable_values,omitempty"`

	// Dependencies on other properties. All must be satisfied.
	Dependencies []PropertyDependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty" validate:"dive"`
}

// IdentifiesControllerService reports whether the property references a controller service.
func (d *PropertyDescriptor) IdentifiesControllerService() bool {
	return d.ServiceAPI != nil
}

// IsAllowed reports whether value satisfies the allowable values of the descriptor.
func (d *PropertyDescriptor) IsAllowed(value string) bool {
	if len(d.AllowableValues) == 0 {
		return true
	}
	for _, v := range d.AllowableValues {
		if v == value {
			return true
		}
	}
	return false
}

// Validate checks the descriptor for internal consistency.
func (d *PropertyDescriptor) Validate() error {
	if err := descriptorValidator.Struct(d); err != nil {
		return NewInvalidConfigurationError("invalid property descriptor", err).
			WithCode(ErrCodeInvalidDescriptor).
			WithResource(d.Name)
	}
	if d.Sensitive && d.ServiceAPI != nil {
		return NewInvalidConfigurationError(
			fmt.Sprintf("property %s cannot be both sensitive and bound to a controller service", d.Name), nil).
			WithCode(ErrCodeInvalidDescriptor).
			WithResource(d.Name)
	}
	if d.ServiceAPI != nil && d.ServiceAPI.Type == "" {
		return NewInvalidConfigurationError(
			fmt.Sprintf("property %s declares a controller service API without a type", d.Name), nil).
			WithCode(ErrCodeInvalidDescriptor).
			WithResource(d.Name)
	}
	if d.DefaultValue != nil && !d.IsAllowed(*d.DefaultValue) {
		return NewInvalidConfigurationError(
			fmt.Sprintf("default value of property %s is not an allowable value", d.Name), nil).
			WithCode(ErrCodeInvalidDescriptor).
			WithResource(d.Name)
	}
	for _, dep := range d.Dependencies {
		if dep.PropertyName == d.Name {
			return NewInvalidConfigurationError(
				fmt.Sprintf("property %s depends on itself", d.Name), nil).
				WithCode(ErrCodeInvalidDescriptor).
				WithResource(d.Name)
		}
	}
	return nil
}
