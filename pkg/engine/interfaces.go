package engine

import (
	"context"
	"time"

	"github.com/openfroyo/compconf/pkg/bundle"
	"github.com/openfroyo/compconf/pkg/parameter"
)

// Component is the pluggable unit whose configuration a ComponentNode manages.
type Component interface {
	// PropertyDescriptors returns the descriptors the component supports.
	PropertyDescriptors() []*PropertyDescriptor

	// PropertyDescriptor returns the named supported descriptor, or nil.
	PropertyDescriptor(name string) *PropertyDescriptor

	// CustomDescriptor returns a descriptor for a user-defined property, or
	// nil if the component does not accept the name.
	CustomDescriptor(name string) *PropertyDescriptor

	// Validate runs the component's own structural rules against a snapshot.
	Validate(ctx context.Context, vctx *ValidationContext) ([]ValidationResult, error)

	// OnPropertyModified is called after the effective value of a property
	// changed. Either value may be nil.
	OnPropertyModified(descriptor *PropertyDescriptor, oldValue, newValue *string)
}

// Group owns a component and supplies its parameter context.
type Group interface {
	// ID returns the group identifier.
	ID() string

	// ParameterContext returns the bound parameter context, nil if none.
	ParameterContext() parameter.Lookup
}

// ServiceState is the lifecycle state of a controller service.
type ServiceState string

const (
	// ServiceDisabled indicates the service is not running.
	ServiceDisabled ServiceState = "DISABLED"

	// ServiceEnabling indicates the service is activating asynchronously.
	ServiceEnabling ServiceState = "ENABLING"

	// ServiceEnabled indicates the service is running.
	ServiceEnabled ServiceState = "ENABLED"

	// ServiceDisabling indicates the service is shutting down.
	ServiceDisabling ServiceState = "DISABLING"
)

// ServiceNode is a controller service as seen by referencing components.
type ServiceNode interface {
	// ID returns the service identifier.
	ID() string

	// TypeName returns the implementation type name.
	TypeName() string

	// BundleCoordinate returns the bundle that provides the implementation.
	BundleCoordinate() bundle.Coordinate

	// State returns the current lifecycle state.
	State() ServiceState

	// AddReference records componentID as a referencing component.
	AddReference(componentID string)

	// RemoveReference removes componentID from the referencing components.
	RemoveReference(componentID string)
}

// ServiceProvider locates controller services and the bundles describing them.
type ServiceProvider interface {
	bundle.Source

	// ControllerServiceNode returns the service with the given identifier.
	ControllerServiceNode(id string) (ServiceNode, bool)
}

// ClasspathResolver computes and applies a component's additional classpath.
type ClasspathResolver interface {
	// Fingerprint summarizes the resources so that unchanged sets can be detected.
	Fingerprint(resources []string) (string, error)

	// Reload reloads the component with the given resources.
	Reload(ctx context.Context, resources []string) error
}

// Validatable is something a ValidationTrigger can run.
type Validatable interface {
	ID() string
	PerformValidation(ctx context.Context) ValidationStatus
}

// ValidationTrigger schedules validation passes. TriggerAsync must not block.
type ValidationTrigger interface {
	TriggerAsync(v Validatable)
}

// Observer receives engine activity. Implementations must be cheap and
// must not call back into the node.
type Observer interface {
	ValidationCompleted(componentID string, status ValidationStatus, results int, duration time.Duration)
	PropertiesUpdated(componentID string, changed int)
	ParametersPropagated(componentID string, changed int)
	ClasspathReloaded(componentID string, err error)
	ValidationQueueDepth(depth int)
}

// NopObserver ignores all activity.
type NopObserver struct{}

func (NopObserver) ValidationCompleted(string, ValidationStatus, int, time.Duration) {}
func (NopObserver) PropertiesUpdated(string, int)                                    {}
func (NopObserver) ParametersPropagated(string, int)                                 {}
func (NopObserver) ClasspathReloaded(string, error)                                  {}
func (NopObserver) ValidationQueueDepth(int)                                         {}
