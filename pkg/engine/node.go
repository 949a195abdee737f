package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/openfroyo/compconf/pkg/bundle"
	"github.com/openfroyo/compconf/pkg/parameter"
)

const tracerName = "github.com/openfroyo/compconf/pkg/engine"

// NodeConfig holds the collaborators of a ComponentNode.
type NodeConfig struct {
	// ID identifies the node. A random identifier is generated when empty.
	ID string

	// Name is the human-readable name used as subject of component-wide results.
	Name string

	// Type is the component type name.
	Type string

	// Component is the pluggable unit. Required.
	Component Component

	// Group supplies the parameter context. Optional.
	Group Group

	// Services resolves controller service references. Optional.
	Services ServiceProvider

	// Resolver decides service API compatibility. Built from Services when nil.
	Resolver *bundle.Resolver

	// Classpath reloads the component when classpath-modifier properties change. Optional.
	Classpath ClasspathResolver

	// Trigger schedules validation passes after resets. Optional.
	Trigger ValidationTrigger

	// Observer receives activity notifications. Optional.
	Observer Observer

	Logger zerolog.Logger
}

type propertyEntry struct {
	descriptor *PropertyDescriptor
	config     *PropertyConfiguration
}

type propertyModification struct {
	descriptor *PropertyDescriptor
	oldValue   *string
	newValue   *string
}

// ComponentNode holds the configuration of one component instance and runs
// its asynchronous validation state machine.
//
// SetProperties, ResetValidationState, RefreshProperties and SetAnnotationData
// are serialized by a single mutation lock. Validation runs outside that lock
// and publishes its outcome by compare-and-swap, so a pass that raced with a
// reset is discarded and retried.
type ComponentNode struct {
	id        string
	name      string
	typeName  string
	component Component
	group     Group
	services  ServiceProvider
	resolver  *bundle.Resolver
	classpath ClasspathResolver
	trigger   ValidationTrigger
	observer  Observer
	logger    zerolog.Logger

	mu                   sync.Mutex
	properties           map[string]*propertyEntry
	annotationData       string
	refs                 *ReferenceCounter
	validationContext    *ValidationContext
	classpathFingerprint string
	running              bool

	state         *stateHolder
	triggerPaused atomic.Bool
}

// NewComponentNode creates a node in the VALIDATING state. No validation is
// scheduled until the first reset.
func NewComponentNode(cfg NodeConfig) (*ComponentNode, error) {
	if cfg.Component == nil {
		return nil, NewInvalidConfigurationError("component is required", nil).
			WithCode(ErrCodeMissingComponent)
	}
	for _, d := range cfg.Component.PropertyDescriptors() {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}

	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}
	name := cfg.Name
	if name == "" {
		name = id
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	logger := cfg.Logger.With().
		Str("component", "component-node").
		Str("component_id", id).
		Logger()

	resolver := cfg.Resolver
	if resolver == nil && cfg.Services != nil {
		resolver = bundle.NewResolver(cfg.Services, cfg.Logger)
	}

	return &ComponentNode{
		id:         id,
		name:       name,
		typeName:   cfg.Type,
		component:  cfg.Component,
		group:      cfg.Group,
		services:   cfg.Services,
		resolver:   resolver,
		classpath:  cfg.Classpath,
		trigger:    cfg.Trigger,
		observer:   observer,
		logger:     logger,
		properties: make(map[string]*propertyEntry),
		refs:       NewReferenceCounter(),
		state:      newStateHolder(NewValidationState(StatusValidating, nil)),
	}, nil
}

// ID returns the node identifier.
func (n *ComponentNode) ID() string { return n.id }

// Name returns the node name.
func (n *ComponentNode) Name() string { return n.name }

// Type returns the component type name.
func (n *ComponentNode) Type() string { return n.typeName }

// Component returns the managed component.
func (n *ComponentNode) Component() Component { return n.component }

func (n *ComponentNode) parameterLookup() parameter.Lookup {
	if n.group == nil {
		return nil
	}
	return n.group.ParameterContext()
}

func (n *ComponentNode) groupID() string {
	if n.group == nil {
		return ""
	}
	return n.group.ID()
}

// SetRunning marks the component as running. Running components reject
// configuration changes.
func (n *ComponentNode) SetRunning(running bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.running = running
}

// IsRunning reports whether the component is marked running.
func (n *ComponentNode) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// VerifyModifiable returns an error if the component cannot be reconfigured.
func (n *ComponentNode) VerifyModifiable() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verifyModifiableLocked()
}

func (n *ComponentNode) verifyModifiableLocked() error {
	if n.running {
		return NewConflictError("cannot modify a running component", nil).
			WithCode(ErrCodeComponentRunning).
			WithResource(n.id)
	}
	return nil
}

// VerifyCanUpdateProperties checks a batch of updates without applying it.
func (n *ComponentNode) VerifyCanUpdateProperties(updates map[string]*string, allowRemovalOfRequired bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := n.verifyUpdatesLocked(updates, allowRemovalOfRequired)
	return err
}

func (n *ComponentNode) resolveDescriptorLocked(name string) *PropertyDescriptor {
	if d := n.component.PropertyDescriptor(name); d != nil {
		return d
	}
	if entry, ok := n.properties[name]; ok && entry.descriptor.Dynamic {
		return entry.descriptor
	}
	return n.component.CustomDescriptor(name)
}

func (n *ComponentNode) verifyUpdatesLocked(updates map[string]*string, allowRemovalOfRequired bool) (map[string]*PropertyDescriptor, error) {
	if err := n.verifyModifiableLocked(); err != nil {
		return nil, err
	}

	lookup := n.parameterLookup()
	descriptors := make(map[string]*PropertyDescriptor, len(updates))
	for _, name := range sortedKeys(updates) {
		value := updates[name]
		if strings.TrimSpace(name) == "" {
			return nil, NewInvalidConfigurationError("property name must not be empty", nil).
				WithCode(ErrCodeUnknownProperty).
				WithResource(n.id)
		}

		desc := n.resolveDescriptorLocked(name)
		if desc == nil {
			return nil, NewInvalidConfigurationError(
				fmt.Sprintf("component does not support property %s", name), nil).
				WithCode(ErrCodeUnknownProperty).
				WithResource(name)
		}
		if err := desc.Validate(); err != nil {
			return nil, err
		}
		descriptors[name] = desc

		existing := n.properties[name]
		if value == nil {
			if existing != nil && desc.Required && !allowRemovalOfRequired {
				return nil, NewInvalidConfigurationError(
					fmt.Sprintf("property %s is required and cannot be removed", name), nil).
					WithCode(ErrCodeRequiredRemoval).
					WithResource(name)
			}
			continue
		}

		if existing != nil && existing.descriptor.ExpressionLanguageSupported != desc.ExpressionLanguageSupported {
			return nil, NewInvalidConfigurationError(
				fmt.Sprintf("expression language support of property %s cannot change while it is configured", name), nil).
				WithCode(ErrCodeExpressionLanguageFlag).
				WithResource(name)
		}
		if err := verifyReferences(desc, *value, lookup); err != nil {
			return nil, err
		}
	}
	return descriptors, nil
}

// verifyReferences applies the parameter reference rules for a raw value.
func verifyReferences(desc *PropertyDescriptor, raw string, lookup parameter.Lookup) error {
	refs := parameter.ParseELAgnostic(raw).References()
	if len(refs) == 0 {
		return nil
	}

	if desc.IdentifiesControllerService() {
		return NewInvalidConfigurationError(
			fmt.Sprintf("property %s references a controller service and cannot reference parameters", desc.Name), nil).
			WithCode(ErrCodeServiceParameter).
			WithResource(desc.Name)
	}

	if desc.Sensitive {
		if len(refs) > 1 || refs[0].Start != 0 || refs[0].End != len(raw)-1 {
			return NewInvalidConfigurationError(
				fmt.Sprintf("sensitive property %s may only reference a single parameter spanning the entire value", desc.Name), nil).
				WithCode(ErrCodeSensitiveReference).
				WithResource(desc.Name)
		}
	}

	if lookup == nil {
		return nil
	}
	for _, ref := range refs {
		p, ok := lookup.Parameter(ref.Name)
		if !ok {
			// resolved during validation once the parameter is defined
			continue
		}
		if desc.Sensitive && !p.Sensitive {
			return NewInvalidConfigurationError(
				fmt.Sprintf("sensitive property %s cannot reference non-sensitive parameter %s", desc.Name, ref.Name), nil).
				WithCode(ErrCodeSensitiveMismatch).
				WithResource(desc.Name).
				WithDetail("parameter", ref.Name)
		}
		if !desc.Sensitive && p.Sensitive {
			return NewInvalidConfigurationError(
				fmt.Sprintf("non-sensitive property %s cannot reference sensitive parameter %s", desc.Name, ref.Name), nil).
				WithCode(ErrCodeSensitiveMismatch).
				WithResource(desc.Name).
				WithDetail("parameter", ref.Name)
		}
	}
	return nil
}

// SetProperties applies a batch of property updates. A nil value removes the
// property. The whole batch is verified first; an illegal update rejects the
// batch with no partial effect.
func (n *ComponentNode) SetProperties(ctx context.Context, updates map[string]*string, allowRemovalOfRequired bool) error {
	n.mu.Lock()
	descriptors, err := n.verifyUpdatesLocked(updates, allowRemovalOfRequired)
	if err != nil {
		n.mu.Unlock()
		return err
	}

	lookup := n.parameterLookup()
	var modified []propertyModification
	reload := false
	for _, name := range sortedKeys(updates) {
		desc := descriptors[name]
		value := updates[name]

		existing := n.properties[name]
		var oldConf, newConf *PropertyConfiguration
		if existing != nil {
			oldConf = existing.config
		}
		if value != nil {
			newConf = NewPropertyConfiguration(*value, desc.ExpressionLanguageSupported)
		}
		if oldConf.Equal(newConf) {
			if existing != nil {
				existing.descriptor = desc
			}
			continue
		}

		oldValue := effectiveValue(oldConf, lookup)
		newValue := effectiveValue(newConf, lookup)

		if oldConf != nil {
			for _, p := range oldConf.ReferencedNames() {
				n.refs.DecrementOrRemove(p)
			}
		}
		if newConf != nil {
			n.properties[name] = &propertyEntry{descriptor: desc, config: newConf}
			for _, p := range newConf.ReferencedNames() {
				n.refs.Increment(p)
			}
		} else {
			delete(n.properties, name)
		}

		if desc.IdentifiesControllerService() {
			n.rewireServiceLocked(oldValue, newValue)
		}
		if desc.DynamicClasspathModifier {
			reload = true
		}
		modified = append(modified, propertyModification{descriptor: desc, oldValue: oldValue, newValue: newValue})
	}

	if len(modified) == 0 {
		n.mu.Unlock()
		return nil
	}

	if reload {
		n.reloadClasspathLocked(ctx)
	}
	n.observer.PropertiesUpdated(n.id, len(modified))
	n.logger.Debug().Int("changed", len(modified)).Msg("Properties updated")

	if !n.triggerPaused.Load() {
		n.resetLocked()
	}
	n.mu.Unlock()

	for _, m := range modified {
		n.notifyPropertyModified(m)
	}
	return nil
}

func (n *ComponentNode) rewireServiceLocked(oldID, newID *string) {
	if n.services == nil || stringsEqual(oldID, newID) {
		return
	}
	if oldID != nil {
		if svc, ok := n.services.ControllerServiceNode(*oldID); ok {
			svc.RemoveReference(n.id)
		}
	}
	if newID != nil {
		if svc, ok := n.services.ControllerServiceNode(*newID); ok {
			svc.AddReference(n.id)
		}
	}
}

// classpathResources collects the comma separated resources of every
// classpath-modifier property.
func (n *ComponentNode) classpathResourcesLocked(lookup parameter.Lookup) []string {
	var resources []string
	for _, name := range sortedKeys(n.properties) {
		entry := n.properties[name]
		if !entry.descriptor.DynamicClasspathModifier {
			continue
		}
		for _, r := range strings.Split(entry.config.EffectiveValue(lookup), ",") {
			if r = strings.TrimSpace(r); r != "" {
				resources = append(resources, r)
			}
		}
	}
	return resources
}

func (n *ComponentNode) reloadClasspathLocked(ctx context.Context) {
	if n.classpath == nil {
		return
	}
	resources := n.classpathResourcesLocked(n.parameterLookup())
	fingerprint, err := n.classpath.Fingerprint(resources)
	if err != nil {
		n.logger.Warn().Err(err).Strs("resources", resources).Msg("Failed to fingerprint additional classpath")
		n.observer.ClasspathReloaded(n.id, err)
		return
	}
	if fingerprint == n.classpathFingerprint {
		return
	}

	if err := n.classpath.Reload(ctx, resources); err != nil {
		n.logger.Error().Err(err).Strs("resources", resources).Msg("Failed to reload component with additional classpath")
		n.observer.ClasspathReloaded(n.id, err)
		return
	}
	n.classpathFingerprint = fingerprint
	n.logger.Info().Str("fingerprint", fingerprint).Msg("Reloaded component with additional classpath")
	n.observer.ClasspathReloaded(n.id, nil)
}

func (n *ComponentNode) notifyPropertyModified(m propertyModification) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().
				Str("property", m.descriptor.Name).
				Interface("panic", r).
				Msg("Component panicked while handling property modification")
		}
	}()
	n.component.OnPropertyModified(m.descriptor, m.oldValue, m.newValue)
}

// RefreshProperties re-resolves the descriptors of configured properties from
// the component, for example after it was reloaded.
func (n *ComponentNode) RefreshProperties() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, name := range sortedKeys(n.properties) {
		entry := n.properties[name]
		desc := n.resolveDescriptorLocked(name)
		if desc == nil {
			n.logger.Warn().Str("property", name).Msg("Component no longer describes configured property, keeping previous descriptor")
			continue
		}
		if desc.ExpressionLanguageSupported != entry.descriptor.ExpressionLanguageSupported {
			n.logger.Warn().Str("property", name).Msg("Expression language support of configured property changed, keeping previous descriptor")
			continue
		}
		entry.descriptor = desc
	}
	n.resetLocked()
}

// SetAnnotationData replaces the component's annotation data.
func (n *ComponentNode) SetAnnotationData(data string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.verifyModifiableLocked(); err != nil {
		return err
	}
	if data == n.annotationData {
		return nil
	}
	n.annotationData = data
	if !n.triggerPaused.Load() {
		n.resetLocked()
	}
	return nil
}

// AnnotationData returns the component's annotation data.
func (n *ComponentNode) AnnotationData() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.annotationData
}

// RawPropertyValue returns the configured raw value of a property.
func (n *ComponentNode) RawPropertyValue(name string) *string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if entry, ok := n.properties[name]; ok {
		v := entry.config.RawValue()
		return &v
	}
	return nil
}

// EffectivePropertyValue returns the value of a property with parameters
// substituted, falling back to the descriptor default.
func (n *ComponentNode) EffectivePropertyValue(name string) *string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if entry, ok := n.properties[name]; ok {
		return effectiveValue(entry.config, n.parameterLookup())
	}
	if d := n.resolveDescriptorLocked(name); d != nil && d.DefaultValue != nil {
		v := *d.DefaultValue
		return &v
	}
	return nil
}

// RawPropertyValues returns the configured raw values.
func (n *ComponentNode) RawPropertyValues() map[string]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]string, len(n.properties))
	for name, entry := range n.properties {
		out[name] = entry.config.RawValue()
	}
	return out
}

// Properties returns the effective value of every supported or configured property.
func (n *ComponentNode) Properties() map[string]*string {
	n.mu.Lock()
	vctx := newValidationContext(
		n.id, n.groupID(), n.annotationData,
		n.component.PropertyDescriptors(),
		n.properties,
		n.parameterLookup(),
	)
	n.mu.Unlock()
	return vctx.Properties()
}

// ReferencedParameterNames returns the names of referenced parameters.
func (n *ComponentNode) ReferencedParameterNames() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refs.Names()
}

// ParameterReferenceCount returns how many configured properties reference the parameter.
func (n *ComponentNode) ParameterReferenceCount(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refs.Count(name)
}

// IsReferencingParameter reports whether any property references a parameter.
func (n *ComponentNode) IsReferencingParameter() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.refs.IsEmpty()
}

// ResetValidationState discards the current validation outcome and, unless
// triggering is paused, schedules a new validation pass.
func (n *ComponentNode) ResetValidationState() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetLocked()
}

func (n *ComponentNode) resetLocked() {
	n.validationContext = nil
	n.state.Store(NewValidationState(StatusValidating, nil))
	if n.trigger != nil && !n.triggerPaused.Load() {
		n.trigger.TriggerAsync(n)
	}
}

// PauseValidationTrigger stops automatic revalidation after mutations.
func (n *ComponentNode) PauseValidationTrigger() {
	n.triggerPaused.Store(true)
}

// ResumeValidationTrigger re-enables automatic revalidation and forces a reset.
func (n *ComponentNode) ResumeValidationTrigger() {
	n.triggerPaused.Store(false)
	n.ResetValidationState()
}

// IsValidationTriggerPaused reports whether automatic revalidation is paused.
func (n *ComponentNode) IsValidationTriggerPaused() bool {
	return n.triggerPaused.Load()
}

// ValidationState returns the current validation state.
func (n *ComponentNode) ValidationState() *ValidationState {
	return n.state.Load()
}

// ValidationErrors returns the results of the current validation state.
func (n *ComponentNode) ValidationErrors() []ValidationResult {
	return n.state.Load().Results()
}

// IsValid reports whether the last validation pass succeeded.
func (n *ComponentNode) IsValid() bool {
	return n.state.Load().Status() == StatusValid
}

// ValidationStatus waits up to timeout for a validation outcome and returns the
// best-known status. On ctx cancellation the current status is returned
// together with the context error.
func (n *ComponentNode) ValidationStatus(ctx context.Context, timeout time.Duration) (ValidationStatus, error) {
	s, err := n.state.Await(ctx, timeout)
	return s.Status(), err
}

func (n *ComponentNode) snapshot() *ValidationContext {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.validationContext == nil {
		n.validationContext = newValidationContext(
			n.id, n.groupID(), n.annotationData,
			n.component.PropertyDescriptors(),
			n.properties,
			n.parameterLookup(),
		)
	}
	return n.validationContext
}

// PerformValidation runs a validation pass if the node is VALIDATING and
// returns the resulting status. A pass whose outcome cannot be published
// because the state was reset concurrently is retried against a fresh
// snapshot. Nodes that already hold an outcome return it unchanged.
func (n *ComponentNode) PerformValidation(ctx context.Context) ValidationStatus {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ComponentNode.PerformValidation")
	defer span.End()
	span.SetAttributes(attribute.String("component.id", n.id))

	start := time.Now()
	for attempt := 1; ; attempt++ {
		current := n.state.Load()
		if current.Status() != StatusValidating {
			span.SetAttributes(attribute.String("validation.status", string(current.Status())))
			return current.Status()
		}

		vctx := n.snapshot()
		results := n.validate(ctx, vctx)
		if err := ctx.Err(); err != nil {
			// an interrupted pass is not an outcome
			n.logger.Debug().Err(err).Msg("Validation pass interrupted, discarding results")
			span.SetStatus(codes.Error, err.Error())
			return current.Status()
		}

		status := StatusValid
		if len(results) > 0 {
			status = StatusInvalid
		}
		next := NewValidationState(status, results)
		if !n.state.CompareAndSwap(current, next) {
			n.logger.Debug().Int("attempt", attempt).Msg("Validation state changed during validation, retrying")
			continue
		}

		duration := time.Since(start)
		span.SetAttributes(
			attribute.String("validation.status", string(status)),
			attribute.Int("validation.results", len(next.results)),
			attribute.Int("validation.attempts", attempt),
		)
		if status == StatusInvalid {
			span.SetStatus(codes.Error, "component is invalid")
		}
		n.observer.ValidationCompleted(n.id, status, len(next.results), duration)
		n.logger.Debug().
			Str("status", string(status)).
			Int("results", len(next.results)).
			Dur("duration", duration).
			Msg("Validation completed")
		return status
	}
}

func (n *ComponentNode) validate(ctx context.Context, vctx *ValidationContext) []ValidationResult {
	if results := n.validateParameterReferences(vctx); len(results) > 0 {
		return results
	}

	var results []ValidationResult
	err := n.runChecks(ctx, vctx, &results)
	if err == nil {
		return results
	}

	var disabled *ServiceDisabledError
	if errors.As(err, &disabled) {
		return append(results, ValidationResult{
			Subject:     disabled.ServiceID,
			Input:       disabled.ServiceID,
			Explanation: fmt.Sprintf("controller service %s is disabled", disabled.ServiceID),
			Kind:        ResultServiceDisabled,
		})
	}
	n.logger.Debug().Err(err).Msg("Failed to perform validation")
	return append(results, InvalidResult(n.name, "", "failed to perform validation: "+err.Error()))
}

// runChecks runs the structural and service-reference checks. Panics are
// converted to errors.
func (n *ComponentNode) runChecks(ctx context.Context, vctx *ValidationContext, results *[]ValidationResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Interface("panic", r).Msg("Component panicked during validation")
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	delegated, err := n.component.Validate(ctx, vctx)
	if err != nil {
		return err
	}
	for _, r := range delegated {
		if !r.Valid {
			if r.Kind == "" {
				r.Kind = ResultInvalid
			}
			*results = append(*results, r)
		}
	}
	*results = append(*results, validateDescriptors(vctx)...)

	services, err := n.validateServiceReferences(vctx)
	*results = append(*results, services...)
	return err
}

// validateParameterReferences checks that every parameter substituted into a
// relevant property resolves with matching sensitivity.
func (n *ComponentNode) validateParameterReferences(vctx *ValidationContext) []ValidationResult {
	lookup := vctx.ParameterLookup()
	var results []ValidationResult
	for _, name := range vctx.ConfiguredProperties() {
		desc := vctx.Descriptor(name)
		if !vctx.IsDependencySatisfied(desc) {
			continue
		}
		names := vctx.ReferencedParameters(name)
		if len(names) == 0 {
			continue
		}
		raw, _ := vctx.RawValue(name)
		if lookup == nil {
			results = append(results, InvalidResult(name, raw,
				"property references parameters but no parameter context is assigned"))
			continue
		}
		for _, p := range names {
			param, ok := lookup.Parameter(p)
			switch {
			case !ok:
				results = append(results, InvalidResult(name, raw,
					fmt.Sprintf("property references parameter '%s' which is not defined", p)))
			case desc.Sensitive && !param.Sensitive:
				results = append(results, InvalidResult(name, raw,
					fmt.Sprintf("sensitive property references non-sensitive parameter '%s'", p)))
			case !desc.Sensitive && param.Sensitive:
				results = append(results, InvalidResult(name, raw,
					fmt.Sprintf("non-sensitive property references sensitive parameter '%s'", p)))
			}
		}
	}
	return results
}

// validateDescriptors applies the descriptor-level rules every component
// shares: required values and allowable values.
func validateDescriptors(vctx *ValidationContext) []ValidationResult {
	var results []ValidationResult
	for _, desc := range vctx.Descriptors() {
		if !vctx.IsDependencySatisfied(desc) {
			continue
		}
		value := vctx.Property(desc.Name)
		if value == nil {
			if desc.Required {
				results = append(results, InvalidResult(desc.Name, "", "property is required"))
			}
			continue
		}
		if !desc.IsAllowed(*value) {
			results = append(results, InvalidResult(desc.Name, displayValue(desc, *value),
				fmt.Sprintf("value must be one of [%s]", strings.Join(desc.AllowableValues, ", "))))
		}
	}
	return results
}

func (n *ComponentNode) validateServiceReferences(vctx *ValidationContext) ([]ValidationResult, error) {
	var results []ValidationResult
	for _, desc := range vctx.Descriptors() {
		if !desc.IdentifiesControllerService() || !vctx.IsDependencySatisfied(desc) {
			continue
		}
		value := vctx.Property(desc.Name)
		if value == nil {
			continue
		}
		id := *value

		var svc ServiceNode
		ok := false
		if n.services != nil {
			svc, ok = n.services.ControllerServiceNode(id)
		}
		if !ok {
			results = append(results, InvalidResult(desc.Name, id,
				fmt.Sprintf("'%s' is not a known controller service identifier", id)))
			continue
		}

		compatible, err := n.resolver.IsCompatible(*desc.ServiceAPI, svc.TypeName(), svc.BundleCoordinate())
		if err != nil {
			return results, fmt.Errorf("failed to resolve controller service %s for property %s: %w", id, desc.Name, err)
		}
		if !compatible {
			results = append(results, InvalidResult(desc.Name, id,
				fmt.Sprintf("controller service %s of type %s from bundle %s is not compatible with %s",
					id, svc.TypeName(), svc.BundleCoordinate(), desc.ServiceAPI)))
			continue
		}

		switch svc.State() {
		case ServiceDisabled, ServiceDisabling:
			results = append(results, ValidationResult{
				Subject:     desc.Name,
				Input:       id,
				Explanation: fmt.Sprintf("controller service %s is disabled", id),
				Kind:        ResultServiceDisabled,
			})
		case ServiceEnabling:
			results = append(results, ValidationResult{
				Subject:     desc.Name,
				Input:       id,
				Explanation: fmt.Sprintf("controller service %s is enabling", id),
				Kind:        ResultServiceEnabling,
			})
		}
	}
	return results, nil
}

// OnParametersModified propagates parameter updates to the configured
// properties. Properties whose effective value did not actually change are
// left alone; if any did change, the component is notified and the
// validation state is reset. A referenced parameter that switched between
// sensitive and non-sensitive also resets the validation state.
func (n *ComponentNode) OnParametersModified(updated map[string]parameter.Update) {
	n.mu.Lock()
	if n.refs.IsEmpty() || len(updated) == 0 {
		n.mu.Unlock()
		return
	}

	current := n.parameterLookup()
	previous := parameter.NewPreviousValueLookup(current, updated)

	var modified []propertyModification
	reload := false
	sensitivityChanged := false
	for _, name := range sortedKeys(n.properties) {
		entry := n.properties[name]
		affected := false
		for _, p := range entry.config.ReferencedNames() {
			if _, ok := updated[p]; ok {
				affected = true
				break
			}
		}
		if !affected {
			continue
		}

		if referencesSensitivityChange(entry.config.ReferencedNames(), updated, current) {
			sensitivityChanged = true
		}

		oldValue := effectiveValue(entry.config, previous)
		newValue := effectiveValue(entry.config, current)
		if stringsEqual(oldValue, newValue) {
			continue
		}

		if entry.descriptor.IdentifiesControllerService() {
			n.rewireServiceLocked(oldValue, newValue)
		}
		if entry.descriptor.DynamicClasspathModifier {
			reload = true
		}
		modified = append(modified, propertyModification{descriptor: entry.descriptor, oldValue: oldValue, newValue: newValue})
	}

	if len(modified) > 0 {
		if reload {
			n.reloadClasspathLocked(context.Background())
		}
		n.observer.ParametersPropagated(n.id, len(modified))
		n.logger.Debug().Int("changed", len(modified)).Msg("Parameter updates changed effective property values")
	}
	if sensitivityChanged {
		n.logger.Debug().Msg("Referenced parameter changed sensitivity")
	}
	n.mu.Unlock()

	if len(modified) == 0 && !sensitivityChanged {
		return
	}
	for _, m := range modified {
		n.notifyPropertyModified(m)
	}
	n.ResetValidationState()
}

// referencesSensitivityChange reports whether one of names was defined before
// the update and is now defined with a different sensitivity.
func referencesSensitivityChange(names []string, updated map[string]parameter.Update, current parameter.Lookup) bool {
	if current == nil {
		return false
	}
	for _, name := range names {
		u, ok := updated[name]
		if !ok || !u.Defined {
			continue
		}
		if p, ok := current.Parameter(name); ok && p.Sensitive != u.PreviousSensitive {
			return true
		}
	}
	return false
}

func displayValue(desc *PropertyDescriptor, value string) string {
	if desc.Sensitive {
		return "********"
	}
	return value
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
