// Package engine holds the configuration of pluggable components and decides,
// asynchronously, whether that configuration is valid.
//
// # Overview
//
// A ComponentNode wraps one component instance. It owns the component's
// property values, resolves parameter references against the parameter
// context of its group, and tracks the controller services its properties
// point at. Every mutation resets the node's validation state to VALIDATING
// and schedules a validation pass through a ValidationTrigger:
//
//	SetProperties -> verify batch -> update properties and reference counts
//	              -> rewire services -> reload classpath -> reset + schedule
//
// # Property Rules
//
// Raw values may reference parameters as #{name}. SetProperties rejects the
// whole batch with an invalid configuration error when any update breaks a
// reference rule:
//
//   - A sensitive property references at most one parameter and the reference
//     must be the entire value.
//   - A sensitive property references only sensitive parameters, while a
//     non-sensitive property never references a sensitive one. Parameters
//     that are not defined yet are checked during validation instead.
//   - A property bound to a controller service API references no parameters.
//
// # Validation State Machine
//
// The state moves from VALIDATING to VALID or INVALID and only returns to
// VALIDATING through a reset. PerformValidation publishes its outcome with a
// compare-and-swap; if a reset happened while the pass was running, the pass
// is repeated against a fresh snapshot. ValidationStatus blocks callers until
// an outcome is published or their timeout elapses.
//
// A validation pass runs these checks in order:
//
//  1. Parameter references resolve with matching sensitivity. Failures here
//     end the pass.
//  2. The component's own rules, plus required and allowable values.
//  3. Controller service references exist, implement the declared API and
//     are enabled.
//
// # Parameter Propagation
//
// OnParametersModified recomputes the effective values of the properties
// that reference updated parameters and notifies the component only for
// values that actually changed.
//
// # Scheduling
//
// ValidationScheduler is a bounded worker pool implementing
// ValidationTrigger. Requests for a node that is already queued are
// coalesced.
package engine
