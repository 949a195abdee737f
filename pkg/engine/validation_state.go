package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ValidationStatus is the status of a component's validation state machine.
type ValidationStatus string

const (
	// StatusValidating is the initial status and the status after every reset.
	StatusValidating ValidationStatus = "VALIDATING"

	// StatusValid indicates the last validation pass produced no results.
	StatusValid ValidationStatus = "VALID"

	// StatusInvalid indicates the last validation pass produced at least one result.
	StatusInvalid ValidationStatus = "INVALID"
)

// IsTerminal returns true if the status is the outcome of a validation pass.
func (s ValidationStatus) IsTerminal() bool {
	return s == StatusValid || s == StatusInvalid
}

// ResultKind distinguishes recoverable service conditions from generic failures.
type ResultKind string

const (
	// ResultInvalid is a generic validation failure.
	ResultInvalid ResultKind = "invalid"

	// ResultServiceDisabled indicates a referenced controller service is disabled.
	ResultServiceDisabled ResultKind = "service_disabled"

	// ResultServiceEnabling indicates a referenced controller service is still enabling.
	ResultServiceEnabling ResultKind = "service_enabling"
)

// ValidationResult is a single outcome of a validation check.
type ValidationResult struct {
	// Subject is what was validated, usually a property name.
	Subject string `json:"subject"`

	// Input is the value that was validated.
	Input string `json:"input,omitempty"`

	// Explanation describes the failure.
	Explanation string `json:"explanation"`

	// Valid is true for passing results. Only failing results are retained
	// in a ValidationState.
	Valid bool `json:"valid"`

	// Kind classifies failing results.
	Kind ResultKind `json:"kind,omitempty"`
}

func (r ValidationResult) String() string {
	if r.Valid {
		return fmt.Sprintf("'%s' is valid", r.Subject)
	}
	if r.Input != "" {
		return fmt.Sprintf("'%s' validated against '%s' is invalid because %s", r.Subject, r.Input, r.Explanation)
	}
	return fmt.Sprintf("'%s' is invalid because %s", r.Subject, r.Explanation)
}

// InvalidResult creates a generic failing result.
func InvalidResult(subject, input, explanation string) ValidationResult {
	return ValidationResult{Subject: subject, Input: input, Explanation: explanation, Kind: ResultInvalid}
}

// ValidationState is an immutable status plus its ordered results.
type ValidationState struct {
	status  ValidationStatus
	results []ValidationResult
}

// NewValidationState creates a state. Passing results are dropped.
func NewValidationState(status ValidationStatus, results []ValidationResult) *ValidationState {
	s := &ValidationState{status: status}
	for _, r := range results {
		if !r.Valid {
			s.results = append(s.results, r)
		}
	}
	return s
}

// Status returns the validation status.
func (s *ValidationState) Status() ValidationStatus {
	return s.status
}

// Results returns a copy of the failing results.
func (s *ValidationState) Results() []ValidationResult {
	return append([]ValidationResult(nil), s.results...)
}

// stateHolder swaps ValidationStates atomically and wakes every waiter on each
// successful replacement.
type stateHolder struct {
	state atomic.Pointer[ValidationState]

	mu      sync.Mutex
	changed chan struct{}
}

func newStateHolder(initial *ValidationState) *stateHolder {
	h := &stateHolder{changed: make(chan struct{})}
	h.state.Store(initial)
	return h
}

func (h *stateHolder) Load() *ValidationState {
	return h.state.Load()
}

func (h *stateHolder) Store(s *ValidationState) {
	h.state.Store(s)
	h.broadcast()
}

func (h *stateHolder) CompareAndSwap(old, next *ValidationState) bool {
	if !h.state.CompareAndSwap(old, next) {
		return false
	}
	h.broadcast()
	return true
}

func (h *stateHolder) broadcast() {
	h.mu.Lock()
	close(h.changed)
	h.changed = make(chan struct{})
	h.mu.Unlock()
}

func (h *stateHolder) notify() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changed
}

// Await blocks until the status leaves VALIDATING, the timeout elapses or ctx
// is done, and returns the best-known state. A non-positive timeout does not block.
func (h *stateHolder) Await(ctx context.Context, timeout time.Duration) (*ValidationState, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		// the channel must be taken before the state is read so no swap is missed
		changed := h.notify()
		s := h.Load()
		if s.Status() != StatusValidating || timeout <= 0 {
			return s, nil
		}
		select {
		case <-changed:
		case <-expired:
			return h.Load(), nil
		case <-ctx.Done():
			return h.Load(), ctx.Err()
		}
	}
}
