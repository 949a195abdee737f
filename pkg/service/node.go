// Package service manages controller services: shared, identified service
// instances that component properties reference by identifier. Each service
// runs a small lifecycle state machine and tracks the components referencing
// it.
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/openfroyo/compconf/pkg/bundle"
	"github.com/openfroyo/compconf/pkg/engine"
)

// Lifecycle events.
const (
	EventEnable      = "enable"
	EventEnableDone  = "enable_done"
	EventDisable     = "disable"
	EventDisableDone = "disable_done"
)

// StateListener is notified after a service changed its lifecycle state.
type StateListener func(serviceID string, from, to engine.ServiceState)

// Node is a controller service instance.
type Node struct {
	id       string
	typeName string
	coord    bundle.Coordinate
	logger   zerolog.Logger

	fsm *fsm.FSM

	mu         sync.RWMutex
	properties map[string]string
	references map[string]struct{}
	onChange   StateListener
}

// NewNode creates a disabled service of the given implementation type.
func NewNode(id, typeName string, coord bundle.Coordinate, logger zerolog.Logger) *Node {
	n := &Node{
		id:         id,
		typeName:   typeName,
		coord:      coord,
		properties: make(map[string]string),
		references: make(map[string]struct{}),
		logger: logger.With().
			Str("component", "controller-service").
			Str("service_id", id).
			Logger(),
	}

	disabled := string(engine.ServiceDisabled)
	enabling := string(engine.ServiceEnabling)
	enabled := string(engine.ServiceEnabled)
	disabling := string(engine.ServiceDisabling)

	n.fsm = fsm.NewFSM(
		disabled,
		fsm.Events{
			{Name: EventEnable, Src: []string{disabled}, Dst: enabling},
			{Name: EventEnableDone, Src: []string{enabling}, Dst: enabled},
			{Name: EventDisable, Src: []string{enabling, enabled}, Dst: disabling},
			{Name: EventDisableDone, Src: []string{disabling}, Dst: disabled},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				from, to := engine.ServiceState(e.Src), engine.ServiceState(e.Dst)
				n.logger.Info().Str("from", e.Src).Str("to", e.Dst).Msg("Controller service changed state")
				n.mu.RLock()
				listener := n.onChange
				n.mu.RUnlock()
				if listener != nil {
					listener(n.id, from, to)
				}
			},
		},
	)
	return n
}

// ID returns the service identifier.
func (n *Node) ID() string { return n.id }

// TypeName returns the implementation type name.
func (n *Node) TypeName() string { return n.typeName }

// BundleCoordinate returns the bundle providing the implementation.
func (n *Node) BundleCoordinate() bundle.Coordinate { return n.coord }

// State returns the current lifecycle state.
func (n *Node) State() engine.ServiceState {
	return engine.ServiceState(n.fsm.Current())
}

// Enable starts activating the service. Activation completes with CompleteEnable.
func (n *Node) Enable(ctx context.Context) error {
	return n.send(ctx, EventEnable)
}

// CompleteEnable marks an enabling service as enabled.
func (n *Node) CompleteEnable(ctx context.Context) error {
	return n.send(ctx, EventEnableDone)
}

// Disable starts shutting the service down. Shutdown completes with CompleteDisable.
func (n *Node) Disable(ctx context.Context) error {
	return n.send(ctx, EventDisable)
}

// CompleteDisable marks a disabling service as disabled.
func (n *Node) CompleteDisable(ctx context.Context) error {
	return n.send(ctx, EventDisableDone)
}

func (n *Node) send(ctx context.Context, event string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.fsm.Event(ctx, event); err != nil {
		return engine.NewConflictError(
			fmt.Sprintf("cannot %s controller service %s in state %s", event, n.id, n.fsm.Current()), err).
			WithCode(engine.ErrCodeInvalidStateTransition).
			WithResource(n.id).
			WithOperation(event)
	}
	return nil
}

// AddReference records a referencing component.
func (n *Node) AddReference(componentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.references[componentID] = struct{}{}
}

// RemoveReference removes a referencing component.
func (n *Node) RemoveReference(componentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.references, componentID)
}

// References returns the referencing component identifiers in sorted order.
func (n *Node) References() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.references))
	for id := range n.references {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsReferenced reports whether any component references the service.
func (n *Node) IsReferenced() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.references) > 0
}

// SetProperties replaces the service's own configuration.
func (n *Node) SetProperties(props map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.properties = make(map[string]string, len(props))
	for k, v := range props {
		n.properties[k] = v
	}
}

// Properties returns a copy of the service's own configuration.
func (n *Node) Properties() map[string]string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]string, len(n.properties))
	for k, v := range n.properties {
		out[k] = v
	}
	return out
}

func (n *Node) setListener(l StateListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onChange = l
}
