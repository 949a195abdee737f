package service

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/compconf/pkg/bundle"
	"github.com/openfroyo/compconf/pkg/engine"
)

var implCoord = bundle.Coordinate{Group: "org.example", Artifact: "http-impl", Version: "1.0.0"}

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	bundles := bundle.NewRegistry()
	err := bundles.Add(&bundle.Bundle{
		Coordinate: implCoord,
		Types:      map[string]bundle.TypeInfo{"StandardHttpService": {Name: "StandardHttpService"}},
	})
	if err != nil {
		t.Fatalf("failed to add bundle: %v", err)
	}
	return NewRegistry(bundles, zerolog.Nop())
}

type transition struct {
	id       string
	from, to engine.ServiceState
}

type transitionRecorder struct {
	mu   sync.Mutex
	seen []transition
}

func (r *transitionRecorder) record(id string, from, to engine.ServiceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, transition{id: id, from: from, to: to})
}

func TestRegistry_Create(t *testing.T) {
	r := setupTestRegistry(t)

	n, err := r.Create("svc-1", "StandardHttpService", implCoord)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if n.State() != engine.ServiceDisabled {
		t.Errorf("new service state = %s, want DISABLED", n.State())
	}

	tests := []struct {
		name     string
		id       string
		typeName string
		coord    bundle.Coordinate
		check    func(error) bool
	}{
		{name: "duplicate", id: "svc-1", typeName: "StandardHttpService", coord: implCoord, check: engine.IsConflict},
		{name: "unknown bundle", id: "svc-2", typeName: "StandardHttpService", coord: bundle.Coordinate{Group: "x", Artifact: "y", Version: "1.0.0"}, check: engine.IsNotFound},
		{name: "unknown type", id: "svc-2", typeName: "Missing", coord: implCoord, check: engine.IsNotFound},
		{name: "empty id", typeName: "StandardHttpService", coord: implCoord, check: engine.IsInvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(tt.id, tt.typeName, tt.coord)
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}

	if svc, ok := r.ControllerServiceNode("svc-1"); !ok || svc.TypeName() != "StandardHttpService" {
		t.Errorf("ControllerServiceNode() = %v, %v", svc, ok)
	}
	if _, ok := r.ControllerServiceNode("missing"); ok {
		t.Error("unknown service must not be found")
	}
}

func TestNode_Lifecycle(t *testing.T) {
	r := setupTestRegistry(t)
	rec := &transitionRecorder{}
	r.Subscribe(rec.record)
	n, err := r.Create("svc-1", "StandardHttpService", implCoord)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := n.CompleteEnable(ctx); engine.ErrorCode(err) != engine.ErrCodeInvalidStateTransition {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	steps := []struct {
		do   func(context.Context) error
		want engine.ServiceState
	}{
		{n.Enable, engine.ServiceEnabling},
		{n.CompleteEnable, engine.ServiceEnabled},
		{n.Disable, engine.ServiceDisabling},
		{n.CompleteDisable, engine.ServiceDisabled},
		{n.Enable, engine.ServiceEnabling},
		{n.Disable, engine.ServiceDisabling},
	}
	for i, s := range steps {
		if err := s.do(ctx); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if n.State() != s.want {
			t.Fatalf("step %d: state = %s, want %s", i, n.State(), s.want)
		}
	}

	if len(rec.seen) != len(steps) {
		t.Fatalf("listener saw %d transitions, want %d", len(rec.seen), len(steps))
	}
	first := rec.seen[0]
	if first.id != "svc-1" || first.from != engine.ServiceDisabled || first.to != engine.ServiceEnabling {
		t.Errorf("unexpected first transition %+v", first)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := n.CompleteDisable(cancelled); err == nil {
		t.Error("cancelled context must be rejected")
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := setupTestRegistry(t)
	n, err := r.Create("svc-1", "StandardHttpService", implCoord)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	n.AddReference("comp-b")
	n.AddReference("comp-a")
	if got := n.References(); len(got) != 2 || got[0] != "comp-a" {
		t.Fatalf("References() = %v", got)
	}
	if err := r.Remove("svc-1"); engine.ErrorCode(err) != engine.ErrCodeServiceReferenced {
		t.Fatalf("expected %s, got %v", engine.ErrCodeServiceReferenced, err)
	}

	n.RemoveReference("comp-a")
	n.RemoveReference("comp-b")
	if n.IsReferenced() {
		t.Fatal("service must be unreferenced")
	}

	if err := n.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("svc-1"); engine.ErrorCode(err) != engine.ErrCodeInvalidStateTransition {
		t.Fatalf("expected %s, got %v", engine.ErrCodeInvalidStateTransition, err)
	}
	if err := n.Disable(ctx); err != nil {
		t.Fatal(err)
	}
	if err := n.CompleteDisable(ctx); err != nil {
		t.Fatal(err)
	}

	if err := r.Remove("svc-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := r.Remove("svc-1"); !engine.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(r.List()) != 0 {
		t.Error("registry must be empty")
	}
}

func TestNode_Properties(t *testing.T) {
	n := NewNode("svc-1", "StandardHttpService", implCoord, zerolog.Nop())
	props := map[string]string{"timeout": "5s"}
	n.SetProperties(props)
	props["timeout"] = "changed"

	got := n.Properties()
	if got["timeout"] != "5s" {
		t.Errorf("Properties() = %v", got)
	}
}

func TestRegistry_ServesResolver(t *testing.T) {
	r := setupTestRegistry(t)
	resolver := bundle.NewResolver(r, zerolog.Nop())
	ok, err := resolver.IsCompatible(bundle.ServiceAPI{Type: bundle.AnyServiceType}, "StandardHttpService", implCoord)
	if err != nil || !ok {
		t.Fatalf("IsCompatible() = %v, %v", ok, err)
	}
}
