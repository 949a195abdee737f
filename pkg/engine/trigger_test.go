package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingValidatable struct {
	id    string
	calls atomic.Int32
	block chan struct{}
}

func (v *countingValidatable) ID() string { return v.id }

func (v *countingValidatable) PerformValidation(ctx context.Context) ValidationStatus {
	v.calls.Add(1)
	if v.block != nil {
		<-v.block
	}
	return StatusValid
}

type depthObserver struct {
	NopObserver
	mu     sync.Mutex
	depths []int
}

func (o *depthObserver) ValidationQueueDepth(depth int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depths = append(o.depths, depth)
}

func (o *depthObserver) max() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := 0
	for _, d := range o.depths {
		if d > m {
			m = d
		}
	}
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestValidationScheduler_CoalescesQueuedRequests(t *testing.T) {
	observer := &depthObserver{}
	s := NewValidationScheduler(2, time.Second, observer, zerolog.Nop())

	a := &countingValidatable{id: "a"}
	b := &countingValidatable{id: "b"}
	for i := 0; i < 5; i++ {
		s.TriggerAsync(a)
	}
	s.TriggerAsync(b)

	if got := s.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}
	if got := observer.max(); got != 2 {
		t.Errorf("max queue depth = %d, want 2", got)
	}

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return a.calls.Load() == 1 && b.calls.Load() == 1 })
	waitFor(t, func() bool { return s.Pending() == 0 })
}

func TestValidationScheduler_RequeuesWhileRunning(t *testing.T) {
	s := NewValidationScheduler(1, 0, nil, zerolog.Nop())
	s.Start(context.Background())
	defer s.Stop()

	v := &countingValidatable{id: "a", block: make(chan struct{})}
	s.TriggerAsync(v)
	waitFor(t, func() bool { return v.calls.Load() == 1 })

	// a request arriving during a pass is queued for another pass
	s.TriggerAsync(v)
	close(v.block)
	waitFor(t, func() bool { return v.calls.Load() == 2 })
}

func TestValidationScheduler_DrivesNodesToOutcome(t *testing.T) {
	s := NewValidationScheduler(4, time.Second, nil, zerolog.Nop())
	s.Start(context.Background())
	defer s.Stop()

	comp := newMockComponent(&PropertyDescriptor{Name: "a", Required: true})
	n := newTestNode(t, NodeConfig{Component: comp, Trigger: s})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				n.ResetValidationState()
			}
		}()
	}
	wg.Wait()

	status, err := n.ValidationStatus(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusInvalid {
		t.Fatalf("status = %s, want INVALID", status)
	}
}

func TestValidationScheduler_RecoversPanics(t *testing.T) {
	s := NewValidationScheduler(1, 0, nil, zerolog.Nop())
	s.Start(context.Background())
	defer s.Stop()

	s.TriggerAsync(panicValidatable{})
	v := &countingValidatable{id: "after"}
	s.TriggerAsync(v)
	waitFor(t, func() bool { return v.calls.Load() == 1 })
}

type panicValidatable struct{}

func (panicValidatable) ID() string { return "panic" }

func (panicValidatable) PerformValidation(context.Context) ValidationStatus {
	panic("validation exploded")
}

func TestValidationScheduler_TimedOutPassLeavesNodeValidating(t *testing.T) {
	s := NewValidationScheduler(1, 20*time.Millisecond, nil, zerolog.Nop())
	s.Start(context.Background())
	defer s.Stop()

	comp := newMockComponent(&PropertyDescriptor{Name: "a"})
	comp.validateFn = func(ctx context.Context, vctx *ValidationContext) ([]ValidationResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	n := newTestNode(t, NodeConfig{Component: comp, Trigger: s})
	n.ResetValidationState()

	waitFor(t, func() bool { return comp.validations() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if state := n.ValidationState(); state.Status() != StatusValidating || len(state.Results()) != 0 {
		t.Fatalf("state = %s %v, want VALIDATING without results", state.Status(), state.Results())
	}

	comp.mu.Lock()
	comp.validateFn = nil
	comp.mu.Unlock()
	n.ResetValidationState()
	status, err := n.ValidationStatus(context.Background(), 5*time.Second)
	if err != nil || status != StatusValid {
		t.Errorf("ValidationStatus() = %s, %v; want VALID", status, err)
	}
}
