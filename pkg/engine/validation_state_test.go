package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewValidationState_DropsPassingResults(t *testing.T) {
	s := NewValidationState(StatusInvalid, []ValidationResult{
		{Subject: "a", Valid: true},
		InvalidResult("b", "x", "bad"),
	})
	results := s.Results()
	if len(results) != 1 || results[0].Subject != "b" {
		t.Fatalf("Results() = %v", results)
	}

	results[0].Subject = "mutated"
	if s.Results()[0].Subject != "b" {
		t.Error("Results() must return a copy")
	}
}

func TestValidationResult_String(t *testing.T) {
	tests := []struct {
		result ValidationResult
		want   string
	}{
		{ValidationResult{Subject: "a", Valid: true}, "'a' is valid"},
		{InvalidResult("a", "", "it is required"), "'a' is invalid because it is required"},
		{InvalidResult("a", "x", "x is odd"), "'a' validated against 'x' is invalid because x is odd"},
	}
	for _, tt := range tests {
		if got := tt.result.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestStateHolder_Await(t *testing.T) {
	validating := NewValidationState(StatusValidating, nil)
	valid := NewValidationState(StatusValid, nil)

	t.Run("terminal state returns immediately", func(t *testing.T) {
		h := newStateHolder(valid)
		s, err := h.Await(context.Background(), time.Hour)
		if err != nil || s != valid {
			t.Fatalf("Await() = %v, %v", s, err)
		}
	})

	t.Run("non-positive timeout does not block", func(t *testing.T) {
		h := newStateHolder(validating)
		s, err := h.Await(context.Background(), 0)
		if err != nil || s.Status() != StatusValidating {
			t.Fatalf("Await() = %v, %v", s, err)
		}
	})

	t.Run("wakes on swap", func(t *testing.T) {
		h := newStateHolder(validating)
		var wg sync.WaitGroup
		wg.Add(1)
		var got *ValidationState
		go func() {
			defer wg.Done()
			got, _ = h.Await(context.Background(), 5*time.Second)
		}()
		time.Sleep(10 * time.Millisecond)
		if !h.CompareAndSwap(validating, valid) {
			t.Fatal("CompareAndSwap() failed")
		}
		wg.Wait()
		if got != valid {
			t.Fatalf("Await() = %v, want valid state", got)
		}
	})

	t.Run("ignores reset to validating", func(t *testing.T) {
		h := newStateHolder(validating)
		go func() {
			time.Sleep(10 * time.Millisecond)
			h.Store(NewValidationState(StatusValidating, nil))
		}()
		s, err := h.Await(context.Background(), 50*time.Millisecond)
		if err != nil || s.Status() != StatusValidating {
			t.Fatalf("Await() = %v, %v", s, err)
		}
	})

	t.Run("stale compare and swap fails", func(t *testing.T) {
		h := newStateHolder(validating)
		h.Store(NewValidationState(StatusValidating, nil))
		if h.CompareAndSwap(validating, valid) {
			t.Fatal("CompareAndSwap() must fail against a replaced state")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		h := newStateHolder(validating)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		s, err := h.Await(ctx, time.Hour)
		if !errors.Is(err, context.DeadlineExceeded) || s.Status() != StatusValidating {
			t.Fatalf("Await() = %v, %v", s, err)
		}
	})
}

func TestPerformValidation_ConcurrentResets(t *testing.T) {
	comp := newMockComponent(&PropertyDescriptor{Name: "a"})
	comp.validateFn = func(context.Context, *ValidationContext) ([]ValidationResult, error) {
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	n := newTestNode(t, NodeConfig{Component: comp})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if (i+j)%3 == 0 {
					n.ResetValidationState()
					continue
				}
				if status := n.PerformValidation(context.Background()); !status.IsTerminal() {
					t.Errorf("PerformValidation() = %s, want a terminal status", status)
				}
			}
		}(i)
	}
	wg.Wait()

	if status := n.PerformValidation(context.Background()); status != StatusValid {
		t.Fatalf("final status = %s, want VALID", status)
	}
}
