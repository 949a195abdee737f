package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ValidationScheduler is a ValidationTrigger backed by a bounded pool of
// workers. Requests for a node that is already queued are coalesced into the
// pending request.
type ValidationScheduler struct {
	// maxParallel is the maximum number of concurrent validation passes
	maxParallel int

	// timeout bounds a single validation pass
	timeout time.Duration

	observer Observer
	logger   zerolog.Logger

	// mu protects pending and order
	mu      sync.Mutex
	pending map[string]Validatable
	order   []string

	// wake signals idle workers that work was queued
	wake chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewValidationScheduler creates a new validation scheduler.
func NewValidationScheduler(maxParallel int, timeout time.Duration, observer Observer, logger zerolog.Logger) *ValidationScheduler {
	if maxParallel <= 0 {
		maxParallel = 4 // Default to 4 concurrent workers
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &ValidationScheduler{
		maxParallel: maxParallel,
		timeout:     timeout,
		observer:    observer,
		logger:      logger.With().Str("component", "validation-scheduler").Logger(),
		pending:     make(map[string]Validatable),
		wake:        make(chan struct{}, 1),
	}
}

// Start launches the workers. Requests queued before Start are processed once
// the workers run.
func (s *ValidationScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.maxParallel; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.signal()
	s.logger.Debug().Int("workers", s.maxParallel).Msg("Validation scheduler started")
}

// Stop cancels the workers and waits for in-flight passes to return.
func (s *ValidationScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// TriggerAsync queues a validation pass for v. It never blocks.
func (s *ValidationScheduler) TriggerAsync(v Validatable) {
	s.mu.Lock()
	id := v.ID()
	if _, queued := s.pending[id]; !queued {
		s.order = append(s.order, id)
	}
	s.pending[id] = v
	depth := len(s.order)
	s.mu.Unlock()

	s.observer.ValidationQueueDepth(depth)
	s.signal()
}

// Pending returns the number of queued requests.
func (s *ValidationScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *ValidationScheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *ValidationScheduler) next() (Validatable, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return nil, 0
	}
	id := s.order[0]
	s.order = s.order[1:]
	v := s.pending[id]
	delete(s.pending, id)
	return v, len(s.order)
}

func (s *ValidationScheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		v, remaining := s.next()
		if v == nil {
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		s.observer.ValidationQueueDepth(remaining)
		if remaining > 0 {
			// let another idle worker pick up the rest
			s.signal()
		}
		s.run(ctx, v)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *ValidationScheduler) run(ctx context.Context, v Validatable) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("component_id", v.ID()).Interface("panic", r).Msg("Validation pass panicked")
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	status := v.PerformValidation(ctx)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && status == StatusValidating {
		s.logger.Warn().Str("component_id", v.ID()).Dur("timeout", s.timeout).Msg("Validation pass timed out, component stays VALIDATING")
		return
	}
	s.logger.Debug().Str("component_id", v.ID()).Str("status", string(status)).Msg("Validation pass finished")
}
