package commands

import (
	"context"
	"sync"
	"time"

	"github.com/openfroyo/compconf/pkg/config"
	"github.com/openfroyo/compconf/pkg/engine"
	"github.com/openfroyo/compconf/pkg/stores"
	"github.com/openfroyo/compconf/pkg/telemetry"
)

// validationLog forwards engine activity to telemetry and remembers how long
// the latest pass of each component took. When completed is non-nil the id of
// every finished component is offered to it without blocking.
type validationLog struct {
	*telemetry.Telemetry

	mu        sync.Mutex
	durations map[string]time.Duration
	completed chan string
}

func newValidationLog(tel *telemetry.Telemetry, buffer int) *validationLog {
	l := &validationLog{Telemetry: tel, durations: make(map[string]time.Duration)}
	if buffer > 0 {
		l.completed = make(chan string, buffer)
	}
	return l
}

func (l *validationLog) ValidationCompleted(componentID string, status engine.ValidationStatus, results int, duration time.Duration) {
	l.Telemetry.ValidationCompleted(componentID, status, results, duration)

	l.mu.Lock()
	l.durations[componentID] = duration
	l.mu.Unlock()

	if l.completed == nil {
		return
	}
	select {
	case l.completed <- componentID:
	default:
		l.Logger.WithComponentID(componentID).Warn("Validation log is full, dropping completion")
	}
}

func (l *validationLog) duration(componentID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.durations[componentID]
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// historyRecorder writes validation outcomes of an environment to a store.
type historyRecorder struct {
	store stores.Store
	env   *config.Environment
	log   *validationLog
}

func (h *historyRecorder) record(ctx context.Context, componentID string, status engine.ValidationStatus, results []engine.ValidationResult) error {
	node, ok := h.env.Node(componentID)
	if !ok {
		return engine.NewNotFoundError("component not found: "+componentID, nil).WithResource(componentID)
	}
	definition := h.env.Definition.Name

	component, err := stores.ComponentSnapshot(definition, node, status)
	if err != nil {
		return err
	}
	if err := h.store.UpsertComponent(ctx, component); err != nil {
		return err
	}

	record, err := stores.NewValidationRecord(definition, componentID, status, results, h.log.duration(componentID))
	if err != nil {
		return err
	}
	return h.store.RecordValidation(ctx, record)
}

func (h *historyRecorder) recordReports(ctx context.Context, reports []config.Report) error {
	for _, r := range reports {
		if r.Status == engine.StatusValidating {
			continue
		}
		if err := h.record(ctx, r.ComponentID, r.Status, r.Results); err != nil {
			return err
		}
	}
	return nil
}
