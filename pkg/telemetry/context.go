package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/compconf/pkg/engine"
)

// Telemetry bundles logging, tracing, metrics and events. It implements
// engine.Observer so nodes and schedulers report into all of them.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

var _ engine.Observer = (*Telemetry)(nil)

type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return newTelemetry(cfg, logger)
}

// NewTelemetryWithLogger creates a telemetry instance around an existing logger.
func NewTelemetryWithLogger(cfg *Config, logger *Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context, nil if absent.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes events and spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}
	return t.Logger.Close()
}

// ValidationCompleted implements engine.Observer.
func (t *Telemetry) ValidationCompleted(componentID string, status engine.ValidationStatus, results int, duration time.Duration) {
	t.Metrics.RecordValidation(componentID, status, results, duration)

	level := EventLevelInfo
	if status == engine.StatusInvalid {
		level = EventLevelWarning
	}
	_ = t.Events.Publish(Event{
		Type:        EventTypeValidationCompleted,
		Source:      "engine",
		ComponentID: componentID,
		Message:     fmt.Sprintf("Component %s is %s", componentID, status),
		Level:       level,
		Data: map[string]interface{}{
			"status":   string(status),
			"results":  results,
			"duration": duration.Seconds(),
		},
	})
}

// PropertiesUpdated implements engine.Observer.
func (t *Telemetry) PropertiesUpdated(componentID string, changed int) {
	t.Metrics.RecordPropertyUpdates(componentID, changed)
	_ = t.Events.Publish(Event{
		Type:        EventTypePropertiesUpdated,
		Source:      "engine",
		ComponentID: componentID,
		Message:     fmt.Sprintf("%d properties of component %s changed", changed, componentID),
		Level:       EventLevelInfo,
		Data:        map[string]interface{}{"changed": changed},
	})
}

// ParametersPropagated implements engine.Observer.
func (t *Telemetry) ParametersPropagated(componentID string, changed int) {
	t.Metrics.RecordParameterPropagation(componentID, changed)
	_ = t.Events.Publish(Event{
		Type:        EventTypeParametersPropagated,
		Source:      "parameters",
		ComponentID: componentID,
		Message:     fmt.Sprintf("Parameter updates changed %d properties of component %s", changed, componentID),
		Level:       EventLevelInfo,
		Data:        map[string]interface{}{"changed": changed},
	})
}

// ClasspathReloaded implements engine.Observer.
func (t *Telemetry) ClasspathReloaded(componentID string, err error) {
	t.Metrics.RecordClasspathReload(err)
	event := Event{
		Type:        EventTypeClasspathReloaded,
		Source:      "classpath",
		ComponentID: componentID,
		Message:     fmt.Sprintf("Reloaded classpath of component %s", componentID),
		Level:       EventLevelInfo,
	}
	if err != nil {
		event.Message = fmt.Sprintf("Failed to reload classpath of component %s: %v", componentID, err)
		event.Level = EventLevelError
	}
	_ = t.Events.Publish(event)
}

// ValidationQueueDepth implements engine.Observer.
func (t *Telemetry) ValidationQueueDepth(depth int) {
	t.Metrics.SetQueueDepth(depth)
}

// ServiceStateChanged records a controller service transition. Its signature
// matches service.StateListener.
func (t *Telemetry) ServiceStateChanged(serviceID string, from, to engine.ServiceState) {
	t.Metrics.RecordServiceTransition(to)
	_ = t.Events.Publish(Event{
		Type:      EventTypeServiceStateChanged,
		Source:    "services",
		ServiceID: serviceID,
		Message:   fmt.Sprintf("Controller service %s changed from %s to %s", serviceID, from, to),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		},
	})
}

// InstrumentedContext carries the span and logger of an operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	start  time.Time
}

// StartOperation begins a traced and logged operation using the telemetry in ctx.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Span:   trace.SpanFromContext(ctx),
			Logger: FromContext(ctx),
			start:  time.Now(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	logger := tel.Logger.WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", span.SpanContext().TraceID().String())
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		start:  time.Now(),
	}
}

// Duration returns the time elapsed since the operation started.
func (ic *InstrumentedContext) Duration() time.Duration {
	return time.Since(ic.start)
}

// End finishes the operation, recording err on the span and in the metrics.
func (ic *InstrumentedContext) End(err error) {
	if err != nil {
		if tel := FromTelemetryContext(ic.Ctx); tel != nil {
			tel.Metrics.RecordError(err)
		}
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}
