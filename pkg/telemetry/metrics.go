package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/compconf/pkg/engine"
)

// Metrics provides Prometheus metrics for the validation engine. A disabled
// instance ignores every recording.
type Metrics struct {
	config MetricsConfig

	// Validation metrics
	validations        *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	validationResults  *prometheus.CounterVec
	componentStatus    *prometheus.GaugeVec

	// Configuration change metrics
	propertyUpdates       *prometheus.CounterVec
	parameterPropagations *prometheus.CounterVec
	classpathReloads      *prometheus.CounterVec
	serviceTransitions    *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	queueDepth prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Total number of completed validation passes",
			},
			[]string{"status"},
		),
		validationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "validation_duration_seconds",
				Help:      "Duration of validation passes in seconds, including retries",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		validationResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_results_total",
				Help:      "Total number of failing validation results",
			},
			[]string{"status"},
		),
		componentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "component_validation_status",
				Help:      "Latest validation status per component (1 for the current status)",
			},
			[]string{"component_id", "status"},
		),

		propertyUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "property_updates_total",
				Help:      "Total number of property values changed through SetProperties",
			},
			[]string{"component_id"},
		),
		parameterPropagations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parameter_propagations_total",
				Help:      "Total number of effective property values changed by parameter updates",
			},
			[]string{"component_id"},
		),
		classpathReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classpath_reloads_total",
				Help:      "Total number of component classpath reloads",
			},
			[]string{"result"},
		),
		serviceTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_transitions_total",
				Help:      "Total number of controller service state transitions",
			},
			[]string{"to"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of rejected operations by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of rejected operations by error code",
			},
			[]string{"code"},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "validation_queue_depth",
				Help:      "Current number of queued validation requests",
			},
		),
	}

	registry.MustRegister(
		m.validations,
		m.validationDuration,
		m.validationResults,
		m.componentStatus,
		m.propertyUpdates,
		m.parameterPropagations,
		m.classpathReloads,
		m.serviceTransitions,
		m.errorsByClass,
		m.errorsByCode,
		m.queueDepth,
	)

	return m, nil
}

// RecordValidation records a completed validation pass.
func (m *Metrics) RecordValidation(componentID string, status engine.ValidationStatus, results int, duration time.Duration) {
	if m.validations == nil {
		return
	}
	s := string(status)
	m.validations.WithLabelValues(s).Inc()
	m.validationDuration.WithLabelValues(s).Observe(duration.Seconds())
	m.validationResults.WithLabelValues(s).Add(float64(results))

	for _, candidate := range []engine.ValidationStatus{engine.StatusValid, engine.StatusInvalid} {
		value := 0.0
		if candidate == status {
			value = 1.0
		}
		m.componentStatus.WithLabelValues(componentID, string(candidate)).Set(value)
	}
}

// ForgetComponent drops the per-component series of a removed component.
func (m *Metrics) ForgetComponent(componentID string) {
	if m.componentStatus == nil {
		return
	}
	m.componentStatus.DeletePartialMatch(prometheus.Labels{"component_id": componentID})
	m.propertyUpdates.DeleteLabelValues(componentID)
	m.parameterPropagations.DeleteLabelValues(componentID)
}

// RecordPropertyUpdates records changed property values.
func (m *Metrics) RecordPropertyUpdates(componentID string, changed int) {
	if m.propertyUpdates == nil {
		return
	}
	m.propertyUpdates.WithLabelValues(componentID).Add(float64(changed))
}

// RecordParameterPropagation records effective values changed by parameter updates.
func (m *Metrics) RecordParameterPropagation(componentID string, changed int) {
	if m.parameterPropagations == nil {
		return
	}
	m.parameterPropagations.WithLabelValues(componentID).Add(float64(changed))
}

// RecordClasspathReload records a classpath reload attempt.
func (m *Metrics) RecordClasspathReload(err error) {
	if m.classpathReloads == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.classpathReloads.WithLabelValues(result).Inc()
}

// RecordServiceTransition records a controller service state change.
func (m *Metrics) RecordServiceTransition(to engine.ServiceState) {
	if m.serviceTransitions == nil {
		return
	}
	m.serviceTransitions.WithLabelValues(string(to)).Inc()
}

// RecordError records a rejected operation by class and code.
func (m *Metrics) RecordError(err error) {
	if m.errorsByClass == nil || err == nil {
		return
	}
	var engineErr *engine.EngineError
	if !errors.As(err, &engineErr) {
		m.errorsByClass.WithLabelValues("unclassified").Inc()
		return
	}
	m.errorsByClass.WithLabelValues(string(engineErr.Class)).Inc()
	if engineErr.Code != "" {
		m.errorsByCode.WithLabelValues(engineErr.Code).Inc()
	}
}

// SetQueueDepth sets the number of queued validation requests.
func (m *Metrics) SetQueueDepth(depth int) {
	if m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics in the background. It returns nil when
// metrics are disabled; the caller shuts the returned server down.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) *http.Server {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()
	logger.Info().Str("address", m.config.ListenAddress).Str("path", path).Msg("Metrics server started")
	return server
}
