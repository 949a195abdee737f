// Package telemetry provides observability for the configuration engine.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and an event publisher behind a single Telemetry value. That
// value implements engine.Observer, so component nodes and the validation
// scheduler report into all four without knowing about any of them.
//
// # Usage
//
// Initialize telemetry at startup and hand it to the engine:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	node, err := engine.NewComponentNode(engine.NodeConfig{
//	    ...
//	    Observer: tel,
//	})
//
// Controller service transitions are recorded by subscribing the telemetry
// instance to the service registry:
//
//	services.Subscribe(tel.ServiceStateChanged)
//
// # Logging
//
// Loggers carry component-scoped fields:
//
//	logger := tel.Logger.NewComponentLogger("watcher")
//	logger.WithComponentID("http-client").Info("Properties updated")
//
// Packages that take a plain zerolog.Logger receive tel.Logger.Zerolog().
//
// # Tracing
//
// Tracing is disabled by default. When enabled, the tracer installs itself as
// the global OpenTelemetry provider, so spans started by the engine are
// exported through the configured exporter ("otlp", "stdout" or "none").
//
//	ctx, span := tel.Tracer.StartConfigureSpan(ctx, "http-client", 3)
//	defer span.End()
//
// # Metrics
//
// Key metrics exposed, prefixed with the configured namespace:
//
//   - validations_total{status}
//   - validation_duration_seconds{status}
//   - validation_results_total{status}
//   - component_validation_status{component_id,status}
//   - property_updates_total{component_id}
//   - parameter_propagations_total{component_id}
//   - classpath_reloads_total{result}
//   - service_transitions_total{to}
//   - errors_by_class_total{class}
//   - errors_by_code_total{code}
//   - validation_queue_depth
//
// Metrics are served over HTTP by Metrics.StartMetricsServer.
//
// # Events
//
// Every observer callback also publishes an Event. Subscribers may filter by
// level, type or component:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Message)
//	}, telemetry.FilterByType(telemetry.EventTypeValidationCompleted))
//
// # Shutdown
//
// Shutdown delivers buffered events and flushes pending spans. Call it with a
// bounded context.
package telemetry
