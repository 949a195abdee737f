package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/compconf/pkg/engine"
	"github.com/openfroyo/compconf/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	telemetry.FromContext(ctx).Info("Engine started")

	// Output varies, no output specified
}

// Example_eventFiltering shows observer callbacks surfacing as events.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Message)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	tel.PropertiesUpdated("http-client", 2)
	tel.ValidationCompleted("http-client", engine.StatusInvalid, 1, 5*time.Millisecond)
	tel.ValidationCompleted("http-client", engine.StatusValid, 0, 3*time.Millisecond)

	// Output:
	// Component http-client is INVALID
}

// Example_instrumentedOperation demonstrates tracing a unit of work.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "none"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	op := telemetry.StartOperation(ctx, "component.configure",
		telemetry.AttrComponentID.String("http-client"),
		attribute.Int("properties", 3),
	)
	op.Logger.Info("Applying properties")
	op.End(nil)

	fmt.Println(telemetry.TraceID(op.Ctx) != "")
	// Output:
	// true
}
