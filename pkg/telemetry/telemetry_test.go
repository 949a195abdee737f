package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/compconf/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "production needs endpoint", mutate: func(c *Config) { *c = *ProductionConfig() }, wantErr: "endpoint"},
		{name: "production with endpoint", mutate: func(c *Config) {
			*c = *ProductionConfig()
			c.Tracing.Endpoint = "collector:4317"
		}},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "log format"},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: "trace exporter"},
		{name: "disabled tracing ignores exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }},
		{name: "sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: "sampling rate"},
		{name: "metrics address", mutate: func(c *Config) { c.Metrics.ListenAddress = "" }, wantErr: "listen address"},
		{name: "event buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: "buffer size"},
		{name: "event batch", mutate: func(c *Config) { c.Events.MaxBatchSize = -1 }, wantErr: "batch size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig().Logging
	cfg.Format = "json"
	logger := NewLoggerWithWriter(&buf, cfg)

	logger.NewComponentLogger("watcher").
		WithComponentID("http-client").
		WithParameterContext("ctx-1").
		Info("Properties updated")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}
	want := map[string]string{
		"component":         "watcher",
		"component_id":      "http-client",
		"parameter_context": "ctx-1",
		"message":           "Properties updated",
		"level":             "info",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("field %s = %v, want %s", k, entry[k], v)
		}
	}
}

func TestLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig().Logging
	cfg.Format = "json"
	logger := NewLoggerWithWriter(&buf, cfg)

	ctx := logger.WithField("request", 7).WithContext(context.Background())
	FromContext(ctx).Warn("from context")

	if !strings.Contains(buf.String(), `"request":7`) {
		t.Errorf("context logger lost fields: %s", buf.String())
	}
}

func newTestTelemetry(t *testing.T) *Telemetry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Events.EnableAsync = false
	cfg.Logging.Format = "json"

	tel, err := NewTelemetryWithLogger(cfg, NewLoggerWithWriter(&bytes.Buffer{}, cfg.Logging))
	if err != nil {
		t.Fatalf("NewTelemetryWithLogger() error = %v", err)
	}
	t.Cleanup(func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return tel
}

func TestTelemetryObserver(t *testing.T) {
	tel := newTestTelemetry(t)

	var events []Event
	tel.Events.Subscribe(func(e Event) { events = append(events, e) }, nil)

	tel.PropertiesUpdated("c1", 3)
	tel.ParametersPropagated("c1", 2)
	tel.ValidationCompleted("c1", engine.StatusInvalid, 2, 10*time.Millisecond)
	tel.ValidationCompleted("c1", engine.StatusValid, 0, 5*time.Millisecond)
	tel.ClasspathReloaded("c1", nil)
	tel.ClasspathReloaded("c1", errors.New("boom"))
	tel.ServiceStateChanged("svc-1", engine.ServiceDisabled, engine.ServiceEnabling)
	tel.ValidationQueueDepth(4)

	m := tel.Metrics
	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"property updates", testutil.ToFloat64(m.propertyUpdates.WithLabelValues("c1")), 3},
		{"propagations", testutil.ToFloat64(m.parameterPropagations.WithLabelValues("c1")), 2},
		{"invalid validations", testutil.ToFloat64(m.validations.WithLabelValues("INVALID")), 1},
		{"valid validations", testutil.ToFloat64(m.validations.WithLabelValues("VALID")), 1},
		{"invalid results", testutil.ToFloat64(m.validationResults.WithLabelValues("INVALID")), 2},
		{"status valid", testutil.ToFloat64(m.componentStatus.WithLabelValues("c1", "VALID")), 1},
		{"status invalid", testutil.ToFloat64(m.componentStatus.WithLabelValues("c1", "INVALID")), 0},
		{"reload success", testutil.ToFloat64(m.classpathReloads.WithLabelValues("success")), 1},
		{"reload failure", testutil.ToFloat64(m.classpathReloads.WithLabelValues("failure")), 1},
		{"service transitions", testutil.ToFloat64(m.serviceTransitions.WithLabelValues("ENABLING")), 1},
		{"queue depth", testutil.ToFloat64(m.queueDepth), 4},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	wantTypes := []string{
		EventTypePropertiesUpdated,
		EventTypeParametersPropagated,
		EventTypeValidationCompleted,
		EventTypeValidationCompleted,
		EventTypeClasspathReloaded,
		EventTypeClasspathReloaded,
		EventTypeServiceStateChanged,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d", len(events), len(wantTypes))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d type = %s, want %s", i, events[i].Type, want)
		}
		if events[i].ID == "" || events[i].Timestamp.IsZero() {
			t.Errorf("event %d missing ID or timestamp", i)
		}
	}
	if events[2].Level != EventLevelWarning {
		t.Errorf("invalid validation level = %s, want warning", events[2].Level)
	}
	if events[5].Level != EventLevelError {
		t.Errorf("failed reload level = %s, want error", events[5].Level)
	}
	if events[6].ServiceID != "svc-1" {
		t.Errorf("service event ID = %q", events[6].ServiceID)
	}
}

func TestMetricsForgetComponent(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatal(err)
	}
	m.RecordValidation("a", engine.StatusValid, 0, time.Millisecond)
	m.RecordValidation("b", engine.StatusValid, 0, time.Millisecond)
	m.RecordPropertyUpdates("a", 1)

	m.ForgetComponent("a")

	if got := testutil.CollectAndCount(m.componentStatus); got != 2 {
		t.Errorf("component status series = %d, want 2", got)
	}
	if got := testutil.CollectAndCount(m.propertyUpdates); got != 0 {
		t.Errorf("property update series = %d, want 0", got)
	}
}

func TestMetricsRecordError(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatal(err)
	}

	m.RecordError(engine.NewConflictError("busy", nil).WithCode(engine.ErrCodeComponentRunning))
	m.RecordError(errors.New("plain"))
	m.RecordError(nil)

	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues(string(engine.ErrorClassConflict))); got != 1 {
		t.Errorf("conflict errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("unclassified")); got != 1 {
		t.Errorf("unclassified errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByCode.WithLabelValues(engine.ErrCodeComponentRunning)); got != 1 {
		t.Errorf("code errors = %v, want 1", got)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	m.RecordValidation("a", engine.StatusValid, 0, time.Millisecond)
	m.RecordError(errors.New("x"))
	m.SetQueueDepth(3)
	m.ForgetComponent("a")

	if m.Registry() != nil {
		t.Error("disabled metrics should not expose a registry")
	}
	if srv := m.StartMetricsServer(NewLoggerWithWriter(&bytes.Buffer{}, LoggingConfig{}).Zerolog()); srv != nil {
		t.Error("disabled metrics should not start a server")
	}
}

func TestEventPublisherAsync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    16,
		FlushInterval: 10 * time.Millisecond,
		MaxBatchSize:  4,
		EnableAsync:   true,
	})
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu  sync.Mutex
		got []string
	)
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.ComponentID)
	}, FilterByType(EventTypePropertiesUpdated))
	ep.AddFilter(func(e Event) bool { return e.ComponentID != "skip" })

	for _, id := range []string{"a", "skip", "b", "c"} {
		if err := ep.Publish(Event{Type: EventTypePropertiesUpdated, ComponentID: id}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := ep.Publish(Event{Type: EventTypeClasspathReloaded, ComponentID: "d"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("delivered %v, want [a b c]", got)
	}

	if err := ep.Publish(Event{Type: EventTypePropertiesUpdated}); err == nil {
		t.Error("Publish() after Shutdown should fail")
	}
}

func TestEventFilters(t *testing.T) {
	warn := Event{Type: EventTypeValidationCompleted, Level: EventLevelWarning, ComponentID: "a"}

	if !FilterByLevel(EventLevelInfo)(warn) {
		t.Error("info filter should pass warnings")
	}
	if FilterByLevel(EventLevelError)(warn) {
		t.Error("error filter should drop warnings")
	}
	if !FilterByType(EventTypeClasspathReloaded, EventTypeValidationCompleted)(warn) {
		t.Error("type filter should match")
	}
	if FilterByComponentID("b")(warn) {
		t.Error("component filter should not match")
	}
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	op := StartOperation(context.Background(), "noop")
	op.End(errors.New("ignored"))
	if op.Duration() < 0 {
		t.Error("negative duration")
	}
	if TraceID(op.Ctx) != "" {
		t.Error("no span expected without telemetry")
	}
}
