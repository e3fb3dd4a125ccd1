package telemetry_test

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stackform/stackform/pkg/telemetry"
)

func TestMetricsExposition(t *testing.T) {
	m := telemetry.NewMetrics()
	m.RecordOperation("create", "succeeded")
	m.RecordOperation("create", "succeeded")
	m.RecordRetry("update")
	m.ObserveOperationDuration("create", 0.25)
	m.RecordPlan(2, 1, 0, 3)
	m.RecordRun("succeeded", 3*time.Second)
	m.RecordDrift()
	m.RecordViolation("deny_delete_protected", "error")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("reading exposition: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		`stackform_operations_total{operation="create",outcome="succeeded"} 2`,
		`stackform_operation_retries_total{operation="update"} 1`,
		`stackform_plans_total 1`,
		`stackform_plan_operations{operation="noop"} 3`,
		`stackform_runs_total{status="succeeded"} 1`,
		`stackform_drift_detected_total 1`,
		`stackform_guardrail_violations_total{policy="deny_delete_protected",severity="error"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNewLoggerWritesServiceFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: path,
	}, "stackform", "1.2.3")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info().Str("run_id", "run-1").Msg("run started")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log output: %v", err)
	}
	line := string(data)
	for _, want := range []string{
		`"service":"stackform"`,
		`"version":"1.2.3"`,
		`"run_id":"run-1"`,
		`"message":"run started"`,
	} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %q: %s", want, line)
		}
	}
}

func TestNewLoggerRejectsInvalidLevel(t *testing.T) {
	if _, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "loud"}, "stackform", "dev"); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewTracerDisabled(t *testing.T) {
	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{Enabled: false}, "stackform", "dev", "test")
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	_, span := tracer.StartRunSpan(context.Background(), "run-1", "plan-1")
	span.End()
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNewTracerRejectsUnknownExporter(t *testing.T) {
	_, err := telemetry.NewTracer(telemetry.TracingConfig{
		Enabled:  true,
		Exporter: "carrier-pigeon",
	}, "stackform", "dev", "test")
	if err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}
