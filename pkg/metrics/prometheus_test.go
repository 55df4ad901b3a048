package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"inbound-forecaster/pkg/anomaly"
	"inbound-forecaster/pkg/blend"
	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/forecast"
	"inbound-forecaster/pkg/regressor"
	"inbound-forecaster/pkg/reservation"
)

func TestPrometheusExporter_RecordRun(t *testing.T) {
	exporter := NewPrometheusExporter("test", prometheus.NewRegistry())

	exporter.RecordRun("gbr", "success", 1500*time.Millisecond)
	count := testutil.ToFloat64(exporter.RunsTotal.WithLabelValues("gbr", "success"))
	if count != 1.0 {
		t.Errorf("Expected count 1.0, got %f", count)
	}

	exporter.RecordRun("gbr", "success", 2*time.Second)
	count = testutil.ToFloat64(exporter.RunsTotal.WithLabelValues("gbr", "success"))
	if count != 2.0 {
		t.Errorf("Expected count 2.0, got %f", count)
	}
	if n := testutil.CollectAndCount(exporter.RunDuration); n != 1 {
		t.Errorf("Expected 1 duration series, got %d", n)
	}
}

func TestPrometheusExporter_RecordInput(t *testing.T) {
	exporter := NewPrometheusExporter("test", nil)

	exporter.RecordInput("csv", reservation.Report{TotalRows: 100, DroppedDates: 3, Filtered: 2})
	if v := testutil.ToFloat64(exporter.InputRows.WithLabelValues("csv")); v != 100 {
		t.Errorf("Expected 100 input rows, got %f", v)
	}
	if v := testutil.ToFloat64(exporter.DroppedRows.WithLabelValues("unparseable_date")); v != 3 {
		t.Errorf("Expected 3 dropped dates, got %f", v)
	}
	if v := testutil.ToFloat64(exporter.DroppedRows.WithLabelValues("filtered")); v != 2 {
		t.Errorf("Expected 2 filtered rows, got %f", v)
	}
}

func TestPrometheusExporter_RecordResult(t *testing.T) {
	exporter := NewPrometheusExporter("test", nil)
	res := &forecast.Result{
		Rows: make([]forecast.Row, 7),
		Targets: map[features.Target]*forecast.TargetSummary{
			features.TargetCount: {
				Blend:     blend.Result{Alpha: 0.65, Points: 28, ModelMAE: 2, NaiveMAE: 3, BlendMAE: 1.5},
				Fallbacks: []regressor.Backend{regressor.LightGBM},
			},
			features.TargetFixed: {
				Blend: blend.Result{Alpha: 0.8, Defaulted: true},
			},
		},
	}
	exporter.RecordResult(res)

	if v := testutil.ToFloat64(exporter.BlendAlpha.WithLabelValues("reserve_count")); v != 0.65 {
		t.Errorf("Expected alpha 0.65, got %f", v)
	}
	if v := testutil.ToFloat64(exporter.ValidationMAE.WithLabelValues("reserve_count", "blend")); v != 1.5 {
		t.Errorf("Expected blend MAE 1.5, got %f", v)
	}
	if v := testutil.ToFloat64(exporter.BackendFallbacks.WithLabelValues("reserve_count", "lgbm")); v != 1 {
		t.Errorf("Expected 1 fallback, got %f", v)
	}
	if v := testutil.ToFloat64(exporter.HorizonDays); v != 7 {
		t.Errorf("Expected horizon 7, got %f", v)
	}
	// Defaulted weights report alpha but no validation error.
	if n := testutil.CollectAndCount(exporter.ValidationMAE); n != 3 {
		t.Errorf("Expected 3 validation series, got %d", n)
	}
}

func TestPrometheusExporter_RecordAnomalies(t *testing.T) {
	exporter := NewPrometheusExporter("test", prometheus.NewRegistry())

	exporter.RecordAnomalies(map[features.Target]*anomaly.Result{
		features.TargetCount: {Anomalies: []anomaly.Anomaly{
			{Severity: anomaly.SeverityHigh}, {Severity: anomaly.SeverityHigh}, {Severity: anomaly.SeverityLow},
		}},
	})
	if v := testutil.ToFloat64(exporter.ForecastAnomalies.WithLabelValues("reserve_count", "high")); v != 2 {
		t.Errorf("Expected 2 high anomalies, got %f", v)
	}

	// A clean run resets the previous counts.
	exporter.RecordAnomalies(map[features.Target]*anomaly.Result{
		features.TargetCount: {},
	})
	if v := testutil.ToFloat64(exporter.ForecastAnomalies.WithLabelValues("reserve_count", "high")); v != 0 {
		t.Errorf("Expected reset count, got %f", v)
	}
	if n := testutil.CollectAndCount(exporter.ForecastAnomalies); n != 4 {
		t.Errorf("Expected 4 severity series, got %d", n)
	}
}

func TestPrometheusExporter_WriteTextfile(t *testing.T) {
	exporter := NewPrometheusExporter("reservecast", nil)
	exporter.RecordRun("auto", "failure", time.Second)
	exporter.RecordLeakFailure()

	path := filepath.Join(t.TempDir(), "reservecast.prom")
	if err := exporter.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	for _, want := range []string{
		`reservecast_runs_total{method="auto",result="failure"} 1`,
		"reservecast_leak_audit_failures_total 1",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q", want)
		}
	}

	if err := exporter.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom")); err == nil {
		t.Error("expected an error for a missing directory")
	} else if errors.Unwrap(err) == nil {
		t.Error("expected a wrapped error")
	}
}

func TestNewPrometheusExporter(t *testing.T) {
	exporter := NewPrometheusExporter("test_forecaster", nil)

	if exporter == nil {
		t.Fatal("Expected non-nil exporter")
	}
	if exporter.RunsTotal == nil {
		t.Error("RunsTotal not initialized")
	}
	if exporter.BlendAlpha == nil {
		t.Error("BlendAlpha not initialized")
	}
	if exporter.BacktestMAE == nil {
		t.Error("BacktestMAE not initialized")
	}
	if exporter.Gatherer() == nil {
		t.Error("Gatherer not initialized")
	}
}
