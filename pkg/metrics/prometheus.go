package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"inbound-forecaster/pkg/anomaly"
	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/forecast"
	"inbound-forecaster/pkg/reservation"
)

// PrometheusExporter exposes forecaster metrics to Prometheus
type PrometheusExporter struct {
	gatherer prometheus.Gatherer

	// Run metrics
	RunsTotal    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	LastSuccess  prometheus.Gauge
	HorizonDays  prometheus.Gauge
	LeakFailures prometheus.Counter

	// Input metrics
	InputRows   *prometheus.GaugeVec
	DroppedRows *prometheus.CounterVec

	// Model metrics
	BlendAlpha       *prometheus.GaugeVec
	ValidationMAE    *prometheus.GaugeVec
	BackendFallbacks *prometheus.CounterVec
	BacktestMAE      *prometheus.GaugeVec

	// Sanity metrics
	ForecastAnomalies *prometheus.GaugeVec
}

// NewPrometheusExporter registers the forecaster metrics on reg. A nil reg
// uses a fresh registry.
func NewPrometheusExporter(namespace string, reg *prometheus.Registry) *PrometheusExporter {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &PrometheusExporter{
		gatherer: reg,

		// Run metrics
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of forecast runs by method and result (success/failure)",
			},
			[]string{"method", "result"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of forecast runs in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"method"},
		),
		LastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful forecast run",
			},
		),
		HorizonDays: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "horizon_days",
				Help:      "Number of days in the last forecast horizon",
			},
		),
		LeakFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "leak_audit_failures_total",
				Help:      "Total number of failed feature leakage audits",
			},
		),

		// Input metrics
		InputRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "input_rows",
				Help:      "Raw reservation rows read in the last run by source",
			},
			[]string{"source"},
		),
		DroppedRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_rows_total",
				Help:      "Raw rows excluded from aggregation by reason",
			},
			[]string{"reason"},
		),

		// Model metrics
		BlendAlpha: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blend_alpha",
				Help:      "Learned model weight of the naive blend per target (1 = model only)",
			},
			[]string{"target"},
		),
		ValidationMAE: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "validation_mae",
				Help:      "Validation-tail mean absolute error per target and series (model/naive/blend)",
			},
			[]string{"target", "series"},
		),
		BackendFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_fallbacks_total",
				Help:      "Total number of regressor backends that failed and were skipped",
			},
			[]string{"target", "backend"},
		),
		BacktestMAE: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backtest_mae",
				Help:      "Walk-forward backtest mean absolute error per target and series",
			},
			[]string{"target", "series"},
		),

		// Sanity metrics
		ForecastAnomalies: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "forecast_anomalies",
				Help:      "Forecast days outside the same-weekday historical range in the last run",
			},
			[]string{"target", "severity"},
		),
	}
}

// RecordRun records a finished run attempt
func (e *PrometheusExporter) RecordRun(method, result string, duration time.Duration) {
	e.RunsTotal.WithLabelValues(method, result).Inc()
	e.RunDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordInput records the aggregation report of the input table
func (e *PrometheusExporter) RecordInput(source string, report reservation.Report) {
	e.InputRows.WithLabelValues(source).Set(float64(report.TotalRows))
	e.DroppedRows.WithLabelValues("unparseable_date").Add(float64(report.DroppedDates))
	e.DroppedRows.WithLabelValues("filtered").Add(float64(report.Filtered))
}

// RecordResult records blend weights, validation errors and fallbacks of a
// successful run
func (e *PrometheusExporter) RecordResult(res *forecast.Result) {
	for _, t := range features.Targets {
		s, ok := res.Targets[t]
		if !ok {
			continue
		}
		target := string(t)
		e.BlendAlpha.WithLabelValues(target).Set(s.Blend.Alpha)
		if !s.Blend.Defaulted && s.Blend.Points > 0 {
			e.ValidationMAE.WithLabelValues(target, "model").Set(s.Blend.ModelMAE)
			e.ValidationMAE.WithLabelValues(target, "naive").Set(s.Blend.NaiveMAE)
			e.ValidationMAE.WithLabelValues(target, "blend").Set(s.Blend.BlendMAE)
		}
		for _, b := range s.Fallbacks {
			e.BackendFallbacks.WithLabelValues(target, string(b)).Inc()
		}
	}
	e.HorizonDays.Set(float64(len(res.Rows)))
	e.LastSuccess.SetToCurrentTime()
}

// RecordLeakFailure records a failed leakage audit
func (e *PrometheusExporter) RecordLeakFailure() {
	e.LeakFailures.Inc()
}

// RecordBacktest records the overall backtest errors
func (e *PrometheusExporter) RecordBacktest(bt *forecast.BacktestResult) {
	for t, s := range bt.Overall {
		target := string(t)
		e.BacktestMAE.WithLabelValues(target, "model").Set(s.Model.MAE)
		e.BacktestMAE.WithLabelValues(target, "naive").Set(s.Naive.MAE)
		e.BacktestMAE.WithLabelValues(target, "blend").Set(s.Blend.MAE)
	}
}

// RecordAnomalies replaces the per-target anomaly counts of the last run
func (e *PrometheusExporter) RecordAnomalies(results map[features.Target]*anomaly.Result) {
	e.ForecastAnomalies.Reset()
	for t, r := range results {
		counts := map[anomaly.Severity]int{
			anomaly.SeverityLow:      0,
			anomaly.SeverityMedium:   0,
			anomaly.SeverityHigh:     0,
			anomaly.SeverityCritical: 0,
		}
		for _, a := range r.Anomalies {
			counts[a.Severity]++
		}
		for sev, n := range counts {
			e.ForecastAnomalies.WithLabelValues(string(t), string(sev)).Set(float64(n))
		}
	}
}

// Gatherer returns the registry the exporter was registered on.
func (e *PrometheusExporter) Gatherer() prometheus.Gatherer {
	return e.gatherer
}

// WriteTextfile dumps every metric in the node-exporter textfile format.
func (e *PrometheusExporter) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, e.gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
