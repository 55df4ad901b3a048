package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"inbound-forecaster/pkg/anomaly"
	"inbound-forecaster/pkg/config"
	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/forecast"
	"inbound-forecaster/pkg/logger"
	"inbound-forecaster/pkg/metrics"
	"inbound-forecaster/pkg/recorder"
	"inbound-forecaster/pkg/reservation"
	"inbound-forecaster/pkg/sink"
	"inbound-forecaster/pkg/storage"
)

const metricsNamespace = "reservecast"

// app wires the configured input, forecaster and outputs for one process.
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	registry   *prometheus.Registry
	exporter   *metrics.PrometheusExporter
	forecaster *forecast.Forecaster
	aggregate  reservation.Options
	sinks      sink.Multi
	recorder   recorder.Recorder
	closers    []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := logger.InitGlobalLogger(cfg.Log.Level, cfg.Log.Development); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	log := logger.GetLogger()

	fc, err := cfg.ForecastConfig()
	if err != nil {
		return nil, err
	}
	if fc.Horizon, err = horizonFromFlags(); err != nil {
		return nil, err
	}
	if fc.TrainEnd, err = parseDate("train-end-date", opts.trainEndDate); err != nil {
		return nil, err
	}
	agg, err := cfg.ReservationOptions()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	a := &app{
		cfg:        cfg,
		log:        log,
		registry:   registry,
		exporter:   metrics.NewPrometheusExporter(metricsNamespace, registry),
		forecaster: forecast.New(fc, log),
		aggregate:  agg,
		recorder:   recorder.NewNoopRecorder(),
	}

	if err := a.openOutputs(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func horizonFromFlags() (forecast.Horizon, error) {
	start, err := parseDate("start-date", opts.startDate)
	if err != nil {
		return forecast.Horizon{}, err
	}
	end, err := parseDate("end-date", opts.endDate)
	if err != nil {
		return forecast.Horizon{}, err
	}
	return forecast.Horizon{Start: start, End: end, FutureDays: opts.futureDays}, nil
}

func (a *app) openOutputs(ctx context.Context) error {
	out := a.cfg.Output
	if out.CSV != "" {
		a.sinks = append(a.sinks, &sink.CSV{Path: out.CSV})
	}
	if out.DSN != "" {
		pg, err := sink.NewPostgres(ctx, out.DSN, out.Table)
		if err != nil {
			return err
		}
		a.sinks = append(a.sinks, pg)
		a.closers = append(a.closers, pg.Close)
	}
	if out.RedisURL != "" {
		rd, err := sink.NewRedis(ctx, out.RedisURL)
		if err != nil {
			return err
		}
		a.sinks = append(a.sinks, rd)
		a.closers = append(a.closers, func() { _ = rd.Close() })
	}
	if path := a.cfg.History.SQLitePath; path != "" {
		rec, err := recorder.NewSQLiteRecorder(path, a.log)
		if err != nil {
			return err
		}
		a.recorder = rec
	}
	return nil
}

// Close releases every connection. Safe to call on a partly built app.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.log.Warnw("Failed to close run history", "error", err)
		}
	}
	_ = a.log.Sync()
}

// loadRecords reads the configured source and aggregates it per day.
func (a *app) loadRecords(ctx context.Context) ([]reservation.DailyRecord, reservation.Report, string, error) {
	var (
		table  *reservation.Table
		source string
		err    error
	)
	in := a.cfg.Input
	switch {
	case in.CSV != "":
		source = "csv"
		table, err = reservation.ReadCSV(in.CSV, in.Encodings)
	default:
		source = "postgres"
		table, err = a.readWarehouse(ctx)
	}
	if err != nil {
		return nil, reservation.Report{}, source, err
	}

	records, report, err := reservation.Aggregate(table, a.aggregate)
	if err != nil {
		return nil, report, source, err
	}
	a.exporter.RecordInput(source, report)

	log := a.log.WithFields("source", source, "encoding", table.Encoding)
	if report.DroppedDates > 0 {
		if in.StrictDates {
			return nil, report, source, fmt.Errorf("%d reservation row(s) have unparseable dates", report.DroppedDates)
		}
		if report.DropRatio() > in.MaxDropRatio {
			log.Warnw("Many reservation dates could not be parsed",
				"dropped", report.DroppedDates, "rows", report.TotalRows, "ratio", report.DropRatio())
		} else {
			log.Infow("Dropped rows with unparseable dates", "dropped", report.DroppedDates)
		}
	}
	log.Infow("Aggregated reservations",
		"rows", report.TotalRows, "days", report.Days, "filtered", report.Filtered)
	return records, report, source, nil
}

func (a *app) readWarehouse(ctx context.Context) (*reservation.Table, error) {
	src, err := reservation.NewPostgresSource(ctx, a.cfg.Input.DSN, a.cfg.Input.Query)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return src.Load(ctx)
}

// runOnce is one complete forecast: load, train, predict, publish and
// record. Metrics and run history are updated whether or not it failed.
func (a *app) runOnce(ctx context.Context) (*forecast.Result, error) {
	started := time.Now()
	method := string(a.forecaster.Config().Method)

	records, report, source, err := a.loadRecords(ctx)
	var res *forecast.Result
	if err == nil {
		res, err = a.forecaster.Run(ctx, records)
	}
	if err == nil {
		a.checkForecast(records, res)
		err = a.publish(ctx, res)
	}

	duration := time.Since(started)
	evt := &recorder.RunEvent{
		StartedAt:    started,
		Duration:     duration,
		Source:       source,
		InputRows:    report.TotalRows,
		DroppedDates: report.DroppedDates,
		Err:          err,
	}
	if err != nil {
		var leak *features.LeakageError
		if errors.As(err, &leak) {
			a.exporter.RecordLeakFailure()
		}
		a.exporter.RecordRun(method, "failure", duration)
	} else {
		evt.Result = res
		a.exporter.RecordRun(method, "success", duration)
	}

	if rerr := a.recorder.RecordRun(evt); rerr != nil {
		a.log.Warnw("Failed to record run history", "error", rerr)
	}
	a.writeTextfile()

	if err != nil {
		a.log.Errorw("Forecast run failed", "error", err, "duration", duration.String())
		return nil, err
	}
	a.log.Infow("Forecast run finished", "run_id", res.RunID, "days", len(res.Rows),
		"duration", duration.String())
	return res, nil
}

// checkForecast logs forecast days far outside the same weekday's history.
// It never fails the run.
func (a *app) checkForecast(records []reservation.DailyRecord, res *forecast.Result) {
	if a.cfg.Sanity.Disabled {
		return
	}
	history := features.NewSeries(records)
	if !res.TrainEnd.IsZero() {
		history = history.Through(res.TrainEnd)
	}
	check := anomaly.NewForecastCheck(&a.cfg.Sanity.Detection, a.cfg.Sanity.Weeks)
	results := check.Run(history, res.Rows)
	a.exporter.RecordAnomalies(results)

	for _, t := range features.Targets {
		r := results[t]
		for _, an := range r.Anomalies {
			a.log.WithTarget(string(t)).Warnw("Forecast outside historical range",
				"date", an.Date.Format(time.DateOnly),
				"kind", an.Kind,
				"severity", an.Severity,
				"value", an.Value,
				"expected_lower", an.ExpectedLower,
				"expected_upper", an.ExpectedUpper)
		}
		a.log.Debugw(r.Summary(), "target", t)
	}
}

// publish writes res to every sink and dumps the models when requested.
func (a *app) publish(ctx context.Context, res *forecast.Result) error {
	a.exporter.RecordResult(res)
	if err := a.sinks.Write(ctx, res); err != nil {
		return err
	}
	if path := a.cfg.Output.ModelsOut; path != "" {
		store := storage.NewArtifactStore()
		store.Put(res)
		if err := store.SaveToFile(path); err != nil {
			return err
		}
		a.log.Infow("Saved trained models", "path", path)
	}
	return nil
}

func (a *app) writeTextfile() {
	path := a.cfg.Output.MetricsTextfile
	if path == "" {
		return
	}
	if err := a.exporter.WriteTextfile(path); err != nil {
		a.log.Warnw("Failed to write metrics textfile", "path", path, "error", err)
	}
}
