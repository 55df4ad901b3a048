package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inbound-forecaster/pkg/blend"
	"inbound-forecaster/pkg/ensemble"
	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/logger"
	"inbound-forecaster/pkg/regressor"
	"inbound-forecaster/pkg/reservation"
)

// Row is one forecast day.
type Row struct {
	Date         time.Time `json:"date"`
	ReserveCount float64   `json:"reserve_count"`
	ReserveSum   float64   `json:"reserve_sum"`
	FixedRatio   float64   `json:"fixed_ratio"`
}

// Value returns the row's value for target t.
func (r Row) Value(t features.Target) float64 {
	switch t {
	case features.TargetCount:
		return r.ReserveCount
	case features.TargetSum:
		return r.ReserveSum
	default:
		return r.FixedRatio
	}
}

func (r *Row) set(t features.Target, v float64) {
	switch t {
	case features.TargetCount:
		r.ReserveCount = v
	case features.TargetSum:
		r.ReserveSum = v
	default:
		r.FixedRatio = v
	}
}

// Detail keeps the model and baseline components behind a forecast row.
type Detail struct {
	Date  time.Time                   `json:"date"`
	Model map[features.Target]float64 `json:"model"`
	Naive map[features.Target]float64 `json:"naive"`
}

// TargetSummary describes how one target was modelled.
type TargetSummary struct {
	Target    features.Target       `json:"target"`
	Model     string                `json:"model"`
	Blend     blend.Result          `json:"blend"`
	HPO       *regressor.TuneResult `json:"hpo,omitempty"`
	Fallbacks []regressor.Backend   `json:"fallbacks,omitempty"`
}

// Result is the outcome of Run.
type Result struct {
	RunID      string                                `json:"run_id"`
	Method     Method                                `json:"method"`
	Start      time.Time                             `json:"start"`
	End        time.Time                             `json:"end"`
	TrainStart time.Time                             `json:"train_start"`
	TrainEnd   time.Time                             `json:"train_end"`
	TrainRows  int                                   `json:"train_rows"`
	Rows       []Row                                 `json:"rows"`
	Details    []Detail                              `json:"-"`
	Targets    map[features.Target]*TargetSummary    `json:"targets"`
	Artifacts  map[features.Target]ensemble.Artifact `json:"-"`
	Audit      *features.AuditResult                 `json:"audit,omitempty"`
	Columns    []string                              `json:"-"`
}

// Alpha returns the blend weight used for t, 1 when blending was off.
func (r *Result) Alpha(t features.Target) float64 {
	if s, ok := r.Targets[t]; ok {
		return s.Blend.Alpha
	}
	return 1
}

// Forecaster runs the train-and-forecast pipeline.
type Forecaster struct {
	cfg Config
	log *logger.Logger
}

// New returns a Forecaster. A nil logger discards output.
func New(cfg Config, log *logger.Logger) *Forecaster {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Lags.Lags == nil {
		cfg.Lags = features.DefaultLagConfig()
	}
	if cfg.Method == "" {
		cfg.Method = MethodAuto
	}
	return &Forecaster{cfg: cfg, log: log.Named("forecast")}
}

// Config returns the run configuration.
func (f *Forecaster) Config() Config { return f.cfg }

// Run normalizes records, trains one model per target and forecasts the
// configured horizon recursively, one day at a time.
func (f *Forecaster) Run(ctx context.Context, records []reservation.DailyRecord) (*Result, error) {
	cfg := f.cfg
	series := features.NewSeries(records)
	if !cfg.TrainEnd.IsZero() {
		series = series.Through(cfg.TrainEnd)
	}
	if series.Len() < 2 {
		return nil, fmt.Errorf("%w: %d day(s)", ErrEmptyHistory, series.Len())
	}

	start, end, err := cfg.Horizon.Resolve(series.Last())
	if err != nil {
		return nil, err
	}

	builder := features.NewBuilderWithConfig(cfg.Calendar, cfg.Lags)
	res := &Result{
		RunID:      uuid.NewString(),
		Method:     cfg.Method,
		Start:      start,
		End:        end,
		TrainStart: series.Dates[0],
		TrainEnd:   series.Last(),
		Targets:    make(map[features.Target]*TargetSummary, len(features.Targets)),
		Artifacts:  make(map[features.Target]ensemble.Artifact, len(features.Targets)),
		Columns:    builder.Columns(),
	}
	log := f.log.WithFields("run_id", res.RunID, "method", cfg.Method)
	log.Infow("Starting forecast run",
		"train_start", res.TrainStart.Format(dateLayout),
		"train_end", res.TrainEnd.Format(dateLayout),
		"start", start.Format(dateLayout),
		"end", end.Format(dateLayout))

	if cfg.LeakAudit {
		audit, err := builder.Audit(series, cfg.LeakAuditSamples)
		if err != nil {
			return nil, fmt.Errorf("leakage audit: %w", err)
		}
		res.Audit = audit
		log.Infow("Leakage audit passed", "dates", len(audit.Dates), "columns", audit.Columns)
	}

	frame := builder.Build(series)
	rows := f.trainingRows(series.Len())
	X, err := frame.Matrix(rows, res.Columns)
	if err != nil {
		return nil, err
	}
	res.TrainRows = len(rows)
	log.Infow("Feature matrix ready", "rows", len(rows), "columns", len(res.Columns))

	for _, t := range features.Targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		y := make([]float64, len(rows))
		dates := make([]time.Time, len(rows))
		for i, r := range rows {
			y[i] = series.Column(t)[r]
			dates[i] = series.Dates[r]
		}
		summary, art, err := f.trainTarget(t, series, X, y, dates, res.Columns)
		if err != nil {
			return nil, fmt.Errorf("train %s: %w", t, err)
		}
		res.Targets[t] = summary
		res.Artifacts[t] = art
	}

	if err := f.predict(ctx, res, builder, series); err != nil {
		return nil, err
	}
	log.Infow("Forecast complete", "days", len(res.Rows))
	return res, nil
}

// trainingRows drops the lag warm-up when enough rows remain afterwards;
// otherwise only the first row, which has no history at all, is dropped.
func (f *Forecaster) trainingRows(n int) []int {
	first := f.cfg.Lags.Warmup()
	if n-first < f.cfg.MinRowsAfterWarmup || first >= n {
		first = 1
	}
	rows := make([]int, 0, n-first)
	for i := first; i < n; i++ {
		rows = append(rows, i)
	}
	return rows
}

func (f *Forecaster) validationCut(n int) int {
	v := f.cfg.ValidationDays
	if n-v < f.cfg.MinTrain {
		v = n - f.cfg.MinTrain
	}
	if v < 0 {
		v = 0
	}
	return n - v
}

func (f *Forecaster) trainTarget(t features.Target, series *features.Series, X [][]float64, y []float64,
	dates []time.Time, columns []string) (*TargetSummary, ensemble.Artifact, error) {
	cfg := f.cfg
	log := f.log.WithTarget(string(t))
	summary := &TargetSummary{Target: t, Blend: blend.Result{Alpha: 1}}
	params := make(map[regressor.Backend]regressor.Params, len(cfg.Params)+1)
	for b, p := range cfg.Params {
		params[b] = p
	}

	cut := f.validationCut(len(y))
	hasTail := cut < len(y) && cut > 0

	if cfg.hpoEnabled(t) && hasTail {
		base, ok := params[regressor.LightGBM]
		if !ok {
			base = regressor.DefaultParams(regressor.LightGBM, cfg.RandomState)
		}
		tuned, err := regressor.Tune(regressor.LightGBM, regressor.LightGBMGrid(base), X[:cut], y[:cut], X[cut:], y[cut:])
		if err != nil {
			log.Warnw("LightGBM tuning failed, keeping defaults", "error", err)
		} else {
			params[regressor.LightGBM] = tuned.Params
			summary.HPO = tuned
			log.Infow("LightGBM tuned",
				"num_leaves", tuned.Params.NumLeaves,
				"learning_rate", tuned.Params.LearningRate,
				"subsample", tuned.Params.Subsample,
				"min_samples_leaf", tuned.Params.MinSamplesLeaf,
				"val_mae", tuned.MAE)
		}
	}

	onFallback := func(b regressor.Backend, err error) {
		summary.Fallbacks = append(summary.Fallbacks, b)
	}
	fit := func(X [][]float64, y []float64) (ensemble.Artifact, error) {
		return f.fitArtifact(X, y, columns, params, onFallback, log)
	}

	if cfg.BlendNaive {
		if hasTail {
			art, err := fit(X[:cut], y[:cut])
			if err != nil {
				return nil, nil, fmt.Errorf("validation fit: %w", err)
			}
			pred, err := art.Predict(ensemble.MatrixDesign(X[cut:], columns))
			if err != nil {
				return nil, nil, err
			}
			for i := range pred {
				pred[i] = t.Clip(pred[i])
			}
			naive := blend.SameWeekdayBaseline(series, t, dates[cut:], cfg.BaselineWeeks)
			summary.Blend = blend.LearnAlpha(pred, naive, y[cut:], cfg.BlendAlphaSteps, cfg.BlendDefaultAlpha)
		} else {
			summary.Blend = blend.LearnAlpha(nil, nil, nil, cfg.BlendAlphaSteps, cfg.BlendDefaultAlpha)
		}
		log.Infow("Blend weight learned",
			"alpha", summary.Blend.Alpha,
			"defaulted", summary.Blend.Defaulted,
			"val_points", summary.Blend.Points,
			"model_mae", summary.Blend.ModelMAE,
			"naive_mae", summary.Blend.NaiveMAE,
			"blend_mae", summary.Blend.BlendMAE)
	}

	art, err := fit(X, y)
	if err != nil {
		return nil, nil, err
	}
	summary.Model = art.Describe()
	log.Infow("Model trained", "model", summary.Model, "rows", len(y))
	return summary, art, nil
}

func (f *Forecaster) fitArtifact(X [][]float64, y []float64, columns []string,
	params map[regressor.Backend]regressor.Params, onFallback func(regressor.Backend, error),
	log *logger.Logger) (ensemble.Artifact, error) {
	cfg := f.cfg
	if cfg.Method.Stacked() {
		opts := cfg.stackOptions()
		for b, p := range params {
			opts.Params[b] = p
		}
		opts.Logger = log
		opts.OnFallback = onFallback
		if cfg.Method == MethodStackOOF {
			return ensemble.FitStackOOF(X, y, columns, opts)
		}
		return ensemble.FitStack(X, y, columns, opts)
	}

	chain := regressor.NewChain(cfg.Method.Backend(), cfg.RandomState, log)
	for b, p := range params {
		chain.Params[b] = p
	}
	chain.OnFallback = onFallback
	m, err := chain.Fit(X, y)
	if err != nil {
		return nil, err
	}
	return &ensemble.Single{Model: m, Columns: columns}, nil
}

// predict walks the horizon day by day. Days past the end of the history
// are appended to a working copy so later days see their lags; the naive
// baseline only ever reads actual history.
func (f *Forecaster) predict(ctx context.Context, res *Result, builder *features.Builder, history *features.Series) error {
	cfg := f.cfg
	working := history.Clone()
	first := res.Start
	if next := history.Last().AddDate(0, 0, 1); next.Before(first) {
		first = next
	}

	for d := first; !d.After(res.End); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}
		feat := builder.RowAt(working, d)
		design := func(columns []string) ([][]float64, error) {
			r, err := builder.SelectRow(feat, columns)
			if err != nil {
				return nil, err
			}
			return [][]float64{r}, nil
		}

		row := Row{Date: d}
		detail := Detail{Date: d, Model: map[features.Target]float64{}, Naive: map[features.Target]float64{}}
		values := make(map[features.Target]float64, len(features.Targets))
		for _, t := range features.Targets {
			pred, err := res.Artifacts[t].Predict(design)
			if err != nil {
				return fmt.Errorf("predict %s on %s: %w", t, d.Format(dateLayout), err)
			}
			m := t.Clip(pred[0])
			n := blend.SameWeekdayBaseline(history, t, []time.Time{d}, cfg.BaselineWeeks)[0]
			v := m
			if cfg.BlendNaive {
				v = t.Clip(blend.Blend(res.Alpha(t), m, n))
			}
			detail.Model[t] = m
			detail.Naive[t] = n
			values[t] = v
			row.set(t, v)
		}

		if d.After(working.Last()) {
			working.Append(d, values)
		}
		if !d.Before(res.Start) {
			res.Rows = append(res.Rows, row)
			res.Details = append(res.Details, detail)
		}
	}
	return nil
}
