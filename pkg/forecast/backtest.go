package forecast

import (
	"context"
	"fmt"
	"time"

	"inbound-forecaster/pkg/evaluation"
	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/reservation"
)

// BacktestConfig places walk-forward cutoffs at the end of the history.
type BacktestConfig struct {
	Folds   int
	Step    int
	Horizon int
}

// DefaultBacktestConfig is four weekly cutoffs forecasting a week each.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{Folds: 4, Step: 7, Horizon: 7}
}

// Scores holds model, baseline and blended errors for one target.
type Scores struct {
	Model evaluation.ErrorMetrics `json:"model"`
	Naive evaluation.ErrorMetrics `json:"naive"`
	Blend evaluation.ErrorMetrics `json:"blend"`
}

// BacktestFold is one cutoff.
type BacktestFold struct {
	Cutoff time.Time                   `json:"cutoff"`
	Alphas map[features.Target]float64 `json:"alphas"`
	Scores map[features.Target]Scores  `json:"scores"`
}

// BacktestResult aggregates every fold.
type BacktestResult struct {
	Folds   []BacktestFold             `json:"folds"`
	Overall map[features.Target]Scores `json:"overall"`
}

type scoreAcc struct {
	actual, model, naive, blended []float64
}

func (a *scoreAcc) scores() Scores {
	return Scores{
		Model: evaluation.Compute(a.actual, a.model),
		Naive: evaluation.Compute(a.actual, a.naive),
		Blend: evaluation.Compute(a.actual, a.blended),
	}
}

// Backtest reruns the pipeline at each cutoff, training only on history
// up to the cutoff, and scores the following Horizon days against the
// actual values.
func (f *Forecaster) Backtest(ctx context.Context, records []reservation.DailyRecord, bc BacktestConfig) (*BacktestResult, error) {
	if bc.Folds <= 0 || bc.Step <= 0 || bc.Horizon <= 0 {
		return nil, fmt.Errorf("backtest folds, step and horizon must be positive")
	}
	series := features.NewSeries(records)
	if !f.cfg.TrainEnd.IsZero() {
		series = series.Through(f.cfg.TrainEnd)
	}
	if series.Len() == 0 {
		return nil, ErrEmptyHistory
	}
	last := series.Last()

	out := &BacktestResult{Overall: make(map[features.Target]Scores)}
	overall := make(map[features.Target]*scoreAcc)
	for _, t := range features.Targets {
		overall[t] = &scoreAcc{}
	}

	for k := 0; k < bc.Folds; k++ {
		cutoff := last.AddDate(0, 0, -bc.Horizon-(bc.Folds-1-k)*bc.Step)
		if !cutoff.After(series.Dates[0]) {
			f.log.Warnw("Skipping backtest cutoff before the history starts", "cutoff", cutoff.Format(dateLayout))
			continue
		}

		cfg := f.cfg
		cfg.TrainEnd = cutoff
		cfg.LeakAudit = false
		cfg.Horizon = Horizon{FutureDays: bc.Horizon}
		res, err := New(cfg, f.log).Run(ctx, records)
		if err != nil {
			return nil, fmt.Errorf("backtest cutoff %s: %w", cutoff.Format(dateLayout), err)
		}

		fold := BacktestFold{
			Cutoff: cutoff,
			Alphas: make(map[features.Target]float64),
			Scores: make(map[features.Target]Scores),
		}
		for _, t := range features.Targets {
			acc := &scoreAcc{}
			for i, row := range res.Rows {
				actual := series.Value(t, row.Date)
				detail := res.Details[i]
				acc.actual = append(acc.actual, actual)
				acc.model = append(acc.model, detail.Model[t])
				acc.naive = append(acc.naive, detail.Naive[t])
				acc.blended = append(acc.blended, row.Value(t))
			}
			fold.Alphas[t] = res.Alpha(t)
			fold.Scores[t] = acc.scores()

			o := overall[t]
			o.actual = append(o.actual, acc.actual...)
			o.model = append(o.model, acc.model...)
			o.naive = append(o.naive, acc.naive...)
			o.blended = append(o.blended, acc.blended...)
		}
		f.log.Infow("Backtest fold scored",
			"cutoff", cutoff.Format(dateLayout),
			"count_mae", fold.Scores[features.TargetCount].Blend.MAE,
			"sum_mae", fold.Scores[features.TargetSum].Blend.MAE)
		out.Folds = append(out.Folds, fold)
	}

	if len(out.Folds) == 0 {
		return nil, fmt.Errorf("%w: no backtest cutoff fits inside the history", ErrEmptyHistory)
	}
	for t, acc := range overall {
		out.Overall[t] = acc.scores()
	}
	return out, nil
}
