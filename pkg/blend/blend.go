package blend

import (
	"math"
	"sort"
	"time"

	"inbound-forecaster/pkg/evaluation"
	"inbound-forecaster/pkg/features"
)

const (
	// DefaultWeeks is how many past same-weekday values the baseline uses.
	DefaultWeeks = 8
	// DefaultAlpha is used when the validation tail is too short.
	DefaultAlpha = 0.8
	// DefaultSteps is the number of α grid points in [0,1].
	DefaultSteps = 21
	// MinValidation is the fewest validation points LearnAlpha accepts.
	MinValidation = 7
)

// SameWeekdayBaseline returns, for each date, the median of the last weeks
// observations of target on the same weekday strictly before that date.
// Without any such observation it falls back to the median of all earlier
// values, then to 0. Only dates in history are consulted.
func SameWeekdayBaseline(history *features.Series, t features.Target, dates []time.Time, weeks int) []float64 {
	if weeks <= 0 {
		weeks = DefaultWeeks
	}
	out := make([]float64, len(dates))
	col := history.Column(t)
	for k, d := range dates {
		var same, all []float64
		for i := len(history.Dates) - 1; i >= 0; i-- {
			hd := history.Dates[i]
			if !hd.Before(d) {
				continue
			}
			v := col[i]
			if math.IsNaN(v) {
				continue
			}
			all = append(all, v)
			if hd.Weekday() == d.Weekday() && len(same) < weeks {
				same = append(same, v)
			}
		}
		switch {
		case len(same) > 0:
			out[k] = Median(same)
		case len(all) > 0:
			out[k] = Median(all)
		default:
			out[k] = 0
		}
	}
	return out
}

// Result is a learned blend weight. The MAE fields are zero when the
// weight was defaulted.
type Result struct {
	Alpha     float64 `json:"alpha"`
	Defaulted bool    `json:"defaulted"`
	ModelMAE  float64 `json:"model_mae"`
	NaiveMAE  float64 `json:"naive_mae"`
	BlendMAE  float64 `json:"blend_mae"`
	Points    int     `json:"points"`
}

// LearnAlpha searches steps evenly spaced α in [0,1] for the lowest MAE of
// α·model + (1-α)·naive against actual. Ties go to the larger α. Fewer than
// MinValidation points return defaultAlpha.
func LearnAlpha(model, naive, actual []float64, steps int, defaultAlpha float64) Result {
	n := len(actual)
	if len(model) < n {
		n = len(model)
	}
	if len(naive) < n {
		n = len(naive)
	}
	if n < MinValidation {
		return Result{Alpha: defaultAlpha, Defaulted: true, Points: n}
	}
	if steps < 2 {
		steps = 2
	}
	model, naive, actual = model[:n], naive[:n], actual[:n]

	res := Result{Alpha: 1, BlendMAE: math.Inf(1), Points: n}
	blended := make([]float64, n)
	for k := steps - 1; k >= 0; k-- {
		a := float64(k) / float64(steps-1)
		for i := range blended {
			blended[i] = Blend(a, model[i], naive[i])
		}
		if mae := evaluation.MAE(actual, blended); mae < res.BlendMAE {
			res.Alpha, res.BlendMAE = a, mae
		}
	}
	res.ModelMAE = evaluation.MAE(actual, model)
	res.NaiveMAE = evaluation.MAE(actual, naive)
	return res
}

// Blend returns α·m + (1-α)·n.
func Blend(alpha, m, n float64) float64 {
	return alpha*m + (1-alpha)*n
}

// Median of x; 0 for an empty slice.
func Median(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	v := append([]float64(nil), x...)
	sort.Float64s(v)
	mid := len(v) / 2
	if len(v)%2 == 1 {
		return v[mid]
	}
	return (v[mid-1] + v[mid]) / 2
}
