package features

import (
	"fmt"
	"math"
	"time"
)

// LagConfig selects the history-derived features built per target.
type LagConfig struct {
	Lags     []int
	Windows  []int
	EWMWeeks int
	EWMDecay float64
}

// DefaultLagConfig is lag 1/2/3/7/14/21/28, rolling means over 3/7/14/28
// days and an 8-week same-weekday EWM decaying by 0.7 per week.
func DefaultLagConfig() LagConfig {
	return LagConfig{
		Lags:     []int{1, 2, 3, 7, 14, 21, 28},
		Windows:  []int{3, 7, 14, 28},
		EWMWeeks: 8,
		EWMDecay: 0.7,
	}
}

// Warmup is the number of leading rows whose core lag features are not all
// populated.
func (c LagConfig) Warmup() int {
	w := 28
	for _, l := range c.Lags {
		if l > w {
			w = l
		}
	}
	return w
}

// Columns returns the lag feature names for target, in frame order.
func (c LagConfig) Columns(t Target) []string {
	var cols []string
	for _, k := range c.Lags {
		cols = append(cols, fmt.Sprintf("%s_lag_%d", t, k))
	}
	for _, w := range c.Windows {
		cols = append(cols, fmt.Sprintf("%s_rmean_%d", t, w))
	}
	cols = append(cols,
		fmt.Sprintf("%s_diff_1", t),
		fmt.Sprintf("%s_diff_7", t),
		fmt.Sprintf("%s_same_wd_1w", t),
		fmt.Sprintf("%s_same_wd_2w", t),
		fmt.Sprintf("%s_same_wd_ma4", t),
		fmt.Sprintf("%s_same_wd_ewm%d", t, c.EWMWeeks),
		fmt.Sprintf("%s_lag1_lag7_ratio", t),
		fmt.Sprintf("%s_lag1_lag7_diff", t),
	)
	return cols
}

// lagColumnsShifted builds every lag feature of one target over a whole
// contiguous series with shift semantics: rolling and difference outputs
// are computed on the raw column and then shifted by one day, so row i only
// ever sees positions < i.
func (c LagConfig) lagColumnsShifted(x []float64) [][]float64 {
	var out [][]float64
	for _, k := range c.Lags {
		out = append(out, shift(x, k))
	}
	for _, w := range c.Windows {
		out = append(out, shift(rollingMean(x, w), 1))
	}
	out = append(out,
		shift(diff(x, 1), 1),
		shift(diff(x, 7), 1),
		shift(x, 7),
		shift(x, 14),
	)

	ma4 := make([][]float64, 4)
	for k := 1; k <= 4; k++ {
		ma4[k-1] = shift(x, 7*k)
	}
	out = append(out, weightedAvailable(ma4, equalWeights(4)))

	ewm := make([][]float64, c.EWMWeeks)
	for k := 1; k <= c.EWMWeeks; k++ {
		ewm[k-1] = shift(x, 7*k)
	}
	out = append(out, weightedAvailable(ewm, geometricWeights(c.EWMWeeks, c.EWMDecay)))

	lag1, lag7 := shift(x, 1), shift(x, 7)
	ratio := make([]float64, len(x))
	delta := make([]float64, len(x))
	for i := range x {
		ratio[i] = lagRatio(lag1[i], lag7[i])
		delta[i] = lag1[i] - lag7[i]
	}
	return append(out, ratio, delta)
}

// lagRowAt computes the lag features of one target for date d by looking
// up strictly earlier dates of s. d need not be part of s.
func (c LagConfig) lagRowAt(s *Series, t Target, d time.Time) []float64 {
	at := func(k int) float64 { return s.Value(t, d.AddDate(0, 0, -k)) }

	var row []float64
	for _, k := range c.Lags {
		row = append(row, at(k))
	}
	for _, w := range c.Windows {
		sum, n := 0.0, 0
		for k := 1; k <= w; k++ {
			if v := at(k); !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			row = append(row, math.NaN())
		} else {
			row = append(row, sum/float64(n))
		}
	}
	row = append(row, at(1)-at(2), at(1)-at(8), at(7), at(14))

	row = append(row, weightedPoint(at, 4, equalWeights(4)))
	row = append(row, weightedPoint(at, c.EWMWeeks, geometricWeights(c.EWMWeeks, c.EWMDecay)))

	lag1, lag7 := at(1), at(7)
	return append(row, lagRatio(lag1, lag7), lag1-lag7)
}

func shift(x []float64, k int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i-k >= 0 {
			out[i] = x[i-k]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// rollingMean is a trailing mean including position i, with at least one
// observation required.
func rollingMean(x []float64, w int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		sum, n := 0.0, 0
		for j := i; j > i-w && j >= 0; j-- {
			if !math.IsNaN(x[j]) {
				sum += x[j]
				n++
			}
		}
		if n == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = sum / float64(n)
		}
	}
	return out
}

func diff(x []float64, k int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i-k >= 0 {
			out[i] = x[i] - x[i-k]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

// geometricWeights gives week k (1-based) the weight decay^(k-1).
func geometricWeights(n int, decay float64) []float64 {
	w := make([]float64, n)
	cur := 1.0
	for i := range w {
		w[i] = cur
		cur *= decay
	}
	return w
}

func weightedAvailable(cols [][]float64, weights []float64) []float64 {
	if len(cols) == 0 {
		return nil
	}
	out := make([]float64, len(cols[0]))
	for i := range out {
		num, den := 0.0, 0.0
		for k, col := range cols {
			if !math.IsNaN(col[i]) {
				num += weights[k] * col[i]
				den += weights[k]
			}
		}
		if den == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = num / den
		}
	}
	return out
}

func weightedPoint(at func(int) float64, weeks int, weights []float64) float64 {
	num, den := 0.0, 0.0
	for k := 1; k <= weeks; k++ {
		if v := at(7 * k); !math.IsNaN(v) {
			num += weights[k-1] * v
			den += weights[k-1]
		}
	}
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

func lagRatio(lag1, lag7 float64) float64 {
	if math.IsNaN(lag1) || math.IsNaN(lag7) {
		return math.NaN()
	}
	return lag1 / (lag7 + 1)
}
