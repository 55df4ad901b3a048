package anomaly

import (
	"time"

	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/forecast"
)

// DefaultWeeks is how many same-weekday history values form a reference.
const DefaultWeeks = 12

// ForecastCheck compares every forecast day with the same weekday in the
// actual history before it.
type ForecastCheck struct {
	Checker Checker
	Weeks   int
}

// NewForecastCheck uses a z-score/IQR consensus built from config.
func NewForecastCheck(config *Config, weeks int) *ForecastCheck {
	if config == nil {
		config = DefaultConfig()
	}
	if weeks <= 0 {
		weeks = DefaultWeeks
	}
	return &ForecastCheck{Checker: NewConsensusDetectorWithConfig(config), Weeks: weeks}
}

// Run checks rows per target. Index in each anomaly refers to rows.
func (c *ForecastCheck) Run(history *features.Series, rows []forecast.Row) map[features.Target]*Result {
	out := make(map[features.Target]*Result, len(features.Targets))
	for _, t := range features.Targets {
		res := &Result{Method: c.Checker.Name(), Anomalies: []Anomaly{}}
		for i, row := range rows {
			ref := c.reference(history, t, row.Date)
			r := c.Checker.Check(ref, []float64{row.Value(t)}, []time.Time{row.Date})
			res.Threshold = r.Threshold
			res.Checked += r.Checked
			for _, a := range r.Anomalies {
				a.Index = i
				res.Anomalies = append(res.Anomalies, a)
			}
		}
		out[t] = res
	}
	return out
}

// reference returns up to Weeks values of t on d's weekday strictly
// before d, oldest first.
func (c *ForecastCheck) reference(history *features.Series, t features.Target, d time.Time) []float64 {
	values := history.Column(t)
	ref := make([]float64, 0, c.Weeks)
	for i := history.Len() - 1; i >= 0 && len(ref) < c.Weeks; i-- {
		day := history.Dates[i]
		if !day.Before(d) || day.Weekday() != d.Weekday() {
			continue
		}
		ref = append(ref, values[i])
	}
	for i, j := 0, len(ref)-1; i < j; i, j = i+1, j-1 {
		ref[i], ref[j] = ref[j], ref[i]
	}
	return ref
}
