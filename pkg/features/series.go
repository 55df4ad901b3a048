package features

import (
	"math"
	"time"

	"inbound-forecaster/pkg/reservation"
)

// Target is one of the forecast columns.
type Target string

const (
	TargetCount Target = "reserve_count"
	TargetSum   Target = "reserve_sum"
	TargetFixed Target = "fixed_ratio"
)

// Targets lists the forecast columns in output order.
var Targets = []Target{TargetCount, TargetSum, TargetFixed}

// Clip bounds a forecast to its valid range: counts and sums are
// non-negative, the fixed ratio lies in [0,1]. Non-finite values become 0.
func (t Target) Clip(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if t == TargetFixed && v > 1 {
		return 1
	}
	return v
}

// Series is a strictly increasing, gap-free daily series of all targets.
type Series struct {
	Dates  []time.Time
	Values map[Target][]float64
	index  map[int64]int
}

// NewSeries normalizes records (sorted, merged, gaps filled with zero) and
// wraps them as a Series.
func NewSeries(records []reservation.DailyRecord) *Series {
	norm := reservation.Normalize(records, true)
	s := &Series{
		Dates:  make([]time.Time, 0, len(norm)),
		Values: make(map[Target][]float64, len(Targets)),
		index:  make(map[int64]int, len(norm)),
	}
	for _, r := range norm {
		s.Append(r.Date, map[Target]float64{
			TargetCount: r.ReserveCount,
			TargetSum:   r.ReserveSum,
			TargetFixed: r.FixedRatio,
		})
	}
	return s
}

// Len returns the number of days.
func (s *Series) Len() int { return len(s.Dates) }

// Column returns the values of target, aligned with Dates.
func (s *Series) Column(t Target) []float64 { return s.Values[t] }

// Last returns the final date; zero time for an empty series.
func (s *Series) Last() time.Time {
	if len(s.Dates) == 0 {
		return time.Time{}
	}
	return s.Dates[len(s.Dates)-1]
}

// Append adds one day. Callers keep the series contiguous.
func (s *Series) Append(d time.Time, values map[Target]float64) {
	if s.index == nil {
		s.index = make(map[int64]int)
	}
	if s.Values == nil {
		s.Values = make(map[Target][]float64, len(Targets))
	}
	s.index[dayNumber(d)] = len(s.Dates)
	s.Dates = append(s.Dates, d)
	for _, t := range Targets {
		s.Values[t] = append(s.Values[t], values[t])
	}
}

// IndexOf returns the position of d, or -1.
func (s *Series) IndexOf(d time.Time) int {
	if i, ok := s.index[dayNumber(d)]; ok {
		return i
	}
	return -1
}

// Value returns target's value at d, NaN when d is outside the series.
func (s *Series) Value(t Target, d time.Time) float64 {
	i := s.IndexOf(d)
	if i < 0 {
		return math.NaN()
	}
	return s.Values[t][i]
}

// Head returns a copy of the first n days.
func (s *Series) Head(n int) *Series {
	if n > s.Len() {
		n = s.Len()
	}
	if n < 0 {
		n = 0
	}
	out := &Series{Values: make(map[Target][]float64, len(Targets)), index: make(map[int64]int, n)}
	for i := 0; i < n; i++ {
		vals := make(map[Target]float64, len(Targets))
		for _, t := range Targets {
			vals[t] = s.Values[t][i]
		}
		out.Append(s.Dates[i], vals)
	}
	return out
}

// Before returns the days strictly before d.
func (s *Series) Before(d time.Time) *Series {
	n := 0
	for n < s.Len() && s.Dates[n].Before(d) {
		n++
	}
	return s.Head(n)
}

// Through returns the days up to and including d.
func (s *Series) Through(d time.Time) *Series {
	n := 0
	for n < s.Len() && !s.Dates[n].After(d) {
		n++
	}
	return s.Head(n)
}

// Clone returns an independent copy.
func (s *Series) Clone() *Series { return s.Head(s.Len()) }

func dayNumber(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
