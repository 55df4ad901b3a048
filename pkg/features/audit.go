package features

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// LeakageError reports feature columns whose value at Date changed when
// history from Date onwards was removed.
type LeakageError struct {
	Date    time.Time
	Columns []string
}

func (e *LeakageError) Error() string {
	return fmt.Sprintf("feature leakage at %s: columns %s",
		e.Date.Format("2006-01-02"), strings.Join(e.Columns, ", "))
}

// AuditResult summarizes a passing audit.
type AuditResult struct {
	Dates   []time.Time
	Columns int
}

// Audit recomputes the feature vector of each of the last samples days
// using only history strictly before that day and compares it with the
// full-history frame. The first mismatch is returned as *LeakageError.
func (b *Builder) Audit(s *Series, samples int) (*AuditResult, error) {
	frame := b.Build(s)
	n := s.Len()
	if samples <= 0 || samples > n {
		samples = n
	}

	res := &AuditResult{Columns: len(frame.Columns)}
	for i := n - samples; i < n; i++ {
		d := s.Dates[i]
		if err := b.auditDay(frame, s.Before(d), i); err != nil {
			return nil, err
		}
		res.Dates = append(res.Dates, d)
	}
	return res, nil
}

// AuditDates runs the same check for explicit dates of s.
func (b *Builder) AuditDates(s *Series, dates []time.Time) error {
	frame := b.Build(s)
	for _, d := range dates {
		i := s.IndexOf(d)
		if i < 0 {
			return fmt.Errorf("audit date %s not in series", d.Format("2006-01-02"))
		}
		if err := b.auditDay(frame, s.Before(d), i); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) auditDay(frame *Frame, past *Series, i int) error {
	d := frame.Dates[i]
	want := frame.Rows[i]
	got := b.RowAt(past, d)

	var bad []string
	for j := range want {
		if !allClose(got[j], want[j]) {
			bad = append(bad, frame.Columns[j])
		}
	}
	if len(bad) > 0 {
		return &LeakageError{Date: d, Columns: bad}
	}
	return nil
}

// allClose mirrors numpy.allclose with equal_nan: |a-b| <= atol + rtol*|b|.
func allClose(a, b float64) bool {
	const rtol, atol = 1e-5, 1e-8
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) <= atol+rtol*math.Abs(b)
}
