package features

import (
	"fmt"
	"math"
	"time"

	"inbound-forecaster/pkg/holiday"
)

// Frame is a feature table keyed by date. Missing history is NaN.
type Frame struct {
	Dates   []time.Time
	Columns []string
	Rows    [][]float64
	index   map[string]int
}

// ColumnIndex returns the position of a named column, or -1.
func (f *Frame) ColumnIndex(name string) int {
	if i, ok := f.index[name]; ok {
		return i
	}
	return -1
}

// Matrix materializes the given rows and columns for model fitting. NaN is
// imputed with 0. Unknown columns are an error so a stored column list can
// never silently misalign.
func (f *Frame) Matrix(rows []int, columns []string) ([][]float64, error) {
	idx := make([]int, len(columns))
	for j, c := range columns {
		if idx[j] = f.ColumnIndex(c); idx[j] < 0 {
			return nil, fmt.Errorf("unknown feature column %q", c)
		}
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = selectRow(f.Rows[r], idx)
	}
	return out, nil
}

// Builder derives calendar and lag features from a daily series.
type Builder struct {
	Calendar holiday.Calendar
	Lags     LagConfig
	columns  []string
	index    map[string]int
}

// NewBuilder returns a builder with the default lag configuration.
func NewBuilder(cal holiday.Calendar) *Builder {
	return NewBuilderWithConfig(cal, DefaultLagConfig())
}

// NewBuilderWithConfig returns a builder for an explicit lag set.
func NewBuilderWithConfig(cal holiday.Calendar, lags LagConfig) *Builder {
	if cal == nil {
		cal = holiday.None{}
	}
	b := &Builder{Calendar: cal, Lags: lags}
	b.columns = append(b.columns, CalendarColumns...)
	for _, t := range Targets {
		b.columns = append(b.columns, lags.Columns(t)...)
	}
	b.index = make(map[string]int, len(b.columns))
	for i, c := range b.columns {
		b.index[c] = i
	}
	return b
}

// Columns returns every feature name in frame order.
func (b *Builder) Columns() []string {
	out := make([]string, len(b.columns))
	copy(out, b.columns)
	return out
}

// Build computes the feature frame for every day of s using column-wise
// shift construction.
func (b *Builder) Build(s *Series) *Frame {
	n := s.Len()
	f := &Frame{
		Dates:   append([]time.Time(nil), s.Dates...),
		Columns: b.Columns(),
		Rows:    make([][]float64, n),
		index:   make(map[string]int, len(b.columns)),
	}
	for i, c := range f.Columns {
		f.index[c] = i
	}

	var lagCols [][]float64
	for _, t := range Targets {
		lagCols = append(lagCols, b.Lags.lagColumnsShifted(s.Column(t))...)
	}

	for i := 0; i < n; i++ {
		row := CalendarRow(s.Dates[i], b.Calendar)
		for _, col := range lagCols {
			row = append(row, col[i])
		}
		f.Rows[i] = row
	}
	return f
}

// RowAt computes the features of date d from the days of s strictly before
// d. It is used for recursive forecasting past the end of s and by the
// leakage audit.
func (b *Builder) RowAt(s *Series, d time.Time) []float64 {
	row := CalendarRow(d, b.Calendar)
	for _, t := range Targets {
		row = append(row, b.Lags.lagRowAt(s, t, d)...)
	}
	return row
}

// SelectRow picks named columns out of a full feature row, imputing NaN
// with 0.
func (b *Builder) SelectRow(row []float64, columns []string) ([]float64, error) {
	idx := make([]int, len(columns))
	for j, c := range columns {
		k, ok := b.index[c]
		if !ok {
			return nil, fmt.Errorf("unknown feature column %q", c)
		}
		idx[j] = k
	}
	return selectRow(row, idx), nil
}

func selectRow(row []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for j, k := range idx {
		v := row[k]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[j] = v
	}
	return out
}
