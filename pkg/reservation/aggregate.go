package reservation

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"
)

// DailyRecord is one calendar day of reservations.
type DailyRecord struct {
	Date         time.Time
	ReserveCount float64
	ReserveSum   float64
	FixedRatio   float64
}

// Options controls how a raw table is aggregated.
type Options struct {
	Date   ColumnSpec
	Count  ColumnSpec
	Fixed  ColumnSpec
	Filter *RowFilter
}

// DefaultOptions uses the default Shogun column specs and no filter.
func DefaultOptions() Options {
	return Options{Date: DefaultDateColumn, Count: DefaultCountColumn, Fixed: DefaultFixedColumn}
}

// Report summarizes what aggregation kept and dropped.
type Report struct {
	TotalRows    int
	DroppedDates int
	Filtered     int
	Days         int
	Columns      ColumnMap
}

// DropRatio is the share of rows whose date could not be parsed.
func (r Report) DropRatio() float64 {
	if r.TotalRows == 0 {
		return 0
	}
	return float64(r.DroppedDates) / float64(r.TotalRows)
}

type dayAccumulator struct {
	rows  int
	sum   float64
	fixed int
}

// Aggregate turns a raw reservation log into one record per distinct date:
// reserve_count is the number of rows, reserve_sum the sum of the count
// column (the row count when the column is absent) and fixed_ratio the
// share of rows flagged as fixed customers. Rows with unparseable dates are
// dropped and counted in the report. An empty table yields no records and
// no error.
func Aggregate(t *Table, opts Options) ([]DailyRecord, Report, error) {
	var report Report
	if t.Len() == 0 || len(t.Header) == 0 {
		return nil, report, nil
	}
	report.TotalRows = len(t.Rows)

	cols, err := ResolveColumns(t.Header, opts.Date, opts.Count, opts.Fixed)
	report.Columns = cols
	if err != nil {
		return nil, report, err
	}

	days := make(map[time.Time]*dayAccumulator)
	for _, row := range t.Rows {
		date, ok := ParseDate(cell(row, cols.Date))
		if !ok {
			report.DroppedDates++
			continue
		}

		qty := 1.0
		if cols.Count >= 0 {
			qty = ParseQuantity(cell(row, cols.Count))
		}
		fixed := cols.Fixed >= 0 && ParseFlag(cell(row, cols.Fixed))

		if opts.Filter != nil {
			keep, err := opts.Filter.keep(filterEnv{date: date, count: qty, fixed: fixed, row: rowMap(t.Header, row)})
			if err != nil {
				return nil, report, err
			}
			if !keep {
				report.Filtered++
				continue
			}
		}

		acc, ok := days[date]
		if !ok {
			acc = &dayAccumulator{}
			days[date] = acc
		}
		acc.rows++
		acc.sum += qty
		if fixed {
			acc.fixed++
		}
	}

	records := make([]DailyRecord, 0, len(days))
	for date, acc := range days {
		records = append(records, DailyRecord{
			Date:         date,
			ReserveCount: float64(acc.rows),
			ReserveSum:   acc.sum,
			FixedRatio:   float64(acc.fixed) / float64(acc.rows),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
	report.Days = len(records)
	return records, report, nil
}

// Normalize returns a strictly increasing daily series. Duplicate dates are
// merged (count and sum added, ratio averaged). When fillGaps is set, days
// missing between the first and last date are inserted with zero values.
func Normalize(records []DailyRecord, fillGaps bool) []DailyRecord {
	if len(records) == 0 {
		return nil
	}

	sorted := make([]DailyRecord, len(records))
	copy(sorted, records)
	for i := range sorted {
		sorted[i].Date = truncateDay(sorted[i].Date)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	out := make([]DailyRecord, 0, len(sorted))
	dup := 1
	for _, r := range sorted {
		n := len(out)
		if n > 0 && out[n-1].Date.Equal(r.Date) {
			last := &out[n-1]
			last.ReserveCount += r.ReserveCount
			last.ReserveSum += r.ReserveSum
			last.FixedRatio = (last.FixedRatio*float64(dup) + r.FixedRatio) / float64(dup+1)
			dup++
			continue
		}
		dup = 1
		out = append(out, r)
	}

	if !fillGaps {
		return out
	}

	filled := make([]DailyRecord, 0, len(out))
	for i, r := range out {
		if i > 0 {
			for d := out[i-1].Date.AddDate(0, 0, 1); d.Before(r.Date); d = d.AddDate(0, 0, 1) {
				filled = append(filled, DailyRecord{Date: d})
			}
		}
		filled = append(filled, r)
	}
	return filled
}

// ParseQuantity reads a numeric cell, tolerating thousands separators and
// full-width digits. Anything unparseable counts as zero.
func ParseQuantity(s string) float64 {
	s = strings.TrimSpace(width.Fold.String(s))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return v.InexactFloat64()
}

// ParseFlag reads a fixed-customer flag. Truthy values are non-zero
// numbers, true/yes/y/t, 固定 and circle marks.
func ParseFlag(s string) bool {
	s = strings.ToLower(strings.TrimSpace(width.Fold.String(s)))
	switch s {
	case "", "0", "false", "no", "n", "f", "-", "×", "非固定":
		return false
	case "true", "yes", "y", "t", "○", "〇", "◯", "固定", "固定客":
		return true
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v != 0
	}
	return false
}

// ErrEmptySeries is returned by helpers that need at least one record.
var ErrEmptySeries = errors.New("reservation series is empty")

// Span returns the first and last dates of a sorted series.
func Span(records []DailyRecord) (time.Time, time.Time, error) {
	if len(records) == 0 {
		return time.Time{}, time.Time{}, ErrEmptySeries
	}
	return records[0].Date, records[len(records)-1].Date, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func rowMap(header, row []string) map[string]string {
	m := make(map[string]string, len(header))
	for i, h := range header {
		m[h] = cell(row, i)
	}
	return m
}
