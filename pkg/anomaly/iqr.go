package anomaly

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// IQRDetector flags values outside [Q1 - k·IQR, Q3 + k·IQR] of the
// reference. It is robust to outliers inside the reference itself.
type IQRDetector struct {
	// Multiplier for IQR bounds (default: 1.5)
	// 1.5 = outliers, 3.0 = extreme outliers only
	Multiplier float64

	// MinSamples is the minimum number of reference points required
	MinSamples int
}

// NewIQRDetector creates a new IQR detector with default settings
func NewIQRDetector() *IQRDetector {
	return NewIQRDetectorWithConfig(DefaultConfig())
}

// NewIQRDetectorWithConfig creates an IQR detector with custom config
func NewIQRDetectorWithConfig(config *Config) *IQRDetector {
	return &IQRDetector{
		Multiplier: config.IQRMultiplier,
		MinSamples: config.MinSamples,
	}
}

// Name returns the detector's method name
func (d *IQRDetector) Name() Method {
	return MethodIQR
}

// Check flags values outside the IQR fences of reference.
func (d *IQRDetector) Check(reference, values []float64, dates []time.Time) *Result {
	return check(MethodIQR, d.Multiplier, d, reference, values, dates)
}

func (d *IQRDetector) fit(reference []float64) (*Stats, bool) {
	if len(reference) < d.MinSamples || len(reference) < 4 {
		return nil, false
	}
	q1, median, q3 := quartiles(reference)
	iqr := q3 - q1
	// Zero IQR (mostly identical values) would flag everything else.
	if iqr == 0 {
		return nil, false
	}
	return &Stats{
		Mean:    stat.Mean(reference, nil),
		Median:  median,
		Q1:      q1,
		Q3:      q3,
		IQR:     iqr,
		Lower:   q1 - d.Multiplier*iqr,
		Upper:   q3 + d.Multiplier*iqr,
		Samples: len(reference),
	}, true
}

// score is the distance from the nearest quartile in IQR units.
func (d *IQRDetector) score(s *Stats, v float64) (float64, Severity) {
	var deviation float64
	if v < s.Q1 {
		deviation = (s.Q1 - v) / s.IQR
	} else {
		deviation = (v - s.Q3) / s.IQR
	}
	return deviation, determineSeverityFromIQR(deviation)
}

// quartiles calculates Q1, median and Q3 by linear interpolation.
func quartiles(data []float64) (q1, median, q3 float64) {
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	q1 = stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	median = stat.Quantile(0.5, stat.LinInterp, sorted, nil)
	q3 = stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	return q1, median, q3
}

// determineSeverityFromIQR determines severity based on IQR deviation
func determineSeverityFromIQR(deviation float64) Severity {
	absDeviation := deviation
	if absDeviation < 0 {
		absDeviation = -absDeviation
	}

	switch {
	case absDeviation >= 3.0: // More than 3x IQR from quartile
		return SeverityCritical
	case absDeviation >= 2.0: // More than 2x IQR from quartile
		return SeverityHigh
	case absDeviation >= 1.5: // More than 1.5x IQR from quartile
		return SeverityMedium
	default:
		return SeverityLow
	}
}
