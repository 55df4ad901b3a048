package anomaly

import (
	"fmt"
	"time"
)

// Kind tells whether a value is above or below the expected range.
type Kind string

const (
	KindSpike Kind = "spike"
	KindDrop  Kind = "drop"
)

// Severity represents the severity level of an anomaly
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Method names the detection method.
type Method string

const (
	MethodZScore    Method = "z_score"
	MethodIQR       Method = "iqr"
	MethodConsensus Method = "consensus"
)

// Anomaly is one value outside the range expected from its reference.
type Anomaly struct {
	Date       time.Time `json:"date"`
	Kind       Kind      `json:"kind"`
	Severity   Severity  `json:"severity"`
	DetectedBy Method    `json:"detected_by"`
	Value      float64   `json:"value"`

	// Expected range (lower, upper bounds)
	ExpectedLower float64 `json:"expected_lower"`
	ExpectedUpper float64 `json:"expected_upper"`

	// Deviation is a z-score or a multiple of the IQR, depending on the method
	Deviation float64 `json:"deviation"`

	// Index in the checked values
	Index int `json:"index"`

	Message string `json:"message"`
}

// Stats describes the reference a range was fitted on.
type Stats struct {
	Mean    float64
	StdDev  float64
	Median  float64
	Q1      float64
	Q3      float64
	IQR     float64
	Lower   float64
	Upper   float64
	Samples int
}

// Result contains the anomalies found by one check.
type Result struct {
	Anomalies []Anomaly
	Method    Method
	Threshold float64
	// Checked counts values that had a usable reference.
	Checked int
}

// HasAnomalies returns true if any anomalies were detected
func (r *Result) HasAnomalies() bool {
	return len(r.Anomalies) > 0
}

// HighSeverityCount returns the count of high or critical severity anomalies
func (r *Result) HighSeverityCount() int {
	count := 0
	for _, a := range r.Anomalies {
		if a.Severity == SeverityHigh || a.Severity == SeverityCritical {
			count++
		}
	}
	return count
}

// Summary returns a human-readable summary of the result
func (r *Result) Summary() string {
	if !r.HasAnomalies() {
		return fmt.Sprintf("No anomalies detected (method=%s, checked=%d)", r.Method, r.Checked)
	}
	return fmt.Sprintf("Detected %d anomalies (%d high severity) using %s (checked=%d)",
		len(r.Anomalies), r.HighSeverityCount(), r.Method, r.Checked)
}

// Checker flags values that fall outside the range fitted on reference.
// Passing the same slice twice finds in-series outliers.
type Checker interface {
	Name() Method
	Check(reference, values []float64, dates []time.Time) *Result
}

// Config contains configuration for anomaly detection
type Config struct {
	// Z-Score threshold (default: 3.0, meaning 3 standard deviations)
	ZScoreThreshold float64 `yaml:"zscore_threshold"`

	// IQR multiplier (default: 1.5, use 3.0 for extreme outliers only)
	IQRMultiplier float64 `yaml:"iqr_multiplier"`

	// Minimum reference samples required for a check
	MinSamples int `yaml:"min_samples"`

	// Consensus threshold - minimum methods that must agree (default: 2)
	ConsensusThreshold int `yaml:"consensus_threshold"`
}

// DefaultConfig returns the default anomaly detection configuration
func DefaultConfig() *Config {
	return &Config{
		ZScoreThreshold:    3.0,
		IQRMultiplier:      1.5,
		MinSamples:         10,
		ConsensusThreshold: 2,
	}
}

// determineSeverity determines severity based on deviation magnitude
func determineSeverity(deviation float64) Severity {
	absDeviation := deviation
	if absDeviation < 0 {
		absDeviation = -absDeviation
	}

	switch {
	case absDeviation >= 5.0:
		return SeverityCritical
	case absDeviation >= 4.0:
		return SeverityHigh
	case absDeviation >= 3.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// fitter is implemented by the single-method detectors.
type fitter interface {
	fit(reference []float64) (*Stats, bool)
	score(s *Stats, v float64) (float64, Severity)
}

func check(method Method, threshold float64, f fitter, reference, values []float64, dates []time.Time) *Result {
	result := &Result{Method: method, Threshold: threshold, Anomalies: []Anomaly{}}

	stats, ok := f.fit(reference)
	if !ok {
		return result
	}
	result.Checked = len(values)

	for i, v := range values {
		if v >= stats.Lower && v <= stats.Upper {
			continue
		}
		deviation, severity := f.score(stats, v)
		kind := KindSpike
		if v < stats.Lower {
			kind = KindDrop
		}
		result.Anomalies = append(result.Anomalies, Anomaly{
			Date:          dateAt(dates, i),
			Kind:          kind,
			Severity:      severity,
			DetectedBy:    method,
			Value:         v,
			ExpectedLower: stats.Lower,
			ExpectedUpper: stats.Upper,
			Deviation:     deviation,
			Index:         i,
			Message: fmt.Sprintf("%s %.2f outside [%.2f, %.2f] (deviation %.2f)",
				kind, v, stats.Lower, stats.Upper, deviation),
		})
	}
	return result
}

func dateAt(dates []time.Time, i int) time.Time {
	if i < len(dates) {
		return dates[i]
	}
	return time.Time{}
}
