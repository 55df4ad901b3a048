package anomaly

import (
	"fmt"
	"sort"
	"time"
)

// ConsensusDetector runs several checkers and reports only the values
// flagged by at least MinAgreement of them.
type ConsensusDetector struct {
	Checkers     []Checker
	MinAgreement int
}

// NewConsensusDetector creates a consensus of the z-score and IQR checks.
func NewConsensusDetector() *ConsensusDetector {
	return NewConsensusDetectorWithConfig(DefaultConfig())
}

// NewConsensusDetectorWithConfig creates a consensus detector with custom config
func NewConsensusDetectorWithConfig(config *Config) *ConsensusDetector {
	return &ConsensusDetector{
		Checkers: []Checker{
			NewZScoreDetectorWithConfig(config),
			NewIQRDetectorWithConfig(config),
		},
		MinAgreement: config.ConsensusThreshold,
	}
}

// Name returns the detector's method name
func (d *ConsensusDetector) Name() Method {
	return MethodConsensus
}

// Check runs every checker and merges the agreed anomalies.
func (d *ConsensusDetector) Check(reference, values []float64, dates []time.Time) *Result {
	result := &Result{
		Method:    MethodConsensus,
		Threshold: float64(d.MinAgreement),
		Anomalies: []Anomaly{},
	}

	votes := make(map[int][]Anomaly)
	for _, c := range d.Checkers {
		r := c.Check(reference, values, dates)
		if r.Checked > result.Checked {
			result.Checked = r.Checked
		}
		for _, a := range r.Anomalies {
			votes[a.Index] = append(votes[a.Index], a)
		}
	}

	for index, anomalies := range votes {
		if len(anomalies) >= d.MinAgreement {
			result.Anomalies = append(result.Anomalies, d.merge(index, anomalies))
		}
	}
	sort.Slice(result.Anomalies, func(i, j int) bool {
		return result.Anomalies[i].Index < result.Anomalies[j].Index
	})
	return result
}

// merge keeps the highest severity and averages the bounds.
func (d *ConsensusDetector) merge(index int, anomalies []Anomaly) Anomaly {
	highest := SeverityLow
	methods := make([]string, len(anomalies))
	var deviation, lower, upper float64
	for i, a := range anomalies {
		if severityRank(a.Severity) > severityRank(highest) {
			highest = a.Severity
		}
		methods[i] = string(a.DetectedBy)
		deviation += a.Deviation
		lower += a.ExpectedLower
		upper += a.ExpectedUpper
	}
	n := float64(len(anomalies))
	first := anomalies[0]

	return Anomaly{
		Date:          first.Date,
		Kind:          first.Kind,
		Severity:      highest,
		DetectedBy:    MethodConsensus,
		Value:         first.Value,
		ExpectedLower: lower / n,
		ExpectedUpper: upper / n,
		Deviation:     deviation / n,
		Index:         index,
		Message: fmt.Sprintf("%d/%d methods agree (methods: %v, value=%.2f)",
			len(anomalies), len(d.Checkers), methods, first.Value),
	}
}

// severityRank returns a numeric rank for severity comparison
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
