package anomaly

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// ZScoreDetector flags values more than Threshold sample standard
// deviations away from the reference mean. It assumes the reference is
// roughly normal.
type ZScoreDetector struct {
	// Threshold for considering a value an anomaly (default: 3.0)
	Threshold float64

	// MinSamples is the minimum number of reference points required
	MinSamples int
}

// NewZScoreDetector creates a new Z-Score detector with default settings
func NewZScoreDetector() *ZScoreDetector {
	return NewZScoreDetectorWithConfig(DefaultConfig())
}

// NewZScoreDetectorWithConfig creates a Z-Score detector with custom config
func NewZScoreDetectorWithConfig(config *Config) *ZScoreDetector {
	return &ZScoreDetector{
		Threshold:  config.ZScoreThreshold,
		MinSamples: config.MinSamples,
	}
}

// Name returns the detector's method name
func (d *ZScoreDetector) Name() Method {
	return MethodZScore
}

// Check flags values outside mean ± Threshold·σ of reference.
func (d *ZScoreDetector) Check(reference, values []float64, dates []time.Time) *Result {
	return check(MethodZScore, d.Threshold, d, reference, values, dates)
}

func (d *ZScoreDetector) fit(reference []float64) (*Stats, bool) {
	if len(reference) < d.MinSamples || len(reference) < 2 {
		return nil, false
	}
	mean, std := stat.MeanStdDev(reference, nil)
	// A flat reference has no scale to compare against.
	if std == 0 {
		return nil, false
	}
	return &Stats{
		Mean:    mean,
		StdDev:  std,
		Lower:   mean - d.Threshold*std,
		Upper:   mean + d.Threshold*std,
		Samples: len(reference),
	}, true
}

func (d *ZScoreDetector) score(s *Stats, v float64) (float64, Severity) {
	z := (v - s.Mean) / s.StdDev
	return z, determineSeverity(z)
}
