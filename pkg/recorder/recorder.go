package recorder

import (
	"time"

	"inbound-forecaster/pkg/forecast"
)

// RunEvent describes one invocation, successful or not.
type RunEvent struct {
	StartedAt    time.Time
	Duration     time.Duration
	Source       string
	InputRows    int
	DroppedDates int
	// Result is nil when the run failed.
	Result *forecast.Result
	Err    error
}

// RunSummary is a stored run as read back.
type RunSummary struct {
	RunID     string
	StartedAt time.Time
	Method    string
	Status    string
	Days      int
	Alphas    map[string]float64
}

// Recorder persists forecast run history for later analysis.
type Recorder interface {
	RecordRun(evt *RunEvent) error
	Close() error
}
