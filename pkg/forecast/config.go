package forecast

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"inbound-forecaster/pkg/blend"
	"inbound-forecaster/pkg/ensemble"
	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/holiday"
	"inbound-forecaster/pkg/regressor"
)

var (
	// ErrEmptyHistory means no usable daily records remain for training.
	ErrEmptyHistory = errors.New("no reservation history to train on")
	// ErrInvalidHorizon is returned for contradictory or reversed horizons.
	ErrInvalidHorizon = errors.New("invalid forecast horizon")
)

// Method selects how each target's model is built.
type Method string

const (
	MethodAuto     Method = "auto"
	MethodLGBM     Method = "lgbm"
	MethodXGB      Method = "xgb"
	MethodCat      Method = "cat"
	MethodGBR      Method = "gbr"
	MethodStack    Method = "stack"
	MethodStackOOF Method = "stackoof"
)

// ParseMethod validates a --method value.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodAuto, MethodLGBM, MethodXGB, MethodCat, MethodGBR, MethodStack, MethodStackOOF:
		return m, nil
	case "":
		return MethodAuto, nil
	default:
		return "", fmt.Errorf("unknown method %q (want auto|lgbm|xgb|cat|gbr|stack|stackoof)", s)
	}
}

// Stacked reports whether m trains a meta-model.
func (m Method) Stacked() bool { return m == MethodStack || m == MethodStackOOF }

// Backend maps a single-model method to its regressor backend.
func (m Method) Backend() regressor.Backend {
	switch m {
	case MethodLGBM:
		return regressor.LightGBM
	case MethodXGB:
		return regressor.XGBoost
	case MethodCat:
		return regressor.CatBoost
	case MethodGBR:
		return regressor.GBR
	default:
		return regressor.Auto
	}
}

// Horizon is either an explicit date range or a day count after the last
// training day. Setting both is an error.
type Horizon struct {
	Start      time.Time
	End        time.Time
	FutureDays int
}

// DefaultHorizonDays applies when neither a range nor a day count is set.
const DefaultHorizonDays = 7

// Resolve turns the horizon into an inclusive date range given the last
// training date.
func (h Horizon) Resolve(lastTrain time.Time) (time.Time, time.Time, error) {
	next := lastTrain.AddDate(0, 0, 1)
	if h.FutureDays < 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: future days must be positive, got %d", ErrInvalidHorizon, h.FutureDays)
	}
	if h.FutureDays > 0 {
		if !h.Start.IsZero() || !h.End.IsZero() {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: --future-days cannot be combined with --start-date/--end-date", ErrInvalidHorizon)
		}
		return next, next.AddDate(0, 0, h.FutureDays-1), nil
	}

	start, end := h.Start, h.End
	if start.IsZero() {
		start = next
	}
	if end.IsZero() {
		end = start.AddDate(0, 0, DefaultHorizonDays-1)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %s is before start %s",
			ErrInvalidHorizon, end.Format(dateLayout), start.Format(dateLayout))
	}
	return start, end, nil
}

const dateLayout = "2006-01-02"

// Config controls one forecasting run. Per-target blend weights are
// learned inside Run and returned in the Result, never stored here.
type Config struct {
	Method   Method
	Horizon  Horizon
	TrainEnd time.Time
	Calendar holiday.Calendar
	Lags     features.LagConfig

	BlendNaive        bool
	BlendDefaultAlpha float64
	BlendAlphaSteps   int
	BaselineWeeks     int

	// ValidationDays is the chronological tail used for α and HPO.
	ValidationDays int
	// MinTrain is the shortest train prefix kept in front of the tail.
	MinTrain int
	// MinRowsAfterWarmup decides whether the lag warm-up rows are dropped.
	MinRowsAfterWarmup int

	LGBMHPO        bool
	LGBMHPOSumOnly bool

	LeakAudit        bool
	LeakAuditSamples int

	StackSplits   int
	StackMinTrain int

	RandomState int64
	Params      map[regressor.Backend]regressor.Params
}

// DefaultConfig mirrors the CLI defaults.
func DefaultConfig() Config {
	return Config{
		Method:             MethodAuto,
		Calendar:           holiday.Japan(),
		Lags:               features.DefaultLagConfig(),
		BlendNaive:         true,
		BlendDefaultAlpha:  blend.DefaultAlpha,
		BlendAlphaSteps:    blend.DefaultSteps,
		BaselineWeeks:      blend.DefaultWeeks,
		ValidationDays:     28,
		MinTrain:           28,
		MinRowsAfterWarmup: 14,
		LeakAuditSamples:   14,
		StackSplits:        5,
		StackMinTrain:      56,
		RandomState:        42,
	}
}

func (c *Config) stackOptions() ensemble.Options {
	opts := ensemble.DefaultOptions(c.RandomState)
	opts.ValidationDays = c.ValidationDays
	if c.StackSplits > 0 {
		opts.Splits = c.StackSplits
	}
	if c.StackMinTrain > 0 {
		opts.MinTrain = c.StackMinTrain
	}
	opts.Params = make(map[regressor.Backend]regressor.Params, len(c.Params))
	for b, p := range c.Params {
		opts.Params[b] = p
	}
	return opts
}

func (c *Config) hpoEnabled(t features.Target) bool {
	if !c.LGBMHPO {
		return false
	}
	if c.LGBMHPOSumOnly && t != features.TargetSum {
		return false
	}
	switch c.Method {
	case MethodAuto, MethodLGBM, MethodStack, MethodStackOOF:
		return true
	}
	return false
}
