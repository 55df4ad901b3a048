package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"inbound-forecaster/pkg/anomaly"
	"inbound-forecaster/pkg/blend"
	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/forecast"
	"inbound-forecaster/pkg/holiday"
	"inbound-forecaster/pkg/regressor"
	"inbound-forecaster/pkg/reservation"
)

// Config holds all application configuration.
type Config struct {
	Input struct {
		CSV          string   `yaml:"csv"`
		DSN          string   `yaml:"dsn"`
		Query        string   `yaml:"query"`
		Encodings    []string `yaml:"encodings"`
		Filter       string   `yaml:"filter"`
		MaxDropRatio float64  `yaml:"max_drop_ratio"`
		StrictDates  bool     `yaml:"strict_dates"`
		Columns      struct {
			Date  reservation.ColumnSpec `yaml:"date"`
			Count reservation.ColumnSpec `yaml:"count"`
			Fixed reservation.ColumnSpec `yaml:"fixed"`
		} `yaml:"columns"`
	} `yaml:"input"`
	Output struct {
		CSV             string `yaml:"csv"`
		DSN             string `yaml:"dsn"`
		Table           string `yaml:"table"`
		RedisURL        string `yaml:"redis_url"`
		ModelsOut       string `yaml:"models_out"`
		MetricsTextfile string `yaml:"metrics_textfile"`
		ManualString    bool   `yaml:"manual_string"`
	} `yaml:"output"`
	Model struct {
		Method         string                      `yaml:"method"`
		RandomState    int64                       `yaml:"random_state"`
		ValidationDays int                         `yaml:"validation_days"`
		MinTrain       int                         `yaml:"min_train"`
		LGBMHPO        bool                        `yaml:"lgbm_hpo"`
		LGBMHPOSumOnly bool                        `yaml:"lgbm_hpo_sum_only"`
		StackSplits    int                         `yaml:"stack_splits"`
		StackMinTrain  int                         `yaml:"stack_min_train"`
		Params         map[string]regressor.Params `yaml:"params"`
	} `yaml:"model"`
	Blend struct {
		Enabled       *bool   `yaml:"enabled"`
		DefaultAlpha  float64 `yaml:"default_alpha"`
		AlphaSteps    int     `yaml:"alpha_steps"`
		BaselineWeeks int     `yaml:"baseline_weeks"`
	} `yaml:"blend"`
	Audit struct {
		Enabled bool `yaml:"enabled"`
		Samples int  `yaml:"samples"`
	} `yaml:"audit"`
	Sanity struct {
		Disabled  bool           `yaml:"disabled"`
		Weeks     int            `yaml:"weeks"`
		Detection anomaly.Config `yaml:"detection"`
	} `yaml:"sanity"`
	Calendar struct {
		Name          string   `yaml:"name"`
		ExtraHolidays []string `yaml:"extra_holidays"`
	} `yaml:"calendar"`
	Schedule struct {
		Cron        string `yaml:"cron"`
		Timezone    string `yaml:"timezone"`
		Timeout     string `yaml:"timeout"`
		MetricsAddr string `yaml:"metrics_addr"`
		RunOnStart  bool   `yaml:"run_on_start"`
	} `yaml:"schedule"`
	History struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"history"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. An empty path or a missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// Environment variable overrides
	if v := os.Getenv("RESERVECAST_RESERVE_CSV"); v != "" {
		cfg.Input.CSV = v
	}
	if v := os.Getenv("RESERVECAST_RESERVE_DSN"); v != "" {
		cfg.Input.DSN = v
	}
	if v := os.Getenv("RESERVECAST_OUT_CSV"); v != "" {
		cfg.Output.CSV = v
	}
	if v := os.Getenv("RESERVECAST_OUT_DSN"); v != "" {
		cfg.Output.DSN = v
	}
	if v := os.Getenv("RESERVECAST_REDIS_URL"); v != "" {
		cfg.Output.RedisURL = v
	}
	if v := os.Getenv("RESERVECAST_METHOD"); v != "" {
		cfg.Model.Method = v
	}
	if v := os.Getenv("RESERVECAST_RANDOM_STATE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Model.RandomState = n
		}
	}
	if v := os.Getenv("RESERVECAST_CRON"); v != "" {
		cfg.Schedule.Cron = v
	}
	if v := os.Getenv("RESERVECAST_HISTORY_DB"); v != "" {
		cfg.History.SQLitePath = v
	}
	if v := os.Getenv("RESERVECAST_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Input.Encodings) == 0 {
		c.Input.Encodings = append([]string(nil), reservation.DefaultEncodings...)
	}
	if c.Input.Query == "" {
		c.Input.Query = reservation.DefaultWarehouseQuery
	}
	if c.Input.MaxDropRatio == 0 {
		c.Input.MaxDropRatio = 0.05
	}
	defaultColumn(&c.Input.Columns.Date, reservation.DefaultDateColumn)
	defaultColumn(&c.Input.Columns.Count, reservation.DefaultCountColumn)
	defaultColumn(&c.Input.Columns.Fixed, reservation.DefaultFixedColumn)

	if c.Model.Method == "" {
		c.Model.Method = string(forecast.MethodAuto)
	}
	if c.Model.RandomState == 0 {
		c.Model.RandomState = 42
	}
	if c.Model.ValidationDays == 0 {
		c.Model.ValidationDays = 28
	}
	if c.Model.MinTrain == 0 {
		c.Model.MinTrain = 28
	}
	if c.Model.StackSplits == 0 {
		c.Model.StackSplits = 5
	}
	if c.Model.StackMinTrain == 0 {
		c.Model.StackMinTrain = 56
	}

	if c.Blend.Enabled == nil {
		enabled := true
		c.Blend.Enabled = &enabled
	}
	if c.Blend.DefaultAlpha == 0 {
		c.Blend.DefaultAlpha = blend.DefaultAlpha
	}
	if c.Blend.AlphaSteps == 0 {
		c.Blend.AlphaSteps = blend.DefaultSteps
	}
	if c.Blend.BaselineWeeks == 0 {
		c.Blend.BaselineWeeks = blend.DefaultWeeks
	}
	if c.Audit.Samples == 0 {
		c.Audit.Samples = 14
	}
	if c.Sanity.Weeks == 0 {
		c.Sanity.Weeks = anomaly.DefaultWeeks
	}
	def := anomaly.DefaultConfig()
	det := &c.Sanity.Detection
	if det.ZScoreThreshold == 0 {
		det.ZScoreThreshold = def.ZScoreThreshold
	}
	if det.IQRMultiplier == 0 {
		det.IQRMultiplier = def.IQRMultiplier
	}
	if det.MinSamples == 0 {
		det.MinSamples = def.MinSamples
	}
	if det.ConsensusThreshold == 0 {
		det.ConsensusThreshold = def.ConsensusThreshold
	}
	if c.Calendar.Name == "" {
		c.Calendar.Name = "jp"
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = "30 5 * * *"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "Asia/Tokyo"
	}
	if c.Schedule.Timeout == "" {
		c.Schedule.Timeout = "30m"
	}
	if c.Schedule.MetricsAddr == "" {
		c.Schedule.MetricsAddr = ":9102"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// defaultColumn fills an unset column name and keeps configured aliases.
func defaultColumn(col *reservation.ColumnSpec, def reservation.ColumnSpec) {
	if col.Name == "" {
		col.Name = def.Name
	}
	if col.Aliases == nil {
		col.Aliases = append([]string(nil), def.Aliases...)
	}
}

// BlendEnabled reports whether forecasts are blended with the baseline.
func (c *Config) BlendEnabled() bool {
	return c.Blend.Enabled == nil || *c.Blend.Enabled
}

// SetBlendEnabled overrides the blend switch.
func (c *Config) SetBlendEnabled(v bool) {
	c.Blend.Enabled = &v
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Input.CSV == "" && c.Input.DSN == "" {
		return fmt.Errorf("input.csv or input.dsn is required")
	}
	if c.Input.MaxDropRatio < 0 || c.Input.MaxDropRatio > 1 {
		return fmt.Errorf("input.max_drop_ratio must be within [0,1]")
	}
	if err := validateColumns(c.Input.Columns.Date, c.Input.Columns.Count, c.Input.Columns.Fixed); err != nil {
		return err
	}
	if _, err := reservation.NewRowFilter(c.Input.Filter); err != nil {
		return fmt.Errorf("input.filter: %w", err)
	}
	if _, err := forecast.ParseMethod(c.Model.Method); err != nil {
		return fmt.Errorf("model.method: %w", err)
	}
	for name := range c.Model.Params {
		b, err := regressor.ParseBackend(name)
		if err != nil || b == regressor.Auto {
			return fmt.Errorf("model.params: unknown backend %q", name)
		}
	}
	if c.Model.ValidationDays < 0 || c.Model.MinTrain < 1 {
		return fmt.Errorf("model.validation_days must be >= 0 and model.min_train >= 1")
	}
	if c.Blend.DefaultAlpha < 0 || c.Blend.DefaultAlpha > 1 {
		return fmt.Errorf("blend.default_alpha must be within [0,1]")
	}
	if c.Blend.AlphaSteps < 2 {
		return fmt.Errorf("blend.alpha_steps must be at least 2")
	}
	if c.Sanity.Detection.ConsensusThreshold > 2 {
		return fmt.Errorf("sanity.detection.consensus_threshold must be 1 or 2")
	}
	if _, err := c.HolidayCalendar(); err != nil {
		return fmt.Errorf("calendar: %w", err)
	}
	if _, err := time.ParseDuration(c.Schedule.Timeout); err != nil {
		return fmt.Errorf("schedule.timeout: %w", err)
	}
	return nil
}

// validateColumns rejects alias tables where one normalized name would
// resolve to more than one column.
func validateColumns(specs ...reservation.ColumnSpec) error {
	if specs[0].Name == "" {
		return fmt.Errorf("input.columns.date.name is required")
	}
	owner := make(map[string]string)
	for _, col := range specs {
		for _, cand := range col.Candidates() {
			key := reservation.NormalizeKey(cand)
			if key == "" {
				continue
			}
			if prev, ok := owner[key]; ok && prev != col.Name {
				return fmt.Errorf("input.columns: alias %q is used by both %q and %q", cand, prev, col.Name)
			}
			owner[key] = col.Name
		}
	}
	return nil
}

// HolidayCalendar builds the configured calendar plus extra closure days.
func (c *Config) HolidayCalendar() (holiday.Calendar, error) {
	cal, err := holiday.ByName(c.Calendar.Name)
	if err != nil {
		return nil, err
	}
	if len(c.Calendar.ExtraHolidays) == 0 {
		return cal, nil
	}
	extra, err := holiday.NewStatic(c.Calendar.ExtraHolidays)
	if err != nil {
		return nil, err
	}
	return holiday.Union{cal, extra}, nil
}

// ReservationOptions returns the aggregation options.
func (c *Config) ReservationOptions() (reservation.Options, error) {
	filter, err := reservation.NewRowFilter(c.Input.Filter)
	if err != nil {
		return reservation.Options{}, err
	}
	return reservation.Options{
		Date:   c.Input.Columns.Date,
		Count:  c.Input.Columns.Count,
		Fixed:  c.Input.Columns.Fixed,
		Filter: filter,
	}, nil
}

// ForecastConfig translates the model, blend and audit sections.
func (c *Config) ForecastConfig() (forecast.Config, error) {
	fc := forecast.DefaultConfig()
	method, err := forecast.ParseMethod(c.Model.Method)
	if err != nil {
		return fc, err
	}
	cal, err := c.HolidayCalendar()
	if err != nil {
		return fc, err
	}

	fc.Method = method
	fc.Calendar = cal
	fc.Lags = features.DefaultLagConfig()
	fc.RandomState = c.Model.RandomState
	fc.ValidationDays = c.Model.ValidationDays
	fc.MinTrain = c.Model.MinTrain
	fc.LGBMHPO = c.Model.LGBMHPO
	fc.LGBMHPOSumOnly = c.Model.LGBMHPOSumOnly
	fc.StackSplits = c.Model.StackSplits
	fc.StackMinTrain = c.Model.StackMinTrain
	fc.BlendNaive = c.BlendEnabled()
	fc.BlendDefaultAlpha = c.Blend.DefaultAlpha
	fc.BlendAlphaSteps = c.Blend.AlphaSteps
	fc.BaselineWeeks = c.Blend.BaselineWeeks
	fc.LeakAudit = c.Audit.Enabled
	fc.LeakAuditSamples = c.Audit.Samples

	if len(c.Model.Params) > 0 {
		fc.Params = make(map[regressor.Backend]regressor.Params, len(c.Model.Params))
		for name, p := range c.Model.Params {
			b, err := regressor.ParseBackend(name)
			if err != nil {
				return fc, err
			}
			fc.Params[b] = overlayParams(regressor.DefaultParams(b, c.Model.RandomState), p)
		}
	}
	return fc, nil
}

// overlayParams replaces the defaults with every non-zero field of p.
func overlayParams(base, p regressor.Params) regressor.Params {
	if p.Rounds != 0 {
		base.Rounds = p.Rounds
	}
	if p.LearningRate != 0 {
		base.LearningRate = p.LearningRate
	}
	if p.NumLeaves != 0 {
		base.NumLeaves = p.NumLeaves
	}
	if p.MaxDepth != 0 {
		base.MaxDepth = p.MaxDepth
	}
	if p.MinSamplesLeaf != 0 {
		base.MinSamplesLeaf = p.MinSamplesLeaf
	}
	if p.Subsample != 0 {
		base.Subsample = p.Subsample
	}
	if p.Colsample != 0 {
		base.Colsample = p.Colsample
	}
	if p.Lambda != 0 {
		base.Lambda = p.Lambda
	}
	if p.MinGain != 0 {
		base.MinGain = p.MinGain
	}
	if p.MaxBins != 0 {
		base.MaxBins = p.MaxBins
	}
	if p.Seed != 0 {
		base.Seed = p.Seed
	}
	return base
}

// ScheduleTimeout parses schedule.timeout.
func (c *Config) ScheduleTimeout() time.Duration {
	d, err := time.ParseDuration(c.Schedule.Timeout)
	if err != nil {
		return 0
	}
	return d
}
