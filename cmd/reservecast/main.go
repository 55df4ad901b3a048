package main

import (
	goflag "flag"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"inbound-forecaster/pkg/config"
	"inbound-forecaster/pkg/forecast"
)

// flags holds every command-line value. Only flags the user actually set
// override the config file.
type flags struct {
	configFile string

	reserveCSV   string
	reserveDSN   string
	dateCol      string
	countCol     string
	fixedCol     string
	strictDates  bool
	startDate    string
	endDate      string
	futureDays   int
	trainEndDate string

	outCSV          string
	outDSN          string
	redisURL        string
	historyDB       string
	modelsOut       string
	metricsTextfile string
	manualString    bool

	method       string
	randomState  int64
	blendNaive   bool
	noBlendNaive bool
	defaultAlpha float64
	alphaSteps   int
	lgbmHPO      bool
	lgbmHPOSum   bool
	leakAudit    bool

	logLevel string
	logDev   bool
}

var opts flags

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reservecast",
		Short: "Leak-free daily reservation forecaster for inbound waste deliveries",
		Long: `Aggregates the reservation log into daily counts, trains gradient boosted
models per target without look-ahead leakage, blends them with a same-weekday
baseline and writes one forecast row per day of the horizon.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Output.CSV == "" {
				return fmt.Errorf("--out-csv is required")
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.runOnce(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Output.ManualString {
				fmt.Fprintln(cmd.OutOrStdout(), forecast.ManualString(res.Rows))
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "YAML config file")
	pf.StringVar(&opts.reserveCSV, "reserve-csv", "", "Reservation log CSV (required unless --reserve-dsn)")
	pf.StringVar(&opts.reserveDSN, "reserve-dsn", "", "Postgres DSN to read the reservation log from")
	pf.StringVar(&opts.dateCol, "reserve-date-col", "予約日", "Reservation date column")
	pf.StringVar(&opts.countCol, "reserve-count-col", "台数", "Reservation count column")
	pf.StringVar(&opts.fixedCol, "reserve-fixed-col", "固定客", "Fixed customer flag column")
	pf.BoolVar(&opts.strictDates, "strict-dates", false, "Fail when any reservation date cannot be parsed")
	pf.StringVar(&opts.trainEndDate, "train-end-date", "", "Ignore history after this date (YYYY-MM-DD)")
	pf.StringVar(&opts.method, "method", "auto", "Model: auto|lgbm|xgb|cat|gbr|stack|stackoof")
	pf.Int64Var(&opts.randomState, "random-state", 42, "Random seed for every model")
	pf.BoolVar(&opts.blendNaive, "blend-naive", true, "Blend model output with the same-weekday baseline")
	pf.BoolVar(&opts.noBlendNaive, "no-blend-naive", false, "Disable baseline blending")
	pf.Float64Var(&opts.defaultAlpha, "blend-default-alpha", 0.8, "Model weight when validation is too short")
	pf.IntVar(&opts.alphaSteps, "blend-alpha-steps", 21, "Number of alpha grid points in [0,1]")
	pf.BoolVar(&opts.lgbmHPO, "lgbm-hpo", false, "Grid-search LightGBM-style parameters on the validation tail")
	pf.BoolVar(&opts.lgbmHPOSum, "lgbm-hpo-sum-only", false, "Restrict HPO to reserve_sum")
	pf.BoolVar(&opts.leakAudit, "leak-audit", false, "Recompute features from truncated history and fail on any mismatch")
	pf.StringVar(&opts.historyDB, "history-db", "", "SQLite file recording run history")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVar(&opts.logDev, "log-dev", false, "Human readable development logging")
	addKlogFlags(pf)

	f := rootCmd.Flags()
	f.StringVar(&opts.startDate, "start-date", "", "First forecast date (YYYY-MM-DD)")
	f.StringVar(&opts.endDate, "end-date", "", "Last forecast date (YYYY-MM-DD)")
	f.IntVar(&opts.futureDays, "future-days", 0, "Forecast this many days after the last history date")
	addOutputFlags(f)

	rootCmd.AddCommand(backtestCmd())
	rootCmd.AddCommand(scheduleCmd())

	return rootCmd
}

func addOutputFlags(f *pflag.FlagSet) {
	f.StringVar(&opts.outCSV, "out-csv", "", "Forecast CSV to write")
	f.StringVar(&opts.outDSN, "out-dsn", "", "Postgres DSN to upsert forecast rows into")
	f.StringVar(&opts.redisURL, "redis-url", "", "Redis URL to publish the forecast to")
	f.StringVar(&opts.modelsOut, "models-out", "", "Dump trained models as JSON")
	f.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics in textfile format")
	f.BoolVar(&opts.manualString, "emit-manual-string", false, "Print forecasts as date=count,sum,fixed;...")
}

// addKlogFlags exposes -v and friends, which control the scheduler output.
func addKlogFlags(fs *pflag.FlagSet) {
	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)
	fs.AddGoFlagSet(klogFlags)
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	set := fs.Changed

	if set("reserve-csv") {
		cfg.Input.CSV = opts.reserveCSV
	}
	if set("reserve-dsn") {
		cfg.Input.DSN = opts.reserveDSN
	}
	if set("reserve-date-col") {
		cfg.Input.Columns.Date.Name = opts.dateCol
	}
	if set("reserve-count-col") {
		cfg.Input.Columns.Count.Name = opts.countCol
	}
	if set("reserve-fixed-col") {
		cfg.Input.Columns.Fixed.Name = opts.fixedCol
	}
	if set("strict-dates") {
		cfg.Input.StrictDates = opts.strictDates
	}
	if set("out-csv") {
		cfg.Output.CSV = opts.outCSV
	}
	if set("out-dsn") {
		cfg.Output.DSN = opts.outDSN
	}
	if set("redis-url") {
		cfg.Output.RedisURL = opts.redisURL
	}
	if set("models-out") {
		cfg.Output.ModelsOut = opts.modelsOut
	}
	if set("metrics-textfile") {
		cfg.Output.MetricsTextfile = opts.metricsTextfile
	}
	if set("emit-manual-string") {
		cfg.Output.ManualString = opts.manualString
	}
	if set("history-db") {
		cfg.History.SQLitePath = opts.historyDB
	}
	if set("method") {
		cfg.Model.Method = opts.method
	}
	if set("random-state") {
		cfg.Model.RandomState = opts.randomState
	}
	if set("blend-naive") {
		cfg.SetBlendEnabled(opts.blendNaive)
	}
	if set("no-blend-naive") && opts.noBlendNaive {
		cfg.SetBlendEnabled(false)
	}
	if set("blend-default-alpha") {
		cfg.Blend.DefaultAlpha = opts.defaultAlpha
	}
	if set("blend-alpha-steps") {
		cfg.Blend.AlphaSteps = opts.alphaSteps
	}
	if set("lgbm-hpo") {
		cfg.Model.LGBMHPO = opts.lgbmHPO
	}
	if set("lgbm-hpo-sum-only") {
		cfg.Model.LGBMHPOSumOnly = opts.lgbmHPOSum
	}
	if set("leak-audit") {
		cfg.Audit.Enabled = opts.leakAudit
	}
	if set("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if set("log-dev") {
		cfg.Log.Development = opts.logDev
	}
}

// parseDate accepts an empty string as the zero time.
func parseDate(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}
