package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/forecast"
)

func backtestCmd() *cobra.Command {
	var (
		bc      = forecast.DefaultBacktestConfig()
		asJSON  bool
		textOut string
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Walk-forward evaluation of the model, the baseline and the blend",
		Long: `Retrains at each cutoff using only the history up to that cutoff and scores
the following days against what actually arrived.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if textOut != "" {
				cfg.Output.MetricsTextfile = textOut
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			records, _, _, err := a.loadRecords(cmd.Context())
			if err != nil {
				return err
			}
			result, err := a.forecaster.Backtest(cmd.Context(), records, bc)
			if err != nil {
				return fmt.Errorf("backtest failed: %w", err)
			}
			a.exporter.RecordBacktest(result)
			a.writeTextfile()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printBacktest(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().IntVar(&bc.Folds, "folds", bc.Folds, "Number of cutoffs")
	cmd.Flags().IntVar(&bc.Step, "step", bc.Step, "Days between cutoffs")
	cmd.Flags().IntVar(&bc.Horizon, "horizon", bc.Horizon, "Days forecast after each cutoff")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	cmd.Flags().StringVar(&textOut, "metrics-textfile", "", "Write Prometheus metrics in textfile format")

	return cmd
}

func printBacktest(w io.Writer, result *forecast.BacktestResult) {
	fmt.Fprintf(w, "=== Backtest (%d folds) ===\n", len(result.Folds))
	for _, fold := range result.Folds {
		fmt.Fprintf(w, "cutoff %s  alpha", fold.Cutoff.Format("2006-01-02"))
		for _, t := range features.Targets {
			fmt.Fprintf(w, " %s=%.2f", t, fold.Alphas[t])
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "target\tmodel MAE\tnaive MAE\tblend MAE\tblend SMAPE\tN")
	for _, t := range features.Targets {
		s, ok := result.Overall[t]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%.2f%%\t%d\n",
			t, s.Model.MAE, s.Naive.MAE, s.Blend.MAE, s.Blend.SMAPE, s.Blend.N)
	}
	tw.Flush()
}
