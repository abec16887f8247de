package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/trend"
)

// newTrendCmd creates the trend subcommand
func newTrendCmd() *cobra.Command {
	cfg := trend.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "trend VALUE...",
		Short: "Analyze a window of daily AQI values, oldest first",
		Long: `Analyze a window of daily AQI values, oldest first. The window holds
--past days, today and --future forecast days, so with the defaults
exactly 7 values are expected.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			analyzer, err := trend.NewAnalyzer(cfg)
			if err != nil {
				return err
			}
			samples, err := windowSamples(args, cfg.PastDays)
			if err != nil {
				return err
			}
			summary, err := analyzer.Analyze(samples)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, summary)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Direction: %s\n", summary.Direction)
			fmt.Fprintf(out, "Average:   %.1f (min %d, max %d)\n", summary.Average, summary.Min, summary.Max)
			fmt.Fprintf(out, "Peak band: %s %s\n", summary.PeakBand.Icon(), summary.PeakBand.Label())
			fmt.Fprintf(out, "Thirds:    %.1f -> %.1f (margin %.1f)\n", summary.FirstMean, summary.LastMean, cfg.Margin)
			return nil
		},
	}

	cmd.Flags().IntVar(&cfg.PastDays, "past", cfg.PastDays, "days of history before today")
	cmd.Flags().IntVar(&cfg.FutureDays, "future", cfg.FutureDays, "forecast days after today")
	cmd.Flags().Float64Var(&cfg.Margin, "margin", cfg.Margin, "minimum change between first and last third")
	return cmd
}

// windowSamples labels values relative to today, which is index pastDays.
func windowSamples(values []string, pastDays int) ([]trend.Sample, error) {
	samples := make([]trend.Sample, 0, len(values))
	for i, raw := range values {
		value, err := aqi.ParseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i+1, err)
		}
		offset := i - pastDays
		label := "today"
		if offset != 0 {
			label = fmt.Sprintf("day%+d", offset)
		}
		samples = append(samples, trend.Sample{Label: label, AQI: value, Forecast: offset > 0})
	}
	return samples, nil
}
