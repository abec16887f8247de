package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smukkama/aqi-alerts/internal/aqi"
)

type classifyResult struct {
	Value string    `json:"value"`
	AQI   *int      `json:"aqi,omitempty"`
	Band  *aqi.Band `json:"band,omitempty"`
	Error string    `json:"error,omitempty"`
}

// newClassifyCmd creates the classify subcommand
func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify VALUE...",
		Short: "Print the severity band of each AQI value",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, failed := classifyValues(args)
			if jsonOutput {
				if err := printJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, r := range results {
					if r.Error != "" {
						fmt.Fprintf(out, "%-8s invalid: %s\n", r.Value, r.Error)
						continue
					}
					band := *r.Band
					fmt.Fprintf(out, "%-8s %s %s (%s)\n", r.Value, band.Icon(), band.Label(), band)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d values are invalid", failed, len(args))
			}
			return nil
		},
	}
}

func classifyValues(values []string) ([]classifyResult, int) {
	results := make([]classifyResult, 0, len(values))
	failed := 0
	for _, raw := range values {
		result := classifyResult{Value: raw}
		band, value, err := classify(raw)
		if err != nil {
			result.Error = err.Error()
			failed++
		} else {
			result.AQI = &value
			result.Band = &band
		}
		results = append(results, result)
	}
	return results, failed
}

func classify(raw string) (aqi.Band, int, error) {
	value, err := aqi.ParseValue(raw)
	if err != nil {
		return 0, 0, err
	}
	band, err := aqi.Classify(value)
	if err != nil {
		return 0, 0, err
	}
	return band, value, nil
}
