package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smukkama/aqi-alerts/internal/advisor"
	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/comparison"
)

// newCompareCmd creates the compare subcommand
func newCompareCmd() *cobra.Command {
	var (
		advisoryURL string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "compare LOCATION=VALUE LOCATION=VALUE",
		Short: "Compare two locations through the advisory service",
		Long: `Compare two locations through the advisory service. When the service
fails, the generic fallback advice of the selected language is printed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog()
			if err != nil {
				return err
			}

			readings := make([]aqi.ClassifiedReading, 0, 2)
			for _, arg := range args {
				cr, err := parseLocationArg(arg)
				if err != nil {
					return err
				}
				readings = append(readings, cr)
			}

			engine := comparison.NewEngine(advisor.NewClient(advisoryURL, timeout), catalog, timeout, nil)
			result, err := engine.Compare(context.Background(), readings[0], readings[1], language)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			for _, cr := range []aqi.ClassifiedReading{result.First, result.Second} {
				fmt.Fprintf(out, "%-20s %4d  %s %s\n", aqi.DisplayName(cr.Location), cr.AQI, cr.Band.Icon(), cr.Band.Label())
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, result.Advisory)
			if result.Fallback {
				fmt.Fprintln(cmd.ErrOrStderr(), "(advisory service unavailable, showing generic advice)")
			}
			return nil
		},
	}

	defaultURL := os.Getenv("ADVISORY_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8000/api/compare"
	}
	cmd.Flags().StringVar(&advisoryURL, "advisory-url", defaultURL, "advisory service endpoint")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "advisory request timeout")
	return cmd
}

// parseLocationArg parses "Location=VALUE". The location may itself
// contain '=' characters; the value is taken after the last one.
func parseLocationArg(arg string) (aqi.ClassifiedReading, error) {
	i := strings.LastIndex(arg, "=")
	if i <= 0 {
		return aqi.ClassifiedReading{}, fmt.Errorf("expected LOCATION=VALUE, got %q", arg)
	}
	return classifiedReading(strings.TrimSpace(arg[:i]), arg[i+1:])
}
