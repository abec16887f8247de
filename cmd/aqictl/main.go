package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	jsonOutput   bool
	messagesFile string
	language     string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aqictl",
		Short: "Classify, render and compare AQI readings offline",
		Long: `aqictl runs the alerting engine's building blocks from the command line.

  aqictl classify 42 151 320            Band for each value
  aqictl render "Baku - Yasamal" 175    Push and speech text of an alert
  aqictl trend 60 70 80 90 100 110 120  Trend over a full window
  aqictl compare Yasamal=45 Sabail=160  Ask the advisory service`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&messagesFile, "messages", os.Getenv("MESSAGES_FILE"), "YAML message catalog overriding the built-in texts")
	rootCmd.PersistentFlags().StringVar(&language, "lang", "az", "language code")

	rootCmd.AddCommand(
		newClassifyCmd(),
		newRenderCmd(),
		newTrendCmd(),
		newCompareCmd(),
	)
	return rootCmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("error encoding JSON: %w", err)
	}
	return nil
}
