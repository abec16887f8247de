package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/notification"
)

// newRenderCmd creates the render subcommand
func newRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render LOCATION VALUE",
		Short: "Render the push and speech payloads of an alert",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog()
			if err != nil {
				return err
			}
			cr, err := classifiedReading(args[0], args[1])
			if err != nil {
				return err
			}

			msg, err := notification.NewRenderer(catalog).Render(cr, language)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, msg)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Band:    %s (%s)\n", msg.Label, msg.Band)
			fmt.Fprintf(out, "Advice:  %s\n\n", msg.Advice)
			fmt.Fprintf(out, "Push\n  Title: %s\n  Body:  %s\n  Tag:   %s\n\n", msg.Push.Title, msg.Push.Body, msg.Push.Tag)
			fmt.Fprintf(out, "Speech (%s)\n  %s\n", msg.Speech.LanguageTag, msg.Speech.UtteranceText)
			return nil
		},
	}
}

// loadCatalog builds the catalog from the built-in texts plus --messages.
// Every built-in language is supported.
func loadCatalog() (*notification.Catalog, error) {
	supported := make([]string, 0)
	for code := range notification.DefaultLanguages() {
		supported = append(supported, code)
	}
	return notification.LoadCatalog(messagesFile, supported, language)
}

func classifiedReading(location, raw string) (aqi.ClassifiedReading, error) {
	value, err := aqi.ParseValue(raw)
	if err != nil {
		return aqi.ClassifiedReading{}, err
	}
	return aqi.ClassifyReading(aqi.Reading{Location: location, AQI: value, Timestamp: time.Now()})
}
