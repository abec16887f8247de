package trend

import (
	"errors"
	"fmt"

	"github.com/smukkama/aqi-alerts/internal/aqi"
)

// Direction is the trend judgment over a window.
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionStable     Direction = "stable"
)

var (
	ErrEmptyWindow      = errors.New("trend window is empty")
	ErrIncompleteWindow = errors.New("trend window is incomplete")
)

// Sample is one point of the window: a display label (usually a date) and
// its AQI.
type Sample struct {
	Label    string `json:"label"`
	AQI      int    `json:"aqi"`
	Forecast bool   `json:"forecast,omitempty"`
}

// Summary is the result of analyzing one window.
type Summary struct {
	Samples   []Sample  `json:"samples"`
	Average   float64   `json:"average"`
	Min       int       `json:"min"`
	Max       int       `json:"max"`
	PeakBand  aqi.Band  `json:"peak_band"`
	FirstMean float64   `json:"first_mean"`
	LastMean  float64   `json:"last_mean"`
	Direction Direction `json:"direction"`
}

// Config sets the window shape and the noise margin.
type Config struct {
	// PastDays and FutureDays surround "today"; the window holds
	// PastDays + 1 + FutureDays samples.
	PastDays   int
	FutureDays int
	// Margin is how far the last-third mean must move away from the
	// first-third mean before the window counts as a trend.
	Margin float64
}

// DefaultConfig is 4 past days, today, 2 forecast days and a 10 point margin.
func DefaultConfig() Config {
	return Config{PastDays: 4, FutureDays: 2, Margin: 10}
}

// WindowSize is the number of samples an analysis expects.
func (c Config) WindowSize() int {
	return c.PastDays + 1 + c.FutureDays
}

func (c Config) Validate() error {
	if c.PastDays < 0 || c.FutureDays < 0 {
		return fmt.Errorf("trend window days must be non-negative (past=%d, future=%d)", c.PastDays, c.FutureDays)
	}
	if c.WindowSize() < 3 {
		return fmt.Errorf("trend window must hold at least 3 samples, got %d", c.WindowSize())
	}
	if c.Margin < 0 {
		return fmt.Errorf("trend margin must be non-negative, got %.2f", c.Margin)
	}
	return nil
}

// Analyzer computes trend summaries over fixed-size windows.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer for the given window configuration.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{cfg: cfg}, nil
}

// Config returns the analyzer's window configuration.
func (a *Analyzer) Config() Config { return a.cfg }

// Analyze summarizes samples, which must be ordered oldest first and hold
// exactly WindowSize entries. Missing samples are never interpolated.
func (a *Analyzer) Analyze(samples []Sample) (*Summary, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyWindow
	}
	if len(samples) != a.cfg.WindowSize() {
		return nil, fmt.Errorf("%w: have %d samples, need %d", ErrIncompleteWindow, len(samples), a.cfg.WindowSize())
	}

	summary := &Summary{
		Samples: append([]Sample(nil), samples...),
		Min:     samples[0].AQI,
		Max:     samples[0].AQI,
	}

	total := 0
	for _, s := range samples {
		if s.AQI < 0 {
			return nil, fmt.Errorf("sample %q: %w: %d is negative", s.Label, aqi.ErrInvalidReading, s.AQI)
		}
		total += s.AQI
		if s.AQI < summary.Min {
			summary.Min = s.AQI
		}
		if s.AQI > summary.Max {
			summary.Max = s.AQI
		}
	}
	summary.Average = float64(total) / float64(len(samples))

	peak, err := aqi.Classify(summary.Max)
	if err != nil {
		return nil, err
	}
	summary.PeakBand = peak

	// Thirds are taken by index; for 7 samples that is the first and last 3.
	third := (len(samples) + 2) / 3
	summary.FirstMean = mean(samples[:third])
	summary.LastMean = mean(samples[len(samples)-third:])
	summary.Direction = judge(summary.FirstMean, summary.LastMean, a.cfg.Margin)

	return summary, nil
}

func judge(first, last, margin float64) Direction {
	switch {
	case last > first+margin:
		return DirectionIncreasing
	case last < first-margin:
		return DirectionDecreasing
	default:
		return DirectionStable
	}
}

func mean(samples []Sample) float64 {
	total := 0
	for _, s := range samples {
		total += s.AQI
	}
	return float64(total) / float64(len(samples))
}
