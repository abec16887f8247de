package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/aqi-alerts/internal/trend"
)

// TrendService assembles a location's window from daily history, the
// current reading and the backend forecast, then analyzes it.
type TrendService struct {
	analyzer *trend.Analyzer
	runner   *Runner
	history  History
	fetcher  Fetcher
	location *time.Location
	now      func() time.Time
}

// NewTrendService creates a trend service. Days are cut in loc.
func NewTrendService(analyzer *trend.Analyzer, runner *Runner, history History, fetcher Fetcher, loc *time.Location) *TrendService {
	if loc == nil {
		loc = time.Local
	}
	return &TrendService{
		analyzer: analyzer,
		runner:   runner,
		history:  history,
		fetcher:  fetcher,
		location: loc,
		now:      time.Now,
	}
}

// Window returns the samples for location, oldest first. It never fills
// gaps: missing history or forecast days yield trend.ErrIncompleteWindow.
func (s *TrendService) Window(ctx context.Context, location string) ([]trend.Sample, error) {
	current, ok := s.runner.Reading(location)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, location)
	}

	cfg := s.analyzer.Config()
	today := s.now().In(s.location)
	todayKey := today.Format("2006-01-02")

	samples := make([]trend.Sample, 0, cfg.WindowSize())
	if cfg.PastDays > 0 {
		if s.history == nil {
			return nil, fmt.Errorf("%w: no history available", trend.ErrIncompleteWindow)
		}
		past, err := s.history.Past(ctx, location, today)
		if err != nil {
			return nil, err
		}
		samples = append(samples, past...)
	}

	samples = append(samples, trend.Sample{Label: todayKey, AQI: current.AQI})

	if cfg.FutureDays > 0 {
		points, err := s.fetcher.Forecast(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch forecast: %w", err)
		}
		added := 0
		for _, p := range points {
			if added == cfg.FutureDays {
				break
			}
			// Undated entries are taken in order; dated ones must be after today.
			if p.Date != "" && p.Date <= todayKey {
				continue
			}
			samples = append(samples, trend.Sample{Label: p.Date, AQI: p.AQI, Forecast: true})
			added++
		}
		if added < cfg.FutureDays {
			return nil, fmt.Errorf("%w: %d of %d forecast days for %s", trend.ErrIncompleteWindow, added, cfg.FutureDays, location)
		}
	}

	return samples, nil
}

// Trend analyzes the current window of location.
func (s *TrendService) Trend(ctx context.Context, location string) (*trend.Summary, error) {
	samples, err := s.Window(ctx, location)
	if err != nil {
		return nil, err
	}
	return s.analyzer.Analyze(samples)
}
