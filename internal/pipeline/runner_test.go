package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smukkama/aqi-alerts/internal/aggregation"
	"github.com/smukkama/aqi-alerts/internal/alarming"
	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/fetch"
	"github.com/smukkama/aqi-alerts/internal/notification"
	"github.com/smukkama/aqi-alerts/internal/protocol"
	"github.com/smukkama/aqi-alerts/internal/trend"
)

type stubFetcher struct {
	mu        sync.Mutex
	readings  map[string]int
	invalid   []string
	forecasts map[string][]fetch.ForecastPoint
	err       error
	entered   chan struct{}
	release   chan struct{}
}

func (f *stubFetcher) set(readings map[string]int, invalid ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = readings
	f.invalid = invalid
}

func (f *stubFetcher) Readings(ctx context.Context) (*fetch.Batch, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	now := time.Now()
	batch := &fetch.Batch{
		Readings:  make(map[string]aqi.Reading),
		Invalid:   make(map[string]error),
		FetchedAt: now,
	}
	for location, v := range f.readings {
		batch.Readings[location] = aqi.Reading{Location: location, AQI: v, Timestamp: now}
	}
	for _, location := range f.invalid {
		batch.Invalid[location] = aqi.ErrInvalidReading
	}
	return batch, nil
}

func (f *stubFetcher) Forecast(ctx context.Context, location string) ([]fetch.ForecastPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forecasts[location], nil
}

type countingSinks struct {
	mu     sync.Mutex
	pushes []protocol.PushPayload
}

func (c *countingSinks) Deliver(_ context.Context, p protocol.PushPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushes = append(c.pushes, p)
	return nil
}

func newTestRunner(t *testing.T, fetcher Fetcher, history History) (*Runner, *alarming.MemoryStore, *countingSinks) {
	t.Helper()
	catalog, err := notification.NewCatalog(notification.DefaultLanguages(), []string{"az", "en"}, "en")
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	store := alarming.NewMemoryStore()
	sinks := &countingSinks{}
	speech := notification.SpeechSinkFunc(func(context.Context, protocol.SpeechPayload) error { return nil })

	cfg := alarming.DefaultConfig()
	cfg.Language = "en"
	dispatcher, err := alarming.NewDispatcher(store, notification.NewRenderer(catalog), sinks, speech, cfg)
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	return NewRunner(fetcher, history, dispatcher, nil), store, sinks
}

func TestRunner_Run(t *testing.T) {
	fetcher := &stubFetcher{}
	fetcher.set(map[string]int{"Baku - Nasimi": 160, "Baku - Sabail": 40}, "Ganja")
	runner, _, sinks := newTestRunner(t, fetcher, nil)

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Readings != 2 {
		t.Errorf("Readings = %d, want 2", report.Readings)
	}
	if _, ok := report.Invalid["Ganja"]; !ok {
		t.Errorf("invalid reading not reported: %v", report.Invalid)
	}
	if len(report.Alerts) != 1 || report.Alerts[0] != "Baku - Nasimi" {
		t.Errorf("Alerts = %v", report.Alerts)
	}
	if report.Deliveries != 2 || report.Failed != 0 {
		t.Errorf("Deliveries = %d Failed = %d", report.Deliveries, report.Failed)
	}
	if len(sinks.pushes) != 1 {
		t.Errorf("expected 1 push, got %d", len(sinks.pushes))
	}

	cr, ok := runner.Reading("Baku - Nasimi")
	if !ok || cr.Band != aqi.BandUnhealthy {
		t.Errorf("snapshot reading = %+v, %v", cr, ok)
	}
	if runner.LastRun() != report {
		t.Error("LastRun does not return the latest report")
	}
	if locations := runner.Locations(); len(locations) != 2 || locations[0] != "Baku - Nasimi" {
		t.Errorf("Locations = %v", locations)
	}

	// Same readings again: deduplicated.
	report, err = runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Alerts) != 0 {
		t.Errorf("expected no repeat alerts, got %v", report.Alerts)
	}
}

func TestRunner_SkipsOverlappingRun(t *testing.T) {
	fetcher := &stubFetcher{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	fetcher.set(map[string]int{"Baku": 120})
	runner, _, _ := newTestRunner(t, fetcher, nil)

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background())
		done <- err
	}()

	<-fetcher.entered
	if !runner.Running() {
		t.Error("Running should be true during a run")
	}
	if _, err := runner.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
	close(fetcher.release)

	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if runner.Running() {
		t.Error("Running should be false after the run")
	}
}

func TestRunner_FetchErrorKeepsSnapshot(t *testing.T) {
	fetcher := &stubFetcher{}
	fetcher.set(map[string]int{"Baku": 70})
	runner, _, _ := newTestRunner(t, fetcher, nil)

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	fetcher.err = errors.New("backend unreachable")
	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if _, ok := runner.Reading("Baku"); !ok {
		t.Error("snapshot lost after failed fetch")
	}
}

func TestRunner_PrunesUnpolledLocations(t *testing.T) {
	fetcher := &stubFetcher{}
	fetcher.set(map[string]int{"A": 160, "B": 170})
	runner, store, _ := newTestRunner(t, fetcher, nil)
	ctx := context.Background()

	if _, err := runner.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// B reports garbage: it is still polled, so its state stays.
	fetcher.set(map[string]int{"A": 160}, "B")
	report, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Pruned != 0 {
		t.Errorf("Pruned = %d, want 0", report.Pruned)
	}

	// B disappears from the backend.
	fetcher.set(map[string]int{"A": 160})
	report, err = runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Pruned != 1 {
		t.Errorf("Pruned = %d, want 1", report.Pruned)
	}
	if n, _ := store.Len(ctx); n != 1 {
		t.Errorf("store has %d entries, want 1", n)
	}
}

func TestRunner_RecordsHistory(t *testing.T) {
	fetcher := &stubFetcher{}
	fetcher.set(map[string]int{"Baku": 100})
	history := aggregation.NewMemoryStore()
	runner, _, _ := newTestRunner(t, fetcher, aggregation.NewDailyAggregator(history, 4, time.UTC, nil))

	for _, v := range []int{100, 140} {
		fetcher.set(map[string]int{"Baku": v})
		if _, err := runner.Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}

	today := time.Now().UTC()
	days, err := history.GetDailyAQI(context.Background(), "Baku", today, today)
	if err != nil {
		t.Fatalf("GetDailyAQI failed: %v", err)
	}
	if len(days) != 1 || days[0].AvgAQI != 120 || days[0].SampleCount != 2 {
		t.Errorf("unexpected history %+v", days)
	}
}

func TestTrendService(t *testing.T) {
	today := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	history := aggregation.NewMemoryStore()
	ctx := context.Background()
	for i, v := range []int{60, 65, 70, 75} {
		history.UpsertDailyAQI(ctx, "Baku", today.AddDate(0, 0, i-4), v)
	}

	fetcher := &stubFetcher{
		forecasts: map[string][]fetch.ForecastPoint{
			"Baku": {
				{Date: "2026-03-10", AQI: 999}, // today, ignored
				{Date: "2026-03-11", AQI: 85},
				{Date: "2026-03-12", AQI: 90},
				{Date: "2026-03-13", AQI: 95},
			},
		},
	}
	fetcher.set(map[string]int{"Baku": 80, "Ganja": 50})

	agg := aggregation.NewDailyAggregator(history, 4, time.UTC, nil)
	runner, _, _ := newTestRunner(t, fetcher, nil)
	if _, err := runner.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	analyzer, err := trend.NewAnalyzer(trend.DefaultConfig())
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	svc := NewTrendService(analyzer, runner, agg, fetcher, time.UTC)
	svc.now = func() time.Time { return today }

	summary, err := svc.Trend(ctx, "Baku")
	if err != nil {
		t.Fatalf("Trend failed: %v", err)
	}
	if summary.Direction != trend.DirectionIncreasing {
		t.Errorf("Direction = %s, want increasing", summary.Direction)
	}
	if len(summary.Samples) != 7 {
		t.Fatalf("expected 7 samples, got %d", len(summary.Samples))
	}
	if s := summary.Samples[4]; s.Label != "2026-03-10" || s.AQI != 80 || s.Forecast {
		t.Errorf("today sample = %+v", s)
	}
	if s := summary.Samples[6]; s.Label != "2026-03-12" || !s.Forecast {
		t.Errorf("last sample = %+v", s)
	}

	// Ganja has neither history nor forecast.
	if _, err := svc.Trend(ctx, "Ganja"); !errors.Is(err, trend.ErrIncompleteWindow) {
		t.Errorf("expected ErrIncompleteWindow, got %v", err)
	}
	if _, err := svc.Trend(ctx, "Atlantis"); !errors.Is(err, ErrUnknownLocation) {
		t.Errorf("expected ErrUnknownLocation, got %v", err)
	}
}
