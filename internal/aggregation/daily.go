package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/database"
	"github.com/smukkama/aqi-alerts/internal/trend"
)

// Store persists daily AQI aggregates. *database.DB implements it.
type Store interface {
	UpsertDailyAQI(ctx context.Context, location string, day time.Time, value int) error
	GetDailyAQI(ctx context.Context, location string, from, to time.Time) ([]*database.DailyAQI, error)
	DeleteDailyAQIBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DailyAggregator folds polled readings into per-day averages and serves
// the past part of trend windows.
type DailyAggregator struct {
	store    Store
	pastDays int
	location *time.Location
	logger   *slog.Logger
}

// NewDailyAggregator creates a new daily aggregator. Days are cut in loc.
func NewDailyAggregator(store Store, pastDays int, loc *time.Location, logger *slog.Logger) *DailyAggregator {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DailyAggregator{store: store, pastDays: pastDays, location: loc, logger: logger}
}

// Day truncates t to the start of its calendar day.
func (d *DailyAggregator) Day(t time.Time) time.Time {
	t = t.In(d.location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, d.location)
}

// Record adds every reading to its day's running average. A failing
// location does not stop the others.
func (d *DailyAggregator) Record(ctx context.Context, readings map[string]aqi.ClassifiedReading) error {
	var errs []error
	for location, cr := range readings {
		if err := d.store.UpsertDailyAQI(ctx, location, d.Day(cr.Timestamp), cr.AQI); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Past returns the configured number of daily samples preceding today,
// oldest first. A day with no aggregate makes the window incomplete.
func (d *DailyAggregator) Past(ctx context.Context, location string, today time.Time) ([]trend.Sample, error) {
	if d.pastDays == 0 {
		return nil, nil
	}

	today = d.Day(today)
	from := today.AddDate(0, 0, -d.pastDays)
	to := today.AddDate(0, 0, -1)

	days, err := d.store.GetDailyAQI(ctx, location, from, to)
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]*database.DailyAQI, len(days))
	for _, day := range days {
		byDate[day.Date.Format(database.DateLayout)] = day
	}

	samples := make([]trend.Sample, 0, d.pastDays)
	var missing []string
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		key := day.Format(database.DateLayout)
		agg, ok := byDate[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		samples = append(samples, trend.Sample{Label: key, AQI: agg.Rounded()})
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: no history for %s on %v", trend.ErrIncompleteWindow, location, missing)
	}
	return samples, nil
}

// Retain drops aggregates no trend window can reach any more.
func (d *DailyAggregator) Retain(ctx context.Context, today time.Time) error {
	cutoff := d.Day(today).AddDate(0, 0, -d.pastDays)
	removed, err := d.store.DeleteDailyAQIBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	d.logger.Info("daily history retention completed",
		"cutoff", cutoff.Format(database.DateLayout), "removed", removed)
	return nil
}

// CalculateNextRunTime calculates when the daily retention should next run
// It runs at a specific time each day (e.g., 00:05:00)
func (d *DailyAggregator) CalculateNextRunTime(now time.Time, timeOfDay string) (time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid time of day: %s", timeOfDay)
	}

	now = now.In(d.location)
	todayRun := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, d.location)

	// If we're past today's run time, schedule for tomorrow
	if now.After(todayRun) {
		return todayRun.AddDate(0, 0, 1), nil
	}

	return todayRun, nil
}

// MemoryStore keeps daily aggregates in process, for deployments without
// Postgres.
type MemoryStore struct {
	mu   sync.Mutex
	days map[string]map[string]*database.DailyAQI // location -> date -> aggregate
	now  func() time.Time
}

// NewMemoryStore creates an empty in-process history.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		days: make(map[string]map[string]*database.DailyAQI),
		now:  time.Now,
	}
}

func (m *MemoryStore) UpsertDailyAQI(_ context.Context, location string, day time.Time, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	perDay, ok := m.days[location]
	if !ok {
		perDay = make(map[string]*database.DailyAQI)
		m.days[location] = perDay
	}

	key := day.Format(database.DateLayout)
	agg, ok := perDay[key]
	if !ok {
		date, _ := time.Parse(database.DateLayout, key)
		perDay[key] = &database.DailyAQI{
			Location:    location,
			Date:        date,
			AvgAQI:      float64(value),
			MinAQI:      value,
			MaxAQI:      value,
			SampleCount: 1,
			UpdatedAt:   m.now(),
		}
		return nil
	}

	agg.AvgAQI = (agg.AvgAQI*float64(agg.SampleCount) + float64(value)) / float64(agg.SampleCount+1)
	agg.MinAQI = min(agg.MinAQI, value)
	agg.MaxAQI = max(agg.MaxAQI, value)
	agg.SampleCount++
	agg.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) GetDailyAQI(_ context.Context, location string, from, to time.Time) ([]*database.DailyAQI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lo, hi := from.Format(database.DateLayout), to.Format(database.DateLayout)
	var days []*database.DailyAQI
	for key, agg := range m.days[location] {
		if key >= lo && key <= hi {
			copied := *agg
			days = append(days, &copied)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days, nil
}

func (m *MemoryStore) DeleteDailyAQIBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := cutoff.Format(database.DateLayout)
	var removed int64
	for location, perDay := range m.days {
		for key := range perDay {
			if key < limit {
				delete(perDay, key)
				removed++
			}
		}
		if len(perDay) == 0 {
			delete(m.days, location)
		}
	}
	return removed, nil
}
