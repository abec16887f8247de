package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/aqi-alerts/internal/alarming"
	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/fetch"
	"github.com/smukkama/aqi-alerts/internal/metrics"
	"github.com/smukkama/aqi-alerts/internal/trend"
)

var (
	ErrRunInProgress   = errors.New("a poll run is already in progress")
	ErrUnknownLocation = errors.New("location not in the latest readings")
	ErrFetchFailed     = errors.New("failed to fetch readings")
)

// Fetcher is the backend client. *fetch.Client implements it.
type Fetcher interface {
	Readings(ctx context.Context) (*fetch.Batch, error)
	Forecast(ctx context.Context, location string) ([]fetch.ForecastPoint, error)
}

// History records readings per day and serves the past part of trend
// windows. *aggregation.DailyAggregator implements it.
type History interface {
	Record(ctx context.Context, readings map[string]aqi.ClassifiedReading) error
	Past(ctx context.Context, location string, today time.Time) ([]trend.Sample, error)
}

// Report summarizes one poll run.
type Report struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Readings   int               `json:"readings"`
	Invalid    map[string]string `json:"invalid,omitempty"`
	Alerts     []string          `json:"alerts,omitempty"` // locations that emitted an event
	Deliveries int               `json:"deliveries"`
	Failed     int               `json:"failed_deliveries"`
	Cleared    []string          `json:"cleared,omitempty"`
	Pruned     int               `json:"pruned"`
}

// Snapshot is the latest classified reading set.
type Snapshot struct {
	Readings  map[string]aqi.ClassifiedReading
	UpdatedAt time.Time
}

// Runner executes the periodic fetch, classify, record and dispatch pass.
// Runs never overlap: a run started while another is in progress fails
// with ErrRunInProgress.
type Runner struct {
	fetcher    Fetcher
	history    History
	dispatcher *alarming.Dispatcher
	logger     *slog.Logger

	running atomic.Bool

	mu       sync.RWMutex
	snapshot Snapshot
	lastRun  *Report
}

// NewRunner creates a runner. history may be nil.
func NewRunner(fetcher Fetcher, history History, dispatcher *alarming.Dispatcher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		fetcher:    fetcher,
		history:    history,
		dispatcher: dispatcher,
		logger:     logger,
		snapshot:   Snapshot{Readings: map[string]aqi.ClassifiedReading{}},
	}
}

// Run performs one complete pass.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		metrics.ObservePollRun(metrics.ResultSkipped, -1)
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	report := &Report{ID: uuid.New().String(), StartedAt: time.Now()}
	log := r.logger.With("run_id", report.ID)

	batch, err := r.fetcher.Readings(ctx)
	if err != nil {
		metrics.ObservePollRun(metrics.ResultError, time.Since(report.StartedAt).Seconds())
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	invalid := make(map[string]error, len(batch.Invalid))
	for location, err := range batch.Invalid {
		invalid[location] = err
	}
	classified := make(map[string]aqi.ClassifiedReading, len(batch.Readings))
	for location, reading := range batch.Readings {
		cr, err := aqi.ClassifyReading(reading)
		if err != nil {
			invalid[location] = err
			continue
		}
		classified[location] = cr
	}

	if len(invalid) > 0 {
		report.Invalid = make(map[string]string, len(invalid))
		for location, err := range invalid {
			metrics.ObserveInvalidReading()
			report.Invalid[location] = err.Error()
			log.Warn("invalid reading rejected", "location", location, "error", err)
		}
	}
	report.Readings = len(classified)

	r.updateSnapshot(classified, batch.FetchedAt)

	if r.history != nil {
		if err := r.history.Record(ctx, classified); err != nil {
			log.Warn("failed to record daily history", "error", err)
		}
	}

	result, err := r.dispatcher.Dispatch(ctx, classified)
	if err != nil {
		log.Error("alert dispatch incomplete", "error", err)
	}
	if result != nil {
		for _, event := range result.Events {
			report.Alerts = append(report.Alerts, event.Location)
		}
		report.Deliveries = len(result.Deliveries)
		report.Failed = len(result.Failed())
		report.Cleared = result.Cleared
	}

	// Locations with an invalid reading this cycle are still polled.
	polled := make(map[string]aqi.ClassifiedReading, len(classified)+len(invalid))
	for location, cr := range classified {
		polled[location] = cr
	}
	for location := range invalid {
		polled[location] = aqi.ClassifiedReading{}
	}
	pruned, err := r.dispatcher.Prune(ctx, polled)
	if err != nil {
		log.Warn("failed to prune alert state", "error", err)
	}
	report.Pruned = pruned

	report.FinishedAt = time.Now()
	metrics.ObservePollRun(metrics.ResultSuccess, report.FinishedAt.Sub(report.StartedAt).Seconds())

	r.mu.Lock()
	r.lastRun = report
	r.mu.Unlock()

	log.Info("poll run completed",
		"readings", report.Readings,
		"invalid", len(report.Invalid),
		"alerts", len(report.Alerts),
		"failed_deliveries", report.Failed,
		"cleared", len(report.Cleared),
		"pruned", report.Pruned,
		"duration", report.FinishedAt.Sub(report.StartedAt))

	return report, nil
}

// Tick runs one pass for the scheduler, logging instead of returning errors.
func (r *Runner) Tick(ctx context.Context) {
	if _, err := r.Run(ctx); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			r.logger.Warn("poll trigger skipped, previous run still in progress")
			return
		}
		r.logger.Error("poll run failed", "error", err)
	}
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool { return r.running.Load() }

func (r *Runner) updateSnapshot(classified map[string]aqi.ClassifiedReading, at time.Time) {
	r.mu.Lock()
	previous := r.snapshot.Readings
	r.snapshot = Snapshot{Readings: classified, UpdatedAt: at}
	r.mu.Unlock()

	for location, cr := range classified {
		metrics.SetCurrentAQI(location, cr.AQI)
	}
	for location := range previous {
		if _, ok := classified[location]; !ok {
			metrics.ForgetLocation(location)
		}
	}
}

// Snapshot returns a copy of the latest readings.
func (r *Runner) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	readings := make(map[string]aqi.ClassifiedReading, len(r.snapshot.Readings))
	for location, cr := range r.snapshot.Readings {
		readings[location] = cr
	}
	return Snapshot{Readings: readings, UpdatedAt: r.snapshot.UpdatedAt}
}

// Locations returns the sorted locations of the latest snapshot.
func (r *Runner) Locations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	locations := make([]string, 0, len(r.snapshot.Readings))
	for location := range r.snapshot.Readings {
		locations = append(locations, location)
	}
	sort.Strings(locations)
	return locations
}

// Reading returns the latest classified reading of a location.
func (r *Runner) Reading(location string) (aqi.ClassifiedReading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cr, ok := r.snapshot.Readings[location]
	return cr, ok
}

// LastRun returns the report of the last completed run, or nil.
func (r *Runner) LastRun() *Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRun
}
