package comparison

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/metrics"
	"github.com/smukkama/aqi-alerts/internal/notification"
	"github.com/smukkama/aqi-alerts/internal/protocol"
)

var (
	ErrSameLocation = errors.New("cannot compare a location with itself")
	ErrNotFound     = errors.New("no reading for location")
	// ErrUnsupportedLanguage is the catalog's error, re-exported for callers
	// that only import this package.
	ErrUnsupportedLanguage = notification.ErrUnsupportedLanguage
)

// Advisor produces advisory text for a comparison request.
type Advisor interface {
	Compare(ctx context.Context, request protocol.CompareRequest) (string, error)
}

// Snapshot looks up the latest classified reading of a location.
type Snapshot interface {
	Reading(location string) (aqi.ClassifiedReading, bool)
}

// Result pairs two classified readings with advisory text.
type Result struct {
	First    aqi.ClassifiedReading `json:"first"`
	Second   aqi.ClassifiedReading `json:"second"`
	Advisory string                `json:"advisory"`
	// Fallback is set when Advisory is the generic text because the
	// advisory service failed.
	Fallback bool   `json:"fallback"`
	Language string `json:"language"`
}

// Engine adapts classified readings to the advisory service.
type Engine struct {
	advisor Advisor
	catalog *notification.Catalog
	timeout time.Duration
	logger  *slog.Logger
}

// NewEngine creates a comparison engine. A nil advisor makes every
// comparison fall back. A positive timeout bounds each advisory call.
func NewEngine(advisor Advisor, catalog *notification.Catalog, timeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{advisor: advisor, catalog: catalog, timeout: timeout, logger: logger}
}

// BuildRequest validates the pair and builds the advisory request.
func (e *Engine) BuildRequest(a, b aqi.ClassifiedReading, language string) (protocol.CompareRequest, error) {
	if a.Location == b.Location {
		return protocol.CompareRequest{}, fmt.Errorf("%w: %q", ErrSameLocation, a.Location)
	}
	if language == "" {
		language = e.catalog.DefaultLanguage()
	}
	if !e.catalog.Supports(language) {
		return protocol.CompareRequest{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	return protocol.CompareRequest{
		Location1: protocol.CompareLocation{Name: aqi.DisplayName(a.Location), AQI: a.AQI},
		Location2: protocol.CompareLocation{Name: aqi.DisplayName(b.Location), AQI: b.AQI},
		Language:  language,
	}, nil
}

// Assemble builds the result from the advisory outcome. A failed call
// yields the language's fallback text, never an error.
func (e *Engine) Assemble(a, b aqi.ClassifiedReading, language, advisory string, callErr error) *Result {
	result := &Result{
		First:    a,
		Second:   b,
		Advisory: advisory,
		Language: language,
	}
	if callErr != nil || advisory == "" {
		result.Advisory = e.catalog.ComparisonFallback(language)
		result.Fallback = true
	}
	return result
}

// Compare asks the advisory service about a and b. Only invalid input is an
// error; advisory failures degrade to the fallback text.
func (e *Engine) Compare(ctx context.Context, a, b aqi.ClassifiedReading, language string) (*Result, error) {
	request, err := e.BuildRequest(a, b, language)
	if err != nil {
		return nil, err
	}

	var text string
	if e.advisor == nil {
		err = errors.New("no advisory service configured")
	} else {
		callCtx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		text, err = e.advisor.Compare(callCtx, request)
	}

	result := e.Assemble(a, b, request.Language, text, err)
	if result.Fallback {
		metrics.ObserveAdvisory(metrics.ResultFallback)
		e.logger.Warn("advisory service failed, using fallback text",
			"location1", a.Location, "location2", b.Location, "error", err)
	} else {
		metrics.ObserveAdvisory(metrics.ResultSuccess)
	}
	return result, nil
}

// CompareLocations resolves both locations in snapshot and compares them.
func (e *Engine) CompareLocations(ctx context.Context, snapshot Snapshot, first, second, language string) (*Result, error) {
	if first == second {
		return nil, fmt.Errorf("%w: %q", ErrSameLocation, first)
	}
	a, ok := snapshot.Reading(first)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, first)
	}
	b, ok := snapshot.Reading(second)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, second)
	}
	return e.Compare(ctx, a, b, language)
}
