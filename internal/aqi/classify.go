package aqi

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidReading is returned for negative or non-numeric AQI input.
// Values are never clamped.
var ErrInvalidReading = errors.New("invalid AQI reading")

// Reading is a single AQI observation for a location.
type Reading struct {
	Location  string    `json:"location"`
	AQI       int       `json:"aqi"`
	Timestamp time.Time `json:"timestamp"`
	// Metadata carries the backend's pollutant values untouched.
	Metadata map[string]float64 `json:"metadata,omitempty"`
}

// ClassifiedReading is a Reading annotated with its severity band.
type ClassifiedReading struct {
	Reading
	Band Band `json:"band"`
}

// Classify maps an AQI value to exactly one band. Upper bounds are
// inclusive: 50 is Good, 51 is Moderate.
func Classify(value int) (Band, error) {
	if value < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrInvalidReading, value)
	}
	for _, b := range Bands() {
		upper, bounded := b.UpperBound()
		if !bounded || value <= upper {
			return b, nil
		}
	}
	return BandHazardous, nil
}

// ClassifyReading classifies r and returns a new ClassifiedReading.
func ClassifyReading(r Reading) (ClassifiedReading, error) {
	band, err := Classify(r.AQI)
	if err != nil {
		return ClassifiedReading{}, fmt.Errorf("location %q: %w", r.Location, err)
	}
	return ClassifiedReading{Reading: r, Band: band}, nil
}

// ParseValue converts a raw textual AQI (as found in JSON payloads) into an
// integer. Integral floats such as "75.0" are accepted; fractional,
// non-finite and negative values are not.
func ParseValue(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidReading)
	}
	if v, err := strconv.Atoi(s); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrInvalidReading, v)
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not numeric", ErrInvalidReading, raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidReading, raw)
	}
	if f < 0 {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidReading, raw)
	}
	return int(f), nil
}

// DisplayName returns the district part of a "City - District" identifier,
// or the identifier itself when it has no such prefix.
func DisplayName(location string) string {
	if _, district, ok := strings.Cut(location, " - "); ok && district != "" {
		return district
	}
	return location
}
