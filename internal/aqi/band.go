package aqi

import (
	"errors"
	"fmt"
	"strings"
)

// Band is a severity band. Bands are ordered: a higher value is more severe.
type Band int

const (
	BandGood Band = iota
	BandModerate
	BandUnhealthySensitive
	BandUnhealthy
	BandVeryUnhealthy
	BandHazardous
)

// unbounded marks the top band, which has no upper AQI bound.
const unbounded = -1

// BandInfo holds the fixed display tokens of a band.
type BandInfo struct {
	Name       string
	Label      string
	UpperBound int
	Color      string
	Icon       string
}

var bandTable = [...]BandInfo{
	BandGood:               {Name: "good", Label: "Good", UpperBound: 50, Color: "#22c55e", Icon: "😊"},
	BandModerate:           {Name: "moderate", Label: "Moderate", UpperBound: 100, Color: "#fbbf24", Icon: "😐"},
	BandUnhealthySensitive: {Name: "unhealthy_sensitive", Label: "Unhealthy for Sensitive", UpperBound: 150, Color: "#f97316", Icon: "😷"},
	BandUnhealthy:          {Name: "unhealthy", Label: "Unhealthy", UpperBound: 200, Color: "#ef4444", Icon: "😰"},
	BandVeryUnhealthy:      {Name: "very_unhealthy", Label: "Very Unhealthy", UpperBound: 300, Color: "#a855f7", Icon: "☠️"},
	BandHazardous:          {Name: "hazardous", Label: "Hazardous", UpperBound: unbounded, Color: "#7f1d1d", Icon: "☠️"},
}

// ErrUnknownBand is returned when a band name cannot be parsed.
var ErrUnknownBand = errors.New("unknown severity band")

// Bands returns every band, least severe first.
func Bands() []Band {
	return []Band{BandGood, BandModerate, BandUnhealthySensitive, BandUnhealthy, BandVeryUnhealthy, BandHazardous}
}

// Valid reports whether b is one of the defined bands.
func (b Band) Valid() bool {
	return b >= BandGood && b <= BandHazardous
}

// Rank is the ordinal severity used for threshold comparisons.
func (b Band) Rank() int { return int(b) }

// Info returns the display tokens for b.
func (b Band) Info() BandInfo {
	if !b.Valid() {
		return BandInfo{Name: fmt.Sprintf("band(%d)", int(b))}
	}
	return bandTable[b]
}

func (b Band) String() string { return b.Info().Name }

// Label is the English display label. Localized labels live in the
// notification catalog.
func (b Band) Label() string { return b.Info().Label }

func (b Band) Color() string { return b.Info().Color }

func (b Band) Icon() string { return b.Info().Icon }

// UpperBound returns the inclusive upper AQI bound of b. The second value
// is false for the top band.
func (b Band) UpperBound() (int, bool) {
	info := b.Info()
	if info.UpperBound == unbounded {
		return 0, false
	}
	return info.UpperBound, true
}

// AtLeast reports whether b is as severe as threshold or more.
func (b Band) AtLeast(threshold Band) bool {
	return b.Rank() >= threshold.Rank()
}

func (b Band) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBand, int(b))
	}
	return []byte(b.String()), nil
}

func (b *Band) UnmarshalText(text []byte) error {
	parsed, err := ParseBand(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseBand accepts the snake_case band name as well as the CamelCase
// spelling used in configuration ("UnhealthySensitive").
func ParseBand(name string) (Band, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer("_", "", "-", "", " ", "").Replace(normalized)
	for _, b := range Bands() {
		if strings.ReplaceAll(b.String(), "_", "") == normalized {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBand, name)
}
