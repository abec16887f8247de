package protocol

import (
	"encoding/json"
	"fmt"
)

// LocationReading is one entry of the backend's GET /api/aqi response. The
// AQI is kept raw so non-numeric values can be rejected per location rather
// than failing the whole payload or being silently zeroed.
type LocationReading struct {
	AQI  json.RawMessage `json:"aqi"`
	PM25 *float64        `json:"pm2_5,omitempty"`
	PM10 *float64        `json:"pm10,omitempty"`
	CO   *float64        `json:"co,omitempty"`
	NO2  *float64        `json:"no2,omitempty"`
	O3   *float64        `json:"o3,omitempty"`
}

// Metadata returns the pollutant values that were present.
func (r LocationReading) Metadata() map[string]float64 {
	meta := make(map[string]float64)
	for key, v := range map[string]*float64{
		"pm2_5": r.PM25,
		"pm10":  r.PM10,
		"co":    r.CO,
		"no2":   r.NO2,
		"o3":    r.O3,
	} {
		if v != nil {
			meta[key] = *v
		}
	}
	return meta
}

// ForecastEntry is one entry of GET /api/forecast/{location}.
type ForecastEntry struct {
	Date string          `json:"date"` // YYYY-MM-DD
	AQI  json.RawMessage `json:"aqi"`
}

// CompareLocation names one side of a comparison request.
type CompareLocation struct {
	Name string `json:"name"`
	AQI  int    `json:"aqi"`
}

// CompareRequest is sent to the advisory service.
type CompareRequest struct {
	Location1 CompareLocation `json:"location1"`
	Location2 CompareLocation `json:"location2"`
	Language  string          `json:"language"`
}

// CompareResponse is returned by the advisory service.
type CompareResponse struct {
	AIAnalysis string `json:"ai_analysis"`
}

// DecodeReadings decodes the backend's location -> reading map.
func DecodeReadings(data []byte) (map[string]LocationReading, error) {
	var readings map[string]LocationReading
	if err := json.Unmarshal(data, &readings); err != nil {
		return nil, fmt.Errorf("invalid readings payload: %w", err)
	}
	return readings, nil
}

// DecodeCompareResponse decodes an advisory response and rejects an empty
// analysis.
func DecodeCompareResponse(data []byte) (*CompareResponse, error) {
	var resp CompareResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("invalid compare response: %w", err)
	}
	if resp.AIAnalysis == "" {
		return nil, fmt.Errorf("compare response has no ai_analysis")
	}
	return &resp, nil
}
