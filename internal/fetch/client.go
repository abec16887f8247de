package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/protocol"
)

const maxBodyBytes = 4 << 20

// Client reads current readings and forecasts from the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a backend client. A zero timeout defaults to 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Batch is one poll's worth of readings. Locations whose AQI could not be
// parsed are listed in Invalid and left out of Readings.
type Batch struct {
	Readings  map[string]aqi.Reading
	Invalid   map[string]error
	FetchedAt time.Time
}

// ForecastPoint is one forecast day.
type ForecastPoint struct {
	Date string
	AQI  int
}

// Readings fetches GET /api/aqi.
func (c *Client) Readings(ctx context.Context) (*Batch, error) {
	body, err := c.get(ctx, "/api/aqi")
	if err != nil {
		return nil, err
	}

	raw, err := protocol.DecodeReadings(body)
	if err != nil {
		return nil, err
	}

	now := c.now()
	batch := &Batch{
		Readings:  make(map[string]aqi.Reading, len(raw)),
		Invalid:   make(map[string]error),
		FetchedAt: now,
	}
	for location, r := range raw {
		value, err := aqi.ParseValue(string(r.AQI))
		if err != nil {
			batch.Invalid[location] = err
			continue
		}
		batch.Readings[location] = aqi.Reading{
			Location:  location,
			AQI:       value,
			Timestamp: now,
			Metadata:  r.Metadata(),
		}
	}
	return batch, nil
}

// Forecast fetches GET /api/forecast/{location}. Any invalid entry fails
// the whole forecast.
func (c *Client) Forecast(ctx context.Context, location string) ([]ForecastPoint, error) {
	body, err := c.get(ctx, "/api/forecast/"+url.PathEscape(location))
	if err != nil {
		return nil, err
	}

	var entries []protocol.ForecastEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("invalid forecast payload: %w", err)
	}

	points := make([]ForecastPoint, 0, len(entries))
	for i, e := range entries {
		value, err := aqi.ParseValue(string(e.AQI))
		if err != nil {
			return nil, fmt.Errorf("forecast entry %d (%s): %w", i, e.Date, err)
		}
		points = append(points, ForecastPoint{Date: e.Date, AQI: value})
	}
	return points, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend error: GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
